package layout

import (
	"fmt"
	"sort"

	rperrors "github.com/new2f7/raptor/errors"
)

// Pack builds a packing plan over the given bin cardinalities. Bins that
// fit within maxSlots form a single node; otherwise they are distributed
// over merged children by balanced total cardinality, recursively. Every
// node records its largest descendant bin.
func Pack(cards []uint64, maxSlots int) (*Plan, error) {
	if maxSlots < 2 {
		return nil, fmt.Errorf("%w: need at least 2 slots per node, got %d",
			rperrors.ErrInvalidLayout, maxSlots)
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: no bins to pack", rperrors.ErrInvalidLayout)
	}
	ids := make([]int, len(cards))
	for i := range ids {
		ids[i] = i
	}
	return &Plan{Kind: Kind, Root: packNode(ids, cards, maxSlots)}, nil
}

func packNode(ids []int, cards []uint64, maxSlots int) *Node {
	maxBin := ids[0]
	for _, id := range ids {
		if cards[id] > cards[maxBin] {
			maxBin = id
		}
	}

	if len(ids) <= maxSlots {
		bins := append([]int(nil), ids...)
		sort.Ints(bins)
		return &Node{Bins: bins, MaxBin: maxBin}
	}

	// Longest-processing-time assignment: place heavy bins first, each
	// into the currently lightest child, keeping child unions comparable.
	order := append([]int(nil), ids...)
	sort.Slice(order, func(i, j int) bool { return cards[order[i]] > cards[order[j]] })
	groups := make([][]int, maxSlots)
	loads := make([]uint64, maxSlots)
	for _, id := range order {
		lightest := 0
		for g := 1; g < maxSlots; g++ {
			if loads[g] < loads[lightest] {
				lightest = g
			}
		}
		groups[lightest] = append(groups[lightest], id)
		loads[lightest] += cards[id]
	}

	node := &Node{MaxBin: maxBin}
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		node.Merged = append(node.Merged, packNode(group, cards, maxSlots))
	}
	return node
}
