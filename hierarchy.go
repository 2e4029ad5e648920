package raptor

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/ibf"
	"github.com/new2f7/raptor/internal/layout"
	"github.com/new2f7/raptor/internal/minimizer"
)

const (
	// hierarchyMagic is "RPHX" in little-endian.
	hierarchyMagic = uint32(0x58485052)

	hierarchyVersion    = uint16(0x0001)
	hierarchyHeaderSize = 64
)

// slotRef gives one filter slot its meaning: either a leaf content bin or a
// merged child node.
type slotRef struct {
	child int32 // node index when >= 0
	bin   int32 // content bin id when child < 0
}

type hibfNode struct {
	filter *ibf.Filter
	slots  []slotRef
}

// Provenance locates a content bin inside the hierarchy.
type Provenance struct {
	Node int
	Slot int
}

// HierarchicalIndex layers content bins into a tree of interleaved Bloom
// filters. Leaves are original content bins; internal nodes hold the hash
// union of their descendants, so a query descends only into subtrees that
// can still match. Matches are translated back to original bin ids.
type HierarchicalIndex struct {
	meta       Metadata
	binCount   int
	nodes      []hibfNode // bottom-up build order; the root is last
	provenance []Provenance
}

// Metadata returns the build metadata.
func (h *HierarchicalIndex) Metadata() Metadata { return h.meta }

// BinCount returns the number of original content bins.
func (h *HierarchicalIndex) BinCount() int { return h.binCount }

// HashFunctionCount returns the hash function count of the root filter.
func (h *HierarchicalIndex) HashFunctionCount() int {
	return h.root().filter.HashFunctionCount()
}

// NodeCount returns the number of filter nodes in the tree.
func (h *HierarchicalIndex) NodeCount() int { return len(h.nodes) }

// ProvenanceOf locates a content bin's leaf slot.
func (h *HierarchicalIndex) ProvenanceOf(bin int) Provenance { return h.provenance[bin] }

func (h *HierarchicalIndex) root() *hibfNode { return &h.nodes[len(h.nodes)-1] }

// MembershipAgent answers membership queries against a hierarchical index.
// Each agent owns per-node counting scratch; use one agent per worker.
type MembershipAgent struct {
	h      *HierarchicalIndex
	agents []*ibf.CountingAgent
	counts [][]uint16
	result []int
}

// MembershipAgent returns a new agent for this index.
func (h *HierarchicalIndex) MembershipAgent() *MembershipAgent {
	a := &MembershipAgent{
		h:      h,
		agents: make([]*ibf.CountingAgent, len(h.nodes)),
		counts: make([][]uint16, len(h.nodes)),
	}
	for i := range h.nodes {
		a.agents[i] = h.nodes[i].filter.CountingAgent()
		a.counts[i] = make([]uint16, h.nodes[i].filter.BinCount())
	}
	return a
}

// MembershipFor returns the ascending ids of all content bins matching at
// least threshold of the given hashes. Thresholding is applied at every
// tree level: a subtree whose merged count stays below the threshold
// cannot contain a qualifying leaf and is pruned.
func (a *MembershipAgent) MembershipFor(hashes []uint64, threshold uint16) []int {
	a.result = a.result[:0]
	if len(hashes) == 0 {
		return a.result
	}
	a.visit(len(a.h.nodes)-1, hashes, threshold)
	sort.Ints(a.result)
	return a.result
}

func (a *MembershipAgent) visit(node int, hashes []uint64, threshold uint16) {
	n := &a.h.nodes[node]
	counts := a.counts[node]
	clear(counts)
	a.agents[node].BulkCount(hashes, counts)
	for slot, ref := range n.slots {
		if counts[slot] < threshold {
			continue
		}
		if ref.child >= 0 {
			a.visit(int(ref.child), hashes, threshold)
		} else {
			a.result = append(a.result, int(ref.bin))
		}
	}
}

// HierarchicalBuilder builds a HierarchicalIndex from a packing plan.
type HierarchicalBuilder struct {
	cfg       BuildConfig
	plan      *layout.Plan
	extractor *minimizer.Extractor
}

// NewHierarchicalBuilder validates the configuration against the plan.
// FPRate and HashCount given by the plan override the config.
func NewHierarchicalBuilder(cfg BuildConfig, plan *layout.Plan) (*HierarchicalBuilder, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if plan.BinCount() != len(c.Bins) {
		return nil, fmt.Errorf("%w: plan covers %d bins, %d given",
			rperrors.ErrInvalidLayout, plan.BinCount(), len(c.Bins))
	}
	if plan.FPRate != 0 {
		c.FPRate = plan.FPRate
	}
	if plan.HashCount != 0 {
		c.HashCount = plan.HashCount
	}
	extractor, err := minimizer.NewExtractor(c.Shape, c.Window)
	if err != nil {
		return nil, err
	}
	return &HierarchicalBuilder{cfg: c, plan: plan, extractor: extractor}, nil
}

// Build hashes all content bins in parallel, then assembles the tree
// bottom-up. Each node's filter is sized by its largest slot ("max bin"),
// so capacity never falls below the largest child's cardinality.
func (b *HierarchicalBuilder) Build(ctx context.Context) (*HierarchicalIndex, error) {
	binSets, err := b.hashBins(ctx)
	if err != nil {
		return nil, err
	}

	h := &HierarchicalIndex{
		meta: Metadata{
			Shape:      b.cfg.Shape,
			WindowSize: uint32(b.cfg.Window),
			FPRate:     b.cfg.FPRate,
			Parts:      1,
		},
		binCount:   len(b.cfg.Bins),
		provenance: make([]Provenance, len(b.cfg.Bins)),
	}
	if _, _, err := b.buildNode(h, b.plan.Root, binSets); err != nil {
		return nil, err
	}
	return h, nil
}

// hashBins computes the distinct hash set of every content bin in parallel.
func (b *HierarchicalBuilder) hashBins(ctx context.Context) ([][]uint64, error) {
	sets := make([][]uint64, len(b.cfg.Bins))
	fac := &IndexFactory{cfg: b.cfg, extractor: b.extractor}
	err := RunParallel(ctx, len(b.cfg.Bins), b.cfg.Threads, func(bin int) error {
		distinct := make(map[uint64]struct{})
		err := fac.forEachBinHash(b.cfg.Bins[bin], func(hash uint64) {
			distinct[hash] = struct{}{}
		})
		if err != nil {
			return err
		}
		set := make([]uint64, 0, len(distinct))
		for h := range distinct {
			set = append(set, h)
		}
		sets[bin] = set
		return nil
	})
	return sets, err
}

// buildNode builds the subtree rooted at n bottom-up, appends its node to
// h.nodes and returns the node index plus the subtree's hash union.
func (b *HierarchicalBuilder) buildNode(h *HierarchicalIndex, n *layout.Node, binSets [][]uint64) (int, []uint64, error) {
	slotSets := make([][]uint64, 0, n.SlotCount())
	slots := make([]slotRef, 0, n.SlotCount())

	for _, bin := range n.Bins {
		slots = append(slots, slotRef{child: -1, bin: int32(bin)})
		slotSets = append(slotSets, binSets[bin])
	}
	for _, childPlan := range n.Merged {
		childIdx, childUnion, err := b.buildNode(h, childPlan, binSets)
		if err != nil {
			return 0, nil, err
		}
		slots = append(slots, slotRef{child: int32(childIdx), bin: -1})
		slotSets = append(slotSets, childUnion)
	}

	var maxElems uint64
	for _, set := range slotSets {
		maxElems = max(maxElems, uint64(len(set)))
	}
	filter, err := ibf.NewForCapacity(len(slots), maxElems, b.cfg.FPRate, b.cfg.HashCount)
	if err != nil {
		return 0, nil, err
	}
	for slot, set := range slotSets {
		for _, hash := range set {
			filter.Insert(slot, hash)
		}
	}

	nodeIdx := len(h.nodes)
	h.nodes = append(h.nodes, hibfNode{filter: filter, slots: slots})
	for slot, ref := range slots {
		if ref.child < 0 {
			h.provenance[ref.bin] = Provenance{Node: nodeIdx, Slot: slot}
		}
	}

	return nodeIdx, unionSets(slotSets), nil
}

// unionSets merges distinct hash sets; slots may overlap after merging.
func unionSets(sets [][]uint64) []uint64 {
	seen := make(map[uint64]struct{})
	for _, set := range sets {
		for _, h := range set {
			seen[h] = struct{}{}
		}
	}
	union := make([]uint64, 0, len(seen))
	for h := range seen {
		union = append(union, h)
	}
	return union
}

// Save writes the hierarchical index to path.
//
// Layout after the fixed header: per node, binSize uint64, slotCount
// uint32, slotCount slot refs (child int32, bin int32), then the node's bit
// matrix. An xxHash64 of everything after the header closes the file.
func (h *HierarchicalIndex) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)

	var header [hierarchyHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], hierarchyMagic)
	binary.LittleEndian.PutUint16(header[4:6], hierarchyVersion)
	binary.LittleEndian.PutUint64(header[6:14], h.meta.Shape.Mask())
	header[14] = uint8(h.meta.Shape.Span())
	binary.LittleEndian.PutUint32(header[15:19], h.meta.WindowSize)
	binary.LittleEndian.PutUint32(header[19:23], uint32(h.binCount))
	binary.LittleEndian.PutUint32(header[23:27], uint32(len(h.nodes)))
	header[27] = uint8(h.root().filter.HashFunctionCount())
	binary.LittleEndian.PutUint64(header[28:36], math.Float64bits(h.meta.FPRate))
	if _, err := w.Write(header[:]); err != nil {
		f.Close()
		return fmt.Errorf("write index header: %w", err)
	}

	hasher := xxhash.New()
	out := func(buf []byte) error {
		hasher.Write(buf)
		_, err := w.Write(buf)
		return err
	}

	var scratch [8]byte
	for i := range h.nodes {
		n := &h.nodes[i]
		binary.LittleEndian.PutUint64(scratch[:], n.filter.BinSize())
		if err := out(scratch[:8]); err != nil {
			f.Close()
			return fmt.Errorf("write index node: %w", err)
		}
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(n.slots)))
		if err := out(scratch[:4]); err != nil {
			f.Close()
			return fmt.Errorf("write index node: %w", err)
		}
		for _, ref := range n.slots {
			binary.LittleEndian.PutUint32(scratch[0:4], uint32(ref.child))
			binary.LittleEndian.PutUint32(scratch[4:8], uint32(ref.bin))
			if err := out(scratch[:8]); err != nil {
				f.Close()
				return fmt.Errorf("write index node: %w", err)
			}
		}
		for _, word := range n.filter.Data() {
			binary.LittleEndian.PutUint64(scratch[:], word)
			if err := out(scratch[:8]); err != nil {
				f.Close()
				return fmt.Errorf("write index payload: %w", err)
			}
		}
	}

	binary.LittleEndian.PutUint64(scratch[:], hasher.Sum64())
	if _, err := w.Write(scratch[:8]); err != nil {
		f.Close()
		return fmt.Errorf("write index footer: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	return f.Close()
}

// LoadHierarchicalIndex reads a hierarchical index file, verifying magic,
// version and checksum, and rebuilds the leaf provenance map.
func LoadHierarchicalIndex(path string) (*HierarchicalIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap index file: %w", err)
	}
	defer mm.Unmap()

	if len(mm) < hierarchyHeaderSize+8 {
		return nil, rperrors.ErrTruncatedFile
	}
	if binary.LittleEndian.Uint32(mm[0:4]) != hierarchyMagic {
		return nil, rperrors.ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(mm[4:6]) != hierarchyVersion {
		return nil, rperrors.ErrInvalidVersion
	}
	shape, err := minimizer.ShapeFromMask(binary.LittleEndian.Uint64(mm[6:14]), int(mm[14]))
	if err != nil {
		return nil, rperrors.ErrCorruptedIndex
	}

	h := &HierarchicalIndex{
		meta: Metadata{
			Shape:      shape,
			WindowSize: binary.LittleEndian.Uint32(mm[15:19]),
			FPRate:     math.Float64frombits(binary.LittleEndian.Uint64(mm[28:36])),
			Parts:      1,
		},
		binCount: int(binary.LittleEndian.Uint32(mm[19:23])),
	}
	nodeCount := int(binary.LittleEndian.Uint32(mm[23:27]))
	hashCount := int(mm[27])
	if h.binCount == 0 || nodeCount == 0 {
		return nil, rperrors.ErrCorruptedIndex
	}

	payload := mm[hierarchyHeaderSize : len(mm)-8]
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(mm[len(mm)-8:]) {
		return nil, rperrors.ErrChecksumFailed
	}

	h.provenance = make([]Provenance, h.binCount)
	leafSeen := make([]bool, h.binCount)
	off := 0
	need := func(n int) error {
		if off+n > len(payload) {
			return rperrors.ErrTruncatedFile
		}
		return nil
	}
	for i := 0; i < nodeCount; i++ {
		if err := need(12); err != nil {
			return nil, err
		}
		binSize := binary.LittleEndian.Uint64(payload[off:])
		slotCount := int(binary.LittleEndian.Uint32(payload[off+8:]))
		off += 12
		if slotCount == 0 {
			return nil, rperrors.ErrCorruptedIndex
		}
		if err := need(slotCount * 8); err != nil {
			return nil, err
		}
		slots := make([]slotRef, slotCount)
		for s := range slots {
			child := int32(binary.LittleEndian.Uint32(payload[off:]))
			bin := int32(binary.LittleEndian.Uint32(payload[off+4:]))
			off += 8
			if child >= int32(i) || (child < 0 && (bin < 0 || int(bin) >= h.binCount)) {
				return nil, rperrors.ErrCorruptedIndex
			}
			slots[s] = slotRef{child: child, bin: bin}
			if child < 0 {
				if leafSeen[bin] {
					return nil, rperrors.ErrCorruptedIndex
				}
				leafSeen[bin] = true
				h.provenance[bin] = Provenance{Node: i, Slot: s}
			}
		}
		// Size checks stay in uint64: a huge claimed binSize must fail as
		// truncation, not overflow into a small allocation.
		rowWords := (slotCount + 63) / 64
		if binSize == 0 {
			return nil, rperrors.ErrCorruptedIndex
		}
		if binSize > uint64(len(payload)-off)/8/uint64(rowWords) {
			return nil, rperrors.ErrTruncatedFile
		}
		words := int(binSize) * rowWords
		data := make([]uint64, words)
		for wi := range data {
			data[wi] = binary.LittleEndian.Uint64(payload[off:])
			off += 8
		}
		filter, err := ibf.FromData(slotCount, binSize, hashCount, data)
		if err != nil {
			return nil, err
		}
		h.nodes = append(h.nodes, hibfNode{filter: filter, slots: slots})
	}
	if off != len(payload) {
		return nil, rperrors.ErrCorruptedIndex
	}
	for _, ok := range leafSeen {
		if !ok {
			return nil, rperrors.ErrCorruptedIndex
		}
	}
	return h, nil
}
