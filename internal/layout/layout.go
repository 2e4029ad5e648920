// Package layout parses packing plans for hierarchical index builds.
//
// A packing plan is a grouping tree over content bins, computed by the
// layout command or by an external tool. Every leaf names one content bin;
// every internal node merges its descendants into a single filter whose
// size is governed by the node's largest descendant bin ("max bin").
package layout

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	rperrors "github.com/new2f7/raptor/errors"
)

// Kind identifies hierarchical layout documents.
const Kind = "hibf-layout"

// Plan is a parsed packing plan.
type Plan struct {
	Kind      string  `yaml:"kind"`
	FPRate    float64 `yaml:"fp_rate,omitempty"`
	HashCount int     `yaml:"hash_functions,omitempty"`
	Root      *Node   `yaml:"root"`
}

// Node is one node of the grouping tree. Bins lists the content bins placed
// directly in this node; Merged lists child nodes whose content is folded
// into one slot each. MaxBin names the descendant content bin with the
// largest hash cardinality, used to size this node's false positive budget.
type Node struct {
	Bins   []int   `yaml:"bins,omitempty"`
	Merged []*Node `yaml:"merged,omitempty"`
	MaxBin int     `yaml:"max_bin"`
}

// Parse decodes a plan from YAML.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	if p.Kind != Kind {
		return nil, rperrors.ErrLayoutKind
	}
	if p.Root == nil {
		return nil, rperrors.ErrInvalidLayout
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and parses a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout file: %w", err)
	}
	return Parse(data)
}

// Save writes the plan as YAML.
func (p *Plan) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write layout file: %w", err)
	}
	return nil
}

// BinCount returns the number of content bins covered by the plan.
func (p *Plan) BinCount() int {
	return len(p.Root.Leaves())
}

// Validate checks the tree invariants: the leaves form exactly the bin set
// 0..N-1 with every bin on exactly one root-to-leaf path, and every node's
// max bin is one of its own descendants.
func (p *Plan) Validate() error {
	leaves := p.Root.Leaves()
	if len(leaves) == 0 {
		return rperrors.ErrInvalidLayout
	}
	sorted := append([]int(nil), leaves...)
	sort.Ints(sorted)
	for i, bin := range sorted {
		if bin != i {
			return rperrors.ErrInvalidLayout
		}
	}
	return validateMaxBins(p.Root)
}

func validateMaxBins(n *Node) error {
	descendants := make(map[int]struct{})
	for _, bin := range n.Leaves() {
		descendants[bin] = struct{}{}
	}
	if _, ok := descendants[n.MaxBin]; !ok {
		return rperrors.ErrInvalidLayout
	}
	for _, child := range n.Merged {
		if err := validateMaxBins(child); err != nil {
			return err
		}
	}
	return nil
}

// Leaves returns all content bins below this node, direct bins first.
func (n *Node) Leaves() []int {
	out := append([]int(nil), n.Bins...)
	for _, child := range n.Merged {
		out = append(out, child.Leaves()...)
	}
	return out
}

// SlotCount returns the number of filter slots this node needs: one per
// direct bin plus one per merged child.
func (n *Node) SlotCount() int {
	return len(n.Bins) + len(n.Merged)
}
