// Package graph builds the series reference forest from crawled DICOM
// metadata and enumerates processing samples from it.
//
// Series B is a child of series A when B's ReferencedSeriesUID is A's
// SeriesInstanceUID. Nodes live in an arena owned by the Graph and child
// lists store arena handles, so the structure tolerates malformed input
// (including reference cycles) without ownership concerns.
package graph

import (
	"medimagetools/internal/models"
)

// Node is a series in the reference forest.
type Node struct {
	Record models.SeriesRecord

	handle   int
	root     bool
	children []int
}

// UID returns the SeriesInstanceUID of the node.
func (n *Node) UID() string { return n.Record.SeriesInstanceUID }

// Modality returns the modality of the node.
func (n *Node) Modality() models.Modality { return n.Record.Modality }

// IsRoot reports whether the node starts a reference tree.
func (n *Node) IsRoot() bool { return n.root }

// Edge is a parent -> child relation between two series.
type Edge struct {
	Parent string
	Child  string
}

// Graph is the registry of series nodes plus the reference edges between
// them. A Graph is immutable after Build and safe for concurrent reads.
type Graph struct {
	nodes []*Node
	index map[string]int
	roots []int

	// DanglingEdges counts references to series absent from the input.
	DanglingEdges int
}

// Build constructs the reference forest from crawl records.
//
// Records are deduplicated by SeriesInstanceUID with the first occurrence
// winning. CT and MR series are always roots; PT series are roots when they
// reference nothing. References to unknown series are dropped silently and
// the referencing series stays in the registry without a parent.
func Build(records []models.SeriesRecord) *Graph {
	g := &Graph{index: make(map[string]int, len(records))}

	for _, rec := range records {
		if rec.SeriesInstanceUID == "" {
			continue
		}
		if _, dup := g.index[rec.SeriesInstanceUID]; dup {
			continue
		}
		h := len(g.nodes)
		n := &Node{Record: rec, handle: h}
		n.root = rec.Modality.IsRoot(rec.HasReference())
		g.nodes = append(g.nodes, n)
		g.index[rec.SeriesInstanceUID] = h
		if n.root {
			g.roots = append(g.roots, h)
		}
	}

	for _, n := range g.nodes {
		ref := n.Record.ReferencedSeriesUID
		if ref == "" || ref == n.UID() {
			continue
		}
		parent, ok := g.index[ref]
		if !ok {
			g.DanglingEdges++
			continue
		}
		g.nodes[parent].children = append(g.nodes[parent].children, n.handle)
	}

	return g
}

// Len returns the number of distinct series in the registry.
func (g *Graph) Len() int { return len(g.nodes) }

// Node looks up a series by UID.
func (g *Graph) Node(uid string) (*Node, bool) {
	h, ok := g.index[uid]
	if !ok {
		return nil, false
	}
	return g.nodes[h], true
}

// Nodes returns every registered node in first-seen order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Roots returns the root nodes in first-seen order.
func (g *Graph) Roots() []*Node {
	out := make([]*Node, len(g.roots))
	for i, h := range g.roots {
		out[i] = g.nodes[h]
	}
	return out
}

// Children returns the direct children of n in insertion order.
func (g *Graph) Children(n *Node) []*Node {
	out := make([]*Node, len(n.children))
	for i, h := range n.children {
		out[i] = g.nodes[h]
	}
	return out
}

// Edges returns every resolved parent -> child edge.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, n := range g.nodes {
		for _, c := range n.children {
			out = append(out, Edge{Parent: n.UID(), Child: g.nodes[c].UID()})
		}
	}
	return out
}

// Tree returns the nodes reachable from root in depth-first pre-order, each
// node once.
func (g *Graph) Tree(root *Node) []*Node {
	var out []*Node
	seen := make(map[int]bool)
	var visit func(h int)
	visit = func(h int) {
		if seen[h] {
			return
		}
		seen[h] = true
		out = append(out, g.nodes[h])
		for _, c := range g.nodes[h].children {
			visit(c)
		}
	}
	visit(root.handle)
	return out
}
