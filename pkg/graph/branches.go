package graph

// Branch is a root-to-leaf path through the reference forest.
type Branch []*Node

// UIDs returns the series UIDs along the branch.
func (b Branch) UIDs() []string {
	out := make([]string, len(b))
	for i, n := range b {
		out[i] = n.UID()
	}
	return out
}

// Leaf returns the last node of the branch.
func (b Branch) Leaf() *Node {
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

// FindBranches enumerates every root-to-leaf path below roots by depth-first
// traversal. Each branch owns its backing array. A child that already
// appears on the current path is not followed, so reference cycles end the
// branch at the node that closes the cycle.
func (g *Graph) FindBranches(roots []*Node) []Branch {
	var out []Branch
	for _, r := range roots {
		onPath := make(map[int]bool)
		g.walk(r, nil, onPath, &out)
	}
	return out
}

func (g *Graph) walk(n *Node, prefix Branch, onPath map[int]bool, out *[]Branch) {
	branch := make(Branch, len(prefix), len(prefix)+1)
	copy(branch, prefix)
	branch = append(branch, n)

	onPath[n.handle] = true
	defer delete(onPath, n.handle)

	var next []*Node
	for _, c := range n.children {
		if !onPath[c] {
			next = append(next, g.nodes[c])
		}
	}
	if len(next) == 0 {
		*out = append(*out, branch)
		return
	}
	for _, c := range next {
		g.walk(c, branch, onPath, out)
	}
}
