package tree

// Shape is what progress reporting needs from any synthesized tree-shaped result.
type Shape interface {
	Size() int
	Depth() int
}

var (
	_ Shape = (*Tree)(nil)
	_ Shape = (*PolicyTree)(nil)
)

// PolicyTree is an n-ary tree whose leaves carry policies, as produced when a family of
// models is split into subfamilies that each get their own controller.
type PolicyTree struct {
	Root *PolicyNode
}

type PolicyNode struct {
	Label    string
	Children []*PolicyNode
}

func (p *PolicyTree) Size() int {
	if p == nil || p.Root == nil {
		return 0
	}
	return p.Root.size()
}

func (p *PolicyTree) Depth() int {
	if p == nil || p.Root == nil {
		return 0
	}
	return p.Root.depth()
}

func (n *PolicyNode) IsLeaf() bool {
	return len(n.Children) == 0
}

func (n *PolicyNode) size() int {
	count := 1
	for _, child := range n.Children {
		count += child.size()
	}
	return count
}

func (n *PolicyNode) depth() int {
	deepest := 0
	for _, child := range n.Children {
		deepest = max(deepest, 1+child.depth())
	}
	return deepest
}
