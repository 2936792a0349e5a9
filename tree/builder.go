package tree

import (
	"fmt"

	"dtsynth/utils"
)

// Builder assembles a tree bottom-up. Variable and action names are registered on first use,
// after any names given to NewBuilder.
type Builder struct {
	t    *Tree
	used map[NodeID]bool
}

func NewBuilder(variables, actions []string) *Builder {
	return &Builder{
		t: &Tree{
			Variables: append([]string(nil), variables...),
			Actions:   append([]string(nil), actions...),
		},
		used: make(map[NodeID]bool),
	}
}

func (b *Builder) Leaf(action string) NodeID {
	a := utils.FindIndex(b.t.Actions, action)
	if a < 0 {
		a = len(b.t.Actions)
		b.t.Actions = append(b.t.Actions, action)
	}
	b.t.nodes = append(b.t.nodes, node{leaf: true, action: a, onTrue: None, onFalse: None, parent: None})
	return NodeID(len(b.t.nodes) - 1)
}

// Decision adds a node testing variable <= bound.
func (b *Builder) Decision(variable string, bound float64, onTrue, onFalse NodeID) NodeID {
	for _, child := range []NodeID{onTrue, onFalse} {
		if !b.t.valid(child) {
			panic(fmt.Sprintf("child %d was not built by this builder", child))
		}
		if b.used[child] {
			panic(fmt.Sprintf("node %d already has a parent", child))
		}
		b.used[child] = true
	}
	v := utils.FindIndex(b.t.Variables, variable)
	if v < 0 {
		v = len(b.t.Variables)
		b.t.Variables = append(b.t.Variables, variable)
	}
	b.t.nodes = append(b.t.nodes, node{variable: v, bound: bound, onTrue: onTrue, onFalse: onFalse, parent: None})
	return NodeID(len(b.t.nodes) - 1)
}

// Build finishes the tree rooted at root and assigns post-order identifiers.
// Nodes not reachable from root are discarded.
func (b *Builder) Build(root NodeID) *Tree {
	if !b.t.valid(root) {
		panic(fmt.Sprintf("root %d was not built by this builder", root))
	}
	t := b.t
	t.root = root
	t.renumber()
	b.t = &Tree{
		Variables: append([]string(nil), t.Variables...),
		Actions:   append([]string(nil), t.Actions...),
	}
	b.used = make(map[NodeID]bool)
	return t
}
