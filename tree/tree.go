package tree

import (
	"errors"
	"fmt"

	"dtsynth/utils"
)

// NodeID identifies a node within one tree. Identifiers are assigned in post-order and are
// contiguous from 0; the root always has the largest identifier. Any structural change
// renumbers the whole tree, so identifiers must not be held across mutations.
type NodeID int

const None NodeID = -1

var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrUnknownAction   = errors.New("unknown action")
	ErrNoSuchNode      = errors.New("no such node")
)

type node struct {
	leaf     bool
	variable int
	bound    float64
	action   int
	onTrue   NodeID
	onFalse  NodeID
	parent   NodeID // navigation only; children are owned through onTrue/onFalse
}

// Tree is a binary decision tree stored in an arena. Decision nodes test variable <= bound;
// the true child is taken when the test holds.
type Tree struct {
	Variables []string
	Actions   []string
	nodes     []node
	root      NodeID
}

// Leaf returns a single-leaf tree.
func Leaf(variables, actions []string, action int) *Tree {
	t := &Tree{
		Variables: append([]string(nil), variables...),
		Actions:   append([]string(nil), actions...),
		nodes:     []node{{leaf: true, action: action, onTrue: None, onFalse: None, parent: None}},
		root:      0,
	}
	return t
}

func (t *Tree) Root() NodeID {
	return t.root
}

// Size is the total number of nodes.
func (t *Tree) Size() int {
	return len(t.nodes)
}

// Depth is the height of the tree; a single leaf has depth 0.
func (t *Tree) Depth() int {
	return t.Height(t.root)
}

func (t *Tree) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

func (t *Tree) at(id NodeID) *node {
	if !t.valid(id) {
		panic(fmt.Sprintf("node %d out of range [0,%d)", id, len(t.nodes)))
	}
	return &t.nodes[id]
}

func (t *Tree) Has(id NodeID) bool {
	return t.valid(id)
}

func (t *Tree) IsLeaf(id NodeID) bool {
	return t.at(id).leaf
}

func (t *Tree) VariableIndex(id NodeID) int {
	return t.at(id).variable
}

func (t *Tree) Variable(id NodeID) string {
	return t.Variables[t.at(id).variable]
}

func (t *Tree) Bound(id NodeID) float64 {
	return t.at(id).bound
}

func (t *Tree) ActionIndex(id NodeID) int {
	return t.at(id).action
}

func (t *Tree) Action(id NodeID) string {
	return t.Actions[t.at(id).action]
}

func (t *Tree) True(id NodeID) NodeID {
	return t.at(id).onTrue
}

func (t *Tree) False(id NodeID) NodeID {
	return t.at(id).onFalse
}

func (t *Tree) Parent(id NodeID) NodeID {
	return t.at(id).parent
}

// Height of the subtree rooted at id.
func (t *Tree) Height(id NodeID) int {
	n := t.at(id)
	if n.leaf {
		return 0
	}
	return 1 + max(t.Height(n.onTrue), t.Height(n.onFalse))
}

// NodeDepth is the distance from the root to id.
func (t *Tree) NodeDepth(id NodeID) int {
	depth := 0
	for p := t.Parent(id); p != None; p = t.Parent(p) {
		depth++
	}
	return depth
}

// Nonterminals counts the decision nodes of the subtree rooted at id.
func (t *Tree) Nonterminals(id NodeID) int {
	n := t.at(id)
	if n.leaf {
		return 0
	}
	return 1 + t.Nonterminals(n.onTrue) + t.Nonterminals(n.onFalse)
}

// Leaves lists the leaves below id, true branches first.
func (t *Tree) Leaves(id NodeID) []NodeID {
	var out []NodeID
	t.PreOrder(id, func(n NodeID) {
		if t.IsLeaf(n) {
			out = append(out, n)
		}
	})
	return out
}

// PreOrder visits the subtree rooted at id: node, true subtree, false subtree.
func (t *Tree) PreOrder(id NodeID, visit func(NodeID)) {
	visit(id)
	n := t.at(id)
	if !n.leaf {
		t.PreOrder(n.onTrue, visit)
		t.PreOrder(n.onFalse, visit)
	}
}

// PostOrder visits the subtree rooted at id: true subtree, false subtree, node.
func (t *Tree) PostOrder(id NodeID, visit func(NodeID)) {
	n := t.at(id)
	if !n.leaf {
		t.PostOrder(n.onTrue, visit)
		t.PostOrder(n.onFalse, visit)
	}
	visit(id)
}

// MajorityAction is the most frequent action among the leaves below id.
// Ties go to the lowest action index.
func (t *Tree) MajorityAction(id NodeID) int {
	counts := make([]int, len(t.Actions))
	for _, leaf := range t.Leaves(id) {
		counts[t.ActionIndex(leaf)]++
	}
	best := 0
	for action, count := range counts {
		if count > counts[best] {
			best = action
		}
	}
	return best
}

// PathTo returns the branch conditions taken from the root to id.
func (t *Tree) PathTo(id NodeID) PathCondition {
	var reversed []Condition
	for child, parent := id, t.Parent(id); parent != None; child, parent = parent, t.Parent(parent) {
		p := t.at(parent)
		c := Condition{Variable: t.Variables[p.variable], Op: LE, Bound: p.bound}
		if p.onFalse == child {
			c = c.Negate()
		}
		reversed = append(reversed, c)
	}
	path := make(PathCondition, len(reversed))
	for i, c := range reversed {
		path[len(reversed)-1-i] = c
	}
	return path
}

type LeafPath struct {
	Path   PathCondition
	Action string
}

// LeafPaths lists the path condition and action of every leaf, true branches first.
func (t *Tree) LeafPaths() []LeafPath {
	var out []LeafPath
	var walk func(id NodeID, path PathCondition)
	walk = func(id NodeID, path PathCondition) {
		n := t.at(id)
		if n.leaf {
			out = append(out, LeafPath{Path: append(PathCondition(nil), path...), Action: t.Actions[n.action]})
			return
		}
		c := Condition{Variable: t.Variables[n.variable], Op: LE, Bound: n.bound}
		walk(n.onTrue, append(path, c))
		walk(n.onFalse, append(path, c.Negate()))
	}
	walk(t.root, nil)
	return out
}

type Stats struct {
	Depth        int
	Nodes        int
	Nonterminals int
	Leaves       int
}

func (t *Tree) Stats() Stats {
	nonterminals := t.Nonterminals(t.root)
	return Stats{
		Depth:        t.Depth(),
		Nodes:        t.Size(),
		Nonterminals: nonterminals,
		Leaves:       t.Size() - nonterminals,
	}
}

// Copy returns an independent copy of the whole tree.
func (t *Tree) Copy() *Tree {
	return t.CopySubtree(t.root)
}

// CopySubtree returns a detached tree holding a copy of the subtree rooted at id,
// with its own identifiers and the same variable and action tables.
func (t *Tree) CopySubtree(id NodeID) *Tree {
	out := &Tree{
		Variables: append([]string(nil), t.Variables...),
		Actions:   append([]string(nil), t.Actions...),
	}
	out.root = out.copyFrom(t, id, None)
	out.renumber()
	return out
}

// copyFrom appends a copy of src's subtree at id and returns the new root index.
func (t *Tree) copyFrom(src *Tree, id NodeID, parent NodeID) NodeID {
	n := *src.at(id)
	idx := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{leaf: n.leaf, variable: n.variable, bound: n.bound, action: n.action, onTrue: None, onFalse: None, parent: parent})
	if !n.leaf {
		onTrue := t.copyFrom(src, n.onTrue, idx)
		onFalse := t.copyFrom(src, n.onFalse, idx)
		t.nodes[idx].onTrue = onTrue
		t.nodes[idx].onFalse = onFalse
	}
	return idx
}

// Collapse turns id into a leaf with the given action, dropping its subtree.
func (t *Tree) Collapse(id NodeID, action int) {
	if action < 0 || action >= len(t.Actions) {
		panic(fmt.Sprintf("action %d out of range", action))
	}
	n := t.at(id)
	n.leaf, n.action, n.variable, n.bound = true, action, 0, 0
	n.onTrue, n.onFalse = None, None
	t.renumber()
}

// Splice overwrites node id with a copy of src. Variables and actions are re-anchored by name
// to this tree's tables; a name this tree does not know is an error and leaves the tree unchanged.
// The parent link of id is preserved.
func (t *Tree) Splice(id NodeID, src *Tree) error {
	if !t.valid(id) {
		return fmt.Errorf("%w: %d", ErrNoSuchNode, id)
	}
	variables, actions, err := t.anchor(src)
	if err != nil {
		return err
	}

	parent := t.nodes[id].parent
	start := NodeID(len(t.nodes))
	grafted := t.copyFrom(src, src.root, parent)
	for i := start; i < NodeID(len(t.nodes)); i++ {
		n := &t.nodes[i]
		if n.leaf {
			n.action = actions[n.action]
		} else {
			n.variable = variables[n.variable]
		}
	}

	if parent == None {
		t.root = grafted
	} else if t.nodes[parent].onTrue == id {
		t.nodes[parent].onTrue = grafted
	} else {
		t.nodes[parent].onFalse = grafted
	}
	t.renumber()
	return nil
}

// anchor maps src's variable and action indices onto t's tables.
func (t *Tree) anchor(src *Tree) (variables, actions []int, err error) {
	variables = make([]int, len(src.Variables))
	actions = make([]int, len(src.Actions))
	used := make(map[int]bool)
	usedActions := make(map[int]bool)
	src.PreOrder(src.root, func(id NodeID) {
		if src.IsLeaf(id) {
			usedActions[src.ActionIndex(id)] = true
		} else {
			used[src.VariableIndex(id)] = true
		}
	})
	for i, name := range src.Variables {
		variables[i] = utils.FindIndex(t.Variables, name)
		if variables[i] < 0 && used[i] {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
		}
	}
	for i, name := range src.Actions {
		actions[i] = utils.FindIndex(t.Actions, name)
		if actions[i] < 0 && usedActions[i] {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
		}
	}
	return variables, actions, nil
}

// renumber compacts the arena into post-order, dropping unreachable nodes.
func (t *Tree) renumber() {
	order := make([]NodeID, 0, len(t.nodes))
	t.PostOrder(t.root, func(id NodeID) {
		order = append(order, id)
	})
	remap := make(map[NodeID]NodeID, len(order))
	for newID, oldID := range order {
		remap[oldID] = NodeID(newID)
	}
	nodes := make([]node, len(order))
	for newID, oldID := range order {
		n := t.nodes[oldID]
		if !n.leaf {
			n.onTrue, n.onFalse = remap[n.onTrue], remap[n.onFalse]
		}
		n.parent = None
		nodes[newID] = n
	}
	for id := range nodes {
		if !nodes[id].leaf {
			nodes[nodes[id].onTrue].parent = NodeID(id)
			nodes[nodes[id].onFalse].parent = NodeID(id)
		}
	}
	t.nodes = nodes
	t.root = NodeID(len(nodes) - 1)
}

// Validate checks that the arena is a well-formed tree with contiguous post-order identifiers.
func (t *Tree) Validate() error {
	if len(t.nodes) == 0 {
		return errors.New("empty tree")
	}
	if t.root != NodeID(len(t.nodes)-1) {
		return fmt.Errorf("root %d is not the last post-order node", t.root)
	}
	if t.nodes[t.root].parent != None {
		return errors.New("root has a parent")
	}
	next := NodeID(0)
	var err error
	t.PostOrder(t.root, func(id NodeID) {
		if err != nil {
			return
		}
		if id != next {
			err = fmt.Errorf("node %d visited at post-order position %d", id, next)
			return
		}
		next++
		n := t.nodes[id]
		if n.leaf {
			if n.action < 0 || n.action >= len(t.Actions) {
				err = fmt.Errorf("leaf %d has action %d out of range", id, n.action)
			}
			return
		}
		if n.variable < 0 || n.variable >= len(t.Variables) {
			err = fmt.Errorf("node %d has variable %d out of range", id, n.variable)
			return
		}
		if t.nodes[n.onTrue].parent != id || t.nodes[n.onFalse].parent != id {
			err = fmt.Errorf("children of node %d do not point back to it", id)
		}
	})
	if err != nil {
		return err
	}
	if int(next) != len(t.nodes) {
		return fmt.Errorf("%d nodes unreachable from the root", len(t.nodes)-int(next))
	}
	return nil
}
