package tree

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/awalterschulze/gographviz"
)

type ExportNode struct {
	ID    NodeID `json:"id"`
	Kind  string `json:"kind"` // "leaf" or "decision"
	Label string `json:"label"`
	True  NodeID `json:"true"`
	False NodeID `json:"false"`
}

// Export lists every node in pre-order with its children's identifiers; leaves have None children.
func (t *Tree) Export() []ExportNode {
	var out []ExportNode
	t.PreOrder(t.root, func(id NodeID) {
		if t.IsLeaf(id) {
			out = append(out, ExportNode{ID: id, Kind: "leaf", Label: t.Action(id), True: None, False: None})
			return
		}
		out = append(out, ExportNode{
			ID:    id,
			Kind:  "decision",
			Label: Condition{Variable: t.Variable(id), Op: LE, Bound: t.Bound(id)}.String(),
			True:  t.True(id),
			False: t.False(id),
		})
	})
	return out
}

type jsonNode struct {
	Type     string    `json:"type"`
	ID       NodeID    `json:"id"`
	Action   string    `json:"action,omitempty"`
	Variable string    `json:"variable,omitempty"`
	Bound    *float64  `json:"bound,omitempty"`
	True     *jsonNode `json:"true,omitempty"`
	False    *jsonNode `json:"false,omitempty"`
}

func (t *Tree) toJSON(id NodeID) *jsonNode {
	if t.IsLeaf(id) {
		return &jsonNode{Type: "leaf", ID: id, Action: t.Action(id)}
	}
	bound := t.Bound(id)
	return &jsonNode{
		Type:     "decision",
		ID:       id,
		Variable: t.Variable(id),
		Bound:    &bound,
		True:     t.toJSON(t.True(id)),
		False:    t.toJSON(t.False(id)),
	}
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.toJSON(t.root))
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	var root jsonNode
	if err := json.Unmarshal(data, &root); err != nil {
		return err
	}
	b := NewBuilder(nil, nil)
	var build func(n *jsonNode) (NodeID, error)
	build = func(n *jsonNode) (NodeID, error) {
		switch n.Type {
		case "leaf":
			return b.Leaf(n.Action), nil
		case "decision":
			if n.True == nil || n.False == nil || n.Bound == nil {
				return None, fmt.Errorf("decision node %d is incomplete", n.ID)
			}
			onTrue, err := build(n.True)
			if err != nil {
				return None, err
			}
			onFalse, err := build(n.False)
			if err != nil {
				return None, err
			}
			return b.Decision(n.Variable, *n.Bound, onTrue, onFalse), nil
		}
		return None, fmt.Errorf("unknown node type %q", n.Type)
	}
	id, err := build(&root)
	if err != nil {
		return err
	}
	*t = *b.Build(id)
	return nil
}

// WriteDOT renders the tree as a Graphviz digraph.
func (t *Tree) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph DecisionTree {")
	fmt.Fprintln(bw, "  node [shape=box];")
	var edges []string
	for _, n := range t.Export() {
		if n.Kind == "leaf" {
			fmt.Fprintf(bw, "  %d [label=%q, shape=ellipse];\n", n.ID, n.Label)
			continue
		}
		fmt.Fprintf(bw, "  %d [label=%q];\n", n.ID, n.Label)
		edges = append(edges,
			fmt.Sprintf("  %d -> %d [label=\"true\"];", n.ID, n.True),
			fmt.Sprintf("  %d -> %d [label=\"false\"];", n.ID, n.False))
	}
	for _, e := range edges {
		fmt.Fprintln(bw, e)
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

var dotLeaf = regexp.MustCompile(`(?i)^\s*(?:action|choose)\s*:\s*(.+?)\s*$`)

type dotVertex struct {
	label   string
	leaf    bool
	onTrue  string
	onFalse string
	parents int
}

// ParseDOT reads a decision tree from the Graphviz output of a tree-induction tool.
// Decision labels must parse as "variable <= bound" or "variable > bound"; leaves are nodes without children.
// Edges labelled true/yes and false/no pick the branch, otherwise the first edge is the true branch.
func ParseDOT(src string) (*Tree, error) {
	parsed, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse dot: %w", err)
	}
	graph, err := gographviz.NewAnalysedGraph(parsed)
	if err != nil {
		return nil, fmt.Errorf("analyse dot: %w", err)
	}

	vertices := make(map[string]*dotVertex)
	var order []string
	vertex := func(name string) *dotVertex {
		v, ok := vertices[name]
		if !ok {
			v = &dotVertex{}
			vertices[name] = v
			order = append(order, name)
		}
		return v
	}
	for _, n := range graph.Nodes.Nodes {
		v := vertex(n.Name)
		v.label = dotString(n.Attrs[gographviz.Label])
		v.leaf = dotString(n.Attrs[gographviz.Shape]) == "ellipse"
	}
	for _, e := range graph.Edges.Edges {
		from, to := vertex(e.Src), vertex(e.Dst)
		to.parents++
		switch strings.ToLower(dotString(e.Attrs[gographviz.Label])) {
		case "true", "yes":
			from.onTrue = e.Dst
		case "false", "no":
			from.onFalse = e.Dst
		default:
			if from.onTrue == "" {
				from.onTrue = e.Dst
			} else {
				from.onFalse = e.Dst
			}
		}
	}

	root := ""
	for _, name := range order {
		if vertices[name].parents == 0 {
			if root != "" {
				return nil, fmt.Errorf("dot graph has several roots: %s and %s", root, name)
			}
			root = name
		}
	}
	if root == "" {
		return nil, errors.New("dot graph has no root")
	}

	b := NewBuilder(nil, nil)
	visiting := make(map[string]bool)
	var build func(name string) (NodeID, error)
	build = func(name string) (NodeID, error) {
		if visiting[name] {
			return None, fmt.Errorf("dot graph has a cycle through %s", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		v := vertices[name]
		if v.onTrue == "" && v.onFalse == "" {
			action := v.label
			if m := dotLeaf.FindStringSubmatch(action); m != nil {
				action = m[1]
			}
			if action == "" {
				action = dotString(name)
			}
			return b.Leaf(action), nil
		}
		if v.leaf {
			return None, fmt.Errorf("leaf %s has children", name)
		}
		if v.onTrue == "" || v.onFalse == "" {
			return None, fmt.Errorf("decision %s needs two children", name)
		}
		cond, err := ParseCondition(v.label)
		if err != nil {
			return None, err
		}
		trueName, falseName := v.onTrue, v.onFalse
		if cond.Op == GT {
			// "x > b" is true exactly when "x <= b" is false.
			trueName, falseName = falseName, trueName
		}
		onTrue, err := build(trueName)
		if err != nil {
			return None, err
		}
		onFalse, err := build(falseName)
		if err != nil {
			return None, err
		}
		return b.Decision(cond.Variable, cond.Bound, onTrue, onFalse), nil
	}

	id, err := build(root)
	if err != nil {
		return nil, err
	}
	return b.Build(id), nil
}

// dotString strips the quotes Graphviz keeps around identifiers and attribute values.
func dotString(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `\"`, `"`)
		s = strings.ReplaceAll(s, `\n`, " ")
	}
	return strings.TrimSpace(s)
}
