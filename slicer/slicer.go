package slicer

import (
	"errors"
	"fmt"
	"sort"

	"dtsynth/tree"

	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownNode     = errors.New("subproblem root not found in tree")
	ErrStaleSubProblem = errors.New("subproblem no longer matches the tree")
	ErrMissingSubtree  = errors.New("no replacement subtree")
)

// SubProblem is a detached copy of a subtree together with where it came from.
// Mutating it never affects the tree it was extracted from.
type SubProblem struct {
	RootID       tree.NodeID
	Subtree      *tree.Tree
	Path         tree.PathCondition
	Nonterminals int
	Depth        int // height of the subtree
}

func (sp SubProblem) String() string {
	return fmt.Sprintf("SubProblem(@%d depth=%d nodes=%d path=%s)", sp.RootID, sp.Depth, sp.Nonterminals, sp.Path)
}

// Template is the budget for re-synthesizing a subproblem.
type Template struct {
	MaxDepth int
	Path     tree.PathCondition
}

// Extract finds every decision node whose depth from the root is below maxDepth and whose
// subtree is at least minSubtreeDepth high. Deeper subtrees come first; ties keep pre-order.
func Extract(t *tree.Tree, maxDepth, minSubtreeDepth int) []SubProblem {
	var subproblems []SubProblem
	var visit func(id tree.NodeID, depth int, path tree.PathCondition)
	visit = func(id tree.NodeID, depth int, path tree.PathCondition) {
		if t.IsLeaf(id) {
			return
		}
		height := t.Height(id)
		if depth < maxDepth && height >= minSubtreeDepth {
			sp := SubProblem{
				RootID:       id,
				Subtree:      t.CopySubtree(id),
				Path:         append(tree.PathCondition{}, path...),
				Nonterminals: t.Nonterminals(id),
				Depth:        height,
			}
			log.Debug().Msgf("extracted %s", sp)
			subproblems = append(subproblems, sp)
		}
		c := tree.Condition{Variable: t.Variable(id), Op: tree.LE, Bound: t.Bound(id)}
		visit(t.True(id), depth+1, append(path[:len(path):len(path)], c))
		visit(t.False(id), depth+1, append(path[:len(path):len(path)], c.Negate()))
	}
	visit(t.Root(), 0, nil)

	sort.SliceStable(subproblems, func(i, j int) bool {
		return subproblems[i].Depth > subproblems[j].Depth
	})
	log.Info().Int("count", len(subproblems)).Msg("extracted subproblems")
	return subproblems
}

// Reached keeps the subproblems whose path condition holds in state, in their original order.
func Reached(subproblems []SubProblem, state map[string]float64) ([]SubProblem, error) {
	var reached []SubProblem
	for _, sp := range subproblems {
		ok, err := sp.Path.Holds(state)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sp, err)
		}
		if ok {
			reached = append(reached, sp)
		}
	}
	return reached, nil
}

// GenerateTemplate clamps maxDepth to [1, subtree depth] and keeps the path condition.
func GenerateTemplate(sp SubProblem, maxDepth int) Template {
	target := max(1, min(maxDepth, sp.Subtree.Depth()))
	return Template{MaxDepth: target, Path: append(tree.PathCondition{}, sp.Path...)}
}

type pnode struct {
	leaf     bool
	action   string
	variable string
	bound    float64
	onTrue   *pnode
	onFalse  *pnode
}

// Optimise prunes the subproblem's subtree to the template depth. Cut subtrees become a leaf
// with their majority action, then sibling leaves with equal actions are merged bottom-up.
func Optimise(sp SubProblem, tmpl Template) *tree.Tree {
	src := sp.Subtree
	limit := max(0, tmpl.MaxDepth)

	var prune func(id tree.NodeID, depth int) *pnode
	prune = func(id tree.NodeID, depth int) *pnode {
		if src.IsLeaf(id) {
			return &pnode{leaf: true, action: src.Action(id)}
		}
		if depth >= limit {
			return &pnode{leaf: true, action: src.Actions[src.MajorityAction(id)]}
		}
		onTrue := prune(src.True(id), depth+1)
		onFalse := prune(src.False(id), depth+1)
		if onTrue.leaf && onFalse.leaf && onTrue.action == onFalse.action {
			return onTrue
		}
		return &pnode{variable: src.Variable(id), bound: src.Bound(id), onTrue: onTrue, onFalse: onFalse}
	}
	pruned := prune(src.Root(), 0)

	b := tree.NewBuilder(src.Variables, src.Actions)
	var emit func(n *pnode) tree.NodeID
	emit = func(n *pnode) tree.NodeID {
		if n.leaf {
			return b.Leaf(n.action)
		}
		onTrue := emit(n.onTrue)
		onFalse := emit(n.onFalse)
		return b.Decision(n.variable, n.bound, onTrue, onFalse)
	}
	return b.Build(emit(pruned))
}

// Regions is the union of both trees' leaf paths, minus any path that is a strict subset of
// another one: a coarse region already covered by finer ones.
func Regions(a, b *tree.Tree) []tree.PathCondition {
	union := make(map[string]tree.PathCondition)
	var keys []string
	for _, t := range []*tree.Tree{a, b} {
		for _, lp := range t.LeafPaths() {
			key := lp.Path.Key()
			if _, ok := union[key]; !ok {
				union[key] = lp.Path
				keys = append(keys, key)
			}
		}
	}

	var regions []tree.PathCondition
	for _, key := range keys {
		path := union[key]
		coarse := false
		for _, other := range keys {
			if other != key && len(union[other]) > len(path) && path.SubsetOf(union[other]) {
				coarse = true
				break
			}
		}
		if !coarse {
			regions = append(regions, path)
		}
	}
	return regions
}

// EstimateLoss approximates how differently two trees act, as the fraction of Regions on which
// they pick different actions. It is a structural heuristic, not a proof of equivalence; the
// result is in [0,1].
func EstimateLoss(reference, candidate *tree.Tree) float64 {
	regions := Regions(reference, candidate)
	if len(regions) == 0 {
		return 0
	}
	differing := 0
	for _, path := range regions {
		if Resolve(reference, path) != Resolve(candidate, path) {
			differing++
		}
	}
	loss := float64(differing) / float64(len(regions))
	return min(1, max(0, loss))
}

// Resolve walks t along path and returns the action reached. When the path does not settle a
// test, the majority action of the remaining subtree is taken.
func Resolve(t *tree.Tree, path tree.PathCondition) string {
	id := t.Root()
	for !t.IsLeaf(id) {
		next := tree.None
		for _, c := range path {
			if onTrue, ok := c.Decides(t.Variable(id), t.Bound(id)); ok {
				if onTrue {
					next = t.True(id)
				} else {
					next = t.False(id)
				}
				break
			}
		}
		if next == tree.None {
			return t.Actions[t.MajorityAction(id)]
		}
		id = next
	}
	return t.Action(id)
}

// Replace splices a copy of sub into main where sp was extracted from and renumbers main.
// On error main is left unmodified.
func Replace(main *tree.Tree, sp SubProblem, sub *tree.Tree) (*tree.Tree, error) {
	if sub == nil {
		return main, ErrMissingSubtree
	}
	if sp.RootID == main.Root() {
		if len(sp.Path) > 0 {
			return main, fmt.Errorf("%w: node %d is now the root, not at %s", ErrStaleSubProblem, sp.RootID, sp.Path)
		}
		log.Debug().Msg("replacing entire tree root")
		if err := main.Splice(main.Root(), sub); err != nil {
			return main, fmt.Errorf("replace root: %w", err)
		}
		return main, nil
	}

	if !main.Has(sp.RootID) || main.IsLeaf(sp.RootID) {
		return main, fmt.Errorf("%w: %d", ErrUnknownNode, sp.RootID)
	}
	if main.PathTo(sp.RootID).Key() != sp.Path.Key() {
		return main, fmt.Errorf("%w: node %d is now at %s, not %s", ErrStaleSubProblem, sp.RootID, main.PathTo(sp.RootID), sp.Path)
	}
	if err := main.Splice(sp.RootID, sub); err != nil {
		return main, fmt.Errorf("replace node %d: %w", sp.RootID, err)
	}
	return main, nil
}
