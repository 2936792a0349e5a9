package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"dtsynth/family"
	"dtsynth/heuristic"
	"dtsynth/oracle"
	"dtsynth/searcher"
	"dtsynth/slicer"
	"dtsynth/tree"
)

var ErrNoCandidate = errors.New("no candidate subtree found")

// Refiner proposes a replacement for a subproblem's subtree that fits the template.
type Refiner interface {
	Refine(ctx context.Context, sp slicer.SubProblem, tmpl slicer.Template) (*tree.Tree, error)
}

type RefinerFunc func(ctx context.Context, sp slicer.SubProblem, tmpl slicer.Template) (*tree.Tree, error)

func (f RefinerFunc) Refine(ctx context.Context, sp slicer.SubProblem, tmpl slicer.Template) (*tree.Tree, error) {
	return f(ctx, sp, tmpl)
}

// PruneRefiner cuts the subtree at the template depth and labels every cut with its majority action.
type PruneRefiner struct{}

func (PruneRefiner) Refine(_ context.Context, sp slicer.SubProblem, tmpl slicer.Template) (*tree.Tree, error) {
	return slicer.Optimise(sp, tmpl), nil
}

// SearchRefiner keeps the decisions above the template depth and searches for the leaf labelling
// that agrees with the original subtree on the most regions.
type SearchRefiner struct {
	Heuristic heuristic.Config
	Limits    searcher.Limits
}

func (r SearchRefiner) Refine(ctx context.Context, sp slicer.SubProblem, tmpl slicer.Template) (*tree.Tree, error) {
	o := newLabelOracle(sp.Subtree, max(0, tmpl.MaxDepth))
	h := r.Heuristic
	if h == (heuristic.Config{}) {
		h = heuristic.Default()
	}
	engine := searcher.NewEngine(o, searcher.WithHeuristic(h), searcher.WithLimits(r.Limits))

	result, err := engine.Synthesize(ctx, o.space.Root())
	if err != nil {
		return nil, fmt.Errorf("label search for %s: %w", sp.Path, err)
	}
	if !result.Found() {
		return nil, fmt.Errorf("%w: search stopped with %s", ErrNoCandidate, result.Stopped)
	}
	candidate := o.candidate(*result.Assignment)
	return slicer.Optimise(slicer.SubProblem{Subtree: candidate}, slicer.Template{MaxDepth: candidate.Depth()}), nil
}

// skeleton is the reference subtree cut at a depth. Every leaf of it is a hole to label.
type skeleton struct {
	hole     int // -1 for decisions
	variable string
	bound    float64
	onTrue   *skeleton
	onFalse  *skeleton
}

// labelOracle values a labelling of the skeleton by its agreement with the reference subtree,
// the fraction of regions on which both pick the same action.
type labelOracle struct {
	reference *tree.Tree
	root      *skeleton
	space     *family.Space
	regions   []tree.PathCondition
	wanted    []string
}

var _ searcher.Oracle = (*labelOracle)(nil)

func newLabelOracle(reference *tree.Tree, depth int) *labelOracle {
	var used []int
	seen := make(map[int]bool)
	for _, leaf := range reference.Leaves(reference.Root()) {
		if a := reference.ActionIndex(leaf); !seen[a] {
			seen[a] = true
			used = append(used, a)
		}
	}
	sort.Ints(used)
	actions := make([]string, len(used))
	for i, a := range used {
		actions[i] = reference.Actions[a]
	}

	var holes []family.Hole
	var cut func(id tree.NodeID, d int) *skeleton
	cut = func(id tree.NodeID, d int) *skeleton {
		if reference.IsLeaf(id) || d >= depth {
			holes = append(holes, family.Hole{Name: fmt.Sprintf("leaf%d", len(holes)), Options: actions})
			return &skeleton{hole: len(holes) - 1}
		}
		return &skeleton{
			hole:     -1,
			variable: reference.Variable(id),
			bound:    reference.Bound(id),
			onTrue:   cut(reference.True(id), d+1),
			onFalse:  cut(reference.False(id), d+1),
		}
	}

	o := &labelOracle{reference: reference}
	o.root = cut(reference.Root(), 0)
	o.space = family.NewSpace(holes...)
	// Regions depend on the skeleton only, never on the labels.
	o.regions = slicer.Regions(reference, o.candidate(o.space.Root().Pick()))
	o.wanted = make([]string, len(o.regions))
	for i, region := range o.regions {
		o.wanted[i] = slicer.Resolve(reference, region)
	}
	return o
}

func (o *labelOracle) candidate(a family.Assignment) *tree.Tree {
	b := tree.NewBuilder(o.reference.Variables, o.reference.Actions)
	var emit func(n *skeleton) tree.NodeID
	emit = func(n *skeleton) tree.NodeID {
		if n.hole >= 0 {
			return b.Leaf(o.space.Holes[n.hole].Options[a.Choice(n.hole)])
		}
		onTrue := emit(n.onTrue)
		onFalse := emit(n.onFalse)
		return b.Decision(n.variable, n.bound, onTrue, onFalse)
	}
	return b.Build(emit(o.root))
}

func (o *labelOracle) agreement(a family.Assignment) float64 {
	if len(o.regions) == 0 {
		return 1
	}
	candidate := o.candidate(a)
	agree := 0
	for i, region := range o.regions {
		if slicer.Resolve(candidate, region) == o.wanted[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(o.regions))
}

// optimistic counts the regions some member of f could still get right.
func (o *labelOracle) optimistic(f *family.Family) float64 {
	if len(o.regions) == 0 {
		return 1
	}
	possible := 0
	for i, region := range o.regions {
		if o.reachable(f, o.settle(o.root, region), o.wanted[i]) {
			possible++
		}
	}
	return float64(possible) / float64(len(o.regions))
}

// settle follows the region down the skeleton until a test it does not decide, or a hole.
func (o *labelOracle) settle(n *skeleton, region tree.PathCondition) *skeleton {
	for n.hole < 0 {
		var next *skeleton
		for _, c := range region {
			if onTrue, ok := c.Decides(n.variable, n.bound); ok {
				next = n.onFalse
				if onTrue {
					next = n.onTrue
				}
				break
			}
		}
		if next == nil {
			return n
		}
		n = next
	}
	return n
}

// reachable reports whether any hole below n still offers the action.
func (o *labelOracle) reachable(f *family.Family, n *skeleton, action string) bool {
	if n.hole >= 0 {
		for _, opt := range f.Options(n.hole) {
			if o.space.Holes[n.hole].Options[opt] == action {
				return true
			}
		}
		return false
	}
	return o.reachable(f, n.onTrue, action) || o.reachable(f, n.onFalse, action)
}

func (o *labelOracle) Build(_ context.Context, f *family.Family) error {
	if f.Space() != o.space {
		return fmt.Errorf("family belongs to another space")
	}
	return nil
}

func (o *labelOracle) Check(_ context.Context, f *family.Family, objective searcher.Objective) (*family.AnalysisResult, error) {
	optimistic, pessimistic := family.Known(o.optimistic(f)), family.Known(0)
	if f.IsAssignment() {
		optimistic = family.Known(o.agreement(f.Pick()))
		pessimistic = optimistic
	}
	result := &family.AnalysisResult{
		Sat:        family.Sat,
		CanImprove: !objective.Optimize || objective.Direction.Improves(optimistic, objective.Best),
		Primary:    optimistic,
		Secondary:  pessimistic,
	}
	if f.IsAssignment() && result.CanImprove {
		a := f.Pick()
		result.ImprovingAssignment = &a
		result.ImprovingValue = optimistic
	}
	return result, nil
}

func (o *labelOracle) Split(_ context.Context, f *family.Family) ([]*family.Family, error) {
	return oracle.Split(f), nil
}
