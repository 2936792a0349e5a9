package oracle

import (
	"context"
	"fmt"
	"math"

	"dtsynth/family"
	"dtsynth/searcher"
	"dtsynth/tree"
)

var _ searcher.Oracle = (*Additive)(nil)

// Additive values an assignment as the sum of one weight per hole. Family bounds are the sums of the
// per-hole extremes, which ignore Feasible and so only over-approximate what a family can reach.
type Additive struct {
	space   *family.Space
	weights [][]float64
	// Feasible rejects assignments; nil accepts all.
	Feasible func(a family.Assignment) bool
}

func NewAdditive(space *family.Space, weights [][]float64) *Additive {
	if len(weights) != len(space.Holes) {
		panic(fmt.Sprintf("%d weight rows for %d holes", len(weights), len(space.Holes)))
	}
	for h, row := range weights {
		if len(row) != len(space.Holes[h].Options) {
			panic(fmt.Sprintf("hole %q has %d options but %d weights", space.Holes[h].Name, len(space.Holes[h].Options), len(row)))
		}
	}
	return &Additive{space: space, weights: weights}
}

func (o *Additive) Value(a family.Assignment) float64 {
	total := 0.0
	for h, w := range o.weights {
		total += w[a.Choice(h)]
	}
	return total
}

func (o *Additive) Build(_ context.Context, f *family.Family) error {
	if f.Space() != o.space {
		return fmt.Errorf("family belongs to another space")
	}
	return nil
}

func (o *Additive) Check(_ context.Context, f *family.Family, objective searcher.Objective) (*family.AnalysisResult, error) {
	if f.IsAssignment() {
		a := f.Pick()
		if o.Feasible != nil && !o.Feasible(a) {
			return analyse(f, objective, family.Unknown, family.Unknown, a), nil
		}
		value := family.Known(o.Value(a))
		return analyse(f, objective, value, value, a), nil
	}

	low, high := 0.0, 0.0
	for h, w := range o.weights {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, opt := range f.Options(h) {
			lo, hi = min(lo, w[opt]), max(hi, w[opt])
		}
		low += lo
		high += hi
	}
	optimistic, pessimistic := family.Known(high), family.Known(low)
	if objective.Direction == family.Minimize {
		optimistic, pessimistic = pessimistic, optimistic
	}
	result := analyse(f, objective, optimistic, pessimistic, family.Assignment{})
	// Feasibility of the members is unknown until they are checked one by one.
	result.Sat = family.SatUnknown
	return result, nil
}

func (o *Additive) Split(_ context.Context, f *family.Family) ([]*family.Family, error) {
	return Split(f), nil
}

// PolicyShape describes an assignment as a one-level policy tree with a leaf per hole.
func PolicyShape(a family.Assignment) tree.Shape {
	space := a.Space()
	root := &tree.PolicyNode{Label: "assignment"}
	for h, hole := range space.Holes {
		root.Children = append(root.Children, &tree.PolicyNode{
			Label: fmt.Sprintf("%s=%s", hole.Name, hole.Options[a.Choice(h)]),
		})
	}
	return &tree.PolicyTree{Root: root}
}
