package searcher

import (
	"context"
	"errors"

	"dtsynth/family"
)

// ErrOracle wraps every failure reported by the model oracle. Such failures end the run.
var ErrOracle = errors.New("model oracle failed")

// Objective tells the oracle what the search is after when it checks a family.
type Objective struct {
	Direction family.Direction
	// Optimize is false for pure satisfiability specifications.
	Optimize bool
	// Best is the value every improving assignment has to beat.
	Best family.Bound
}

// Oracle builds, model-checks and splits families. It is the only source of values and may be slow.
type Oracle interface {
	Build(ctx context.Context, f *family.Family) error
	Check(ctx context.Context, f *family.Family, objective Objective) (*family.AnalysisResult, error)
	// Split partitions the family into disjoint subfamilies. No subfamilies means f cannot be refined.
	Split(ctx context.Context, f *family.Family) ([]*family.Family, error)
}
