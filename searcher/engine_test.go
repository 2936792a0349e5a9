package searcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dtsynth/family"
	"dtsynth/heuristic"
	"dtsynth/progress"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

var errBroken = errors.New("model checker crashed")

// mockOracle values an assignment as the sum of per-hole weights; family bounds relax feasibility.
type mockOracle struct {
	space    *family.Space
	weights  [][]float64
	feasible func(a family.Assignment) bool
	failAt   int // fail the nth check, 0 never
	splitErr error
	checks   atomic.Int64
	splits   atomic.Int64
}

func (o *mockOracle) value(a family.Assignment) float64 {
	total := 0.0
	for h, w := range o.weights {
		total += w[a.Choice(h)]
	}
	return total
}

func (o *mockOracle) ok(a family.Assignment) bool {
	return o.feasible == nil || o.feasible(a)
}

func (o *mockOracle) Build(context.Context, *family.Family) error {
	return nil
}

func (o *mockOracle) Check(_ context.Context, f *family.Family, obj Objective) (*family.AnalysisResult, error) {
	n := o.checks.Add(1)
	if o.failAt > 0 && n == int64(o.failAt) {
		return nil, errBroken
	}
	if f.IsAssignment() {
		a := f.Pick()
		if !o.ok(a) {
			return &family.AnalysisResult{Sat: family.Unsat}, nil
		}
		v := family.Known(o.value(a))
		result := &family.AnalysisResult{
			Sat:        family.Sat,
			CanImprove: !obj.Optimize || obj.Direction.Improves(v, obj.Best),
			Primary:    v,
			Secondary:  v,
		}
		if result.CanImprove {
			result.ImprovingAssignment = &a
			result.ImprovingValue = v
		}
		return result, nil
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
	optimistic := family.Known(high)
	if obj.Direction == family.Minimize {
		optimistic = family.Known(low)
	}
	return &family.AnalysisResult{
		CanImprove: !obj.Optimize || obj.Direction.Improves(optimistic, obj.Best),
		Primary:    optimistic,
		Secondary:  family.Known(low + high - optimistic.Value),
	}, nil
}

func (o *mockOracle) Split(_ context.Context, f *family.Family) ([]*family.Family, error) {
	o.splits.Add(1)
	if o.splitErr != nil {
		return nil, o.splitErr
	}
	h := f.SplittableHole()
	if h < 0 {
		return nil, nil
	}
	return f.SplitHole(h), nil
}

// exampleOracle is a+2b over {0,1}^2 with the constraint a+b <= 1.
func exampleOracle() *mockOracle {
	space := family.NewSpace(
		family.Hole{Name: "a", Options: []string{"0", "1"}},
		family.Hole{Name: "b", Options: []string{"0", "1"}},
	)
	return &mockOracle{
		space:   space,
		weights: [][]float64{{0, 1}, {0, 2}},
		feasible: func(a family.Assignment) bool {
			return a.Choice(0)+a.Choice(1) <= 1
		},
	}
}

func randomOracle(r *rand.Rand) *mockOracle {
	holes := make([]family.Hole, 1+r.Intn(4))
	weights := make([][]float64, len(holes))
	for h := range holes {
		options := make([]string, 1+r.Intn(4))
		weights[h] = make([]float64, len(options))
		for i := range options {
			options[i] = string(rune('p' + i))
			weights[h][i] = float64(r.Intn(21) - 10)
		}
		holes[h] = family.Hole{Name: string(rune('a' + h)), Options: options}
	}
	infeasible := make(map[string]bool)
	space := family.NewSpace(holes...)
	for _, a := range space.Root().Assignments() {
		if r.Intn(3) == 0 {
			infeasible[a.Key()] = true
		}
	}
	return &mockOracle{
		space:    space,
		weights:  weights,
		feasible: func(a family.Assignment) bool { return !infeasible[a.Key()] },
	}
}

func bruteForce(o *mockOracle, dir family.Direction) family.Bound {
	best := family.Unknown
	for _, a := range o.space.Root().Assignments() {
		if o.ok(a) {
			if v := family.Known(o.value(a)); dir.Improves(v, best) {
				best = v
			}
		}
	}
	return best
}

func TestSynthesizeExample(t *testing.T) {
	o := exampleOracle()
	e := NewEngine(o)

	result, err := e.Synthesize(context.Background(), o.space.Root())

	require.NoError(t, err)
	require.True(t, result.Found(), "A feasible assignment exists")
	require.Equal(t, "a=0,b=1", result.Assignment.Key())
	require.Equal(t, 2.0, result.Value.Value)
	require.Equal(t, Exhausted, result.Stopped)
	require.Equal(t, uint64(4), result.Explored, "Every assignment should be ruled out exactly once")
}

func TestSynthesizeMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	kinds := []heuristic.Kind{heuristic.ValueOnly, heuristic.ValueSize, heuristic.BoundsGap}

	for trial := 0; trial < 60; trial++ {
		o := randomOracle(r)
		dir := family.Direction(trial % 2)
		cfg := heuristic.Default()
		cfg.Heuristic = kinds[trial%len(kinds)]
		e := NewEngine(o, WithDirection(dir), WithHeuristic(cfg))

		result, err := e.Synthesize(context.Background(), o.space.Root())
		want := bruteForce(o, dir)

		require.NoError(t, err)
		require.Equal(t, want.Known(), result.Found(), "Trial %d: engine and brute force should agree on existence", trial)
		if want.Known() {
			require.Equal(t, want.Value, result.Value.Value, "Trial %d (%s, %s): engine should find the optimum", trial, dir, cfg.Heuristic)
			require.Equal(t, want.Value, o.value(*result.Assignment), "Trial %d: reported value should match the assignment", trial)
		}
		require.Equal(t, o.space.Root().Size(), result.Explored, "Trial %d: exhausted runs rule out every assignment", trial)
	}
}

func TestSynthesizeSatisfiability(t *testing.T) {
	t.Run("stops at the first satisfying assignment", func(t *testing.T) {
		o := exampleOracle()
		e := NewEngine(o, WithSatisfiability())

		result, err := e.Synthesize(context.Background(), o.space.Root())

		require.NoError(t, err)
		require.True(t, result.Found())
		require.True(t, o.ok(*result.Assignment), "Returned assignment should be feasible")
		require.Equal(t, Satisfied, result.Stopped)
		require.Equal(t, 1, result.Improvements, "Satisfiability runs report one result")
	})

	t.Run("agrees with brute force", func(t *testing.T) {
		r := rand.New(rand.NewSource(3))
		for trial := 0; trial < 30; trial++ {
			o := randomOracle(r)
			e := NewEngine(o, WithSatisfiability())

			result, err := e.Synthesize(context.Background(), o.space.Root())

			require.NoError(t, err)
			require.Equal(t, bruteForce(o, family.Maximize).Known(), result.Found(), "Trial %d", trial)
		}
	})
}

func TestSynthesizeImprovementsAreMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for _, dir := range []family.Direction{family.Maximize, family.Minimize} {
		for trial := 0; trial < 20; trial++ {
			o := randomOracle(r)
			recorder := &progress.Recorder{}
			reporter := progress.NewReporter(recorder, progress.Config{Checkpoints: true})
			e := NewEngine(o, WithDirection(dir), WithReporter(reporter))

			result, err := e.Synthesize(context.Background(), o.space.Root())
			require.NoError(t, err)

			improvements := recorder.Events(progress.EventImprovement)
			require.Len(t, improvements, result.Improvements)
			for i := 1; i < len(improvements); i++ {
				prev, next := *improvements[i-1].BestValue, *improvements[i].BestValue
				if dir == family.Maximize {
					require.Greater(t, next, prev, "Best value should rise when maximizing")
				} else {
					require.Less(t, next, prev, "Best value should fall when minimizing")
				}
			}

			snapshots := recorder.Snapshots()
			require.Equal(t, progress.EventStart, snapshots[0].Event)
			require.Equal(t, progress.EventFinished, snapshots[len(snapshots)-1].Event)
			for i := 1; i < len(snapshots); i++ {
				require.GreaterOrEqual(t, snapshots[i].Timestamp, snapshots[i-1].Timestamp, "Timestamps should not go backwards")
			}
		}
	}
}

func TestSynthesizeOracleFailures(t *testing.T) {
	t.Run("check failure aborts the run", func(t *testing.T) {
		o := exampleOracle()
		o.failAt = 2
		e := NewEngine(o)

		_, err := e.Synthesize(context.Background(), o.space.Root())

		require.ErrorIs(t, err, ErrOracle)
		require.ErrorIs(t, err, errBroken, "The oracle's own error should be kept")
	})

	t.Run("split failure aborts the run", func(t *testing.T) {
		o := exampleOracle()
		o.splitErr = errBroken
		e := NewEngine(o)

		_, err := e.Synthesize(context.Background(), o.space.Root())

		require.ErrorIs(t, err, ErrOracle)
	})
}

func TestSynthesizeLimits(t *testing.T) {
	t.Run("family limit", func(t *testing.T) {
		o := exampleOracle()
		e := NewEngine(o, WithLimits(Limits{MaxFamilies: 1}))

		result, err := e.Synthesize(context.Background(), o.space.Root())

		require.NoError(t, err, "Running out of families is not an error")
		require.Equal(t, FamilyLimit, result.Stopped)
		require.Equal(t, 3, result.FamiliesEvaluated, "The root and its two children are verified before the next poll")
	})

	t.Run("timeout", func(t *testing.T) {
		now := time.Unix(0, 0)
		clock := func() time.Time {
			now = now.Add(time.Second)
			return now
		}
		o := exampleOracle()
		e := NewEngine(o, WithClock(clock), WithLimits(Limits{Timeout: time.Millisecond}))

		result, err := e.Synthesize(context.Background(), o.space.Root())

		require.NoError(t, err)
		require.Equal(t, Timeout, result.Stopped)
		require.False(t, result.Found())
		require.Equal(t, int64(0), o.checks.Load(), "The limit is polled before the first verification")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		o := exampleOracle()

		result, err := NewEngine(o).Synthesize(ctx, o.space.Root())

		require.NoError(t, err)
		require.Equal(t, Cancelled, result.Stopped)
	})
}

func TestSynthesizeThreshold(t *testing.T) {
	o := exampleOracle()

	result, err := NewEngine(o, WithThreshold(2)).Synthesize(context.Background(), o.space.Root())

	require.NoError(t, err)
	require.False(t, result.Found(), "Nothing beats a threshold equal to the optimum")

	result, err = NewEngine(o, WithThreshold(1.5)).Synthesize(context.Background(), o.space.Root())

	require.NoError(t, err)
	require.Equal(t, "a=0,b=1", result.Assignment.Key())
}

func TestSynthesizeMetrics(t *testing.T) {
	o := exampleOracle()

	result, err := NewEngine(o, WithMetrics()).Synthesize(context.Background(), o.space.Root())

	require.NoError(t, err)
	require.Equal(t, int64(result.FamiliesEvaluated), result.Metrics.Families)
	require.Positive(t, result.Metrics.Splits)
	require.Positive(t, result.Metrics.Pruned)
}

func TestSynthesizeConcurrentRuns(t *testing.T) {
	o := exampleOracle()
	recorder := &progress.Recorder{}
	e := NewEngine(o, WithReporter(progress.NewReporter(recorder, progress.Config{Checkpoints: true})), WithMetrics())
	want, err := e.Synthesize(context.Background(), o.space.Root())
	require.NoError(t, err)

	const runs = 4
	results := make([]Result, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Synthesize(context.Background(), o.space.Root())
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, want.Value, results[i].Value, "Run %d", i)
		require.Equal(t, want.FamiliesEvaluated, results[i].FamiliesEvaluated, "Run %d should count only its own families", i)
		require.Equal(t, want.Improvements, results[i].Improvements, "Run %d", i)
		require.Equal(t, want.Metrics.Families, results[i].Metrics.Families, "Run %d", i)
	}
	require.Len(t, recorder.Events(progress.EventStart), runs+1, "Every run reports to the shared sink")
	require.Len(t, recorder.Events(progress.EventFinished), runs+1)
}

func TestNewEnginePanics(t *testing.T) {
	require.Panics(t, func() { NewEngine(nil) }, "An oracle is required")
	require.Panics(t, func() {
		NewEngine(exampleOracle(), WithHeuristic(heuristic.Config{Heuristic: "greedy", Alpha: 0.1, Epsilon: 1e-9}))
	}, "Unknown heuristics should be rejected")
}

// overlappingOracle also returns a redundant subfamily nested inside the first half.
type overlappingOracle struct {
	*mockOracle
}

func (o overlappingOracle) Split(ctx context.Context, f *family.Family) ([]*family.Family, error) {
	children, err := o.mockOracle.Split(ctx, f)
	if err != nil || len(children) == 0 {
		return children, err
	}
	first := children[0]
	h := first.SplittableHole()
	if h < 0 {
		return children, nil
	}
	return append(children, first.Restrict(h, first.Options(h)[:1])), nil
}

func TestSynthesizeDominanceFilterKeepsOptimum(t *testing.T) {
	r := rand.New(rand.NewSource(19))
	dominated := int64(0)
	for trial := 0; trial < 40; trial++ {
		base := randomOracle(r)
		e := NewEngine(overlappingOracle{base}, WithMetrics())

		result, err := e.Synthesize(context.Background(), base.space.Root())
		want := bruteForce(base, family.Maximize)

		require.NoError(t, err)
		require.Equal(t, want.Known(), result.Found(), "Trial %d", trial)
		if want.Known() {
			require.Equal(t, want.Value, result.Value.Value, "Trial %d: dropping dominated families must not lose the optimum", trial)
		}
		dominated += result.Metrics.Dominated
	}
	require.Positive(t, dominated, "Some redundant subfamilies should have been filtered")
}
