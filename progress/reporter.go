package progress

import (
	"context"
	"math"
	"time"

	"dtsynth/family"
	"dtsynth/meta"
	"dtsynth/tree"

	"github.com/rs/zerolog/log"
)

type Event string

const (
	EventStart       Event = "start"
	EventIteration   Event = "iteration"
	EventInterval    Event = "interval"
	EventImprovement Event = "improvement"
	EventLowerBound  Event = "lower_bound"
	EventFinished    Event = "finished"
)

// Snapshot is the state pushed to a sink. Nil pointers mean "not known yet".
type Snapshot struct {
	Event             Event             `json:"event"`
	Timestamp         float64           `json:"timestamp"` // seconds since Start, non-decreasing
	BestValue         *float64          `json:"best_value"`
	TreeSize          *int              `json:"tree_size"`
	TreeDepth         *int              `json:"tree_depth"`
	FrontierSize      *int              `json:"frontier_size"`
	FamiliesEvaluated int               `json:"families_evaluated"`
	ImprovementCount  int               `json:"improvement_count"`
	LowerBound        *float64          `json:"lower_bound"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type Sink interface {
	Emit(ctx context.Context, snapshot Snapshot) error
}

type SinkFunc func(ctx context.Context, snapshot Snapshot) error

func (f SinkFunc) Emit(ctx context.Context, snapshot Snapshot) error {
	return f(ctx, snapshot)
}

type Config struct {
	// Interval emits an "interval" event when this much time passed since the last emission. Zero disables it.
	Interval time.Duration
	// Checkpoints emits an "iteration" event on the 1st, 2nd, 4th, 8th... evaluated family.
	Checkpoints bool
	Metadata    map[string]string
}

// Reporter tracks search progress and pushes snapshots to a sink synchronously.
// A Reporter without a sink still counts, so its counters can be read back.
// It is not safe for concurrent use; concurrent searches each take their own from Run.
type Reporter struct {
	sink  Sink
	cfg   Config
	clock func() time.Time

	started        time.Time
	lastEmit       time.Time
	lastStamp      float64
	evaluated      int
	improvements   int
	nextCheckpoint int
	frontier       *int
	best           *float64
	lower          *float64
	shape          tree.Shape
}

func NewReporter(sink Sink, cfg Config) *Reporter {
	return &Reporter{
		sink:           sink,
		cfg:            cfg,
		clock:          time.Now,
		nextCheckpoint: 1,
	}
}

// Run returns a reporter for one search. It shares r's sink, configuration and clock but none of
// its counters, so the sink must accept concurrent Emit calls when runs overlap.
func (r *Reporter) Run() *Reporter {
	return &Reporter{
		sink:           r.sink,
		cfg:            r.cfg,
		clock:          r.clock,
		nextCheckpoint: 1,
	}
}

// WithClock replaces the wall clock, for tests.
func (r *Reporter) WithClock(clock func() time.Time) *Reporter {
	r.clock = clock
	return r
}

// Start resets the counters and emits "start".
func (r *Reporter) Start(ctx context.Context) {
	now := r.clock()
	r.started = now
	r.lastEmit = now
	r.lastStamp = 0
	r.evaluated = 0
	r.improvements = 0
	r.nextCheckpoint = 1
	r.frontier = nil
	r.best = nil
	r.lower = nil
	r.shape = nil
	r.emit(ctx, EventStart)
}

func (r *Reporter) SetFrontier(size int) {
	r.frontier = &size
}

// FamilyEvaluated counts one verified family and emits on doubling checkpoints.
func (r *Reporter) FamilyEvaluated(ctx context.Context) {
	r.evaluated++
	if r.cfg.Checkpoints && r.evaluated >= r.nextCheckpoint {
		r.emit(ctx, EventIteration)
		for r.nextCheckpoint <= r.evaluated {
			r.nextCheckpoint *= 2
		}
	}
}

// Improved records a new best result and always emits "improvement".
// An unknown value keeps best_value null, as for satisfiability runs.
func (r *Reporter) Improved(ctx context.Context, value family.Bound, shape tree.Shape) {
	r.improvements++
	if value.Known() {
		v := value.Value
		r.best = &v
	}
	r.shape = shape
	r.emit(ctx, EventImprovement)
}

// LowerBound emits "lower_bound" when the bound moved by more than the tolerance.
func (r *Reporter) LowerBound(ctx context.Context, bound float64) {
	if math.IsNaN(bound) || math.IsInf(bound, 0) {
		return
	}
	if r.lower != nil && math.Abs(*r.lower-bound) <= meta.LOWER_BOUND_TOLERANCE {
		return
	}
	r.lower = &bound
	r.emit(ctx, EventLowerBound)
}

// Tick is polled once per search iteration and emits "interval" when due.
func (r *Reporter) Tick(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		return
	}
	if r.clock().Sub(r.lastEmit) >= r.cfg.Interval {
		r.emit(ctx, EventInterval)
	}
}

func (r *Reporter) Finish(ctx context.Context) {
	r.emit(ctx, EventFinished)
}

func (r *Reporter) Evaluated() int {
	return r.evaluated
}

func (r *Reporter) Improvements() int {
	return r.improvements
}

// Snapshot returns the current state tagged with the given event.
func (r *Reporter) Snapshot(event Event) Snapshot {
	now := r.clock()
	stamp := now.Sub(r.started).Seconds()
	if stamp < r.lastStamp {
		stamp = r.lastStamp
	}

	s := Snapshot{
		Event:             event,
		Timestamp:         stamp,
		BestValue:         copyFloat(r.best),
		FrontierSize:      copyInt(r.frontier),
		FamiliesEvaluated: r.evaluated,
		ImprovementCount:  r.improvements,
		LowerBound:        copyFloat(r.lower),
	}
	if r.shape != nil {
		size, depth := r.shape.Size(), r.shape.Depth()
		s.TreeSize, s.TreeDepth = &size, &depth
	}
	if len(r.cfg.Metadata) > 0 {
		s.Metadata = make(map[string]string, len(r.cfg.Metadata))
		for k, v := range r.cfg.Metadata {
			s.Metadata[k] = v
		}
	}
	return s
}

func (r *Reporter) emit(ctx context.Context, event Event) {
	snapshot := r.Snapshot(event)
	r.lastStamp = snapshot.Timestamp
	r.lastEmit = r.clock()
	if r.sink == nil {
		return
	}
	if err := r.sink.Emit(ctx, snapshot); err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("progress sink rejected snapshot")
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
