package searcher

import (
	"context"
	"fmt"
	"time"

	"dtsynth/family"
	"dtsynth/heuristic"
	"dtsynth/progress"
	"dtsynth/tree"

	"github.com/rs/zerolog/log"
)

type Option func(e *Engine)

// Shaper turns an assignment into the tree-shaped result it stands for, for progress snapshots.
type Shaper func(a family.Assignment) tree.Shape

func WithHeuristic(c heuristic.Config) Option {
	return func(e *Engine) {
		e.heuristic = c
	}
}

func WithDirection(direction family.Direction) Option {
	return func(e *Engine) {
		e.direction = direction
	}
}

// WithSatisfiability makes the engine stop at the first satisfying assignment.
func WithSatisfiability() Option {
	return func(e *Engine) {
		e.optimize = false
	}
}

func WithReporter(reporter *progress.Reporter) Option {
	return func(e *Engine) {
		if reporter != nil {
			e.reporter = reporter
		}
	}
}

func WithLimits(limits Limits) Option {
	return func(e *Engine) {
		e.limits = limits
	}
}

// WithThreshold seeds the best value, so only assignments beating it are reported.
func WithThreshold(value float64) Option {
	return func(e *Engine) {
		e.threshold = family.Known(value)
	}
}

func WithShaper(shaper Shaper) Option {
	return func(e *Engine) {
		e.shaper = shaper
	}
}

// WithMetrics collects search counters into Result.Metrics.
func WithMetrics() Option {
	return func(e *Engine) {
		e.collect = true
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Engine runs best-first branch-and-bound over families of candidates.
// An Engine is not changed by Synthesize: every call gets its own reporter and collector, so
// concurrent searches may share one when the oracle and the progress sink allow it.
type Engine struct {
	oracle    Oracle
	direction family.Direction
	optimize  bool
	heuristic heuristic.Config
	priority  heuristic.Priority
	limits    Limits
	threshold family.Bound
	reporter  *progress.Reporter
	shaper    Shaper
	collect   bool
	clock     func() time.Time
}

func NewEngine(oracle Oracle, options ...Option) *Engine {
	if oracle == nil {
		panic("Must specify a model oracle")
	}
	e := &Engine{ // Default values
		oracle:    oracle,
		direction: family.Maximize,
		optimize:  true,
		heuristic: heuristic.Default(),
		threshold: family.Unknown,
		reporter:  progress.NewReporter(nil, progress.Config{}),
		clock:     time.Now,
	}
	for _, option := range options {
		option(e)
	}
	if err := e.heuristic.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid heuristic configuration: %v", err))
	}
	e.priority = heuristic.New(e.heuristic)
	return e
}

// search is the state of one Synthesize call.
type search struct {
	engine   *Engine
	reporter *progress.Reporter
	metrics  Collector
	frontier *frontier
	started  time.Time

	best       family.Bound
	assignment *family.Assignment
	explored   uint64
	stopped    StopReason
}

// Synthesize explores root and returns the best assignment found. Only oracle failures are errors;
// running out of time, memory or families ends the search with the best result so far.
func (e *Engine) Synthesize(ctx context.Context, root *family.Family) (Result, error) {
	s := &search{
		engine:   e,
		reporter: e.reporter.Run(),
		metrics:  NewNoCollector(),
		frontier: newFrontier(e.direction),
		started:  e.clock(),
		best:     e.threshold,
		stopped:  Exhausted,
	}
	if e.collect {
		s.metrics = NewCollector()
	}
	s.metrics.Start()
	s.reporter.Start(ctx)
	log.Info().Msgf("synthesizing over %d candidates (%s, heuristic %s)", root.Size(), e.direction, e.heuristic.Heuristic)

	err := s.run(ctx, root)
	s.reporter.SetFrontier(s.frontier.size())
	s.reporter.Finish(ctx)

	result := Result{
		Assignment:        s.assignment,
		Value:             family.Unknown,
		Stopped:           s.stopped,
		Explored:          s.explored,
		FamiliesEvaluated: s.reporter.Evaluated(),
		Improvements:      s.reporter.Improvements(),
		Metrics:           s.metrics.Complete(),
	}
	if s.assignment != nil {
		result.Value = s.best
	}
	if err != nil {
		log.Error().Err(err).Msg("synthesis aborted")
		return result, err
	}
	log.Info().
		Str("stopped", s.stopped.String()).
		Int("families", result.FamiliesEvaluated).
		Uint64("explored", s.explored).
		Msgf("synthesis finished, best value %s", result.Value)
	return result, nil
}

func (s *search) run(ctx context.Context, root *family.Family) error {
	s.frontier.push(root, s.engine.priority(root, s.context()))

	for s.frontier.size() > 0 {
		if reason, ok := s.exceeded(ctx); ok {
			log.Info().Msgf("resource limit reached (%s), stopping synthesis", reason)
			s.stopped = reason
			return nil
		}
		s.reporter.SetFrontier(s.frontier.size())
		s.reporter.Tick(ctx)

		f, priority := s.frontier.pop()
		log.Debug().Float64("priority", priority).Int("frontier", s.frontier.size()).Msgf("expanding %s", f)
		if f.Analysis == nil {
			if err := s.verify(ctx, f); err != nil {
				return err
			}
		}
		if s.satisfied() {
			s.stopped = Satisfied
			return nil
		}
		if s.prunable(f) || f.IsAssignment() {
			s.discard(f)
			continue
		}

		children, err := s.engine.oracle.Split(ctx, f)
		if err != nil {
			return fmt.Errorf("%w: split %s: %w", ErrOracle, f, err)
		}
		if len(children) == 0 {
			s.discard(f)
			continue
		}
		s.metrics.AddSplit()

		for _, child := range children {
			if err := s.verify(ctx, child); err != nil {
				return err
			}
			if s.satisfied() {
				s.stopped = Satisfied
				return nil
			}
			if s.prunable(child) {
				s.discard(child)
				continue
			}
			if s.frontier.dominated(child) {
				log.Debug().Msgf("dropping dominated %s", child)
				s.metrics.AddDominated()
				continue
			}
			s.frontier.push(child, s.engine.priority(child, s.context()))
		}
	}
	return nil
}

func (s *search) context() heuristic.Context {
	return heuristic.Context{Direction: s.engine.direction, Best: s.best}
}

func (s *search) objective() Objective {
	return Objective{Direction: s.engine.direction, Optimize: s.engine.optimize, Best: s.best}
}

func (s *search) verify(ctx context.Context, f *family.Family) error {
	oracle := s.engine.oracle
	if err := oracle.Build(ctx, f); err != nil {
		return fmt.Errorf("%w: build %s: %w", ErrOracle, f, err)
	}
	result, err := oracle.Check(ctx, f, s.objective())
	if err != nil {
		return fmt.Errorf("%w: check %s: %w", ErrOracle, f, err)
	}
	if result == nil {
		return fmt.Errorf("%w: check %s returned no analysis", ErrOracle, f)
	}
	f.SetAnalysis(result)
	s.metrics.AddFamily()
	s.reporter.FamilyEvaluated(ctx)
	if result.Primary.Known() {
		s.reporter.LowerBound(ctx, result.Primary.Value)
	}
	s.update(ctx, f)
	return nil
}

// update takes the family's improving assignment when it beats the current best.
func (s *search) update(ctx context.Context, f *family.Family) {
	a := f.Analysis
	if a.ImprovingAssignment == nil {
		return
	}
	if s.engine.optimize {
		if !s.engine.direction.Improves(a.ImprovingValue, s.best) {
			return
		}
		s.best = a.ImprovingValue
	} else {
		if s.assignment != nil {
			return
		}
		s.best = a.ImprovingValue
	}

	assignment := *a.ImprovingAssignment
	s.assignment = &assignment
	var shape tree.Shape
	if s.engine.shaper != nil {
		shape = s.engine.shaper(assignment)
	}
	log.Info().Msgf("value %s achieved after %.2f seconds by %s",
		s.best, s.engine.clock().Sub(s.started).Seconds(), assignment)
	s.reporter.Improved(ctx, s.best, shape)
}

func (s *search) satisfied() bool {
	return !s.engine.optimize && s.assignment != nil
}

// prunable reports whether no member of f can beat the current best.
func (s *search) prunable(f *family.Family) bool {
	a := f.Analysis
	if a == nil {
		return false
	}
	if s.satisfied() || a.Sat == family.Unsat || !a.CanImprove {
		return true
	}
	if s.engine.optimize && s.best.Known() {
		optimistic := f.Optimistic(s.engine.direction)
		if optimistic.Known() && !s.engine.direction.Improves(optimistic, s.best) {
			return true
		}
	}
	return false
}

func (s *search) discard(f *family.Family) {
	s.explored += f.Size()
	s.metrics.AddPruned()
}
