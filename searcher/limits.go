package searcher

import (
	"context"
	"runtime"
	"time"

	"dtsynth/family"
)

// Limits are polled once per loop iteration. Zero values disable a limit.
type Limits struct {
	Timeout       time.Duration
	MemoryLimitMB uint64
	MaxFamilies   int
}

type StopReason int

const (
	Exhausted StopReason = iota // frontier ran empty
	Satisfied                   // satisfiability run found an assignment
	Timeout
	MemoryLimit
	FamilyLimit
	Cancelled
)

func (r StopReason) String() string {
	switch r {
	case Satisfied:
		return "satisfied"
	case Timeout:
		return "timeout"
	case MemoryLimit:
		return "memory_limit"
	case FamilyLimit:
		return "family_limit"
	case Cancelled:
		return "cancelled"
	}
	return "exhausted"
}

// Result is the outcome of one search. Hitting a limit is not an error; Assignment is the best found so far.
type Result struct {
	Assignment *family.Assignment
	Value      family.Bound
	Stopped    StopReason
	// Explored is the number of assignments ruled out without being split further.
	Explored          uint64
	FamiliesEvaluated int
	Improvements      int
	Metrics           SearchMetrics
}

func (r Result) Found() bool {
	return r.Assignment != nil
}

func (s *search) exceeded(ctx context.Context) (StopReason, bool) {
	if ctx.Err() != nil {
		return Cancelled, true
	}
	limits := s.engine.limits
	if limits.Timeout > 0 && s.engine.clock().Sub(s.started) >= limits.Timeout {
		return Timeout, true
	}
	if limits.MaxFamilies > 0 && s.reporter.Evaluated() >= limits.MaxFamilies {
		return FamilyLimit, true
	}
	if limits.MemoryLimitMB > 0 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		if m.HeapAlloc>>20 >= limits.MemoryLimitMB {
			return MemoryLimit, true
		}
	}
	return Exhausted, false
}
