package family

import (
	"fmt"
	"math"
)

// Bound is an optional numeric value.
type Bound struct {
	Value float64
	set   bool
}

func Known(value float64) Bound {
	return Bound{Value: value, set: true}
}

var Unknown = Bound{}

// Known reports whether the bound carries a finite value.
func (b Bound) Known() bool {
	return b.set && !math.IsNaN(b.Value) && !math.IsInf(b.Value, 0)
}

func (b Bound) String() string {
	if !b.Known() {
		return "?"
	}
	return fmt.Sprintf("%g", b.Value)
}

type Direction int

const (
	Maximize Direction = iota
	Minimize
)

// Improves reports whether candidate is strictly better than best. An unknown best is beaten by any known value.
func (d Direction) Improves(candidate, best Bound) bool {
	if !candidate.Known() {
		return false
	}
	if !best.Known() {
		return true
	}
	if d == Minimize {
		return candidate.Value < best.Value
	}
	return candidate.Value > best.Value
}

// Score maps a value onto a larger-is-better scale.
func (d Direction) Score(value float64) float64 {
	if d == Minimize {
		return -value
	}
	return value
}

func (d Direction) String() string {
	if d == Minimize {
		return "minimize"
	}
	return "maximize"
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "max", "maximize":
		return Maximize, nil
	case "min", "minimize":
		return Minimize, nil
	}
	return Maximize, fmt.Errorf("unknown objective direction %q", s)
}

type Satisfiability int

const (
	SatUnknown Satisfiability = iota
	Sat
	Unsat
)

func (s Satisfiability) String() string {
	switch s {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	}
	return "unknown"
}

// AnalysisResult is what the model oracle reports for one verified family.
type AnalysisResult struct {
	Sat                 Satisfiability
	CanImprove          bool
	ImprovingAssignment *Assignment
	ImprovingValue      Bound
	// Primary is the optimistic optimality bound, Secondary the pessimistic one.
	Primary   Bound
	Secondary Bound
}
