package heuristic

import (
	"fmt"
	"math"

	"dtsynth/family"
	"dtsynth/meta"
)

type Kind string

const (
	ValueOnly Kind = "value_only"
	ValueSize Kind = "value_size"
	BoundsGap Kind = "bounds_gap"
)

// Eager is the priority of a family nothing is known about yet. It outranks every sanitized priority.
const Eager = math.MaxFloat64

// Config selects and parameterizes a heuristic. It is passed by value into each engine.
type Config struct {
	Heuristic Kind    `yaml:"heuristic" validate:"omitempty,oneof=value_only value_size bounds_gap"`
	Alpha     float64 `yaml:"alpha" validate:"gte=0,lte=1"`
	Epsilon   float64 `yaml:"epsilon" validate:"gt=0"`
}

func Default() Config {
	return Config{
		Heuristic: meta.DEFAULT_HEURISTIC,
		Alpha:     meta.DEFAULT_ALPHA,
		Epsilon:   meta.DEFAULT_EPSILON,
	}
}

func (c Config) Validate() error {
	switch c.Heuristic {
	case ValueOnly, ValueSize, BoundsGap, "":
	default:
		return fmt.Errorf("unknown heuristic %q", c.Heuristic)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha %v outside [0,1]", c.Alpha)
	}
	return nil
}

// Context is the search state a heuristic may consult besides the family itself.
type Context struct {
	Direction family.Direction
	Best      family.Bound
}

// Priority is a pure function from a family to its queue priority. Larger is explored first.
type Priority func(f *family.Family, ctx Context) float64

// New returns the priority function selected by the configuration.
func New(c Config) Priority {
	epsilon := c.Epsilon
	if !(epsilon > 0) {
		epsilon = meta.DEFAULT_EPSILON
	}

	var p Priority
	switch c.Heuristic {
	case ValueSize:
		alpha := c.Alpha
		p = func(f *family.Family, ctx Context) float64 {
			return valueSize(f, ctx, alpha)
		}
	case BoundsGap:
		p = func(f *family.Family, ctx Context) float64 {
			return boundsGap(f, ctx, epsilon)
		}
	default:
		p = valueOnly
	}

	return func(f *family.Family, ctx Context) float64 {
		if f == nil || f.Analysis == nil {
			return Eager
		}
		return Sanitize(p(f, ctx))
	}
}

// Sanitize maps NaN and infinities to the neutral priority 0.
func Sanitize(priority float64) float64 {
	if math.IsNaN(priority) || math.IsInf(priority, 0) {
		return 0
	}
	return priority
}

// value returns the family's improving value, its primary bound, or the running best, scored by direction.
func value(f *family.Family, ctx Context) float64 {
	a := f.Analysis
	for _, candidate := range []family.Bound{a.ImprovingValue, a.Primary, ctx.Best} {
		if candidate.Known() {
			return ctx.Direction.Score(candidate.Value)
		}
	}
	return math.NaN()
}

func valueOnly(f *family.Family, ctx Context) float64 {
	return value(f, ctx)
}

func valueSize(f *family.Family, ctx Context, alpha float64) float64 {
	v := value(f, ctx)
	if math.IsNaN(v) {
		v = 0
	}
	return alpha*v + (1-alpha)*float64(f.Size())
}

func boundsGap(f *family.Family, ctx Context, epsilon float64) float64 {
	if !f.LowerBound.Known() || !f.UpperBound.Known() {
		return value(f, ctx)
	}
	return math.Max(math.Abs(f.UpperBound.Value-f.LowerBound.Value), epsilon)
}
