package family

import (
	"fmt"
	"math"
	"strings"
)

// Hole is a named decision point with a finite, ordered option set.
type Hole struct {
	Name    string
	Options []string
}

// Space is the full candidate space: the holes every family draws options from.
type Space struct {
	Holes []Hole
}

func NewSpace(holes ...Hole) *Space {
	for _, hole := range holes {
		if len(hole.Options) == 0 {
			panic(fmt.Sprintf("hole %q has no options", hole.Name))
		}
	}
	return &Space{Holes: holes}
}

// Root returns the family containing every assignment of the space.
func (s *Space) Root() *Family {
	options := make([][]int, len(s.Holes))
	for h, hole := range s.Holes {
		options[h] = make([]int, len(hole.Options))
		for i := range hole.Options {
			options[h][i] = i
		}
	}
	return &Family{space: s, options: options}
}

// Family is a Cartesian product of option subsets, one subset per hole.
// A family is not mutated once its children exist; splitting produces new families.
type Family struct {
	space   *Space
	options [][]int // sorted option indices per hole

	ConstraintIndices []int
	LowerBound        Bound
	UpperBound        Bound
	Depth             int
	Analysis          *AnalysisResult
}

func (f *Family) Space() *Space {
	return f.space
}

func (f *Family) NumHoles() int {
	return len(f.options)
}

// Options returns the option indices still available for hole h.
func (f *Family) Options(h int) []int {
	return f.options[h]
}

// Size is the number of assignments in the family, saturating at math.MaxUint64.
func (f *Family) Size() uint64 {
	size := uint64(1)
	for _, opts := range f.options {
		n := uint64(len(opts))
		if n != 0 && size > math.MaxUint64/n {
			return math.MaxUint64
		}
		size *= n
	}
	return size
}

func (f *Family) IsAssignment() bool {
	for _, opts := range f.options {
		if len(opts) != 1 {
			return false
		}
	}
	return true
}

// Restrict returns a child family where hole h keeps only the given options.
// The child inherits the parent's constraint indices and sits one level deeper.
func (f *Family) Restrict(h int, options []int) *Family {
	child := &Family{
		space:             f.space,
		options:           make([][]int, len(f.options)),
		ConstraintIndices: append([]int(nil), f.ConstraintIndices...),
		Depth:             f.Depth + 1,
	}
	copy(child.options, f.options) // option slices are shared, never written
	child.options[h] = append([]int(nil), options...)
	return child
}

// SplitHole partitions the options of hole h into two halves.
func (f *Family) SplitHole(h int) []*Family {
	opts := f.options[h]
	if len(opts) < 2 {
		return nil
	}
	mid := len(opts) / 2
	return []*Family{f.Restrict(h, opts[:mid]), f.Restrict(h, opts[mid:])}
}

// SplittableHole returns the first hole with more than one option, or -1.
func (f *Family) SplittableHole() int {
	for h, opts := range f.options {
		if len(opts) > 1 {
			return h
		}
	}
	return -1
}

// SubsetOf reports whether every option set of f is contained in the matching set of other.
func (f *Family) SubsetOf(other *Family) bool {
	if f.space != other.space || len(f.options) != len(other.options) {
		return false
	}
	for h := range f.options {
		if !sortedSubset(f.options[h], other.options[h]) {
			return false
		}
	}
	return true
}

func sortedSubset(small, large []int) bool {
	if len(small) > len(large) {
		return false
	}
	j := 0
	for _, v := range small {
		for j < len(large) && large[j] < v {
			j++
		}
		if j == len(large) || large[j] != v {
			return false
		}
		j++
	}
	return true
}

// Assignments enumerates every assignment of the family in lexicographic order.
func (f *Family) Assignments() []Assignment {
	var out []Assignment
	choice := make([]int, len(f.options))
	var walk func(h int)
	walk = func(h int) {
		if h == len(f.options) {
			out = append(out, Assignment{space: f.space, choice: append([]int(nil), choice...)})
			return
		}
		for _, opt := range f.options[h] {
			choice[h] = opt
			walk(h + 1)
		}
	}
	walk(0)
	return out
}

// Pick returns the first assignment of the family.
func (f *Family) Pick() Assignment {
	choice := make([]int, len(f.options))
	for h, opts := range f.options {
		choice[h] = opts[0]
	}
	return Assignment{space: f.space, choice: choice}
}

// SetAnalysis attaches an oracle result and derives the numeric bounds from it.
func (f *Family) SetAnalysis(result *AnalysisResult) {
	f.Analysis = result
	if result == nil {
		return
	}
	lower, upper := result.Primary, result.Secondary
	switch {
	case lower.Known() && upper.Known():
		if lower.Value > upper.Value {
			lower, upper = upper, lower
		}
	case lower.Known():
		upper = lower
	case upper.Known():
		lower = upper
	}
	f.LowerBound, f.UpperBound = lower, upper
}

// Optimistic returns the bound on the best value any member of the family can reach.
func (f *Family) Optimistic(dir Direction) Bound {
	if dir == Minimize {
		return f.LowerBound
	}
	return f.UpperBound
}

func (f *Family) String() string {
	parts := make([]string, len(f.options))
	for h, opts := range f.options {
		labels := make([]string, len(opts))
		for i, opt := range opts {
			labels[i] = f.space.Holes[h].Options[opt]
		}
		parts[h] = fmt.Sprintf("%s={%s}", f.space.Holes[h].Name, strings.Join(labels, ","))
	}
	return strings.Join(parts, " ")
}
