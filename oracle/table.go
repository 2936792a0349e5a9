package oracle

import (
	"context"
	"fmt"
	"io"
	"strings"

	"dtsynth/family"
	"dtsynth/searcher"
	"dtsynth/utils"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var _ searcher.Oracle = (*Table)(nil)

// Table is an oracle over an explicit value table. Assignments missing from the table are infeasible.
// Family bounds are exact, computed by enumerating the family.
type Table struct {
	space  *family.Space
	values map[string]float64
	builds int
}

func NewTable(space *family.Space) *Table {
	return &Table{space: space, values: make(map[string]float64)}
}

func (t *Table) Space() *family.Space {
	return t.space
}

func (t *Table) Set(a family.Assignment, value float64) {
	t.values[a.Key()] = value
}

// Value returns the value of a feasible assignment.
func (t *Table) Value(a family.Assignment) (float64, bool) {
	v, ok := t.values[a.Key()]
	return v, ok
}

// Builds counts Build calls.
func (t *Table) Builds() int {
	return t.builds
}

func (t *Table) Build(_ context.Context, f *family.Family) error {
	if f.Space() != t.space {
		return fmt.Errorf("family belongs to another space")
	}
	t.builds++
	return nil
}

func (t *Table) Check(_ context.Context, f *family.Family, objective searcher.Objective) (*family.AnalysisResult, error) {
	dir := objective.Direction
	var best, worst family.Bound
	var bestMember family.Assignment
	for _, a := range f.Assignments() {
		v, ok := t.values[a.Key()]
		if !ok {
			continue
		}
		value := family.Known(v)
		if dir.Improves(value, best) {
			best, bestMember = value, a
		}
		if !worst.Known() || dir.Improves(worst, value) {
			worst = value
		}
	}
	return analyse(f, objective, best, worst, bestMember), nil
}

func (t *Table) Split(_ context.Context, f *family.Family) ([]*family.Family, error) {
	return Split(f), nil
}

// analyse turns the optimistic and pessimistic member values of f into an analysis result.
// An unknown optimistic value means f has no feasible member.
func analyse(f *family.Family, objective searcher.Objective, optimistic, pessimistic family.Bound, member family.Assignment) *family.AnalysisResult {
	if !optimistic.Known() {
		return &family.AnalysisResult{Sat: family.Unsat}
	}
	result := &family.AnalysisResult{
		Sat:        family.Sat,
		CanImprove: !objective.Optimize || objective.Direction.Improves(optimistic, objective.Best),
		Primary:    optimistic,
		Secondary:  pessimistic,
	}
	if f.IsAssignment() && result.CanImprove {
		result.ImprovingAssignment = &member
		result.ImprovingValue = optimistic
	}
	return result
}

// Split halves the option set of the first hole that still has a choice.
func Split(f *family.Family) []*family.Family {
	h := f.SplittableHole()
	if h < 0 {
		return nil
	}
	return f.SplitHole(h)
}

type tableFile struct {
	Holes []struct {
		Name    string   `yaml:"name" validate:"required"`
		Options []string `yaml:"options" validate:"required,min=1,dive,required"`
	} `yaml:"holes" validate:"required,min=1,dive"`
	Values map[string]float64 `yaml:"values" validate:"required"`
}

// LoadTable reads a table such as
//
//	holes:
//	  - name: a
//	    options: ["0", "1"]
//	values:
//	  "a=0": 2
func LoadTable(r io.Reader) (*Table, error) {
	var file tableFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid table: %w", err)
	}

	holes := make([]family.Hole, len(file.Holes))
	for h, hole := range file.Holes {
		holes[h] = family.Hole{Name: hole.Name, Options: hole.Options}
	}
	table := NewTable(family.NewSpace(holes...))
	for key, value := range file.Values {
		a, err := ParseAssignment(table.space, key)
		if err != nil {
			return nil, err
		}
		table.Set(a, value)
	}
	return table, nil
}

// ParseAssignment reads the "hole=option,..." form produced by Assignment.Key.
func ParseAssignment(space *family.Space, key string) (family.Assignment, error) {
	parts := strings.Split(key, ",")
	if len(parts) != len(space.Holes) {
		return family.Assignment{}, fmt.Errorf("assignment %q names %d holes, want %d", key, len(parts), len(space.Holes))
	}
	choice := make([]int, len(space.Holes))
	for h, part := range parts {
		name, option, ok := strings.Cut(strings.TrimSpace(part), "=")
		hole := space.Holes[h]
		if !ok || name != hole.Name {
			return family.Assignment{}, fmt.Errorf("assignment %q: expected hole %q at position %d", key, hole.Name, h)
		}
		choice[h] = utils.FindIndex(hole.Options, option)
		if choice[h] < 0 {
			return family.Assignment{}, fmt.Errorf("assignment %q: hole %q has no option %q", key, name, option)
		}
	}
	return family.NewAssignment(space, choice...), nil
}
