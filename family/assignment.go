package family

import (
	"fmt"
	"strings"
)

// Assignment is a single concrete candidate: one option per hole.
type Assignment struct {
	space  *Space
	choice []int
}

func NewAssignment(space *Space, choice ...int) Assignment {
	if len(choice) != len(space.Holes) {
		panic(fmt.Sprintf("assignment has %d choices for %d holes", len(choice), len(space.Holes)))
	}
	for h, opt := range choice {
		if opt < 0 || opt >= len(space.Holes[h].Options) {
			panic(fmt.Sprintf("option %d out of range for hole %q", opt, space.Holes[h].Name))
		}
	}
	return Assignment{space: space, choice: append([]int(nil), choice...)}
}

func (a Assignment) Space() *Space {
	return a.space
}

// Choice returns the option index picked for hole h.
func (a Assignment) Choice(h int) int {
	return a.choice[h]
}

func (a Assignment) Choices() []int {
	return append([]int(nil), a.choice...)
}

func (a Assignment) IsZero() bool {
	return a.space == nil
}

// Family converts the assignment into a size-one family.
func (a Assignment) Family() *Family {
	options := make([][]int, len(a.choice))
	for h, opt := range a.choice {
		options[h] = []int{opt}
	}
	return &Family{space: a.space, options: options}
}

// Key is a stable textual identity, e.g. "a=0,b=1".
func (a Assignment) Key() string {
	parts := make([]string, len(a.choice))
	for h, opt := range a.choice {
		parts[h] = fmt.Sprintf("%s=%s", a.space.Holes[h].Name, a.space.Holes[h].Options[opt])
	}
	return strings.Join(parts, ",")
}

func (a Assignment) String() string {
	return a.Key()
}
