package tree

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

var ErrMalformedLabel = errors.New("malformed branch expression")

type Op string

const (
	LE Op = "<="
	GT Op = ">"
)

// Condition is one branch predicate: Variable Op Bound.
type Condition struct {
	Variable string
	Op       Op
	Bound    float64
}

func (c Condition) Negate() Condition {
	if c.Op == LE {
		return Condition{Variable: c.Variable, Op: GT, Bound: c.Bound}
	}
	return Condition{Variable: c.Variable, Op: LE, Bound: c.Bound}
}

func (c Condition) String() string {
	return c.Variable + string(c.Op) + strconv.FormatFloat(c.Bound, 'g', -1, 64)
}

// Decides reports which branch of a test "variable <= bound" the condition forces.
// ok is false when the condition says nothing about that test.
func (c Condition) Decides(variable string, bound float64) (onTrue bool, ok bool) {
	if c.Variable != variable {
		return false, false
	}
	if c.Op == LE && c.Bound <= bound {
		return true, true
	}
	if c.Op == GT && c.Bound >= bound {
		return false, true
	}
	return false, false
}

// ParseCondition reads a label such as "x <= 5" or "speed > -1.5".
func ParseCondition(label string) (Condition, error) {
	parsed, err := parser.Parse(label)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %q: %v", ErrMalformedLabel, label, err)
	}
	bin, ok := parsed.Node.(*ast.BinaryNode)
	if !ok || (bin.Operator != string(LE) && bin.Operator != string(GT)) {
		return Condition{}, fmt.Errorf("%w: %q is not a <= or > comparison", ErrMalformedLabel, label)
	}
	ident, ok := bin.Left.(*ast.IdentifierNode)
	if !ok {
		return Condition{}, fmt.Errorf("%w: %q has no variable on the left", ErrMalformedLabel, label)
	}
	bound, ok := number(bin.Right)
	if !ok {
		return Condition{}, fmt.Errorf("%w: %q has no numeric bound", ErrMalformedLabel, label)
	}
	return Condition{Variable: ident.Value, Op: Op(bin.Operator), Bound: bound}, nil
}

func number(n ast.Node) (float64, bool) {
	switch n := n.(type) {
	case *ast.IntegerNode:
		return float64(n.Value), true
	case *ast.FloatNode:
		return n.Value, true
	case *ast.UnaryNode:
		if n.Operator != "-" {
			return 0, false
		}
		v, ok := number(n.Node)
		return -v, ok
	}
	return 0, false
}

// PathCondition is the conjunction of branch predicates from a tree's root to a node.
type PathCondition []Condition

func (p PathCondition) String() string {
	if len(p) == 0 {
		return "root"
	}
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// Key identifies the path as a set of predicates, independent of order.
func (p PathCondition) Key() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

func (p PathCondition) Contains(c Condition) bool {
	for _, own := range p {
		if own == c {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every predicate of p also appears in other.
func (p PathCondition) SubsetOf(other PathCondition) bool {
	for _, c := range p {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// Expr renders the path in expression syntax, e.g. "x <= 1 && y > 2".
func (p PathCondition) Expr() string {
	if len(p) == 0 {
		return "true"
	}
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = fmt.Sprintf("%s %s %s", c.Variable, c.Op, strconv.FormatFloat(c.Bound, 'g', -1, 64))
	}
	return strings.Join(parts, " && ")
}

func (p PathCondition) Compile() (*vm.Program, error) {
	program, err := expr.Compile(p.Expr(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLabel, err)
	}
	return program, nil
}

// Holds evaluates the path against a concrete state. A variable missing from the state is an error.
func (p PathCondition) Holds(state map[string]float64) (bool, error) {
	for _, c := range p {
		if _, ok := state[c.Variable]; !ok {
			return false, fmt.Errorf("%w: %q", ErrUnknownVariable, c.Variable)
		}
	}
	program, err := p.Compile()
	if err != nil {
		return false, err
	}
	env := make(map[string]any, len(state))
	for k, v := range state {
		env[k] = v
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}
