package hybrid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"dtsynth/family"
	"dtsynth/induction"
	"dtsynth/oracle"
	"dtsynth/searcher"
	"dtsynth/slicer"
	"dtsynth/tree"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// redundantTree builds: x<=1 ? (y<=2 ? A : A) : B
func redundantTree() *tree.Tree {
	b := tree.NewBuilder(nil, nil)
	inner := b.Decision("y", 2, b.Leaf("A"), b.Leaf("A"))
	return b.Build(b.Decision("x", 1, inner, b.Leaf("B")))
}

// scenarioTree builds: x<=1 ? A : (y<=2 ? A : B)
func scenarioTree() *tree.Tree {
	b := tree.NewBuilder(nil, nil)
	left := b.Leaf("A")
	inner := b.Decision("y", 2, b.Leaf("A"), b.Leaf("B"))
	return b.Build(b.Decision("x", 1, left, inner))
}

func testConfig() Config {
	return Config{Enabled: true, MaxSubtreeDepth: 3, MinSubtreeDepth: 1, MaxLoss: 0.05, MaxRounds: 10}
}

func TestRefine(t *testing.T) {
	ctx := context.Background()

	t.Run("collapses a redundant split", func(t *testing.T) {
		initial := redundantTree()

		report, err := Refine(ctx, initial, testConfig(), PruneRefiner{})

		require.NoError(t, err)
		require.Len(t, report.Replacements, 1, "Only the redundant split should be replaced")
		require.Equal(t, 0.0, report.Replacements[0].Loss)
		require.Equal(t, "x<=1", report.Replacements[0].SubProblem.Path.String(), "The replaced subtree hangs off the true branch")
		require.Equal(t, 5, report.Initial.Nodes)
		require.Equal(t, 3, report.Final.Nodes)
		require.Equal(t, 1, report.Final.Depth)
		tr := report.Tree
		require.Equal(t, "x", tr.Variable(tr.Root()))
		require.Equal(t, "A", tr.Action(tr.True(tr.Root())))
		require.Equal(t, "B", tr.Action(tr.False(tr.Root())))
		require.Equal(t, 5, initial.Size(), "The input tree should not be modified")
	})

	t.Run("rejects lossy refinements", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxSubtreeDepth = 1

		report, err := Refine(ctx, scenarioTree(), cfg, PruneRefiner{})

		require.NoError(t, err)
		require.Empty(t, report.Replacements, "Collapsing to A loses half the regions")
		require.Equal(t, 5, report.Final.Nodes)
	})

	t.Run("accepts within the tolerance", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxSubtreeDepth = 1
		cfg.MaxLoss = 0.5

		report, err := Refine(ctx, scenarioTree(), cfg, PruneRefiner{})

		require.NoError(t, err)
		require.Len(t, report.Replacements, 1)
		require.InDelta(t, 0.5, report.Replacements[0].Loss, 1e-9)
		require.Equal(t, 1, report.Final.Nodes)
		require.Equal(t, "A", report.Tree.Action(report.Tree.Root()))
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Enabled = false

		report, err := Refine(ctx, redundantTree(), cfg, PruneRefiner{})

		require.NoError(t, err)
		require.Empty(t, report.Replacements)
		require.Equal(t, report.Initial, report.Final, "A disabled run returns the tree unchanged")
	})

	t.Run("failing refiner skips subproblems", func(t *testing.T) {
		failing := RefinerFunc(func(context.Context, slicer.SubProblem, slicer.Template) (*tree.Tree, error) {
			return nil, tree.ErrUnknownVariable
		})

		report, err := Refine(ctx, redundantTree(), testConfig(), failing)

		require.NoError(t, err, "Subproblem failures are not run failures")
		require.Equal(t, 2, report.Skipped, "Both decision nodes should be attempted once")
		require.Equal(t, 5, report.Final.Nodes)
	})

	t.Run("round limit", func(t *testing.T) {
		calls := 0
		counting := RefinerFunc(func(ctx context.Context, sp slicer.SubProblem, tmpl slicer.Template) (*tree.Tree, error) {
			calls++
			return PruneRefiner{}.Refine(ctx, sp, tmpl)
		})
		cfg := testConfig()
		cfg.MaxRounds = 1

		_, err := Refine(ctx, redundantTree(), cfg, counting)

		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("zero rounds is no limit", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxRounds = 0

		report, err := Refine(ctx, redundantTree(), cfg, PruneRefiner{})

		require.NoError(t, err)
		require.Equal(t, 3, report.Final.Nodes, "The loop runs until every position was tried")
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		report, err := Refine(cancelled, redundantTree(), testConfig(), PruneRefiner{})

		require.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, report.Tree)
	})
}

func TestSearchRefiner(t *testing.T) {
	ctx := context.Background()

	t.Run("finds a lossless labelling", func(t *testing.T) {
		sp := slicer.SubProblem{RootID: redundantTree().Root(), Subtree: redundantTree()}

		candidate, err := SearchRefiner{}.Refine(ctx, sp, slicer.Template{MaxDepth: 1})

		require.NoError(t, err)
		require.Equal(t, 3, candidate.Size())
		require.Equal(t, 0.0, slicer.EstimateLoss(sp.Subtree, candidate))
	})

	t.Run("drives the hybrid loop", func(t *testing.T) {
		report, err := Refine(ctx, redundantTree(), testConfig(), SearchRefiner{})

		require.NoError(t, err)
		require.Equal(t, 3, report.Final.Nodes)
		for _, r := range report.Replacements {
			require.LessOrEqual(t, r.Loss, 0.05)
		}
	})

	t.Run("family limit without a candidate", func(t *testing.T) {
		sp := slicer.SubProblem{Subtree: scenarioTree()}
		refiner := SearchRefiner{Limits: searcher.Limits{MaxFamilies: 1}}

		_, err := refiner.Refine(ctx, sp, slicer.Template{MaxDepth: 1})

		require.ErrorIs(t, err, ErrNoCandidate)
	})
}

func randomTree(r *rand.Rand, depth int) *tree.Tree {
	b := tree.NewBuilder([]string{"x", "y", "z"}, []string{"A", "B", "C"})
	var grow func(d int) tree.NodeID
	grow = func(d int) tree.NodeID {
		if d == depth || (d > 0 && r.Intn(3) == 0) {
			return b.Leaf([]string{"A", "B", "C"}[r.Intn(3)])
		}
		onTrue := grow(d + 1)
		onFalse := grow(d + 1)
		return b.Decision([]string{"x", "y", "z"}[r.Intn(3)], float64(r.Intn(4)), onTrue, onFalse)
	}
	return b.Build(grow(0))
}

func TestLabelSearchMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for trial := 0; trial < 40; trial++ {
		reference := randomTree(r, 4)
		o := newLabelOracle(reference, 2)

		best := 0.0
		for _, a := range o.space.Root().Assignments() {
			best = max(best, o.agreement(a))
		}

		result, err := searcher.NewEngine(o).Synthesize(context.Background(), o.space.Root())

		require.NoError(t, err)
		require.True(t, result.Found(), "Trial %d should find a labelling", trial)
		require.InDelta(t, best, result.Value.Value, 1e-9, "Trial %d: pruning must keep the best labelling", trial)
		require.Equal(t, o.space.Root().Size(), result.Explored, "Trial %d should account for the whole space", trial)
	}
}

const inducedDOT = `digraph {
  r [label="x <= 1"];
  s [label="y <= 2"];
  a [label="action: A", shape=ellipse];
  b [label="action: A", shape=ellipse];
  c [label="action: B", shape=ellipse];
  r -> s [label="true"];
  r -> c [label="false"];
  s -> a [label="true"];
  s -> b [label="false"];
}`

func TestPipeline(t *testing.T) {
	ctx := context.Background()
	fallback := func(context.Context) (*tree.Tree, error) { return redundantTree(), nil }

	t.Run("falls back without a tool", func(t *testing.T) {
		p := &Pipeline{Fallback: fallback, Config: testConfig()}

		report, err := p.Run(ctx, nil)

		require.NoError(t, err)
		require.True(t, report.FellBack)
		require.IsType(t, induction.ToolUnavailable{}, report.Outcome)
		require.Equal(t, 3, report.Final.Nodes)
	})

	t.Run("falls back on a missing binary", func(t *testing.T) {
		p := &Pipeline{Tool: induction.NewTool(filepath.Join(t.TempDir(), "missing")), Fallback: fallback, Config: testConfig()}

		report, err := p.Run(ctx, nil)

		require.NoError(t, err)
		require.True(t, report.FellBack)
	})

	t.Run("no fallback", func(t *testing.T) {
		p := &Pipeline{Config: testConfig()}

		_, err := p.Run(ctx, nil)

		require.ErrorIs(t, err, ErrNoTree)
	})

	t.Run("fallback error", func(t *testing.T) {
		broken := errors.New("engine failed")
		p := &Pipeline{Fallback: func(context.Context) (*tree.Tree, error) { return nil, broken }}

		_, err := p.Run(ctx, nil)

		require.ErrorIs(t, err, broken)
	})

	t.Run("refines the induced tree", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("shell scripts are not available")
		}
		path := filepath.Join(t.TempDir(), "fake-induce")
		script := "#!/bin/sh\nout=\"decision_trees/$5/scheduler\"\nmkdir -p \"$out\"\ncat > \"$out/$5.dot\" <<'EOF'\n" + inducedDOT + "\nEOF\n"
		require.NoError(t, os.WriteFile(path, []byte(script), 0755))
		tool := induction.NewTool(path)
		tool.Timeout = 5 * time.Second
		p := &Pipeline{Tool: tool, Config: testConfig()}

		report, err := p.Run(ctx, []byte("{}"))

		require.NoError(t, err)
		require.False(t, report.FellBack)
		require.IsType(t, induction.Induced{}, report.Outcome)
		require.Equal(t, 5, report.Initial.Nodes)
		require.Equal(t, 3, report.Final.Nodes)
		require.Equal(t, "default", report.Preset)
	})

	t.Run("keeps the smallest preset", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("shell scripts are not available")
		}
		small := "digraph {\n  r [label=\"x <= 1\"];\n  a [label=\"action: A\"];\n  c [label=\"action: B\"];\n  r -> a [label=\"true\"];\n  r -> c [label=\"false\"];\n}"
		path := filepath.Join(t.TempDir(), "fake-induce")
		script := "#!/bin/sh\nout=\"decision_trees/$5/scheduler\"\nmkdir -p \"$out\"\n" +
			"if [ \"$5\" = \"gini\" ]; then\ncat > \"$out/$5.dot\" <<'EOF'\n" + small + "\nEOF\nexit 0\nfi\n" +
			"cat > \"$out/$5.dot\" <<'EOF'\n" + inducedDOT + "\nEOF\n"
		require.NoError(t, os.WriteFile(path, []byte(script), 0755))
		tool := induction.NewTool(path)
		tool.Timeout = 5 * time.Second
		p := &Pipeline{Tool: tool, Config: testConfig(), ComparePresets: true}

		report, err := p.Run(ctx, []byte("{}"))

		require.NoError(t, err)
		require.Equal(t, "gini", report.Preset)
		require.Equal(t, 3, report.Initial.Nodes, "The gini tree is the smallest")
	})
}

func TestEngineFallback(t *testing.T) {
	sketch := redundantTree()
	actions := []string{"A", "B"}
	space := family.NewSpace(
		family.Hole{Name: "leaf0", Options: actions},
		family.Hole{Name: "leaf1", Options: actions},
		family.Hole{Name: "leaf2", Options: actions},
	)
	table := oracle.NewTable(space)
	table.Set(family.NewAssignment(space, 0, 0, 1), 3)
	table.Set(family.NewAssignment(space, 1, 0, 1), 2)
	table.Set(family.NewAssignment(space, 0, 0, 0), 1)

	t.Run("labels the sketch with the best assignment", func(t *testing.T) {
		fallback := EngineFallback(searcher.NewEngine(table), space.Root(), sketch)

		got, err := fallback(context.Background())

		require.NoError(t, err)
		require.Equal(t, []string{"A", "A", "B"}, leafActions(got))
		require.Equal(t, 5, got.Size(), "Labelling keeps the sketch shape")
	})

	t.Run("pipeline refines the fallback tree", func(t *testing.T) {
		p := &Pipeline{Fallback: EngineFallback(searcher.NewEngine(table), space.Root(), sketch), Config: testConfig()}

		report, err := p.Run(context.Background(), nil)

		require.NoError(t, err)
		require.True(t, report.FellBack)
		require.Equal(t, 3, report.Final.Nodes)
	})

	t.Run("nothing feasible", func(t *testing.T) {
		empty := oracle.NewTable(space)

		_, err := EngineFallback(searcher.NewEngine(empty), space.Root(), sketch)(context.Background())

		require.ErrorIs(t, err, ErrNoCandidate)
	})

	t.Run("hole count mismatch", func(t *testing.T) {
		small := family.NewSpace(family.Hole{Name: "leaf0", Options: actions})

		_, err := Label(sketch, family.NewAssignment(small, 0))

		require.Error(t, err)
	})
}

func leafActions(t *tree.Tree) []string {
	var out []string
	for _, leaf := range t.Leaves(t.Root()) {
		out = append(out, t.Action(leaf))
	}
	return out
}
