package hybrid

import (
	"context"
	"fmt"

	"dtsynth/family"
	"dtsynth/searcher"
	"dtsynth/tree"
)

// Label returns a copy of sketch whose i-th leaf (true branches first) takes the option chosen
// for hole i as its action.
func Label(sketch *tree.Tree, a family.Assignment) (*tree.Tree, error) {
	leaves := sketch.Leaves(sketch.Root())
	space := a.Space()
	if space == nil {
		return nil, fmt.Errorf("empty assignment")
	}
	if len(space.Holes) != len(leaves) {
		return nil, fmt.Errorf("sketch has %d leaves but the assignment fills %d holes", len(leaves), len(space.Holes))
	}

	b := tree.NewBuilder(sketch.Variables, sketch.Actions)
	next := 0
	var emit func(id tree.NodeID) tree.NodeID
	emit = func(id tree.NodeID) tree.NodeID {
		if sketch.IsLeaf(id) {
			h := next
			next++
			return b.Leaf(space.Holes[h].Options[a.Choice(h)])
		}
		onTrue := emit(sketch.True(id))
		onFalse := emit(sketch.False(id))
		return b.Decision(sketch.Variable(id), sketch.Bound(id), onTrue, onFalse)
	}
	return b.Build(emit(sketch.Root())), nil
}

// EngineFallback synthesizes the leaf labels of sketch with the engine, one hole per leaf.
func EngineFallback(engine *searcher.Engine, root *family.Family, sketch *tree.Tree) func(ctx context.Context) (*tree.Tree, error) {
	return func(ctx context.Context) (*tree.Tree, error) {
		result, err := engine.Synthesize(ctx, root)
		if err != nil {
			return nil, err
		}
		if !result.Found() {
			return nil, fmt.Errorf("%w: search stopped with %s", ErrNoCandidate, result.Stopped)
		}
		return Label(sketch, *result.Assignment)
	}
}
