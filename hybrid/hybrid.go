package hybrid

import (
	"context"
	"errors"
	"fmt"

	"dtsynth/induction"
	"dtsynth/meta"
	"dtsynth/slicer"
	"dtsynth/tree"

	"github.com/rs/zerolog/log"
)

var ErrNoTree = errors.New("no initial tree")

type Config struct {
	Enabled         bool    `yaml:"enabled"`
	MaxSubtreeDepth int     `yaml:"max_subtree_depth" validate:"gte=1"`
	MinSubtreeDepth int     `yaml:"min_subtree_depth" validate:"gte=0"`
	MaxLoss         float64 `yaml:"max_loss" validate:"gte=0,lte=1"`
	MaxRounds       int     `yaml:"max_rounds" validate:"gte=0"` // 0 is no limit
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxSubtreeDepth: meta.MAX_SUBTREE_DEPTH,
		MinSubtreeDepth: meta.MIN_SUBTREE_DEPTH,
		MaxLoss:         meta.MAX_LOSS,
		MaxRounds:       meta.MAX_HYBRID_ROUNDS,
	}
}

// Replacement records one accepted splice.
type Replacement struct {
	SubProblem slicer.SubProblem
	Template   slicer.Template
	Loss       float64
	Before     tree.Stats
	After      tree.Stats
}

type Report struct {
	Tree         *tree.Tree
	Initial      tree.Stats
	Final        tree.Stats
	Replacements []Replacement
	Skipped      int
	// FellBack is set when the initial tree came from the fallback instead of the induction tool.
	FellBack bool
	Outcome  induction.Outcome
	// Preset is the induction preset the initial tree was asked from.
	Preset string
}

// Refine repeatedly extracts subproblems from a copy of initial and splices in every refinement
// that is smaller than the subtree it replaces and loses at most cfg.MaxLoss. Subproblems are
// re-extracted after each splice; every position in the tree is attempted at most once.
// Only cancellation of ctx is an error; failing subproblems are logged and skipped.
func Refine(ctx context.Context, initial *tree.Tree, cfg Config, refiner Refiner) (report Report, err error) {
	report = Report{Tree: initial.Copy(), Initial: initial.Stats()}
	log.Info().Int("depth", report.Initial.Depth).Int("nonterminals", report.Initial.Nonterminals).Msg("initial tree")
	defer func() {
		report.Final = report.Tree.Stats()
	}()
	if !cfg.Enabled {
		return report, nil
	}

	attempted := make(map[string]bool)
	for round := 0; cfg.MaxRounds <= 0 || round < cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sp, ok := next(slicer.Extract(report.Tree, cfg.MaxSubtreeDepth, cfg.MinSubtreeDepth), attempted)
		if !ok {
			break
		}
		attempted[sp.Path.Key()] = true

		tmpl := slicer.GenerateTemplate(sp, cfg.MaxSubtreeDepth)
		candidate, err := refiner.Refine(ctx, sp, tmpl)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			log.Warn().Err(err).Str("path", sp.Path.String()).Msg("skipping subproblem")
			report.Skipped++
			continue
		}
		loss := slicer.EstimateLoss(sp.Subtree, candidate)
		if candidate.Size() >= sp.Subtree.Size() || loss > cfg.MaxLoss {
			log.Debug().Str("path", sp.Path.String()).Int("size", candidate.Size()).Float64("loss", loss).Msg("rejected refinement")
			continue
		}

		spliced, err := slicer.Replace(report.Tree, sp, candidate)
		if err != nil {
			log.Warn().Err(err).Str("path", sp.Path.String()).Msg("skipping subproblem")
			report.Skipped++
			continue
		}
		report.Replacements = append(report.Replacements, Replacement{
			SubProblem: sp,
			Template:   tmpl,
			Loss:       loss,
			Before:     sp.Subtree.Stats(),
			After:      candidate.Stats(),
		})
		report.Tree = spliced
		log.Info().Msgf("replaced subtree at %s: %d -> %d nodes, loss %.3f", sp.Path, sp.Subtree.Size(), candidate.Size(), loss)
	}

	final := report.Tree.Stats()
	log.Info().Int("depth", final.Depth).Int("nonterminals", final.Nonterminals).Int("replacements", len(report.Replacements)).Msg("final tree")
	return report, nil
}

func next(subproblems []slicer.SubProblem, attempted map[string]bool) (slicer.SubProblem, bool) {
	for _, sp := range subproblems {
		if !attempted[sp.Path.Key()] {
			return sp, true
		}
	}
	return slicer.SubProblem{}, false
}

// Pipeline induces an initial tree from a scheduler and refines it. When the tool cannot produce
// a tree, Fallback (typically engine-only synthesis) provides one instead.
type Pipeline struct {
	Tool     *induction.Tool
	Fallback func(ctx context.Context) (*tree.Tree, error)
	Refiner  Refiner
	Config   Config
	// ComparePresets runs the tool with every preset and keeps the smallest tree.
	ComparePresets bool
}

func (p *Pipeline) Run(ctx context.Context, scheduler []byte) (Report, error) {
	var outcome induction.Outcome = induction.ToolUnavailable{Err: errors.New("no induction tool configured")}
	preset := ""
	switch {
	case p.Tool != nil && p.ComparePresets:
		outcome, preset = p.Tool.InduceBest(ctx, scheduler)
	case p.Tool != nil:
		outcome, preset = p.Tool.Induce(ctx, scheduler), p.Tool.Preset
	}

	var initial *tree.Tree
	fellBack := false
	switch o := outcome.(type) {
	case induction.Induced:
		initial = o.Tree
	default:
		log.Warn().Msgf("induction gave %T, falling back to engine-only synthesis", o)
		if p.Fallback == nil {
			return Report{Outcome: outcome}, fmt.Errorf("%w: induction gave %T and there is no fallback", ErrNoTree, o)
		}
		t, err := p.Fallback(ctx)
		if err != nil {
			return Report{Outcome: outcome}, fmt.Errorf("fallback synthesis: %w", err)
		}
		if t == nil {
			return Report{Outcome: outcome}, fmt.Errorf("%w: fallback returned nothing", ErrNoTree)
		}
		initial, fellBack, preset = t, true, ""
	}

	refiner := p.Refiner
	if refiner == nil {
		refiner = PruneRefiner{}
	}
	report, err := Refine(ctx, initial, p.Config, refiner)
	report.FellBack = fellBack
	report.Outcome = outcome
	report.Preset = preset
	return report, err
}
