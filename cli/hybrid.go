package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dtsynth/hybrid"
	"dtsynth/progress"
	"dtsynth/searcher"
	"dtsynth/tree"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) hybridCommand() *cobra.Command {
	var treePath, schedulerPath, sketchPath, tablePath, out, refinerName string
	var comparePresets bool
	cmd := &cobra.Command{
		Use:   "hybrid",
		Short: "Induce or load a decision tree and shrink it subtree by subtree",
		Long: `Starts from --tree, or induces a tree from --scheduler with the configured tool. When the tool
gives no tree, the leaves of --sketch are labelled by searching --table instead. Every subtree is
then re-optimized and spliced back when it gets smaller within the configured loss.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			refiner, err := a.refiner(refinerName)
			if err != nil {
				return err
			}
			var report hybrid.Report
			switch {
			case treePath != "":
				initial, err := loadTree(treePath)
				if err != nil {
					return err
				}
				report, err = hybrid.Refine(ctx, initial, a.cfg.Hybrid, refiner)
				if err != nil {
					return err
				}
			case schedulerPath != "":
				scheduler, err := os.ReadFile(schedulerPath)
				if err != nil {
					return fmt.Errorf("read scheduler: %w", err)
				}
				p := &hybrid.Pipeline{Tool: a.cfg.Induction.Tool(), Refiner: refiner, Config: a.cfg.Hybrid, ComparePresets: comparePresets}
				if sketchPath != "" && tablePath != "" {
					fallback, closeSinks, err := a.engineFallback(ctx, sketchPath, tablePath)
					if err != nil {
						return err
					}
					defer closeSinks()
					p.Fallback = fallback
				}
				report, err = p.Run(ctx, scheduler)
				if err != nil {
					return err
				}
			default:
				return errors.New("one of --tree or --scheduler is required")
			}

			w := cmd.OutOrStdout()
			if report.Preset != "" {
				fmt.Fprintf(w, "preset:  %s\n", report.Preset)
			}
			fmt.Fprintf(w, "initial: %d nodes, depth %d\n", report.Initial.Nodes, report.Initial.Depth)
			for _, r := range report.Replacements {
				fmt.Fprintf(w, "replaced %s: %d -> %d nodes, loss %.3f\n", r.SubProblem.Path, r.Before.Nodes, r.After.Nodes, r.Loss)
			}
			fmt.Fprintf(w, "final:   %d nodes, depth %d (%d skipped)\n", report.Final.Nodes, report.Final.Depth, report.Skipped)
			if out != "" {
				return saveTree(out, report.Tree)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&treePath, "tree", "", "initial decision tree (.dot or .json)")
	cmd.Flags().StringVar(&schedulerPath, "scheduler", "", "scheduler to induce the initial tree from")
	cmd.Flags().StringVar(&sketchPath, "sketch", "", "fallback tree whose leaves are searched for")
	cmd.Flags().StringVar(&tablePath, "table", "", "value table for the fallback search, one hole per sketch leaf")
	cmd.Flags().StringVar(&refinerName, "refiner", "prune", "prune or search")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the final tree (.dot or .json)")
	cmd.Flags().BoolVar(&comparePresets, "compare-presets", false, "induce with every preset and keep the smallest tree")
	cmd.MarkFlagsMutuallyExclusive("tree", "scheduler")
	cmd.MarkFlagsMutuallyExclusive("tree", "compare-presets")
	cmd.MarkFlagsRequiredTogether("sketch", "table")
	return cmd
}

func (a *app) refiner(name string) (hybrid.Refiner, error) {
	switch name {
	case "", "prune":
		return hybrid.PruneRefiner{}, nil
	case "search":
		return hybrid.SearchRefiner{Heuristic: a.cfg.Search.Heuristic, Limits: a.cfg.Search.Limits()}, nil
	}
	return nil, fmt.Errorf("unknown refiner %q", name)
}

// engineFallback labels the sketch's leaves by searching the table, reporting to the configured sinks.
func (a *app) engineFallback(ctx context.Context, sketchPath, tablePath string) (func(context.Context) (*tree.Tree, error), func(), error) {
	sketch, err := loadTree(sketchPath)
	if err != nil {
		return nil, nil, err
	}
	table, err := loadTable(tablePath)
	if err != nil {
		return nil, nil, err
	}
	options, err := a.cfg.Search.EngineOptions()
	if err != nil {
		return nil, nil, err
	}
	runID := uuid.NewString()
	reporterConfig := a.cfg.Progress.ReporterConfig(map[string]string{"run_id": runID})
	s, err := a.openSinks(ctx, runID, reporterConfig.Metadata)
	if err != nil {
		return nil, nil, err
	}
	options = append(options, searcher.WithReporter(progress.NewReporter(s, reporterConfig)))
	closeSinks := func() {
		if err := s.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to close progress sinks")
		}
	}
	return hybrid.EngineFallback(searcher.NewEngine(table, options...), table.Space().Root(), sketch), closeSinks, nil
}
