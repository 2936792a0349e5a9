package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"dtsynth/family"
	"dtsynth/oracle"
	"dtsynth/progress"
	"dtsynth/searcher"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type synthOutput struct {
	RunID      string   `json:"run_id"`
	Stopped    string   `json:"stopped"`
	Value      *float64 `json:"value"`
	Assignment string   `json:"assignment,omitempty"`
	Explored   uint64   `json:"explored"`
	Candidates uint64   `json:"candidates"`
	Families   int      `json:"families_evaluated"`
}

func (a *app) synthCommand() *cobra.Command {
	var tablePath, out string
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Search a value table for its best assignment",
		Long: `Runs best-first branch-and-bound over every assignment of the table's holes. Assignments
missing from the table are infeasible.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(tablePath)
			if err != nil {
				return err
			}
			root := table.Space().Root()
			runID, result, err := a.synthesize(cmd.Context(), table, root, searcher.WithShaper(oracle.PolicyShape))
			if err != nil {
				return err
			}

			output := synthOutput{
				RunID:      runID,
				Stopped:    result.Stopped.String(),
				Explored:   result.Explored,
				Candidates: root.Size(),
				Families:   result.FamiliesEvaluated,
			}
			if result.Value.Known() {
				output.Value = &result.Value.Value
			}
			if result.Found() {
				output.Assignment = result.Assignment.Key()
			}
			printSynthesis(cmd.OutOrStdout(), output)
			if out != "" {
				return writeJSON(out, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tablePath, "table", "t", "", "value table (YAML)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result as JSON")
	cmd.MarkFlagRequired("table")
	return cmd
}

// synthesize runs one engine search with the configured sinks attached.
func (a *app) synthesize(ctx context.Context, o searcher.Oracle, root *family.Family, extra ...searcher.Option) (string, searcher.Result, error) {
	runID := uuid.NewString()
	reporterConfig := a.cfg.Progress.ReporterConfig(map[string]string{"run_id": runID})
	s, err := a.openSinks(ctx, runID, reporterConfig.Metadata)
	if err != nil {
		return runID, searcher.Result{}, err
	}

	options, err := a.cfg.Search.EngineOptions()
	if err != nil {
		s.Close(ctx)
		return runID, searcher.Result{}, err
	}
	options = append(options, searcher.WithReporter(progress.NewReporter(s, reporterConfig)), searcher.WithMetrics())
	options = append(options, extra...)

	log.Info().Str("run_id", runID).Msg("starting synthesis")
	result, err := searcher.NewEngine(o, options...).Synthesize(ctx, root)
	if closeErr := s.Close(ctx); closeErr != nil {
		log.Warn().Err(closeErr).Msg("failed to close progress sinks")
	}
	return runID, result, err
}

func loadTable(path string) (*oracle.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	return oracle.LoadTable(f)
}

func printSynthesis(w io.Writer, out synthOutput) {
	fmt.Fprintf(w, "run:        %s\n", out.RunID)
	fmt.Fprintf(w, "stopped:    %s\n", out.Stopped)
	if out.Value != nil {
		fmt.Fprintf(w, "value:      %g\n", *out.Value)
		fmt.Fprintf(w, "assignment: %s\n", out.Assignment)
	} else {
		fmt.Fprintln(w, "value:      none found")
	}
	fmt.Fprintf(w, "explored:   %d of %d\n", out.Explored, out.Candidates)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
