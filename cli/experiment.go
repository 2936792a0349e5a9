package cli

import (
	"fmt"

	"dtsynth/experiments"
	"dtsynth/family"
	"dtsynth/searcher"

	"github.com/spf13/cobra"
)

func (a *app) experimentCommand() *cobra.Command {
	var tablePath, dir string
	var trials int
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Compare the search heuristics on a value table",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(tablePath)
			if err != nil {
				return err
			}
			direction, err := family.ParseDirection(a.cfg.Search.Direction)
			if err != nil {
				return err
			}
			exp := experiments.Experiment{
				Name:    "heuristics",
				Configs: experiments.HeuristicSweep(direction, a.cfg.Search.Limits()),
				Trials:  trials,
				Problem: func(int) (searcher.Oracle, *family.Family) { return table, table.Space().Root() },
				Dir:     dir,
			}

			summary, err := experiments.Run(cmd.Context(), exp)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, run := range summary.Runs {
				fmt.Fprintf(w, "config %d trial %d: value %s, %d families, explored %d\n",
					run.Config, run.Trial, run.Result.Value, run.Result.FamiliesEvaluated, run.Result.Explored)
			}
			if summary.Dir != "" {
				fmt.Fprintf(w, "records written to %s\n", summary.Dir)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tablePath, "table", "t", "", "value table (YAML)")
	cmd.Flags().StringVar(&dir, "dir", "experiments", "directory for the records; empty keeps them in memory")
	cmd.Flags().IntVar(&trials, "trials", 1, "runs per heuristic")
	cmd.MarkFlagRequired("table")
	return cmd
}
