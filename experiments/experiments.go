package experiments

import (
	"context"
	"fmt"
	"time"

	"dtsynth/experiments/metrics"
	"dtsynth/family"
	"dtsynth/heuristic"
	"dtsynth/progress"
	"dtsynth/searcher"

	"github.com/rs/zerolog/log"
)

// Problem returns a fresh oracle and root family for one trial. Every config sees the same
// problem for a given trial number.
type Problem func(trial int) (searcher.Oracle, *family.Family)

type Experiment struct {
	Name    string
	Configs []metrics.RunConfig
	Trials  int // per config
	Problem Problem
	// Dir is where the records are written; empty keeps them in memory only.
	Dir string
}

type Summary struct {
	Runs         []metrics.RunRecord
	Improvements []metrics.ImprovementRecord
	Dir          string
}

// HeuristicSweep is one config per heuristic kind with otherwise default settings.
func HeuristicSweep(direction family.Direction, limits searcher.Limits) []metrics.RunConfig {
	var configs []metrics.RunConfig
	for i, kind := range []heuristic.Kind{heuristic.ValueOnly, heuristic.ValueSize, heuristic.BoundsGap} {
		h := heuristic.Default()
		h.Heuristic = kind
		configs = append(configs, metrics.RunConfig{ID: i + 1, Heuristic: h, Direction: direction, Limits: limits})
	}
	return configs
}

// Run synthesizes every trial with every config and stores the records.
// An oracle failure aborts the experiment.
func Run(ctx context.Context, exp Experiment) (Summary, error) {
	var summary Summary
	start := time.Now()
	count := 0

	log.Info().Msgf("starting %s experiment...", exp.Name)

	for ci, config := range exp.Configs {
		log.Info().Msgf("starting config %d of %d: %+v", ci+1, len(exp.Configs), config.Heuristic)

		for trial := 0; trial < exp.Trials; trial++ {
			oracle, root := exp.Problem(trial)
			recorder := &progress.Recorder{}
			engine := searcher.NewEngine(oracle,
				searcher.WithHeuristic(config.Heuristic),
				searcher.WithDirection(config.Direction),
				searcher.WithLimits(config.Limits),
				searcher.WithReporter(progress.NewReporter(recorder, progress.Config{})),
				searcher.WithMetrics(),
			)

			result, err := engine.Synthesize(ctx, root)
			if err != nil {
				return summary, fmt.Errorf("config %d trial %d: %w", config.ID, trial, err)
			}
			count++
			summary.Runs = append(summary.Runs, metrics.RunRecord{ID: count, Config: config.ID, Trial: trial, Result: result})
			for _, s := range recorder.Events(progress.EventImprovement) {
				if s.BestValue == nil {
					continue
				}
				summary.Improvements = append(summary.Improvements, metrics.ImprovementRecord{
					Run:               count,
					Timestamp:         s.Timestamp,
					Value:             *s.BestValue,
					FamiliesEvaluated: s.FamiliesEvaluated,
				})
			}

			log.Info().Msgf("completed config %d of %d trial %d with value %s", ci+1, len(exp.Configs), trial+1, result.Value)
		}
	}

	log.Info().Msgf("completed %s experiment", exp.Name)
	if exp.Dir == "" {
		return summary, nil
	}

	writer, err := metrics.NewWriter(exp.Dir, exp.Name)
	if err != nil {
		return summary, fmt.Errorf("failed to create experiment writer: %w", err)
	}
	summary.Dir = writer.Dir()

	end := time.Now()
	if err := writer.WriteSetup(metrics.Setup{Name: exp.Name, Trials: exp.Trials, StartTime: start, EndTime: end, Duration: end.Sub(start)}); err != nil {
		return summary, err
	}
	if err := writer.WriteRunConfigs(exp.Configs); err != nil {
		return summary, fmt.Errorf("failed to store run configs: %w", err)
	}
	log.Info().Msg("stored run configs")
	if err := writer.WriteRunRecords(summary.Runs); err != nil {
		return summary, fmt.Errorf("failed to write run records: %w", err)
	}
	log.Info().Msg("stored run records")
	if err := writer.WriteImprovementRecords(summary.Improvements); err != nil {
		return summary, fmt.Errorf("failed to write improvement records: %w", err)
	}
	log.Info().Msg("stored improvement records")
	return summary, nil
}
