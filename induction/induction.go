package induction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"dtsynth/meta"
	"dtsynth/tree"

	"github.com/rs/zerolog/log"
)

var Presets = []string{"default", "gini", "entropy", "maxminority"}

var ErrUnknownPreset = errors.New("unknown induction preset")

// Outcome is one of Induced, ToolUnavailable, Timeout or Failed.
type Outcome interface {
	outcome()
}

type Induced struct {
	Tree  *tree.Tree
	Path  string // where the tool wrote the tree
	Stats tree.Stats
}

type ToolUnavailable struct {
	Err error
}

type Timeout struct {
	After time.Duration
}

// Failed covers non-zero exits, missing output and output that is not a decision tree.
type Failed struct {
	ExitCode int
	Stderr   string
	Reason   string
}

func (Induced) outcome()         {}
func (ToolUnavailable) outcome() {}
func (Timeout) outcome()         {}
func (Failed) outcome()          {}

// Tool runs an external tree-induction binary (dtControl-compatible command line) on a scheduler.
type Tool struct {
	Binary  string
	Preset  string
	Timeout time.Duration
	// WorkDir keeps the tool's files; a temporary directory is used and removed when empty.
	WorkDir string
}

func NewTool(binary string) *Tool {
	return &Tool{Binary: binary, Preset: meta.INDUCTION_PRESET, Timeout: meta.INDUCTION_TIMEOUT}
}

func (t *Tool) Validate() error {
	for _, p := range Presets {
		if p == t.Preset {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownPreset, t.Preset)
}

// Available reports whether the binary can be found.
func (t *Tool) Available() bool {
	_, err := exec.LookPath(t.Binary)
	return err == nil
}

// Induce writes the scheduler to the working directory, runs the tool and parses the DOT tree it produces.
// Failures are outcomes, never errors.
func (t *Tool) Induce(ctx context.Context, scheduler []byte) Outcome {
	if err := t.Validate(); err != nil {
		return Failed{ExitCode: -1, Reason: err.Error()}
	}
	binary, err := exec.LookPath(t.Binary)
	if err != nil {
		log.Warn().Err(err).Msgf("induction tool %s not found", t.Binary)
		return ToolUnavailable{Err: err}
	}

	dir := t.WorkDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "induction_")
		if err != nil {
			return Failed{ExitCode: -1, Reason: fmt.Sprintf("failed to create working directory: %v", err)}
		}
		defer os.RemoveAll(dir)
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return Failed{ExitCode: -1, Reason: fmt.Sprintf("failed to create working directory: %v", err)}
	}
	if err := os.WriteFile(filepath.Join(dir, "scheduler.storm.json"), scheduler, 0644); err != nil {
		return Failed{ExitCode: -1, Reason: fmt.Sprintf("failed to write scheduler: %v", err)}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = meta.INDUCTION_TIMEOUT
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, binary, "--input", "scheduler.storm.json", "-r", "--use-preset", t.Preset)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	log.Info().Msgf("running %s with preset %s in %s", t.Binary, t.Preset, dir)

	err = cmd.Run()
	log.Debug().Str("stdout", stdout.String()).Str("stderr", stderr.String()).Msg("induction tool output")
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		log.Warn().Msgf("induction tool timed out after %s", timeout)
		return Timeout{After: timeout}
	}
	if err != nil {
		var exit *exec.ExitError
		code := -1
		if errors.As(err, &exit) {
			code = exit.ExitCode()
		}
		log.Warn().Int("code", code).Msg("induction tool failed")
		return Failed{ExitCode: code, Stderr: stderr.String(), Reason: err.Error()}
	}

	path := filepath.Join(dir, "decision_trees", t.Preset, "scheduler", t.Preset+".dot")
	src, err := os.ReadFile(path)
	if err != nil {
		return Failed{Stderr: stderr.String(), Reason: fmt.Sprintf("no tree at %s", path)}
	}
	induced, err := tree.ParseDOT(string(src))
	if err != nil {
		return Failed{Stderr: stderr.String(), Reason: fmt.Sprintf("malformed tree: %v", err)}
	}
	stats := induced.Stats()
	log.Info().Int("nodes", stats.Nodes).Int("depth", stats.Depth).Msg("induced decision tree")
	return Induced{Tree: induced, Path: path, Stats: stats}
}

// ComparePresets induces a tree with every preset.
func (t *Tool) ComparePresets(ctx context.Context, scheduler []byte) map[string]Outcome {
	results := make(map[string]Outcome, len(Presets))
	for _, preset := range Presets {
		run := *t
		run.Preset = preset
		results[preset] = run.Induce(ctx, scheduler)
	}
	return results
}

// BestPreset picks the preset whose tree has the fewest nodes, ties going to the earlier preset.
func BestPreset(results map[string]Outcome) (string, bool) {
	best, bestNodes := "", 0
	for _, preset := range Presets {
		induced, ok := results[preset].(Induced)
		if !ok {
			continue
		}
		if best == "" || induced.Stats.Nodes < bestNodes {
			best, bestNodes = preset, induced.Stats.Nodes
		}
	}
	return best, best != ""
}

// InduceBest runs every preset and returns the smallest induced tree with its preset. When no
// preset produced a tree, the outcome of the tool's own preset is returned.
func (t *Tool) InduceBest(ctx context.Context, scheduler []byte) (Outcome, string) {
	results := t.ComparePresets(ctx, scheduler)
	if preset, ok := BestPreset(results); ok {
		log.Info().Str("preset", preset).Msg("picked induction preset")
		return results[preset], preset
	}
	preset := t.Preset
	if preset == "" {
		preset = Presets[0]
	}
	return results[preset], preset
}
