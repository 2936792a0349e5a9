package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"dtsynth/family"
	"dtsynth/heuristic"
	"dtsynth/hybrid"
	"dtsynth/induction"
	"dtsynth/meta"
	"dtsynth/progress"
	"dtsynth/searcher"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Progress  ProgressConfig  `yaml:"progress"`
	Hybrid    hybrid.Config   `yaml:"hybrid"`
	Induction InductionConfig `yaml:"induction"`
	Log       LogConfig       `yaml:"log"`
}

type SearchConfig struct {
	Heuristic     heuristic.Config `yaml:",inline"`
	Direction     string           `yaml:"direction" validate:"oneof=max maximize min minimize"`
	Optimize      bool             `yaml:"optimize"`
	Timeout       time.Duration    `yaml:"timeout" validate:"gte=0"`
	MemoryLimitMB uint64           `yaml:"memory_limit_mb"`
	MaxFamilies   int              `yaml:"max_families" validate:"gte=0"`
	// Threshold seeds the best value; only assignments beating it are reported.
	Threshold *float64 `yaml:"threshold"`
}

type ProgressConfig struct {
	Interval    time.Duration     `yaml:"interval" validate:"gte=0"`
	Checkpoints bool              `yaml:"checkpoints"`
	CSV         string            `yaml:"csv"`
	Redis       RedisConfig       `yaml:"redis"`
	BadgerDir   string            `yaml:"badger_dir"`
	MetricsAddr string            `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Tags        map[string]string `yaml:"tags"`
	// Buffer is the backlog of the asynchronous delivery to remote sinks.
	Buffer int `yaml:"buffer" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len" validate:"gte=0"`
}

type InductionConfig struct {
	Binary  string        `yaml:"binary"`
	Preset  string        `yaml:"preset" validate:"oneof=default gini entropy maxminority"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Pretty bool   `yaml:"pretty"`
}

func Default() Config {
	return Config{
		Search: SearchConfig{
			Heuristic: heuristic.Default(),
			Direction: "maximize",
			Optimize:  true,
		},
		Progress: ProgressConfig{
			Checkpoints: true,
			Buffer:      64,
		},
		Hybrid: hybrid.DefaultConfig(),
		Induction: InductionConfig{
			Binary:  "dtcontrol",
			Preset:  meta.INDUCTION_PRESET,
			Timeout: meta.INDUCTION_TIMEOUT,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies DTSYNTH_* environment overrides.
// An empty path only applies defaults and environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse reads a YAML document over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DTSYNTH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DTSYNTH_REDIS_ADDR"); v != "" {
		cfg.Progress.Redis.Addr = v
	}
	if v := os.Getenv("DTSYNTH_METRICS_ADDR"); v != "" {
		cfg.Progress.MetricsAddr = v
	}
	if v := os.Getenv("DTSYNTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.Timeout = d
		}
	}
	if v := os.Getenv("DTSYNTH_MAX_FAMILIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxFamilies = n
		}
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.Search.Heuristic.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Hybrid.MinSubtreeDepth > c.Hybrid.MaxSubtreeDepth {
		return fmt.Errorf("%w: min_subtree_depth %d exceeds max_subtree_depth %d",
			ErrInvalid, c.Hybrid.MinSubtreeDepth, c.Hybrid.MaxSubtreeDepth)
	}
	return nil
}

func (s SearchConfig) Limits() searcher.Limits {
	return searcher.Limits{Timeout: s.Timeout, MemoryLimitMB: s.MemoryLimitMB, MaxFamilies: s.MaxFamilies}
}

// EngineOptions translates the search section into engine options.
func (s SearchConfig) EngineOptions() ([]searcher.Option, error) {
	direction, err := family.ParseDirection(s.Direction)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	options := []searcher.Option{
		searcher.WithHeuristic(s.Heuristic),
		searcher.WithDirection(direction),
		searcher.WithLimits(s.Limits()),
	}
	if !s.Optimize {
		options = append(options, searcher.WithSatisfiability())
	}
	if s.Threshold != nil {
		options = append(options, searcher.WithThreshold(*s.Threshold))
	}
	return options, nil
}

// ReporterConfig builds the reporter configuration; extra metadata is added to the configured tags.
func (p ProgressConfig) ReporterConfig(extra map[string]string) progress.Config {
	metadata := make(map[string]string, len(p.Tags)+len(extra))
	for k, v := range p.Tags {
		metadata[k] = v
	}
	for k, v := range extra {
		metadata[k] = v
	}
	return progress.Config{Interval: p.Interval, Checkpoints: p.Checkpoints, Metadata: metadata}
}

func (i InductionConfig) Tool() *induction.Tool {
	tool := induction.NewTool(i.Binary)
	tool.Preset = i.Preset
	tool.Timeout = i.Timeout
	return tool
}
