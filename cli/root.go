package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dtsynth/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type app struct {
	cfg        config.Config
	configPath string
	logLevel   string
	pretty     bool
}

func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dtsynth",
		Short: "dtsynth synthesizes controllers and shrinks decision trees",
		Long: `dtsynth searches families of candidate controllers with best-first branch-and-bound
and makes decision trees smaller by re-optimizing their subtrees within a loss tolerance.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = a.logLevel
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Log.Pretty = a.pretty
			}
			a.cfg = cfg
			return setupLogging(cfg.Log, cmd.ErrOrStderr())
		},
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "trace, debug, info, warn, error or disabled")
	root.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human-readable console logs")

	root.AddCommand(a.synthCommand(), a.sliceCommand(), a.hybridCommand(), a.experimentCommand())
	return root
}

// Execute runs the command tree until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly})
	} else {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	}
	return nil
}
