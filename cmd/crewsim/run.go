package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crewsim/internal/kernel"
	"crewsim/pkg/config"
	"crewsim/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

type runOptions struct {
	configPath  string
	overrides   config.Overrides
	steps       int
	autostart   bool
	noWebUI     bool
	dbPath      string
	eventLogDir string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation",
		Long: "Run the simulation. With --steps it takes that many ticks back to back and exits; " +
			"otherwise it serves until interrupted, ticking on the configured interval.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.steps < 0 {
				return fmt.Errorf("--steps must not be negative")
			}
			cfg, err := config.Load(opts.configPath, opts.overrides)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive
			}
			if cmd.Flags().Changed("db") {
				cfg.Storage.DatabasePath = opts.dbPath
			}
			if cmd.Flags().Changed("event-log") {
				cfg.Storage.EventLogDir = opts.eventLogDir
			}
			if opts.noWebUI {
				cfg.WebUI.Enabled = false
			}
			if opts.autostart || !cfg.WebUI.Enabled {
				// Without the web UI nothing else could start the loop.
				cfg.Scheduler.Autostart = true
			}
			return runSimulation(cmd.Context(), cfg, opts.steps)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON config file")
	flags.StringVar(&opts.overrides.Provider, "provider", "", "Reasoning backend: groq, openai, anthropic, google or ollama")
	flags.StringVar(&opts.overrides.Model, "model", "", "Model name (defaults per provider)")
	flags.Int64Var(&opts.overrides.Seed, "seed", 0, "Seed for every randomized policy (0 picks one)")
	flags.StringVar(&opts.overrides.Listen, "listen", "", "Serve the web UI on this address")
	flags.IntVar(&opts.steps, "steps", 0, "Run this many steps headless and exit")
	flags.BoolVar(&opts.autostart, "autostart", false, "Start the live loop immediately")
	flags.BoolVar(&opts.noWebUI, "nowebui", false, "Disable the web UI")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite journal path (empty disables it)")
	flags.StringVar(&opts.eventLogDir, "event-log", "", "JSONL event log directory (empty disables it)")
	return cmd
}

func runSimulation(ctx context.Context, cfg *config.Config, steps int) (err error) {
	logger := logx.NewLogger("main")

	k, err := kernel.NewKernel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create kernel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		//nolint:contextcheck // Run context may already be cancelled
		if stopErr := k.Shutdown(shutdownCtx); stopErr != nil {
			logger.Error("Error stopping kernel: %v", stopErr)
			if err == nil {
				err = stopErr
			}
		}
	}()

	if steps > 0 {
		logger.Info("Running %d steps headless (seed %d)", steps, cfg.Sanitizer.Seed)
		return k.Run(ctx, steps) //nolint:wrapcheck // Kernel errors carry context
	}

	if err := k.Start(); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}
	if cfg.WebUI.Enabled {
		logger.Info("Web UI at http://%s", cfg.WebUI.Listen)
	}
	<-k.Done()
	logger.Info("Shutting down")
	return nil
}
