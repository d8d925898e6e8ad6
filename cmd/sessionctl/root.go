package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/sessionstate/pkg/config"
	"github.com/dmitrymomot/sessionstate/pkg/logger"
	"github.com/dmitrymomot/sessionstate/pkg/session"
)

type cliConfig struct {
	Backend string `env:"SESSION_BACKEND" envDefault:"memory"` // Backend is one of redis, postgres, mongo, memory.
	Env     string `env:"APP_ENV" envDefault:"development"`     // Env selects logger defaults.
}

// app carries state shared by all subcommands of one invocation.
type app struct {
	open      openFunc
	logOutput io.Writer
	now       func() time.Time

	log      *slog.Logger
	backend  *backend
	provider *session.Provider
}

func newApp() *app {
	return &app{
		open:      openBackend,
		logOutput: os.Stderr,
		now:       time.Now,
	}
}

func (a *app) close() {
	if a.backend != nil && a.backend.close != nil {
		a.backend.close()
	}
	a.backend = nil
}

func newRootCmd(a *app) *cobra.Command {
	var (
		backendName string
		envFiles    []string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Inspect and repair stored session state",
		Long: `sessionctl talks to the store behind the session provider.
It reads configuration from the environment (and optional dotenv files):
SESSION_BACKEND selects the store, SESSION_NAMESPACE the key prefix.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnv(envFiles...); err != nil {
				return err
			}
			var cfg cliConfig
			if err := config.Load(&cfg); err != nil {
				return err
			}
			if !cmd.Flags().Changed("backend") {
				backendName = cfg.Backend
			}

			opts := []logger.Option{
				logger.WithOutput(a.logOutput),
				logger.WithEnvironment(cfg.Env, "sessionctl"),
			}
			if verbose {
				opts = append(opts, logger.WithLevel(slog.LevelDebug))
			} else {
				opts = append(opts, logger.WithLevel(slog.LevelWarn))
			}
			a.log = logger.New(opts...)

			var sessionCfg session.Config
			if err := config.Load(&sessionCfg); err != nil {
				return err
			}

			b, err := a.open(cmd.Context(), backendName, a.log)
			if err != nil {
				return err
			}
			a.backend = b
			cmd.SetContext(logger.ContextWithAttrs(cmd.Context(),
				logger.Backend(b.name),
				slog.String("command", cmd.Name()),
			))
			a.log.DebugContext(cmd.Context(), "backend opened")

			a.provider, err = session.NewProvider(b.store, sessionCfg,
				session.WithLogger(a.log),
				session.WithClock(a.now),
			)
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&backendName, "backend", backendMemory, "store backend: redis, postgres, mongo or memory (overrides SESSION_BACKEND)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading configuration")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(
		newInspectCmd(a),
		newCreateCmd(a),
		newTouchCmd(a),
		newUnlockCmd(a),
		newRmCmd(a),
		newPingCmd(a),
		newMigrateCmd(a),
	)
	return cmd
}
