// Command calnotify posts Telegram reminders for upcoming calendar events.
//
// Usage:
//
//	calnotify run --config ./config.yaml
//	calnotify events --config ./config.yaml
//	calnotify validate --config ./config.yaml --env-file ./.env
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"calnotify/internal/app"
	"calnotify/internal/config"
	logx "calnotify/pkg/logx"
)

type globalFlags struct {
	config   string
	envFiles []string
}

func main() {
	var g globalFlags
	root := &cobra.Command{
		Use:           "calnotify",
		Short:         "Calendar reminder notifications for Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotenv(g.envFiles...)
		},
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "./config.yaml", "path to config (json or yaml)")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	root.AddCommand(runCmd(&g), eventsCmd(&g), validateCmd(&g))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot and the reminder scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := config.ReadEnv(os.Getenv)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(ctx, g.config, env)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			reason := app.StopSignal
			if ctx.Err() == nil {
				reason = app.StopFatalError
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}

func eventsCmd(g *globalFlags) *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the upcoming-events listing to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(g.config).Parse()
			if err != nil {
				return err
			}
			if err := app.Validate(cfg); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return app.PrintUpcoming(ctx, cfg, cmd.OutOrStdout(), time.Now(), logx.NewConsole(level))
		},
	}
	cmd.Flags().StringVar(&level, "log-level", "warn", "console log level")
	return cmd
}

func validateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and environment, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := config.ReadEnv(os.Getenv)
			if err != nil {
				return err
			}
			if _, err := app.CheckConfig(g.config, env); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (broadcast chat %d)\n", g.config, env.ChatID)
			return nil
		},
	}
}
