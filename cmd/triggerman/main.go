package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kildevaeld/triggerman/abort"
	"github.com/kildevaeld/triggerman/manager"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "triggerman",
	Short: "Trigger-driven task runner for script-hosted handlers",
	Long: `triggerman scans a directory of tasks, watches each one's configured
trigger (a named manual poke or a set of filesystem paths), and invokes its
script handler whenever the trigger fires.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	levelStr, _ := rootCmd.PersistentFlags().GetString("log-level")
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against a tasks directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasksDir, _ := cmd.Flags().GetString("tasks")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		ab := abort.New()
		go func() {
			<-ctx.Done()
			log.Info().Msg("interrupt received, shutting down")
			ab.Trip()
		}()

		mgr := manager.New(tasksDir)

		log.Info().Str("tasks", tasksDir).Msg("starting triggerman")
		if err := mgr.Run(ctx, ab); err != nil {
			return fmt.Errorf("triggerman: %w", err)
		}

		log.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("tasks", "./tasks", "path to the tasks directory")
}
