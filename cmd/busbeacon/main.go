package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type App struct {
	Debug bool
}

func main() {
	if err := NewRootCmd(&App{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "busbeacon",
		Short:         "Track nearby buses and the closest stop from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().BoolVar(&app.Debug, "debug", false, "Log at debug level regardless of LOG_LEVEL")

	cmd.AddCommand(NewWatchCmd(app))
	cmd.AddCommand(NewDistanceCmd(app))

	return cmd
}

func setupLogging(level slog.Level, debug bool) {
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
