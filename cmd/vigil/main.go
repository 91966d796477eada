// Command vigil serves driver monitoring over WebRTC and HTTP and runs
// recorded videos through the same metrics from the command line.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

var debugF bool

var rootCmd = &cobra.Command{
	Use:           "vigil",
	Short:         "Driver drowsiness and distraction monitoring",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugF, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd, processCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("vigil failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the tint console logger and installs it as the default.
func newLogger(w io.Writer, level string, debug bool) *slog.Logger {
	lvl := parseLevel(level)
	if debug {
		lvl = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
