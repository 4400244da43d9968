// Command scrollharvest collects the rows of an infinitely scrolling list
// and compares harvested lists.
//
// Usage:
//
//	scrollharvest harvest --config harvest.yaml --user someone
//	scrollharvest harvest --user someone --target followers --out data
//	scrollharvest report --followers data/followers.json --following data/following.json --out data
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:           "scrollharvest",
	Short:         "Harvest virtualised infinite-scroll lists and compare them.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this rotated file (overrides config)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "scrollharvest:", err)
		os.Exit(1)
	}
}

// logOptions is the merged view of the log config section and flags.
type logOptions struct {
	Level      string
	File       string
	Console    bool
	MaxSizeMB  int
	MaxBackups int
}

// newLogger builds the JSON slog logger. Output goes to stderr when
// console is on and to a lumberjack-rotated file when File is set.
func newLogger(o logOptions) (*slog.Logger, io.Closer) {
	var level slog.Level
	switch strings.ToLower(o.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	if o.Console {
		writers = append(writers, os.Stderr)
	}
	if o.File != "" {
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			LocalTime:  true,
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
