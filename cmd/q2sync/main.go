// Command q2sync runs the state synchronization server and a headless
// client for it.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type logFlags struct {
	level string
	json  bool
}

func (f *logFlags) logger() (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(f.level))); err != nil {
		return nil, fmt.Errorf("bad --log-level %q: %w", f.level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if f.json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func main() {
	var lf logFlags

	rootCmd := &cobra.Command{
		Use:   "q2sync",
		Short: "Delta-compressed world state synchronization over websockets",
		Long: `q2sync runs an authoritative tick server that sends every client a
delta-compressed snapshot of the entities it can see, and a headless client
that decodes those snapshots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&lf.level, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&lf.json, "log-json", false, "Log as JSON")

	rootCmd.AddCommand(
		serveCmd(&lf),
		connectCmd(&lf),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
