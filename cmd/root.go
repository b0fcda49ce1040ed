// Package cmd implements the rookboom CLI command tree.
// This file defines the root command and registers all global persistent flags.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/app"
	"github.com/rookboom/rookboom/internal/config"
)

// globalFlags holds the parsed values of all persistent (global) flags.
// Commands read from this struct via the deps they receive.
var globalFlags struct {
	BaseURL   string
	DBPath    string
	Principal string
	SitesFile string
	Format    string
	Out       string
	Timeout   string
	Rate      float64
	Quiet     bool
	Verbose   bool
	Debug     bool
}

// rootCmd is the base command. Running `rookboom` with no subcommand
// prints help.
var rootCmd = &cobra.Command{
	Use:   "rookboom",
	Short: "rookboom — meeting room availability from the command line",
	Long: `rookboom finds meeting rooms and times that suit every attendee.

It fetches room and attendee schedules from the booking service, narrows the
rooms with configurable attribute filters, scores every time frame by how
many attendees are free, and round-trips the whole view through a shareable
URL fragment.

Quick start:
  rookboom config init                              # write config.json and sites.yaml
  rookboom fetch all --date 2026-3-5 --at SF        # rooms, attendees and grid in one go
  rookboom view '#date=2026-3-5&attendees=ada'      # the full view behind a fragment
  rookboom hash decode '#date=2026-3-5&at=NY'       # inspect a fragment`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute is the entry point called by main.
func Execute() {
	registerCompletions()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog handler on stderr.
func setupLogging() {
	level := slog.LevelInfo
	switch {
	case globalFlags.Debug:
		level = slog.LevelDebug
	case globalFlags.Quiet:
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildDeps resolves config and constructs the dependency container.
// Called at the start of each command's RunE.
func buildDeps() (*app.Deps, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	cfg, err := config.Load(config.Flags{
		BaseURL:   globalFlags.BaseURL,
		DBPath:    globalFlags.DBPath,
		Principal: globalFlags.Principal,
		SitesFile: globalFlags.SitesFile,
	})
	if err != nil {
		return nil, err
	}

	// Apply CLI flag overrides
	cfg.Quiet = globalFlags.Quiet
	cfg.Verbose = globalFlags.Verbose
	cfg.Debug = globalFlags.Debug

	if globalFlags.Format != "" {
		cfg.Format = globalFlags.Format
	}
	if globalFlags.Timeout != "" {
		if d, err2 := time.ParseDuration(globalFlags.Timeout); err2 == nil {
			cfg.Timeout = d
		}
	}
	if globalFlags.Rate > 0 {
		cfg.Rate = globalFlags.Rate
	}

	return app.New(cfg), nil
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&globalFlags.BaseURL, "base-url", "",
		"booking service URL (overrides env ROOKBOOM_BASE_URL and config.json)")
	pf.StringVar(&globalFlags.DBPath, "db", "",
		"local store path (overrides env ROOKBOOM_DB_PATH and config.json)")
	pf.StringVar(&globalFlags.Principal, "principal", "",
		"signed-in user, always added as an attendee (overrides env ROOKBOOM_PRINCIPAL)")
	pf.StringVar(&globalFlags.SitesFile, "sites", "",
		"site catalogue YAML (default: sites.yaml)")
	pf.StringVar(&globalFlags.Format, "format", "",
		"output format: table|json|jsonl|csv|tsv|md (default: table)")
	pf.StringVar(&globalFlags.Out, "out", "",
		"write output to file instead of stdout")
	pf.StringVar(&globalFlags.Timeout, "timeout", "",
		"HTTP request timeout (e.g. 30s, 2m)")
	pf.Float64Var(&globalFlags.Rate, "rate", 0,
		"max service requests per second (default: 5.0)")
	pf.BoolVar(&globalFlags.Quiet, "quiet", false,
		"suppress all non-error output")
	pf.BoolVar(&globalFlags.Verbose, "verbose", false,
		"show store/timing stats after output")
	pf.BoolVar(&globalFlags.Debug, "debug", false,
		"log service requests and session events")
}
