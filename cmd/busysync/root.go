package main

import (
	"github.com/spf13/cobra"

	"github.com/beekhof/busysync/internal/config"
	"github.com/beekhof/busysync/internal/logging"
)

// options holds the flags shared by every subcommand.
type options struct {
	configFile string
	envFiles   []string
	verbose    bool
	logFormat  string
	dryRun     bool
	noBrowser  bool
	overrides  config.Overrides
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "busysync",
		Short: "Mirror busy time from one calendar onto another",
		Long: `busysync performs a one-way sync from a source calendar to a target
calendar. Every event in the source calendar within the look-ahead window
becomes a private block in the target calendar, titled "Busy" by default and
carrying none of the source event's details.

Only blocks that busysync recognises as its own are ever changed or deleted.
Under the default "time" strategy that means target events titled exactly like
the block title; under the "identity" strategy it means target events whose
description contains the sync tag.

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (optionally seeded from .env files)
    3. Config file (--config, JSON or YAML)
    4. Defaults

ENVIRONMENT VARIABLES:
    SOURCE_CALENDAR_ID, SOURCE_PROVIDER, SOURCE_TOKEN_PATH,
    SOURCE_CALDAV_SERVER_URL, SOURCE_CALDAV_USERNAME, SOURCE_CALDAV_PASSWORD,
    TARGET_* (same names as SOURCE_*), GOOGLE_CREDENTIALS_PATH,
    LOOK_AHEAD_DAYS, BLOCK_TITLE, SYNC_TAG, SYNC_STRATEGY, SYNC_SCHEDULE,
    RUN_TIMEOUT, FAIL_FAST, SKIP_FREE_EVENTS, LOG_LEVEL, LOG_FORMAT`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// LOG_LEVEL and LOG_FORMAT may come from the .env files.
			err := config.LoadDotEnv(opts.envFiles...)
			logger := logging.Setup(logging.Options{Verbose: opts.verbose, Format: opts.logFormat})
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return err
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to a JSON or YAML config file")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env", ".env.local"}, ".env files to seed the environment from (missing files are skipped)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&opts.logFormat, "log-format", "", `log format: "console" or "json" (default: console on a terminal)`)
	flags.BoolVar(&opts.dryRun, "dry-run", false, "log the changes a pass would make without applying them")
	flags.BoolVar(&opts.noBrowser, "no-browser", false, "read the Google authorization code from stdin instead of a local callback server")

	o := &opts.overrides
	flags.StringVar(&o.SourceCalendarID, "source-calendar", "", "source calendar ID (overrides SOURCE_CALENDAR_ID)")
	flags.StringVar(&o.TargetCalendarID, "target-calendar", "", "target calendar ID (overrides TARGET_CALENDAR_ID)")
	flags.StringVar(&o.GoogleCredentialsPath, "google-credentials-path", "", "Google OAuth client secrets file (overrides GOOGLE_CREDENTIALS_PATH)")
	flags.IntVar(&o.LookAheadDays, "look-ahead-days", 0, "days to mirror ahead of now (default 14)")
	flags.StringVar(&o.BlockTitle, "block-title", "", `title of mirrored blocks (default "Busy")`)
	flags.StringVar(&o.SyncTag, "sync-tag", "", `marker written into block descriptions (default "#busysync")`)
	flags.StringVar(&o.Strategy, "strategy", "", `matching strategy: "time" or "identity" (default "time")`)
	flags.StringVar(&o.Schedule, "schedule", "", `cron schedule for watch (default "*/30 * * * *")`)
	flags.DurationVar(&o.RunTimeout, "run-timeout", 0, "deadline for a single pass (default 5m)")
	flags.BoolVar(&o.FailFast, "fail-fast", false, "abort a pass at the first failed calendar change")
	flags.BoolVar(&o.SkipFreeEvents, "skip-free-events", false, "do not mirror source events marked as free")

	cmd.AddCommand(newSyncCmd(opts), newWatchCmd(opts))
	return cmd
}
