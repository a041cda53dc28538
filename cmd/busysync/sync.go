package main

import (
	"github.com/spf13/cobra"
)

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single reconciliation pass and exit",
		Long: `Run a single reconciliation pass and exit. The exit status is non-zero
when the configuration is invalid, a calendar cannot be reached, or any block
could not be created, updated or deleted.`,
		Example: `  busysync sync --config busysync.yaml
  busysync sync --config busysync.yaml --dry-run --verbose
  SOURCE_CALENDAR_ID=me@example.com busysync sync --target-calendar work@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return sched.RunOnce(cmd.Context())
		},
	}
}
