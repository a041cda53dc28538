package main

import (
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *options) *cobra.Command {
	var skipInitial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run reconciliation passes on a cron schedule until interrupted",
		Long: `Run reconciliation passes on a cron schedule (standard 5-field syntax,
default every 30 minutes) until SIGINT or SIGTERM. A pass that is still running
when the next one comes due causes that tick to be skipped. Failed passes are
logged and retried on the next tick.`,
		Example: `  busysync watch --config busysync.yaml
  busysync watch --config busysync.yaml --schedule "*/10 8-18 * * 1-5"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := newScheduler(cmd.Context(), opts)
			if err != nil {
				return err
			}
			sched.RunAtStart = !skipInitial
			return sched.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "wait for the first scheduled tick instead of running immediately")
	return cmd
}
