// Command busysync mirrors busy time from one calendar onto another as
// private "Busy" blocks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/beekhof/busysync/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.Default().Error().Err(err).Msg("busysync failed")
		cancel()
		os.Exit(1)
	}
}
