// Command fleetwatch runs the fleet telemetry fan-out server and its terminal
// viewer.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roadbuddy/fleetwatch/cmd/fleetwatch/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.NewRootCommand(ctx).Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
