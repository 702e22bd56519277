// Command reprise operates the data directory of a reprise node.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/reprisedb/go-reprise/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.NewRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}
