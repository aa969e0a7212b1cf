// Command fathom is the entry point for the web-path discovery engine's
// CLI. It builds a context that is cancelled on SIGINT/SIGTERM so a
// running scan unwinds cleanly and reports exit code 2 for an
// interrupted run, then hands off to the cobra command tree.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathomsec/fathom/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(cmd.Execute(ctx))
}
