// Package main is the crewsim command: it runs the crew simulation headless for a fixed
// number of steps or as a long-lived host behind the web control surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Signal handling lives here so deferred cleanup in commands runs before exit.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewsim: %v\n", err)
		os.Exit(1)
	}
}
