// ABOUTME: Entry point for coven-auth, the session and permission CLI
// ABOUTME: Signs in to the identity service and reports what the session may do

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
