package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/ddictl/internal/client/cli"
)

func main() {

	// An interrupt cancels the context; a running upload stops at the next
	// chunk boundary and is left paused.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}
