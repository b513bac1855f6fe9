package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lampwatch/lampwatch/cmd"
	"github.com/lampwatch/lampwatch/internal/conf"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := &conf.Settings{}
	if err := cmd.RootCommand(settings).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "lampwatch: %v\n", err)
		stop()
		os.Exit(1)
	}
}
