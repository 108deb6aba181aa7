package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"folio/api/internal/cli"
	"folio/api/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(config.Load())
	err := cli.RootCmd(app).ExecuteContext(ctx)
	if cerr := app.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
