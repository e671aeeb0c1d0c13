package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/chunk-uploader/cli"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewLogger()
	envRepo := env.NewRepository()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		// A second interrupt terminates the process.
		signal.Reset(os.Interrupt, syscall.SIGTERM)
		logger.Warnf("Interrupted, waiting for in-flight chunks. Interrupt again to exit immediately.")
		cancel()
	}()

	return cli.Execute(ctx, logger, envRepo, os.Args)
}
