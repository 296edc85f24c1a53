package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"der/internal/pipeline"
)

var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and returns the process exit code.
func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "der: %v\n", err)
		return pipeline.ExitCode(err)
	}
	return pipeline.ExitOK
}
