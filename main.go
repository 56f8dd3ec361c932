package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"

	_ "time/tzdata"
)

// Version is set via -ldflags at build time.
var Version = "dev"

const exitInterrupted = 130

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and maps its outcome to an exit code. A panic is
// reported, with a stack trace in debug mode, instead of crashing.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) (code int) {
	state := &cliState{}

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "fatal: %v\n", r)
			if state.debug {
				stderr.Write(debug.Stack())
			}
			code = 1
		}
	}()

	app := newCLIApp(stdout, state)
	if err := app.RunContext(ctx, args); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "interrupted")
			return exitInterrupted
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
