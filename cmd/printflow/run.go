package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hesham156/sys/internal/cli"
	"github.com/hesham156/sys/pkg/models"
)

// Run executes the CLI and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	return run(ctx, args, os.Stderr)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintln(stderr, "Error:", err.Error())
		return exitCode(err)
	}
	return 0
}

// exitCode is 3 for refused actors, 4 for missing records, 5 for conflicts and 1 otherwise.
func exitCode(err error) int {
	switch {
	case errors.Is(err, models.ErrPermissionDenied), errors.Is(err, models.ErrUnauthenticated):
		return 3
	case errors.Is(err, models.ErrNotFound):
		return 4
	case errors.Is(err, models.ErrConflict):
		return 5
	default:
		return 1
	}
}
