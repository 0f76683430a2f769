package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hesham156/sys/pkg/models"
)

func TestRun_help(t *testing.T) {
	ctx := context.Background()
	code := Run(ctx, []string{"--help"})
	if code != 0 {
		t.Errorf("Run --help: got exit code %d", code)
	}
}

func TestRun_version(t *testing.T) {
	ctx := context.Background()
	code := Run(ctx, []string{"--version"})
	if code != 0 {
		t.Errorf("Run --version: got exit code %d", code)
	}
}

func TestRun_unknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--unknown-flag"}, &stderr)
	if code != 1 {
		t.Errorf("Run --unknown-flag: got exit code %d, want 1", code)
	}
	if !strings.HasPrefix(stderr.String(), "Error: ") {
		t.Errorf("stderr: %q", stderr.String())
	}
}

func TestRun_unknownActor(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--home", t.TempDir(), "--as", "ghost", "task", "list"}, &stderr)
	if code != 3 {
		t.Errorf("unknown actor: got exit code %d (%s), want 3", code, stderr.String())
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrPermissionDenied, 3},
		{fmt.Errorf("wrap: %w", models.ErrUnauthenticated), 3},
		{models.ErrNotFound, 4},
		{models.ErrConflict, 5},
		{models.ErrInvalid, 1},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
