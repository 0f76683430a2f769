package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvHome names the environment variable that relocates the printflow home.
const EnvHome = "PRINTFLOW_HOME"

type homeKey struct{}

// WithHome attaches the resolved home directory to ctx for subcommands.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the home attached by WithHome.
func HomeFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(homeKey{}).(string)
	return s, ok && s != ""
}

// MustHomeFrom is HomeFrom for commands that run after the root pre-run; it panics when
// no home was attached.
func MustHomeFrom(ctx context.Context) string {
	h, ok := HomeFrom(ctx)
	if !ok {
		panic("config: printflow home missing from context")
	}
	return h
}

// ResolveHome picks the home directory: the --home override, then $PRINTFLOW_HOME, then
// ~/.printflow. A leading ~ is expanded and the result is absolute.
func ResolveHome(override string) (string, error) {
	raw := override
	if raw == "" {
		raw = os.Getenv(EnvHome)
	}
	if raw == "" {
		raw = filepath.Join("~", ".printflow")
	}
	if raw == "~" || strings.HasPrefix(raw, "~"+string(filepath.Separator)) {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", raw, err)
		}
		raw = filepath.Join(userHome, strings.TrimPrefix(raw, "~"))
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", raw, err)
	}
	return abs, nil
}
