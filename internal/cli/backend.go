package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/daemon"
	"github.com/hesham156/sys/pkg/models"
)

// session carries the persistent flags down to subcommands.
type session struct {
	actor string
	quiet bool
}

type sessionKey struct{}

func withSession(ctx context.Context, s session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) session {
	s, _ := ctx.Value(sessionKey{}).(session)
	return s
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lv slog.Level
	if level != "" {
		if err := lv.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), nil
}

// commandLogger is the logger for one-shot commands: warnings only unless --log-level was given.
func commandLogger(cmd *cobra.Command) *slog.Logger {
	if sessionFrom(cmd.Context()).quiet {
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return slog.Default()
}

func openBackend(cmd *cobra.Command) (*daemon.Backend, string, error) {
	home := config.MustHomeFrom(cmd.Context())
	cfg, err := config.Load(home)
	if err != nil {
		return nil, "", err
	}
	b, err := daemon.OpenBackend(cmd.Context(), home, cfg, commandLogger(cmd))
	if err != nil {
		return nil, "", err
	}
	return b, home, nil
}

// withBackend opens the configured store for one command and resolves --as into the actor.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *daemon.Backend, actor models.User) error) error {
	ctx := cmd.Context()
	uid := sessionFrom(ctx).actor
	if uid == "" {
		return errors.New("--as <uid> is required (or set PRINTFLOW_AS)")
	}
	b, home, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	actor, err := b.Resolver.Resolve(ctx, uid)
	if err != nil {
		return fmt.Errorf("%w (add members with `printflow user add` or under %s)", err, home)
	}
	return fn(ctx, b, actor)
}
