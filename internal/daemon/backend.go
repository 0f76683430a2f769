package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hesham156/sys/internal/capabilities"
	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/events"
	"github.com/hesham156/sys/internal/identity"
	"github.com/hesham156/sys/internal/store"
	"github.com/hesham156/sys/internal/store/postgres"
	"github.com/hesham156/sys/internal/tasks"
)

// OpenStore opens the backend selected by cfg.DB.
func OpenStore(home string, db config.DBConfig) (store.Store, error) {
	switch db.Driver {
	case "postgres":
		return postgres.Open(db.URL)
	case "", "sqlite":
		if db.URL != "" {
			return store.OpenFile(db.URL)
		}
		return store.Open(home)
	default:
		return nil, fmt.Errorf("unknown db driver %q", db.Driver)
	}
}

// Backend is everything a printflow process needs to serve or run one command.
type Backend struct {
	// Driver is the store backend in use, "sqlite" or "postgres".
	Driver   string
	Store    store.Store
	Service  *tasks.Service
	Resolver *identity.Resolver
	Events   events.Publisher
	Alerts   *capabilities.Registry
}

// OpenBackend opens the store, loads member files into it, and connects the optional
// event bus and alert channels named in cfg.
func OpenBackend(ctx context.Context, home string, cfg *config.Config, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := OpenStore(home, cfg.DB)
	if err != nil {
		return nil, err
	}
	n, err := identity.SyncMembers(ctx, st, home)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if n > 0 {
		log.Debug("members synced", "count", n)
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		p, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			// Events are best effort; serve without them.
			log.Warn("nats connect failed, events disabled", "url", cfg.NATS.URL, "err", err)
		} else {
			pub = p
		}
	}

	alerts := capabilities.NewRegistry()
	if cfg.Slack.WebhookURL != "" {
		alerts.Register(capabilities.SlackWebhook{WebhookURL: cfg.Slack.WebhookURL, Channel: cfg.Slack.Channel, Username: "printflow"})
	}
	if cfg.Webhook.URL != "" {
		alerts.Register(capabilities.Webhook{URL: cfg.Webhook.URL})
	}

	svc, err := tasks.New(tasks.Options{
		Store:       st,
		Events:      pub,
		Alerts:      alerts,
		Log:         log,
		Parallelism: cfg.Notify.Parallelism,
	})
	if err != nil {
		_ = pub.Close()
		_ = st.Close()
		return nil, err
	}
	driver := cfg.DB.Driver
	if driver == "" {
		driver = "sqlite"
	}
	return &Backend{Driver: driver, Store: st, Service: svc, Resolver: identity.NewResolver(st), Events: pub, Alerts: alerts}, nil
}

// Close stops subscriptions, flushes events and closes the store.
func (b *Backend) Close() error {
	b.Service.Close()
	return errors.Join(b.Events.Close(), b.Store.Close())
}
