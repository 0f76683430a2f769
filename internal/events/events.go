// Package events publishes committed task changes for consumers outside the server,
// such as reporting jobs and dwell-time analytics.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hesham156/sys/pkg/models"
)

// Event types.
const (
	TypeCreated    = "task.created"
	TypeUpdated    = "task.updated"
	TypeTransition = "task.transition"
	TypeComment    = "task.comment"
	TypeDeleted    = "task.deleted"
)

// Event is the JSON body of one published message.
type Event struct {
	Type        string         `json:"type"`
	TaskID      string         `json:"taskId"`
	FromStatus  *models.Status `json:"fromStatus,omitempty"`
	ToStatus    *models.Status `json:"toStatus,omitempty"`
	PerformedBy string         `json:"performedBy"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Publisher delivers events. Publishing is best effort: callers log errors and move on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps events in memory; used by tests and the doctor command.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// DefaultSubject is the subject prefix when none is configured.
const DefaultSubject = "printflow.tasks"

// NATSPublisher publishes each event to <subject>.<type>, e.g. printflow.tasks.task.transition.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool

	mu     sync.Mutex
	closed bool
}

// ConnectNATS dials url and returns a publisher that owns the connection.
func ConnectNATS(url, subject string) (*NATSPublisher, error) {
	if url == "" {
		return nil, errors.New("nats url required")
	}
	nc, err := nats.Connect(url,
		nats.Name("printflow"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := NewNATSPublisher(nc, subject)
	p.owned = true
	return p, nil
}

// NewNATSPublisher wraps an existing connection; Close does not close nc.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	subject = strings.TrimSuffix(subject, ".")
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// Subject returns the full subject an event of type typ is published on.
func (p *NATSPublisher) Subject(typ string) string {
	return p.subject + "." + typ
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("nats publisher closed")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(e.Type), data)
}

// Close flushes pending messages, and closes the connection when the publisher dialed it.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.owned {
		return p.nc.Flush()
	}
	err := p.nc.FlushTimeout(2 * time.Second)
	p.nc.Close()
	return err
}
