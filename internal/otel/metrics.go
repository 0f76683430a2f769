package otel

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"

	"github.com/hesham156/sys/pkg/models"
)

var (
	initMetricsOnce    sync.Once
	initMetricsErr     error
	transitionsCounter metric.Int64Counter
	taskOpsCounter     metric.Int64Counter
	notifCounter       metric.Int64Counter
	sseEventsCounter   metric.Int64Counter
	sseConnections     atomic.Int64
)

// Transition outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeDenied   = "denied"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	initMetricsOnce.Do(func() {
		m := Meter()
		var err error
		defer func() { initMetricsErr = err }()
		transitionsCounter, err = m.Int64Counter("printflow_transitions_total", metric.WithDescription("Status transitions requested, by role, from, to and outcome"))
		if err != nil {
			return
		}
		taskOpsCounter, err = m.Int64Counter("printflow_task_operations_total", metric.WithDescription("Committed task operations (create, update, delete, comment)"))
		if err != nil {
			return
		}
		notifCounter, err = m.Int64Counter("printflow_notifications_total", metric.WithDescription("Notification writes by outcome"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("printflow_sse_events_total", metric.WithDescription("Total SSE events written"))
		if err != nil {
			return
		}
		var sseGauge metric.Int64ObservableGauge
		sseGauge, err = m.Int64ObservableGauge("printflow_sse_connections", metric.WithDescription("Current SSE stream count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(sseGauge, sseConnections.Load())
			return nil
		}, sseGauge)
	})
	return initMetricsErr
}

// RecordTransition counts one transition request.
func RecordTransition(ctx context.Context, role models.Role, from, to models.Status, outcome string) {
	if transitionsCounter == nil {
		return
	}
	transitionsCounter.Add(ctx, 1, metric.WithAttributes(
		AttrRole.String(string(role)),
		AttrFrom.String(string(from)),
		AttrTo.String(string(to)),
		AttrOutcome.String(outcome),
	))
}

// RecordTaskOp records a committed task operation.
func RecordTaskOp(ctx context.Context, op string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op)))
}

// RecordNotification counts n notification writes with the given outcome ("created" or "failed").
func RecordNotification(ctx context.Context, outcome string, n int) {
	if notifCounter == nil || n <= 0 {
		return
	}
	notifCounter.Add(ctx, int64(n), metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordSSEEvent records one SSE event written.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on connect).
func AddSSEConnection() {
	sseConnections.Add(1)
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge; it never goes negative.
func RemoveSSEConnection() {
	for {
		n := sseConnections.Load()
		if n <= 0 || sseConnections.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// SSEConnections returns the current gauge value.
func SSEConnections() int64 {
	return sseConnections.Load()
}

// Gauges are the observable values read on each scrape. Nil funcs are not reported.
type Gauges struct {
	// Subscriptions returns the number of live subscriptions.
	Subscriptions func() int64
	// TaskCounts returns the number of tasks per status.
	TaskCounts func(ctx context.Context) (map[models.Status]int64, error)
}

// RegisterGauges creates printflow_subscriptions and printflow_tasks_total for g.
// Call after InitMeterProvider, once per provider.
func RegisterGauges(g Gauges) error {
	m := Meter()
	var instruments []metric.Observable
	var subsGauge metric.Int64ObservableGauge
	var tasksGauge metric.Int64ObservableGauge
	var err error
	if g.Subscriptions != nil {
		subsGauge, err = m.Int64ObservableGauge("printflow_subscriptions", metric.WithDescription("Live task and inbox subscriptions"))
		if err != nil {
			return err
		}
		instruments = append(instruments, subsGauge)
	}
	if g.TaskCounts != nil {
		tasksGauge, err = m.Int64ObservableGauge("printflow_tasks_total", metric.WithDescription("Number of tasks by status"))
		if err != nil {
			return err
		}
		instruments = append(instruments, tasksGauge)
	}
	if len(instruments) == 0 {
		return nil
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		if g.Subscriptions != nil {
			o.ObserveInt64(subsGauge, g.Subscriptions())
		}
		if g.TaskCounts != nil {
			counts, err := g.TaskCounts(ctx)
			if err != nil {
				return err
			}
			for _, s := range models.Statuses {
				o.ObserveInt64(tasksGauge, counts[s], metric.WithAttributes(AttrStatus.String(string(s))))
			}
		}
		return nil
	}, instruments...)
	return err
}
