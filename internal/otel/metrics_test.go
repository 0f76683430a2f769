package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hesham156/sys/pkg/models"
)

func TestInitMetrics_recorders(t *testing.T) {
	ctx := context.Background()
	handler, _, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics second call: %v", err)
	}
	RecordTransition(ctx, models.RoleIntake, models.StatusNew, models.StatusDesign, OutcomeAccepted)
	RecordTaskOp(ctx, "create")
	RecordNotification(ctx, "created", 2)
	RecordNotification(ctx, "failed", 0)
	RecordSSEEvent(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status=%d", rec.Code)
	}
}

func TestAddSSEConnection_RemoveSSEConnection(t *testing.T) {
	base := SSEConnections()
	AddSSEConnection()
	AddSSEConnection()
	if SSEConnections() != base+2 {
		t.Fatalf("after add: %d", SSEConnections())
	}
	RemoveSSEConnection()
	RemoveSSEConnection()
	for i := int64(0); i <= base; i++ {
		RemoveSSEConnection()
	}
	if SSEConnections() != 0 {
		t.Fatalf("gauge should stop at zero, got %d", SSEConnections())
	}
}

func TestRegisterGauges(t *testing.T) {
	ctx := context.Background()
	handler, _, err := InitMeterProvider(ctx, "gauges-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	err = RegisterGauges(Gauges{
		Subscriptions: func() int64 { return 3 },
		TaskCounts: func(context.Context) (map[models.Status]int64, error) {
			return map[models.Status]int64{models.StatusDesign: 4}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterGauges: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "printflow_subscriptions") || !strings.Contains(body, `status="design"`) {
		t.Fatalf("gauges missing from scrape:\n%s", body)
	}
	if err := RegisterGauges(Gauges{}); err != nil {
		t.Fatalf("RegisterGauges(empty): %v", err)
	}
}
