package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hesham156/sys/internal/audit"
	"github.com/hesham156/sys/pkg/models"
)

func TestOpen_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()
	ctx := context.Background()

	clock := audit.NewClock()
	at := clock.Now()
	id := uuid.NewString()
	task := models.Task{
		ID: id, Title: "Banner", Priority: models.PriorityHigh, Status: models.StatusNew,
		CreatedBy: "intake-1", CreatedAt: at, UpdatedAt: at,
		Attachments: []string{"banner.ai"},
		History:     []models.HistoryEntry{audit.Created("intake-1", at)},
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	defer func() { _ = st.DeleteTask(ctx, id) }()

	entry := audit.StatusChanged(models.StatusNew, models.StatusDesign, "intake-1", clock.Now(), "")
	if err := st.CommitTransition(ctx, id, models.StatusNew, entry); err != nil {
		t.Fatalf("CommitTransition: %v", err)
	}
	if err := st.CommitTransition(ctx, id, models.StatusNew, entry); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("stale CommitTransition: expected ErrConflict, got %v", err)
	}
	got, err := st.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.StatusDesign || len(got.History) != 2 || len(got.Attachments) != 1 {
		t.Fatalf("GetTask: %+v", got)
	}
	due := at.Add(24 * time.Hour)
	if err := st.UpdateTask(ctx, id, models.TaskPatch{DueDate: &due}, clock.Now(), &got.UpdatedAt); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if _, err := st.GetTask(ctx, uuid.NewString()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing task: expected ErrNotFound, got %v", err)
	}
}
