package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestStatuses_allValidWithLabels(t *testing.T) {
	if len(Statuses) != 7 {
		t.Fatalf("expected 7 statuses, got %d", len(Statuses))
	}
	seen := map[string]bool{}
	for _, s := range Statuses {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
		if s.Label() == string(s) {
			t.Errorf("%s has no label", s)
		}
		if seen[s.Label()] {
			t.Errorf("duplicate label %q", s.Label())
		}
		seen[s.Label()] = true
	}
	if Status("management_review").Valid() {
		t.Error("unknown status reported valid")
	}
	if got := Status("bogus").Label(); got != "bogus" {
		t.Errorf("unknown label falls back to the raw value, got %q", got)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("review")
	if err != nil || s != StatusReview {
		t.Fatalf("ParseStatus(review) = %q, %v", s, err)
	}
	if _, err := ParseStatus("Review"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("statuses are case sensitive: %v", err)
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		if got, err := ParseRole(string(r)); err != nil || got != r {
			t.Errorf("ParseRole(%s) = %q, %v", r, got, err)
		}
	}
	if _, err := ParseRole("admin"); !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "admin") {
		t.Fatalf("ParseRole(admin): %v", err)
	}
}

func TestPriority_Valid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Priority("urgent").Valid() || Priority("").Valid() {
		t.Error("unexpected valid priority")
	}
}

func TestTaskPatch_Empty(t *testing.T) {
	if !(TaskPatch{}).Empty() {
		t.Fatal("zero patch should be empty")
	}
	title := "x"
	if (TaskPatch{Title: &title}).Empty() {
		t.Fatal("patch with title is not empty")
	}
	var none []string
	if (TaskPatch{Attachments: &none}).Empty() {
		t.Fatal("clearing attachments is a change")
	}

	var p TaskPatch
	if err := json.Unmarshal([]byte(`{"priority":"high"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Empty() || *p.Priority != PriorityHigh || p.Title != nil {
		t.Fatalf("decoded patch: %+v", p)
	}
}
