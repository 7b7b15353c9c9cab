package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

func TestToBindingViews(t *testing.T) {
	parent := uuid.New()
	updated := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	views := toBindingViews([]domain.Binding{
		{ID: uuid.New(), QueueID: uuid.New(), QueueName: "Sales", HandlerID: uuid.New(), Weight: 2, UpdatedAt: updated},
		{ID: uuid.New(), QueueID: uuid.New(), QueueName: "Support", HandlerID: uuid.New(), ParentID: &parent, UpdatedAt: updated},
	})

	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if views[0].ParentID != nil {
		t.Errorf("expected no parent on first binding")
	}
	if views[1].ParentID == nil || *views[1].ParentID != parent.String() {
		t.Errorf("parent id not carried over: %+v", views[1].ParentID)
	}
	if views[0].UpdatedAt != "2026-03-02T09:00:00Z" {
		t.Errorf("updatedAt = %q", views[0].UpdatedAt)
	}
}

func TestOutputJSONIndents(t *testing.T) {
	var buf bytes.Buffer
	if err := outputJSON(&buf, map[string]int{"restored": 1}); err != nil {
		t.Fatalf("outputJSON: %v", err)
	}
	if !strings.Contains(buf.String(), "\n  \"restored\": 1") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestRebuildRejectsBadTenantBeforeConnecting(t *testing.T) {
	cmd := newMarkersRebuildCommand()
	cmd.SetArgs([]string{"--tenant", "not-a-uuid"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SilenceUsage = true

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid tenant id") {
		t.Fatalf("expected invalid tenant error, got %v", err)
	}
}
