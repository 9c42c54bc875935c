package health

import (
	"context"
	"errors"
	"testing"
)

func TestCheckerReady(t *testing.T) {
	c := NewChecker(
		Probe{Name: "ok", Check: func(ctx context.Context) error { return nil }},
		Probe{Name: "bad", Check: func(ctx context.Context) error { return errors.New("down") }},
	)

	if c.Ready() {
		t.Error("checker should not be ready before the first check")
	}

	c.check(context.Background())
	if c.Ready() {
		t.Error("checker should not be ready with a failing probe")
	}

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Healthy || statuses[1].Healthy {
		t.Errorf("unexpected statuses: %+v", statuses)
	}
	if statuses[1].Error != "down" {
		t.Errorf("expected error message, got %q", statuses[1].Error)
	}
}

func TestCheckerAllHealthy(t *testing.T) {
	c := NewChecker(
		Probe{Name: "a", Check: func(ctx context.Context) error { return nil }},
	)
	c.check(context.Background())
	if !c.Ready() {
		t.Error("checker should be ready when all probes pass")
	}
}
