package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClampClaimLimit(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 1},
		{-5, 1},
		{1, 1},
		{5, 5},
		{20, 20},
		{50, 20},
	}
	for _, c := range cases {
		if got := ClampClaimLimit(c.in); got != c.want {
			t.Errorf("ClampClaimLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestClampLease(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{0, 10 * time.Second},
		{time.Second, 10 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{120 * time.Second, 120 * time.Second},
		{10 * time.Minute, 120 * time.Second},
	}
	for _, c := range cases {
		if got := ClampLease(c.in); got != c.want {
			t.Errorf("ClampLease(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Error("serialization failure should be retryable")
	}
	if !IsRetryable(&pgconn.PgError{Code: "40P01"}) {
		t.Error("deadlock should be retryable")
	}
	if IsRetryable(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation should not be retryable")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("arbitrary errors should not be retryable")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "idx_monitors_active"}
	if !isUniqueViolation(err, "") {
		t.Error("any-constraint match failed")
	}
	if !isUniqueViolation(err, "idx_monitors_active") {
		t.Error("named-constraint match failed")
	}
	if isUniqueViolation(err, "other_constraint") {
		t.Error("mismatched constraint should not match")
	}
	if isUniqueViolation(errors.New("boom"), "") {
		t.Error("non-pg error should not match")
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error retried %d times, want 1", calls)
	}
}
