package scenetwin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/danielorbach/go-component"
)

func TestFailureReporterRateLimits(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	ctx := component.InjectLogger(context.Background(), logger)

	r := newFailureReporter(time.Hour)
	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 10 {
		r.failed(ctx, "arm", "forearm", stamp.Add(time.Duration(i)*time.Second), errors.New("no transform"))
	}
	r.failed(ctx, "arm", "gripper", stamp, errors.New("no transform"))
	if got := strings.Count(logs.String(), "Pose lookup failed"); got != 2 {
		t.Errorf("logged %d failures, want one per link:\n%s", got, logs.String())
	}
	if n := r.failing(); n != 2 {
		t.Errorf("failing() = %d, want 2", n)
	}

	logs.Reset()
	r.recovered(ctx, "arm", "forearm", stamp.Add(time.Minute))
	r.recovered(ctx, "arm", "base_link", stamp.Add(time.Minute))
	if got := strings.Count(logs.String(), "Pose lookup recovered"); got != 1 {
		t.Errorf("logged %d recoveries, want 1:\n%s", got, logs.String())
	}
	if !strings.Contains(logs.String(), "unavailable-for=1m0s") {
		t.Errorf("recovery log lacks the outage duration:\n%s", logs.String())
	}

	// After recovering, the next failure is reported right away.
	logs.Reset()
	r.failed(ctx, "arm", "forearm", stamp.Add(2*time.Minute), errors.New("no transform"))
	if got := strings.Count(logs.String(), "Pose lookup failed"); got != 1 {
		t.Errorf("logged %d failures after recovery, want 1:\n%s", got, logs.String())
	}
}

func TestFailureReporterZeroIntervalLogsEverything(t *testing.T) {
	var logs bytes.Buffer
	ctx := component.InjectLogger(context.Background(), slog.New(slog.NewTextHandler(&logs, nil)))
	r := newFailureReporter(0)
	for range 3 {
		r.failed(ctx, "arm", "forearm", time.Time{}, ErrPoseUnavailable)
	}
	if got := strings.Count(logs.String(), "Pose lookup failed"); got != 3 {
		t.Errorf("logged %d failures, want 3:\n%s", got, logs.String())
	}
}
