package scenetwin

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
	"golang.org/x/time/rate"
)

// A failureReporter logs pose lookup failures per link, at most once per
// interval for each link, so that a link that stays unavailable for minutes
// does not flood the log at the tick rate. Every failure still counts towards
// the lookup failure metric.
//
// The Ingestor calls it while holding the write permit, which serialises all
// calls; it is not safe for concurrent use otherwise.
type failureReporter struct {
	interval time.Duration
	nodes    map[string]*nodeFailures
}

type nodeFailures struct {
	sometimes *rate.Sometimes
	// suppressed counts the failures since the last logged one.
	suppressed int
	since      time.Time
}

func newFailureReporter(interval time.Duration) *failureReporter {
	return &failureReporter{
		interval: interval,
		nodes:    make(map[string]*nodeFailures),
	}
}

// failed reports that node could not be looked up during the tick stamped at.
func (r *failureReporter) failed(ctx context.Context, robot, node string, stamp time.Time, err error) {
	measureLookupFailure(ctx, robot)
	f, ok := r.nodes[node]
	if !ok {
		f = &nodeFailures{since: stamp}
		if r.interval > 0 {
			f.sometimes = &rate.Sometimes{Interval: r.interval}
		} else {
			f.sometimes = &rate.Sometimes{Every: 1}
		}
		r.nodes[node] = f
	}
	logged := false
	f.sometimes.Do(func() {
		logged = true
		component.Logger(ctx).Warn("Pose lookup failed, keeping last known transform",
			slog.String("robot", robot),
			slog.String("node", node),
			slog.Int("suppressed", f.suppressed),
			slog.Time("failing-since", f.since),
			slog.Any("error", err),
		)
	})
	if logged {
		f.suppressed = 0
	} else {
		f.suppressed++
	}
}

// recovered reports that node was looked up successfully; if it was failing,
// the recovery is logged and its rate limit is reset.
func (r *failureReporter) recovered(ctx context.Context, robot, node string, stamp time.Time) {
	f, ok := r.nodes[node]
	if !ok {
		return
	}
	delete(r.nodes, node)
	component.Logger(ctx).Info("Pose lookup recovered",
		slog.String("robot", robot),
		slog.String("node", node),
		slog.Duration("unavailable-for", stamp.Sub(f.since)),
	)
}

// failing returns the number of links whose latest lookup failed.
func (r *failureReporter) failing() int { return len(r.nodes) }
