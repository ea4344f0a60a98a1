package scenetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-digitaltwin/scenetwin"
)

// A Feeder makes a pose known to the PoseSource under test, as its
// publisher would.
type Feeder interface {
	// Feed makes node known at pose p relative to reference, as of stamp.
	Feed(reference, node string, p scenetwin.Pose, stamp time.Time)
}

// approx compares poses up to floating-point error.
var approx = cmpopts.EquateApprox(0, 1e-9)

// RunPoseSource checks that source behaves as the scenetwin.Ingestor expects
// of a PoseSource: it finds the latest pose fed to it, reports anything else
// as unavailable, and honours cancellation.
//
// Each sub-test uses its own node names, so a single source may serve the
// whole suite.
func RunPoseSource(t *testing.T, source scenetwin.PoseSource, feed Feeder) {
	const reference = "world"
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("UnknownNode", func(t *testing.T) {
		res := source.LookupLatest(context.Background(), reference, "never-fed")
		if _, _, ok := res.Pose(); ok {
			t.Fatal("LookupLatest() found a pose for a node that was never fed")
		}
		if res.Err() == nil {
			t.Error("LookupLatest() failed without an error")
		}
	})

	t.Run("Found", func(t *testing.T) {
		want := Translation(1, 2, 3)
		feed.Feed(reference, "found", want, epoch)
		got, stamp, ok := source.LookupLatest(context.Background(), reference, "found").Pose()
		if !ok {
			t.Fatal("LookupLatest() found no pose")
		}
		if diff := cmp.Diff(want, got, approx); diff != "" {
			t.Errorf("LookupLatest() pose mismatch (-want +got):\n%s", diff)
		}
		if !stamp.Equal(epoch) {
			t.Errorf("LookupLatest() stamp = %v, want %v", stamp, epoch)
		}
	})

	t.Run("Latest", func(t *testing.T) {
		feed.Feed(reference, "latest", Translation(1, 0, 0), epoch)
		want := Translation(2, 0, 0)
		feed.Feed(reference, "latest", want, epoch.Add(time.Second))
		got, stamp, ok := source.LookupLatest(context.Background(), reference, "latest").Pose()
		if !ok {
			t.Fatal("LookupLatest() found no pose")
		}
		if diff := cmp.Diff(want, got, approx); diff != "" {
			t.Errorf("LookupLatest() pose mismatch (-want +got):\n%s", diff)
		}
		if want := epoch.Add(time.Second); !stamp.Equal(want) {
			t.Errorf("LookupLatest() stamp = %v, want %v", stamp, want)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		feed.Feed(reference, "cancelled", Translation(1, 0, 0), epoch)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := source.LookupLatest(ctx, reference, "cancelled")
		if _, _, ok := res.Pose(); ok {
			t.Fatal("LookupLatest() found a pose despite a cancelled context")
		}
		if !errors.Is(res.Err(), context.Canceled) {
			t.Errorf("LookupLatest() error = %v, want %v", res.Err(), context.Canceled)
		}
	})
}
