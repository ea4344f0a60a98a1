package scenetwin_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/scenetwin"
	"github.com/go-digitaltwin/scenetwin/scenetest"
)

func TestTickCommitsOneStamp(t *testing.T) {
	s, clock := newArmScene(t)
	source := scenetest.NewScriptedSource()
	for i, node := range []string{"base_link", "forearm", "gripper"} {
		source.SetPose(node, scenetest.Translation(float64(i), 0, 0), epoch)
	}
	// Each lookup takes a while, so a clock read per lookup would be noticed.
	source.SetDelay(time.Millisecond)
	in := scenetwin.NewIngestor(s, source, "world", scenetwin.WithLookupTimeout(time.Second))

	clock.Advance(time.Second)
	report := in.Tick(context.Background())
	if report.Tick != 1 || !report.Stamp.Equal(clock.Now()) {
		t.Errorf("Tick() = tick %d at %v, want tick 1 at %v", report.Tick, report.Stamp, clock.Now())
	}
	if diff := cmp.Diff([]string{"base_link", "forearm", "gripper"}, report.Updated); diff != "" {
		t.Errorf("Tick() updated mismatch (-want +got):\n%s", diff)
	}
	if len(report.Failed) != 0 {
		t.Errorf("Tick() failed = %v, want none", report.Failed)
	}

	p := s.ReadPermit(context.Background())
	defer p.Release()
	for _, node := range report.Updated {
		sample, ok := p.Get(node)
		if !ok {
			t.Errorf("Get(%q) found no sample after the tick", node)
			continue
		}
		if !sample.Stamp.Equal(report.Stamp) || sample.Tick != report.Tick {
			t.Errorf("Get(%q) = tick %d at %v, want tick %d at %v", node, sample.Tick, sample.Stamp, report.Tick, report.Stamp)
		}
	}
}

func TestTickStampsNonDecreasing(t *testing.T) {
	s, clock := newArmScene(t)
	source := scenetest.NewScriptedSource()
	source.SetPose("base_link", scenetwin.IdentityPose(), epoch)
	in := scenetwin.NewIngestor(s, source, "world", scenetwin.WithLookupTimeout(time.Second))

	var last time.Time
	for i := range 5 {
		if i%2 == 0 {
			clock.Advance(time.Millisecond)
		}
		report := in.Tick(context.Background())
		if report.Stamp.Before(last) {
			t.Fatalf("tick %d stamped %v, before the previous tick at %v", report.Tick, report.Stamp, last)
		}
		if report.Tick != uint64(i+1) {
			t.Errorf("tick #%d numbered %d", i, report.Tick)
		}
		last = report.Stamp
	}
}

// TestTickKeepsLastKnownGood runs two ticks: in the first, both links are
// available; in the second, only one of them is. The other keeps the sample of
// the first tick.
func TestTickKeepsLastKnownGood(t *testing.T) {
	clock := scenetwin.NewSimClock(epoch)
	robot := scenetest.NewRobot(t, "pair",
		scenetwin.Link{Name: "A", Parent: "world"},
		scenetwin.Link{Name: "B", Parent: "world"},
	)
	s := scenetest.NewScene(t, clock, []*scenetwin.Robot{robot})
	source := scenetest.NewScriptedSource()
	in := scenetwin.NewIngestor(s, source, "world", scenetwin.WithLookupTimeout(time.Second))
	ctx := context.Background()

	t1 := clock.Advance(time.Second)
	source.SetPose("A", scenetest.Translation(1, 0, 0), t1)
	source.SetPose("B", scenetest.Translation(0, 1, 0), t1)
	in.Tick(ctx)

	t2 := clock.Advance(time.Second)
	source.SetPose("A", scenetest.Translation(2, 0, 0), t2)
	source.Fail("B", errors.New("transform too old"))
	report := in.Tick(ctx)
	if diff := cmp.Diff([]string{"B"}, report.Failed); diff != "" {
		t.Errorf("Tick() failed mismatch (-want +got):\n%s", diff)
	}

	p := s.ReadPermit(ctx)
	defer p.Release()
	a, _ := p.Get("A")
	b, _ := p.Get("B")
	got := []struct {
		X, Y  float64
		Stamp time.Time
	}{
		{a.Pose.Translation[0], a.Pose.Translation[1], a.Stamp},
		{b.Pose.Translation[0], b.Pose.Translation[1], b.Stamp},
	}
	want := []struct {
		X, Y  float64
		Stamp time.Time
	}{
		{2, 0, t2},
		{0, 1, t1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples after two ticks mismatch (-want +got):\n%s", diff)
	}
}

func TestTickFailureIsolation(t *testing.T) {
	s, _ := newArmScene(t)
	source := scenetest.NewScriptedSource()
	source.SetPose("base_link", scenetwin.IdentityPose(), epoch)
	// forearm is never scripted.
	source.Fail("gripper", nil)
	in := scenetwin.NewIngestor(s, source, "world", scenetwin.WithLookupTimeout(time.Second), scenetwin.WithFailureReportInterval(0))

	report := in.Tick(context.Background())
	if diff := cmp.Diff([]string{"base_link"}, report.Updated); diff != "" {
		t.Errorf("Tick() updated mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"forearm", "gripper"}, report.Failed); diff != "" {
		t.Errorf("Tick() failed mismatch (-want +got):\n%s", diff)
	}
	// Every link is looked up once per tick, regardless of failures before it.
	for _, node := range []string{"base_link", "forearm", "gripper"} {
		if n := source.Calls(node); n != 1 {
			t.Errorf("%s looked up %d times, want 1", node, n)
		}
	}

	p := s.ReadPermit(context.Background())
	defer p.Release()
	if _, ok := p.Get("forearm"); ok {
		t.Error("a link that never resolved has a sample")
	}
}

func TestTickLookupTimeout(t *testing.T) {
	s, _ := newArmScene(t)
	source := scenetest.NewScriptedSource()
	source.SetPose("base_link", scenetwin.IdentityPose(), epoch)
	source.SetDelay(time.Hour)
	in := scenetwin.NewIngestor(s, source, "world", scenetwin.WithLookupTimeout(time.Millisecond))

	start := time.Now()
	report := in.Tick(context.Background())
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Tick() took %v despite the lookup timeout", elapsed)
	}
	if len(report.Failed) != 3 {
		t.Errorf("Tick() failed = %v, want every link", report.Failed)
	}
}

func TestTickCompletesDespiteCancellation(t *testing.T) {
	s, _ := newArmScene(t)
	source := scenetest.NewScriptedSource()
	source.SetPose("base_link", scenetwin.IdentityPose(), epoch)
	in := scenetwin.NewIngestor(s, source, "world", scenetwin.WithLookupTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := in.Tick(ctx)
	if !slices.Contains(report.Updated, "base_link") {
		t.Errorf("Tick() with a cancelled context updated %v, want base_link", report.Updated)
	}
}

// TestTickIsAtomic checks that a reader never observes a tick in progress: a
// reader arriving mid-tick waits for the whole tick, then sees all of it.
func TestTickIsAtomic(t *testing.T) {
	s, clock := newArmScene(t)
	source := scenetest.NewScriptedSource()
	for _, node := range []string{"base_link", "forearm", "gripper"} {
		source.SetPose(node, scenetwin.IdentityPose(), epoch)
	}
	unblock := source.Block()
	defer unblock()
	in := scenetwin.NewIngestor(s, source, "world", scenetwin.WithLookupTimeout(0))

	clock.Advance(time.Second)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in.Tick(context.Background())
	}()
	// Wait for the tick to be holding the write permit.
	for deadline := time.Now().Add(5 * time.Second); source.Calls("base_link") == 0; {
		if time.Now().After(deadline) {
			t.Fatal("tick never started")
		}
		time.Sleep(time.Millisecond)
	}

	var stamps []time.Time
	done := awaitBlocked(t, func() {
		_ = s.View(context.Background(), func(p *scenetwin.ReadPermit) error {
			for _, node := range []string{"base_link", "forearm", "gripper"} {
				sample, _ := p.Get(node)
				stamps = append(stamps, sample.Stamp)
			}
			return nil
		})
	})
	unblock()
	wg.Wait()
	<-done

	want := []time.Time{clock.Now(), clock.Now(), clock.Now()}
	if diff := cmp.Diff(want, stamps); diff != "" {
		t.Errorf("reader observed a partial tick (-want +got):\n%s", diff)
	}
}

func TestLookup(t *testing.T) {
	var zero scenetwin.Lookup
	if _, _, ok := zero.Pose(); ok {
		t.Error("zero Lookup is found")
	}
	if !errors.Is(zero.Err(), scenetwin.ErrPoseUnavailable) {
		t.Errorf("zero Lookup error = %v, want %v", zero.Err(), scenetwin.ErrPoseUnavailable)
	}
	if err := scenetwin.Unavailable(nil).Err(); !errors.Is(err, scenetwin.ErrPoseUnavailable) {
		t.Errorf("Unavailable(nil) error = %v, want %v", err, scenetwin.ErrPoseUnavailable)
	}
	found := scenetwin.Found(scenetest.Translation(1, 2, 3), epoch)
	if p, stamp, ok := found.Pose(); !ok || p.Translation[2] != 3 || !stamp.Equal(epoch) || found.Err() != nil {
		t.Errorf("Found() = %v at %v (ok=%v, err=%v)", p, stamp, ok, found.Err())
	}
}
