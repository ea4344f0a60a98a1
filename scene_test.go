package scenetwin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/scenetwin"
	"github.com/go-digitaltwin/scenetwin/scenetest"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// blockedFor is how long a test waits before concluding that an operation is
// blocked.
const blockedFor = 50 * time.Millisecond

func newArmScene(t *testing.T, opts ...scenetwin.SceneOption) (*scenetwin.Scene, *scenetwin.SimClock) {
	t.Helper()
	clock := scenetwin.NewSimClock(epoch)
	return scenetest.NewScene(t, clock, []*scenetwin.Robot{scenetest.Arm(t)}, opts...), clock
}

func TestNewScene(t *testing.T) {
	arm := scenetest.Arm(t)
	other := scenetest.NewRobot(t, "other", scenetwin.Link{Name: "forearm"})
	tests := []struct {
		name   string
		clock  scenetwin.Clock
		robots []*scenetwin.Robot
	}{
		{name: "NilClock", robots: []*scenetwin.Robot{arm}},
		{name: "NilRobot", clock: scenetwin.SystemClock(), robots: []*scenetwin.Robot{nil}},
		{name: "DuplicateRobot", clock: scenetwin.SystemClock(), robots: []*scenetwin.Robot{arm, arm}},
		{name: "SharedLink", clock: scenetwin.SystemClock(), robots: []*scenetwin.Robot{arm, other}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := scenetwin.NewScene(tt.clock, tt.robots); err == nil {
				t.Error("NewScene() succeeded, want error")
			}
		})
	}
}

func TestGetLatestSample(t *testing.T) {
	s, clock := newArmScene(t)
	ctx := context.Background()

	for i, x := range []float64{1, 2, 3} {
		clock.Advance(time.Second)
		err := s.Update(ctx, func(p *scenetwin.WritePermit) error {
			p.BeginTick(clock.Now())
			return p.Set("forearm", scenetest.Translation(x, 0, 0))
		})
		if err != nil {
			t.Fatalf("Update #%d: %v", i, err)
		}
	}

	_ = s.View(ctx, func(p *scenetwin.ReadPermit) error {
		got, ok := p.Get("forearm")
		if !ok {
			t.Fatal("Get() found no sample")
		}
		if got.Pose.Translation[0] != 3 {
			t.Errorf("Get() translation = %v, want the latest (3, 0, 0)", got.Pose.Translation)
		}
		if want := epoch.Add(3 * time.Second); !got.Stamp.Equal(want) {
			t.Errorf("Get() stamp = %v, want %v", got.Stamp, want)
		}
		if got.Tick != 3 {
			t.Errorf("Get() tick = %d, want 3", got.Tick)
		}
		return nil
	})
}

func TestGetAbsentIsNotAnError(t *testing.T) {
	s, _ := newArmScene(t)
	p := s.ReadPermit(context.Background())
	defer p.Release()
	for _, node := range []string{"base_link", "not-a-link"} {
		if sample, ok := p.Get(node); ok {
			t.Errorf("Get(%q) = %v, want absent", node, sample)
		}
	}
}

func TestSetUnknownNode(t *testing.T) {
	s, _ := newArmScene(t)
	err := s.Update(context.Background(), func(p *scenetwin.WritePermit) error {
		return p.Set("not-a-link", scenetwin.IdentityPose())
	})
	if !errors.Is(err, scenetwin.ErrUnknownNode) {
		t.Errorf("Set() error = %v, want %v", err, scenetwin.ErrUnknownNode)
	}
}

func TestCommitOutOfOrder(t *testing.T) {
	s, _ := newArmScene(t)
	newer := scenetwin.NewTransformSample(scenetest.Translation(1, 0, 0), epoch.Add(time.Second), 1)
	older := scenetwin.NewTransformSample(scenetest.Translation(2, 0, 0), epoch, 1)

	p := s.WritePermit(context.Background())
	defer p.Release()
	if err := p.Commit("forearm", newer); err != nil {
		t.Fatalf("Commit(newer) error = %v", err)
	}
	if err := p.Commit("forearm", older); !errors.Is(err, scenetwin.ErrOutOfOrder) {
		t.Errorf("Commit(older) error = %v, want %v", err, scenetwin.ErrOutOfOrder)
	}
	got, _ := p.Get("forearm")
	if diff := cmp.Diff(newer, got); diff != "" {
		t.Errorf("Get() after rejected commit mismatch (-want +got):\n%s", diff)
	}
}

func TestBeginTickStampsNeverDecrease(t *testing.T) {
	s, _ := newArmScene(t)
	ctx := context.Background()

	var stamps []time.Time
	for _, now := range []time.Time{epoch.Add(2 * time.Second), epoch, epoch.Add(3 * time.Second)} {
		_ = s.Update(ctx, func(p *scenetwin.WritePermit) error {
			_, stamp := p.BeginTick(now)
			stamps = append(stamps, stamp)
			return p.Set("base_link", scenetwin.IdentityPose())
		})
	}
	want := []time.Time{epoch.Add(2 * time.Second), epoch.Add(2 * time.Second), epoch.Add(3 * time.Second)}
	if diff := cmp.Diff(want, stamps); diff != "" {
		t.Errorf("tick stamps mismatch (-want +got):\n%s", diff)
	}
}

func TestSetOutsideTickFollowsCommittedSamples(t *testing.T) {
	s, clock := newArmScene(t)
	ctx := context.Background()
	// A tick stamped ahead of the clock.
	_ = s.Update(ctx, func(p *scenetwin.WritePermit) error {
		p.BeginTick(clock.Now().Add(time.Minute))
		return p.Set("base_link", scenetwin.IdentityPose())
	})
	// An edit made before the clock catches up must not be rejected as out of
	// order.
	err := s.Update(ctx, func(p *scenetwin.WritePermit) error {
		return p.Set("base_link", scenetest.Translation(1, 0, 0))
	})
	if err != nil {
		t.Fatalf("Set() outside tick error = %v", err)
	}
}

func TestBeginTickTwicePanics(t *testing.T) {
	s, clock := newArmScene(t)
	p := s.WritePermit(context.Background())
	defer p.Release()
	p.BeginTick(clock.Now())
	expectPanic(t, "BeginTick() twice", func() { p.BeginTick(clock.Now()) })
}

func expectPanic(t *testing.T, what string, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s did not panic", what)
		}
	}()
	f()
}

func TestReleaseTwicePanics(t *testing.T) {
	s, _ := newArmScene(t)
	ctx := context.Background()
	t.Run("Read", func(t *testing.T) {
		p := s.ReadPermit(ctx)
		p.Release()
		expectPanic(t, "Release() twice", p.Release)
	})
	t.Run("Write", func(t *testing.T) {
		p := s.WritePermit(ctx)
		p.Release()
		expectPanic(t, "Release() twice", p.Release)
	})
}

func TestUseAfterReleasePanics(t *testing.T) {
	s, clock := newArmScene(t)
	r := s.ReadPermit(context.Background())
	r.Release()
	expectPanic(t, "Get() through a released read permit", func() { r.Get("forearm") })

	w := s.WritePermit(context.Background())
	w.Release()
	expectPanic(t, "Set() through a released write permit", func() { _ = w.Set("forearm", scenetwin.IdentityPose()) })
	expectPanic(t, "BeginTick() through a released write permit", func() { w.BeginTick(clock.Now()) })
}

func TestUpdateReleasesOnPanic(t *testing.T) {
	s, _ := newArmScene(t)
	func() {
		defer func() { _ = recover() }()
		_ = s.Update(context.Background(), func(p *scenetwin.WritePermit) error {
			panic("boom")
		})
	}()
	acquired := make(chan struct{})
	go func() {
		s.ReadPermit(context.Background()).Release()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("write permit was not released by a panicking Update")
	}
}

// awaitBlocked starts acquire in a goroutine, checks that it does not complete
// while blocked, and returns a channel closed once it does.
func awaitBlocked(t *testing.T, acquire func()) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		acquire()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("permit acquired while a conflicting permit is held")
	case <-time.After(blockedFor):
	}
	return done
}

func TestWritePermitExcludesReaders(t *testing.T) {
	s, _ := newArmScene(t)
	ctx := context.Background()

	w := s.WritePermit(ctx)
	done := awaitBlocked(t, func() { s.ReadPermit(ctx).Release() })
	w.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read permit not acquired after the write permit was released")
	}
}

func TestReadPermitBlocksWriter(t *testing.T) {
	s, _ := newArmScene(t)
	ctx := context.Background()

	r1 := s.ReadPermit(ctx)
	// Readers share the scene.
	r2 := s.ReadPermit(ctx)
	r2.Release()

	done := awaitBlocked(t, func() { s.WritePermit(ctx).Release() })
	r1.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write permit not acquired after the read permit was released")
	}
}

func TestHistory(t *testing.T) {
	s, clock := newArmScene(t, scenetwin.WithHistoryDepth(2))
	ctx := context.Background()
	for _, x := range []float64{1, 2, 3} {
		clock.Advance(time.Second)
		_ = s.Update(ctx, func(p *scenetwin.WritePermit) error {
			p.BeginTick(clock.Now())
			return p.Set("gripper", scenetest.Translation(x, 0, 0))
		})
	}
	p := s.ReadPermit(ctx)
	defer p.Release()
	var got []float64
	for _, sample := range p.History("gripper") {
		got = append(got, sample.Pose.Translation[0])
	}
	if diff := cmp.Diff([]float64{2, 3}, got); diff != "" {
		t.Errorf("History() mismatch (-want +got):\n%s", diff)
	}
	if h := p.History("forearm"); h != nil {
		t.Errorf("History() of a link without samples = %v, want nil", h)
	}
}

func TestSnapshotOutlivesPermit(t *testing.T) {
	s, clock := newArmScene(t)
	ctx := context.Background()
	_ = s.Update(ctx, func(p *scenetwin.WritePermit) error {
		p.BeginTick(clock.Now())
		return p.Set("base_link", scenetest.Translation(1, 0, 0))
	})

	var snap scenetwin.SceneSnapshot
	_ = s.View(ctx, func(p *scenetwin.ReadPermit) error {
		snap = p.Snapshot()
		return nil
	})
	_ = s.Update(ctx, func(p *scenetwin.WritePermit) error {
		clock.Advance(time.Second)
		p.BeginTick(clock.Now())
		if err := p.SetAttributes("base_link", scenetwin.Attributes{Hidden: true}); err != nil {
			return err
		}
		return p.Set("base_link", scenetest.Translation(2, 0, 0))
	})

	arm, ok := snap.Robot("arm")
	if !ok {
		t.Fatal("snapshot lost the arm")
	}
	base, _ := arm.Link("base_link")
	if base.Sample == nil || base.Sample.Pose.Translation[0] != 1 || base.Attributes.Hidden {
		t.Errorf("snapshot changed after the scene did: %+v", base)
	}
	if gripper, _ := arm.Link("gripper"); gripper.Sample != nil {
		t.Errorf("snapshot has a sample for a link never set: %+v", gripper.Sample)
	}
}

func TestSetAttributes(t *testing.T) {
	s, _ := newArmScene(t)
	ctx := context.Background()
	err := s.Update(ctx, func(p *scenetwin.WritePermit) error {
		return p.SetAttributes("forearm", scenetwin.Attributes{Color: scenetwin.Color{2, 0, 0, 1}})
	})
	if err == nil {
		t.Error("SetAttributes() accepted an out of range color")
	}
	err = s.Update(ctx, func(p *scenetwin.WritePermit) error {
		return p.SetAttributes("not-a-link", scenetwin.Attributes{})
	})
	if !errors.Is(err, scenetwin.ErrUnknownNode) {
		t.Errorf("SetAttributes() error = %v, want %v", err, scenetwin.ErrUnknownNode)
	}
}

func TestVersion(t *testing.T) {
	s, clock := newArmScene(t)
	ctx := context.Background()
	version := func() uint64 {
		p := s.ReadPermit(ctx)
		defer p.Release()
		return p.Version()
	}
	v0 := version()
	_ = s.Update(ctx, func(p *scenetwin.WritePermit) error { return nil })
	if v := version(); v != v0 {
		t.Errorf("Version() = %d after an empty update, want %d", v, v0)
	}
	_ = s.Update(ctx, func(p *scenetwin.WritePermit) error {
		p.BeginTick(clock.Now())
		return nil
	})
	if v := version(); v <= v0 {
		t.Errorf("Version() = %d after a tick, want more than %d", v, v0)
	}
}
