/*
Package scenetest provides pose sources and fixtures for testing code built on
scenetwin, along with a suite assessing scenetwin.PoseSource implementations.

Call scenetest.RunPoseSource in its own test to invoke the suite:

	func TestBuffer(t *testing.T) {
		b := tfbuffer.New(scenetwin.SystemClock())
		scenetest.RunPoseSource(t, b, feeder{b})
	}
*/
package scenetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-digitaltwin/scenetwin"
)

// A ScriptedSource is a scenetwin.PoseSource whose answers are set by the
// test: per node, either a pose or a failure. Nodes that were never scripted
// are unavailable.
//
// A ScriptedSource is safe for concurrent use.
type ScriptedSource struct {
	mu      sync.Mutex
	answers map[string]scenetwin.Lookup
	calls   map[string]int
	delay   time.Duration
	// blocked lookups wait for the channel to close.
	gate chan struct{}
}

// NewScriptedSource returns a ScriptedSource with nothing scripted.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{
		answers: make(map[string]scenetwin.Lookup),
		calls:   make(map[string]int),
	}
}

// SetPose scripts node to be found at the given pose and stamp.
func (s *ScriptedSource) SetPose(node string, p scenetwin.Pose, stamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[node] = scenetwin.Found(p, stamp)
}

// Fail scripts node to be unavailable with the given error (nil means
// scenetwin.ErrPoseUnavailable).
func (s *ScriptedSource) Fail(node string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[node] = scenetwin.Unavailable(err)
}

// SetDelay makes every lookup take d, unless its context is done earlier.
func (s *ScriptedSource) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Block makes lookups wait until the returned function is called, or until
// their context is done. It lets tests hold an ingestion tick in progress.
func (s *ScriptedSource) Block() (unblock func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times node was looked up.
func (s *ScriptedSource) Calls(node string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[node]
}

// Feed scripts node to be found at the given pose; the reference frame is
// ignored. It makes ScriptedSource a Feeder of itself.
func (s *ScriptedSource) Feed(_, node string, p scenetwin.Pose, stamp time.Time) {
	s.SetPose(node, p, stamp)
}

func (s *ScriptedSource) LookupLatest(ctx context.Context, _, node string) scenetwin.Lookup {
	s.mu.Lock()
	s.calls[node]++
	answer, ok := s.answers[node]
	delay, gate := s.delay, s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return scenetwin.Unavailable(ctx.Err())
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return scenetwin.Unavailable(ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return scenetwin.Unavailable(err)
	}
	if !ok {
		return scenetwin.Unavailable(nil)
	}
	return answer
}

// Translation returns the pose translating by (x, y, z) without rotating.
func Translation(x, y, z float64) scenetwin.Pose {
	p := scenetwin.IdentityPose()
	p.Translation[0], p.Translation[1], p.Translation[2] = x, y, z
	return p
}

// NewRobot is scenetwin.NewRobot, failing the test on error.
func NewRobot(tb testing.TB, name string, links ...scenetwin.Link) *scenetwin.Robot {
	tb.Helper()
	r, err := scenetwin.NewRobot(name, links...)
	if err != nil {
		tb.Fatalf("NewRobot(%q) error = %v", name, err)
	}
	return r
}

// NewScene is scenetwin.NewScene, failing the test on error.
func NewScene(tb testing.TB, clock scenetwin.Clock, robots []*scenetwin.Robot, opts ...scenetwin.SceneOption) *scenetwin.Scene {
	tb.Helper()
	s, err := scenetwin.NewScene(clock, robots, opts...)
	if err != nil {
		tb.Fatalf("NewScene() error = %v", err)
	}
	return s
}

// Arm returns a robot named "arm" with a chain of three links hanging off the
// "world" frame: base_link, forearm and gripper.
func Arm(tb testing.TB) *scenetwin.Robot {
	tb.Helper()
	return NewRobot(tb, "arm",
		scenetwin.Link{Name: "base_link", Parent: "world"},
		scenetwin.Link{Name: "forearm", Parent: "base_link"},
		scenetwin.Link{Name: "gripper", Parent: "forearm"},
	)
}

var _ scenetwin.PoseSource = (*ScriptedSource)(nil)
