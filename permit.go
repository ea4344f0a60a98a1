package scenetwin

import (
	"fmt"
	"sync/atomic"
	"time"
)

// A permit is the state shared by ReadPermit and WritePermit: a capability to
// inspect the scene, valid from acquisition until release.
type permit struct {
	scene    *Scene
	released atomic.Bool
}

// check panics if the permit is used after it was released. Touching the scene
// without holding its lock would expose readers to torn updates, so there is no
// way to recover from it.
func (p *permit) check() {
	if p.released.Load() {
		panic("scenetwin: seek developer attention: scene accessed through a released permit")
	}
}

// release marks the permit as released, panicking if it already was.
func (p *permit) release() {
	if !p.released.CompareAndSwap(false, true) {
		panic("scenetwin: seek developer attention: permit released twice")
	}
}

// Robots returns the robots of the scene, in the order given to NewScene.
func (p *permit) Robots() []*Robot {
	p.check()
	return p.scene.Robots()
}

// Robot looks up a robot of the scene by name.
func (p *permit) Robot(name string) (*Robot, bool) {
	p.check()
	r, ok := p.scene.byName[name]
	return r, ok
}

// Get returns the latest sample committed for the named link. It returns
// ok == false if no sample was ever committed for it - a normal state before
// the first successful lookup of the link - or if the link does not exist.
func (p *permit) Get(node string) (sample TransformSample, ok bool) {
	p.check()
	return p.scene.store.get(node)
}

// History returns the samples retained for the named link, oldest first,
// including the latest. It returns nil if the scene retains no history (see
// WithHistoryDepth) or the link has no samples yet.
func (p *permit) History(node string) []TransformSample {
	p.check()
	return p.scene.store.history(node)
}

// Attributes returns the presentation attributes of the named link.
func (p *permit) Attributes(node string) (Attributes, bool) {
	p.check()
	a, ok := p.scene.attrs[node]
	return a, ok
}

// Tick returns the number of ticks begun so far, and the scene time of the
// latest one.
func (p *permit) Tick() (tick uint64, stamp time.Time) {
	p.check()
	return p.scene.tick, p.scene.tickStamp
}

// Version returns a number that grows with every modification of the scene.
// Two permits observing the same version observe the same scene.
func (p *permit) Version() uint64 {
	p.check()
	return p.scene.version
}

// Snapshot returns a deep copy of the scene as seen through this permit. The
// snapshot remains valid (and unchanging) after the permit is released.
func (p *permit) Snapshot() SceneSnapshot {
	p.check()
	s := p.scene
	snap := SceneSnapshot{
		Version: s.version,
		Tick:    s.tick,
		Stamp:   s.tickStamp,
		Robots:  make([]RobotSnapshot, 0, len(s.robots)),
	}
	for _, r := range s.robots {
		rs := RobotSnapshot{Name: r.Name(), Links: make([]LinkSnapshot, 0, len(r.links))}
		for _, l := range r.links {
			ls := LinkSnapshot{
				Name:       l.Name,
				Parent:     l.Parent,
				Attributes: s.attrs[l.Name],
			}
			if sample, ok := s.store.get(l.Name); ok {
				ls.Sample = &sample
			}
			rs.Links = append(rs.Links, ls)
		}
		snap.Robots = append(snap.Robots, rs)
	}
	return snap
}

// A ReadPermit grants shared, read-only access to a Scene. Any number of
// ReadPermits may be held at once, but none while a WritePermit is held.
//
// A ReadPermit is Held from acquisition until Release is called, exactly once.
// Using a ReadPermit after releasing it panics.
type ReadPermit struct {
	permit
}

// Release gives up the permit. Calling Release twice panics.
func (p *ReadPermit) Release() {
	p.release()
	p.scene.lock.RUnlock()
}

// A WritePermit grants exclusive access to a Scene: while it is held, no other
// permit - read or write - is. It offers everything a ReadPermit does, plus
// mutations.
//
// A WritePermit is Held from acquisition until Release is called, exactly
// once. Using a WritePermit after releasing it panics.
type WritePermit struct {
	permit
	// Set by BeginTick: every sample committed through Set carries this stamp.
	ticking bool
	stamp   time.Time
}

// Release gives up the permit. Calling Release twice panics.
func (p *WritePermit) Release() {
	p.release()
	p.scene.lock.Unlock()
}

// BeginTick starts a new tick at scene time now, and returns the tick's
// sequence number and stamp. Every sample committed through Set for the rest of
// this permit carries that stamp and tick number.
//
// Tick stamps never go backwards: if now is earlier than the previous tick, or
// than a sample already committed, the stamp is raised to match it.
//
// BeginTick may be called at most once per permit.
func (p *WritePermit) BeginTick(now time.Time) (tick uint64, stamp time.Time) {
	p.check()
	if p.ticking {
		panic("scenetwin: seek developer attention: a write permit can begin a single tick")
	}
	s := p.scene
	stamp = latest(now, s.tickStamp, s.watermark)
	s.tick++
	s.tickStamp = stamp
	s.version++
	p.ticking = true
	p.stamp = stamp
	return s.tick, stamp
}

// Set commits the given pose as the latest transform of the named link.
//
// Within a tick (see BeginTick) the sample is stamped with the tick's stamp.
// Otherwise, it is stamped with the current scene time, raised if needed so
// that it is not older than any sample already committed.
func (p *WritePermit) Set(node string, pose Pose) error {
	p.check()
	s := p.scene
	stamp := p.stamp
	if !p.ticking {
		stamp = latest(s.clock.Now(), s.watermark)
	}
	return p.Commit(node, NewTransformSample(pose, stamp, s.tick))
}

// Commit stores the given sample as the latest transform of the named link.
// It fails with ErrUnknownNode if the link is not part of the scene, and with
// ErrOutOfOrder if the sample is older than the link's current sample; either
// way, the scene is left unmodified.
func (p *WritePermit) Commit(node string, sample TransformSample) error {
	p.check()
	s := p.scene
	if err := s.store.set(node, sample); err != nil {
		return err
	}
	if sample.Stamp.After(s.watermark) {
		s.watermark = sample.Stamp
	}
	s.version++
	return nil
}

// SetAttributes replaces the presentation attributes of the named link.
func (p *WritePermit) SetAttributes(node string, a Attributes) error {
	p.check()
	if _, ok := p.scene.attrs[node]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, node)
	}
	if err := a.Color.Validate(); err != nil {
		return fmt.Errorf("attributes of %q: %w", node, err)
	}
	p.scene.attrs[node] = a
	p.scene.version++
	return nil
}

// latest returns the latest of the given times.
func latest(t time.Time, others ...time.Time) time.Time {
	for _, o := range others {
		if o.After(t) {
			t = o
		}
	}
	return t
}
