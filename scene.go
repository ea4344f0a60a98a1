package scenetwin

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// A Scene is the unit of truth for what the digital twin currently looks like.
// It owns the robots being tracked, the latest transform of each of their
// links, and each link's presentation attributes.
//
// A Scene is constructed once, explicitly, and handed to every actor that
// needs it (the Ingestor, publishers, editors, exporters). Its transforms and
// attributes are reachable only through permits; see ReadPermit and
// WritePermit.
type Scene struct {
	clock  Clock
	robots []*Robot
	byName map[string]*Robot
	// owner maps every link to the robot it belongs to.
	owner map[string]*Robot

	lock permitLock

	// Guarded by lock.
	store *transformStore
	attrs map[string]Attributes
	// tick counts the ticks begun so far, and tickStamp is the scene time of the
	// latest one.
	tick      uint64
	tickStamp time.Time
	// watermark is the latest stamp committed to the store, by any writer.
	watermark time.Time
	// version counts the modifications of the scene since construction.
	version uint64
}

type sceneOptions struct {
	historyDepth int
}

// A SceneOption configures a Scene at construction.
type SceneOption func(*sceneOptions)

// WithHistoryDepth retains the last n samples of every link, in addition to
// the latest. The default retains none.
func WithHistoryDepth(n int) SceneOption {
	return func(o *sceneOptions) {
		if n > 0 {
			o.historyDepth = n
		}
	}
}

// NewScene returns a Scene tracking the given robots, timed by the given
// clock. Link names must be unique across all robots, as must robot names.
//
// Every link starts without a transform; its presentation starts with the
// Attributes it was declared with.
func NewScene(clock Clock, robots []*Robot, opts ...SceneOption) (*Scene, error) {
	if clock == nil {
		return nil, errors.New("scene: nil clock")
	}
	var o sceneOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Scene{
		clock:  clock,
		byName: make(map[string]*Robot, len(robots)),
		owner:  make(map[string]*Robot),
		attrs:  make(map[string]Attributes),
	}
	var nodes []string
	for i, r := range robots {
		if r == nil {
			return nil, fmt.Errorf("scene: robot #%d is nil", i)
		}
		if _, dup := s.byName[r.Name()]; dup {
			return nil, fmt.Errorf("scene: duplicate robot %q", r.Name())
		}
		s.byName[r.Name()] = r
		s.robots = append(s.robots, r)
		for _, l := range r.links {
			if other, dup := s.owner[l.Name]; dup {
				return nil, fmt.Errorf("scene: link %q belongs to both %q and %q", l.Name, other.Name(), r.Name())
			}
			s.owner[l.Name] = r
			s.attrs[l.Name] = l.Attributes
			nodes = append(nodes, l.Name)
		}
	}
	s.store = newTransformStore(nodes, o.historyDepth)
	return s, nil
}

// Time returns the current scene time, as reported by the scene's clock.
func (s *Scene) Time() time.Time {
	return s.clock.Now()
}

// Robots returns the robots tracked by the scene, in the order they were given
// to NewScene. Robots are immutable, so no permit is required to inspect them.
func (s *Scene) Robots() []*Robot {
	out := make([]*Robot, len(s.robots))
	copy(out, s.robots)
	return out
}

// ReadPermit blocks until no WritePermit is held, then returns a permit
// sharing the scene with other readers. The caller must Release it, or use
// View instead.
//
// The context is used for telemetry; acquisition waits without bound.
func (s *Scene) ReadPermit(ctx context.Context) *ReadPermit {
	s.lock.RLock(ctx)
	return &ReadPermit{permit{scene: s}}
}

// WritePermit blocks until no other permit is held, then returns a permit
// granting exclusive access to the scene. The caller must Release it, or use
// Update instead.
//
// The context is used for telemetry; acquisition waits without bound.
func (s *Scene) WritePermit(ctx context.Context) *WritePermit {
	s.lock.Lock(ctx)
	return &WritePermit{permit: permit{scene: s}}
}

// View calls fn with a ReadPermit, releasing the permit when fn returns,
// whether it returns normally, with an error, or by panicking. fn must not
// release the permit itself, nor retain it.
func (s *Scene) View(ctx context.Context, fn func(p *ReadPermit) error) error {
	p := s.ReadPermit(ctx)
	defer p.Release()
	return fn(p)
}

// Update calls fn with a WritePermit, releasing the permit when fn returns,
// whether it returns normally, with an error, or by panicking. Modifications
// made by fn before it fails are kept. fn must not release the permit itself,
// nor retain it.
func (s *Scene) Update(ctx context.Context, fn func(p *WritePermit) error) error {
	p := s.WritePermit(ctx)
	defer p.Release()
	return fn(p)
}
