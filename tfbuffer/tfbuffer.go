// Package tfbuffer keeps the latest pose of every frame relative to its parent,
// as published by the robots' controllers, and answers scenetwin pose lookups
// by chaining those poses between any two frames of the same tree.
package tfbuffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"

	"github.com/go-digitaltwin/scenetwin"
)

var (
	// ErrNoPath reports that two frames are not part of the same tree (yet).
	ErrNoPath = errors.New("no path between frames")
	// ErrStale reports that a pose along the path is older than the buffer's
	// maximal age.
	ErrStale = errors.New("stale pose")
	// ErrCycle reports a pose that would make a frame its own ancestor.
	ErrCycle = errors.New("frame cycle")
)

// A PoseStamped is the pose of a child frame relative to its parent frame, as
// known at Stamp.
type PoseStamped struct {
	Parent string
	Child  string
	Pose   scenetwin.Pose
	Stamp  time.Time
}

// A PoseBatch is the unit of publication of poses, typically all the joints of
// a robot sampled at once.
type PoseBatch struct {
	// Source identifies the publisher, for logs.
	Source string
	Poses  []PoseStamped
}

// A Buffer holds the latest PoseStamped of every child frame. Each frame has a
// single parent at a time: a newer pose with a different parent reparents the
// frame.
//
// A Buffer implements scenetwin.PoseSource and is safe for concurrent use.
type Buffer struct {
	clock  scenetwin.Clock
	maxAge time.Duration

	mu    sync.RWMutex
	edges map[string]PoseStamped // by child
}

// An Option configures a Buffer.
type Option func(*Buffer)

// WithMaxAge makes lookups fail with ErrStale when a pose along the path is
// older than d, according to the buffer's clock. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(b *Buffer) { b.maxAge = d }
}

// New returns an empty Buffer, measuring pose age with the given clock.
func New(clock scenetwin.Clock, opts ...Option) *Buffer {
	b := &Buffer{
		clock: clock,
		edges: make(map[string]PoseStamped),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Insert stores the given poses and returns how many of them were valid. A
// valid pose older than the one already stored for the same child is ignored.
// Invalid poses (missing frame names, or a frame that would become its own
// ancestor) are skipped and reported in the returned error; the other poses
// are stored regardless.
func (b *Buffer) Insert(poses ...PoseStamped) (valid int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, p := range poses {
		if err := b.insert(p); err != nil {
			errs = append(errs, err)
			continue
		}
		valid++
	}
	return valid, errors.Join(errs...)
}

func (b *Buffer) insert(p PoseStamped) error {
	if p.Parent == "" || p.Child == "" {
		return fmt.Errorf("pose %q -> %q: missing frame name", p.Parent, p.Child)
	}
	if old, ok := b.edges[p.Child]; ok {
		if p.Stamp.Before(old.Stamp) {
			return nil
		}
		if old.Parent == p.Parent {
			b.edges[p.Child] = p
			return nil
		}
	}
	// Following parents up from the new parent must not reach the child.
	for frame, steps := p.Parent, 0; steps <= len(b.edges); steps++ {
		if frame == p.Child {
			return fmt.Errorf("pose %q -> %q: %w", p.Parent, p.Child, ErrCycle)
		}
		e, ok := b.edges[frame]
		if !ok {
			break
		}
		frame = e.Parent
	}
	b.edges[p.Child] = p
	return nil
}

// Frames returns the names of every frame known to the buffer, sorted.
func (b *Buffer) Frames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]bool, 2*len(b.edges))
	var frames []string
	for child, e := range b.edges {
		for _, f := range []string{child, e.Parent} {
			if !seen[f] {
				seen[f] = true
				frames = append(frames, f)
			}
		}
	}
	slices.Sort(frames)
	return frames
}

// chainLink is the pose of a frame relative to one of its ancestors, along with
// the stamp of the oldest pose composed into it.
type chainLink struct {
	pose   scenetwin.Pose
	oldest time.Time
}

// ancestors returns frame's pose relative to itself and each of its ancestors,
// in order from frame up to the root of its tree.
func (b *Buffer) ancestors(frame string) ([]string, map[string]chainLink) {
	names := []string{frame}
	chain := map[string]chainLink{frame: {pose: scenetwin.IdentityPose()}}
	acc := chain[frame]
	for steps := 0; steps < len(b.edges); steps++ {
		e, ok := b.edges[frame]
		if !ok {
			break
		}
		acc = chainLink{
			pose:   e.Pose.Mul(acc.pose),
			oldest: older(acc.oldest, e.Stamp),
		}
		frame = e.Parent
		names = append(names, frame)
		chain[frame] = acc
	}
	return names, chain
}

// older returns the earlier of the given times, treating the zero time as
// unset on either side.
func older(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

// LookupLatest returns the pose of node relative to reference, composed from
// the latest poses along the path between them through their nearest common
// ancestor. The lookup's stamp is that of the oldest pose along the path.
func (b *Buffer) LookupLatest(ctx context.Context, reference, node string) scenetwin.Lookup {
	if err := ctx.Err(); err != nil {
		return scenetwin.Unavailable(err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, fromNode := b.ancestors(node)
	refNames, fromRef := b.ancestors(reference)
	for _, common := range refNames {
		nodeIn, ok := fromNode[common]
		if !ok {
			continue
		}
		refIn := fromRef[common]
		stamp := older(nodeIn.oldest, refIn.oldest)
		if stamp.IsZero() {
			// node == reference, or one of them is the root of the other.
			stamp = b.clock.Now()
		}
		if b.maxAge > 0 {
			if age := b.clock.Now().Sub(stamp); age > b.maxAge {
				return scenetwin.Unavailable(fmt.Errorf("%q relative to %q is %v old: %w", node, reference, age, ErrStale))
			}
		}
		return scenetwin.Found(refIn.pose.Inverse().Mul(nodeIn.pose), stamp)
	}
	return scenetwin.Unavailable(fmt.Errorf("%q relative to %q: %w", node, reference, ErrNoPath))
}

// Consume returns a component.Proc inserting every PoseBatch received from
// sub into the buffer.
func (b *Buffer) Consume(sub *pubsub.Subscription) component.Proc {
	source := scenetwin.NewGobEventSource(sub, PoseBatch{})
	return source.Stream(func(ctx context.Context, msg any) error {
		batch := msg.(PoseBatch)
		valid, err := b.Insert(batch.Poses...)
		measureInsert(ctx, batch.Source, valid, len(batch.Poses)-valid)
		if err != nil {
			component.Logger(ctx).Warn("Skipped invalid poses",
				slog.String("source", batch.Source),
				slog.Any("error", err),
			)
		}
		return nil
	})
}

var _ scenetwin.PoseSource = (*Buffer)(nil)
