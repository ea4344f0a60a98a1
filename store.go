package scenetwin

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode is returned when writing to a link that is not part of any
	// robot of the scene.
	ErrUnknownNode = errors.New("unknown node")
	// ErrOutOfOrder is returned when a sample is older than the sample already
	// stored for the same link. Samples of a link are committed in
	// non-decreasing time order.
	ErrOutOfOrder = errors.New("sample out of order")
)

// A transformStore holds the latest known transform of every link, and a
// bounded history of earlier samples.
//
// The set of links is fixed when the store is created; it is the Scene's
// permits that guard concurrent access to the store, the store itself is not
// safe for concurrent use.
type transformStore struct {
	depth   int
	entries map[string]*storeEntry
}

// A storeEntry is the slot of a single link. Its latest sample is nil until the
// first successful set.
type storeEntry struct {
	latest *TransformSample
	// ring buffer of the last len(ring) samples, including latest; next is the
	// index the following sample goes to, and n counts the occupied slots.
	ring []TransformSample
	next int
	n    int
}

func newTransformStore(nodes []string, depth int) *transformStore {
	s := &transformStore{
		depth:   depth,
		entries: make(map[string]*storeEntry, len(nodes)),
	}
	for _, name := range nodes {
		e := &storeEntry{}
		if depth > 0 {
			e.ring = make([]TransformSample, depth)
		}
		s.entries[name] = e
	}
	return s
}

// set replaces the sample stored for node. It refuses samples older than the
// stored one, leaving the store untouched.
func (s *transformStore) set(node string, sample TransformSample) error {
	e, ok := s.entries[node]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, node)
	}
	if e.latest != nil && sample.Stamp.Before(e.latest.Stamp) {
		return fmt.Errorf("%w: %q at %v precedes %v", ErrOutOfOrder, node, sample.Stamp, e.latest.Stamp)
	}
	// The sample is copied to the heap once and never modified afterwards; the
	// slot swaps to the new pointer wholesale.
	x := sample
	e.latest = &x
	if len(e.ring) > 0 {
		e.ring[e.next] = sample
		e.next = (e.next + 1) % len(e.ring)
		if e.n < len(e.ring) {
			e.n++
		}
	}
	return nil
}

// get returns the latest sample of node. Absence (unknown node, or no sample
// committed yet) is reported with ok == false, never as an error.
func (s *transformStore) get(node string) (sample TransformSample, ok bool) {
	e, exists := s.entries[node]
	if !exists || e.latest == nil {
		return TransformSample{}, false
	}
	return *e.latest, true
}

// history returns a copy of the samples retained for node, oldest first.
func (s *transformStore) history(node string) []TransformSample {
	e, ok := s.entries[node]
	if !ok || e.n == 0 {
		return nil
	}
	out := make([]TransformSample, 0, e.n)
	start := (e.next - e.n + len(e.ring)) % len(e.ring)
	for i := 0; i < e.n; i++ {
		out = append(out, e.ring[(start+i)%len(e.ring)])
	}
	return out
}
