package scenetwin

import (
	"context"
	"sync"
	"time"
)

// A permitLock is the single-writer/multiple-reader lock behind a Scene's
// permits. It is an adaptation of sync.RWMutex that measures how long each
// acquisition waited.
//
// A blocked Lock call excludes new readers from acquiring the lock, so a
// steady stream of readers (e.g. a draw loop) cannot starve the ingestion
// writer. The guarantees of sync.RWMutex regarding the Go memory model apply:
// the n'th call to Unlock synchronises before the m'th call to RLock for any
// n < m, which is what makes a committed sample visible to later readers.
//
// The zero value for a permitLock is an unlocked lock.
type permitLock sync.RWMutex

// RLock locks pl for reading, waiting without bound while a writer holds it.
// The given context is used for telemetry only; cancelling it does not abort
// the wait.
func (pl *permitLock) RLock(ctx context.Context) {
	start := time.Now()
	(*sync.RWMutex)(pl).RLock()
	measurePermitWait(ctx, "read", time.Since(start))
}

// RUnlock undoes a single RLock call; it does not affect other simultaneous
// readers.
func (pl *permitLock) RUnlock() {
	(*sync.RWMutex)(pl).RUnlock()
}

// Lock locks pl for writing, waiting without bound until no other reader or
// writer holds it. The given context is used for telemetry only.
func (pl *permitLock) Lock(ctx context.Context) {
	start := time.Now()
	(*sync.RWMutex)(pl).Lock()
	measurePermitWait(ctx, "write", time.Since(start))
}

// Unlock unlocks pl for writing.
func (pl *permitLock) Unlock() {
	(*sync.RWMutex)(pl).Unlock()
}
