// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDuplicateBatch is returned by Store.Add when a batch with the same
// digest is already stored.
var ErrDuplicateBatch = errors.New("collector: batch already stored")

// StoredBatch is one received batch as the collector keeps it.
type StoredBatch struct {
	// Sequence numbers batches in arrival order, starting at 1.
	Sequence     uint64           `json:"sequence"`
	ReceivedAt   time.Time        `json:"receivedAt"`
	Digest       string           `json:"digest,omitempty"`
	Customer     string           `json:"customer"`
	BusinessUnit string           `json:"businessUnit"`
	SessionID    string           `json:"sessionId"`
	DispatchTime int64            `json:"dispatchTime"`
	ClockOffset  int64            `json:"clockOffset"`
	Events       []map[string]any `json:"events"`

	// Size is the decoded request body size used for accounting.
	Size int `json:"size"`
}

// Store is a size-bounded FIFO of received batches. When an Add would
// exceed the byte limit, the oldest batches are dropped until the new
// one fits: a collector nobody reads from loses old data rather than
// growing without bound.
//
// Thread-safe: all methods may be called concurrently.
type Store struct {
	mu        sync.Mutex
	entries   []StoredBatch
	digests   map[string]struct{}
	totalSize int
	maxSize   int
	dropped   uint64
	sequence  uint64
}

// NewStore creates a Store holding at most maxSize bytes. The maxSize
// must be positive.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		panic(fmt.Sprintf("collector: store maxSize must be positive, got %d", maxSize))
	}
	return &Store{maxSize: maxSize, digests: make(map[string]struct{})}
}

// Add appends batch, assigning its sequence number, and returns the
// stored copy. A batch larger than the whole store is rejected. A
// batch whose non-empty digest is already stored is not added again
// and Add returns ErrDuplicateBatch; the check and the insert are one
// critical section.
func (s *Store) Add(batch StoredBatch) (StoredBatch, error) {
	if batch.Size > s.maxSize {
		return StoredBatch{}, fmt.Errorf("collector: batch of %d bytes exceeds store size %d", batch.Size, s.maxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.digests[batch.Digest]; seen && batch.Digest != "" {
		return StoredBatch{}, ErrDuplicateBatch
	}

	for s.totalSize+batch.Size > s.maxSize && len(s.entries) > 0 {
		s.evictOldestLocked()
		s.dropped++
	}

	s.sequence++
	batch.Sequence = s.sequence
	s.entries = append(s.entries, batch)
	s.totalSize += batch.Size
	if batch.Digest != "" {
		s.digests[batch.Digest] = struct{}{}
	}
	return batch, nil
}

func (s *Store) evictOldestLocked() {
	evicted := s.entries[0]
	s.entries[0] = StoredBatch{}
	s.entries = s.entries[1:]
	s.totalSize -= evicted.Size
	delete(s.digests, evicted.Digest)
}

// HasDigest reports whether a stored batch carries digest.
func (s *Store) HasDigest(digest string) bool {
	if digest == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.digests[digest]
	return seen
}

// List returns the stored batches, oldest first. With a non-empty
// sessionID only that session's batches are returned.
func (s *Store) List(sessionID string) []StoredBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches := make([]StoredBatch, 0, len(s.entries))
	for _, batch := range s.entries {
		if sessionID == "" || batch.SessionID == sessionID {
			batches = append(batches, batch)
		}
	}
	return batches
}

// Len returns the number of stored batches.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SizeBytes returns the accounted size of all stored batches.
func (s *Store) SizeBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Dropped returns the number of batches evicted to make room since
// creation.
func (s *Store) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
