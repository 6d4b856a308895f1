// Package registry maps session ids to live session handles.
//
// The map is split into shards keyed by the first byte of the id.  Ids
// are random, so sessions spread evenly and a lookup only contends with
// inserts and removals that land in the same shard.
package registry

import (
	"fmt"
	"sync"

	udperrors "udpterm/internal/errors"
	"udpterm/internal/protocol"
	"udpterm/internal/session"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[protocol.SessionID]*session.Handle
}

// Registry is a concurrent SessionID → *session.Handle map.
type Registry struct {
	shards []*shard
}

// New returns an empty registry with DefaultShards shards.
func New() *Registry { return NewWithShards(DefaultShards) }

// NewWithShards returns an empty registry with n shards (at least one).
func NewWithShards(n int) *Registry {
	if n <= 0 {
		n = 1
	}
	r := &Registry{shards: make([]*shard, n)}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[protocol.SessionID]*session.Handle)}
	}
	return r
}

func (r *Registry) shardFor(id protocol.SessionID) *shard {
	return r.shards[int(id[0])%len(r.shards)]
}

// Insert adds h under id.  An id that is already present is never
// overwritten; ErrDuplicateSession is returned instead.
func (r *Registry) Insert(id protocol.SessionID, h *session.Handle) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("insert %s: %w", id, udperrors.ErrDuplicateSession)
	}
	s.sessions[id] = h
	return nil
}

// Get returns the handle for id or ErrSessionNotFound.
func (r *Registry) Get(id protocol.SessionID) (*session.Handle, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	h, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", id, udperrors.ErrSessionNotFound)
	}
	return h, nil
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id protocol.SessionID) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for every registered session until fn returns false.
// It sees each shard as of the moment that shard is visited; fn must
// not call back into the registry.
func (r *Registry) Range(fn func(id protocol.SessionID, h *session.Handle) bool) {
	for _, s := range r.shards {
		s.mu.RLock()
		for id, h := range s.sessions {
			if !fn(id, h) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Handles returns a snapshot of every registered handle.
func (r *Registry) Handles() []*session.Handle {
	var out []*session.Handle
	r.Range(func(_ protocol.SessionID, h *session.Handle) bool {
		out = append(out, h)
		return true
	})
	return out
}
