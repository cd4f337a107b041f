package session

import (
	"errors"
	"sync"
)

var ErrDuplicateStream = errors.New("stream already registered")

// Registry maps stream sids to live sessions. It is shared by all connection
// goroutines.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers s under streamSid. A second session for the same stream is rejected.
func (r *Registry) Put(streamSid string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[streamSid]; ok {
		return ErrDuplicateStream
	}
	r.sessions[streamSid] = s
	return nil
}

func (r *Registry) Get(streamSid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[streamSid]
	return s, ok
}

// Remove drops streamSid only if it still maps to s, so a late cleanup cannot
// evict a newer session.
func (r *Registry) Remove(streamSid string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[streamSid]; ok && cur == s {
		delete(r.sessions, streamSid)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
