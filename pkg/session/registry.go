// Package session implements the session registry: the mapping from
// session id to session state (placement map, outbound sink, connected
// flag), guarded by the lock ordering registry -> session -> outbound
// sink. Nothing acquires these locks in the reverse order.
package session

import (
	"sort"
	"sync"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
)

// OutboundSink is a write-only message sink attached to a session for the
// lifetime of its duplex connection. Implementations must serialize
// concurrent writers themselves (the registry does not synchronize Send
// calls beyond holding the session's own mutex across attach/detach).
type OutboundSink interface {
	Send(message []byte) error
}

type session struct {
	mu         sync.Mutex
	id         string
	token      string
	placement  map[string]contracts.ExecutionLocation
	order      []string
	outbound   OutboundSink
	connected  bool
	userAgent  string
	remoteAddr string
}

func (s *session) snapshotLocked() contracts.SessionSnapshot {
	entries := make([]contracts.PlacementEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, contracts.PlacementEntry{FragmentID: id, Location: s.placement[id]})
	}
	return contracts.SessionSnapshot{
		SessionID:  s.id,
		Token:      s.token,
		Placement:  entries,
		Connected:  s.connected,
		UserAgent:  s.userAgent,
		RemoteAddr: s.remoteAddr,
	}
}

// Registry is the process-wide session store. A single mutex guards
// structural changes (session creation, token index); each session's own
// mutex guards its placement map and outbound sink.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	byToken  map[string]string

	catalog contracts.FragmentCatalog
}

var _ contracts.SessionRegistry = (*Registry)(nil)

// New creates an empty registry. catalog supplies the fragment set and
// each fragment's initial_location used to default a new session's
// placement map (a session's placement map covers every fragment id
// present in the catalog at startup; new fragments are not added later).
func New(catalog contracts.FragmentCatalog) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		byToken:  make(map[string]string),
		catalog:  catalog,
	}
}

// Register creates or replaces a session with the given token and a
// placement map defaulted from the catalog's initial locations.
func (r *Registry) Register(sessionID, token string) contracts.SessionSnapshot {
	fragments := r.catalog.Fragments()
	placement := make(map[string]contracts.ExecutionLocation, len(fragments))
	order := make([]string, 0, len(fragments))
	for _, f := range fragments {
		placement[f.ID] = f.InitialLocation
		order = append(order, f.ID)
	}
	sort.Strings(order)

	s := &session{
		id:        sessionID,
		token:     token,
		placement: placement,
		order:     order,
	}

	r.mu.Lock()
	if old, ok := r.sessions[sessionID]; ok {
		delete(r.byToken, old.token)
	}
	r.sessions[sessionID] = s
	r.byToken[token] = sessionID
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LookupByID returns the session for an id, or ok=false.
func (r *Registry) LookupByID(sessionID string) (contracts.SessionSnapshot, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return contracts.SessionSnapshot{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), true
}

// LookupByToken returns the session owning a token, or ok=false.
func (r *Registry) LookupByToken(token string) (contracts.SessionSnapshot, bool) {
	r.mu.RLock()
	sessionID, ok := r.byToken[token]
	if !ok {
		r.mu.RUnlock()
		return contracts.SessionSnapshot{}, false
	}
	s := r.sessions[sessionID]
	r.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), true
}

// UpdatePlacement merges delta into a session's placement map. Entries
// naming unknown fragment ids are ignored, not errors. Applying the same
// delta twice has the same observable effect as applying it once.
func (r *Registry) UpdatePlacement(sessionID string, delta []contracts.PlacementEntry) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return fragerrors.NewNotFoundError("session", sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range delta {
		if _, known := s.placement[entry.FragmentID]; known {
			s.placement[entry.FragmentID] = entry.Location
		}
	}
	return nil
}

// SnapshotAll returns a point-in-time copy of every session, for the
// admin listing endpoint.
func (r *Registry) SnapshotAll() []contracts.SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]contracts.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.snapshotLocked())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// AttachOutbound binds sink as a session's live outbound channel and marks
// it connected. Returns the session's current snapshot so the caller (the
// duplex session loop) can push the initial UpdateFragments response as a
// side effect of attaching, without the registry itself needing to know
// the wire envelope format.
func (r *Registry) AttachOutbound(sessionID string, sink OutboundSink, userAgent, remoteAddr string) (contracts.SessionSnapshot, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return contracts.SessionSnapshot{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = sink
	s.connected = true
	s.userAgent = userAgent
	s.remoteAddr = remoteAddr
	return s.snapshotLocked(), true
}

// DetachOutbound clears a session's outbound sink and marks it
// disconnected. Safe to call even if the session was never attached.
func (r *Registry) DetachOutbound(sessionID string) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = nil
	s.connected = false
}

// Outbound returns a session's current outbound sink, or nil if detached.
func (r *Registry) Outbound(sessionID string) OutboundSink {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbound
}
