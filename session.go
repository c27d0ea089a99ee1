package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HandleStore keeps session handles beyond the life of the process.
type HandleStore interface {
	LoadHandle(ctx context.Context, sessionID string) (string, error)
	SaveHandle(ctx context.Context, sessionID, handle string) error
	TouchHandles(ctx context.Context, seen map[string]time.Time) error
	PruneHandles(ctx context.Context, before time.Time) (int64, error)
}

type sessionEntry struct {
	feed     *Feed
	lastSeen time.Time
}

// Sessions holds the Feed of every live browser session.
type Sessions struct {
	mu        sync.Mutex
	svc       SignService
	handles   HandleStore
	entries   map[string]*sessionEntry
	onCreated func(SignRecord)
	now       func() time.Time
}

// NewSessions creates a session registry. handles may be nil, in which case
// handles only live in memory.
func NewSessions(svc SignService, handles HandleStore) *Sessions {
	return &Sessions{
		svc:     svc,
		handles: handles,
		entries: make(map[string]*sessionEntry),
		now:     time.Now,
	}
}

// OnSignCreated registers the callback handed to every new Feed. It must be
// set before the first call to Get.
func (s *Sessions) OnSignCreated(fn func(SignRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreated = fn
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id looks like one minted by NewSessionID.
func ValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Get returns the Feed for a session, creating it on first use. A handle
// saved by a previous process is restored.
func (s *Sessions) Get(ctx context.Context, id string) (*Feed, error) {
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		e.lastSeen = s.now()
		s.mu.Unlock()
		return e.feed, nil
	}
	s.mu.Unlock()

	var handle string
	if s.handles != nil {
		h, err := s.handles.LoadHandle(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("restore session %s: %w", id, err)
		}
		handle = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.lastSeen = s.now()
		return e.feed, nil
	}
	feed := NewFeed(s.svc, NewSession(id, handle), s.onCreated)
	s.entries[id] = &sessionEntry{feed: feed, lastSeen: s.now()}
	return feed, nil
}

// Identify passes the identity gate for feed and persists the handle.
func (s *Sessions) Identify(ctx context.Context, feed *Feed, typed string) (string, error) {
	handle, err := feed.SetHandle(typed)
	if err != nil {
		return "", err
	}
	if s.handles != nil {
		if err := s.handles.SaveHandle(ctx, feed.SessionID(), handle); err != nil {
			log.Printf("persist handle for session %s: %v", feed.SessionID(), err)
		}
	}
	return handle, nil
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops sessions idle for longer than maxIdle, and persisted handles
// of sessions idle for that long. Handles of live sessions are touched first
// so they outlast the idle window. It returns the number of sessions dropped.
func (s *Sessions) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	dropped := 0
	live := make(map[string]time.Time, len(s.entries))
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, id)
			dropped++
			continue
		}
		if e.feed.HasHandle() {
			live[id] = e.lastSeen
		}
	}
	s.mu.Unlock()

	if s.handles != nil {
		if err := s.handles.TouchHandles(ctx, live); err != nil {
			// Pruning now could drop handles of live sessions.
			log.Printf("touch session handles: %v", err)
			return dropped
		}
		if n, err := s.handles.PruneHandles(ctx, cutoff); err != nil {
			log.Printf("prune session handles: %v", err)
		} else if n > 0 {
			log.Printf("pruned %d stale session handles", n)
		}
	}
	return dropped
}

// Run sweeps idle sessions every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, maxIdle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx, maxIdle); n > 0 {
				log.Printf("evicted %d idle sessions", n)
			}
		}
	}
}

// Settle waits for the outstanding backend calls of every live session.
func (s *Sessions) Settle() {
	s.mu.Lock()
	feeds := make([]*Feed, 0, len(s.entries))
	for _, e := range s.entries {
		feeds = append(feeds, e.feed)
	}
	s.mu.Unlock()

	for _, f := range feeds {
		f.Settle()
	}
}
