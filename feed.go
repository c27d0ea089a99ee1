package main

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"
)

const maxHandleLength = 20

var (
	ErrEmptyHandle      = errors.New("handle is empty")
	ErrHandleAlreadySet = errors.New("handle already set for this session")
	ErrIdentityRequired = errors.New("a handle is required first")
	ErrNotComposing     = errors.New("no sign is being composed")
)

// Session is the per-browser-session context: who is posting and which
// signs they liked. Its fields are guarded by the Feed that owns it.
type Session struct {
	ID     string
	handle string
	likes  map[int]bool
}

// NewSession returns a session, with handle already captured when non-empty.
func NewSession(id, handle string) *Session {
	return &Session{ID: id, handle: handle, likes: make(map[int]bool)}
}

// SignCard is one feed entry ready to render.
type SignCard struct {
	Record SignRecord
	Rows   [][]string
	Likes  int
	Liked  bool
}

// FeedView is the result of loading the feed. Err is set when the backend
// could not be reached; Cards is then empty.
type FeedView struct {
	Cards []SignCard
	Err   error
}

// Feed drives the board for one session: the identity gate, the likes
// overlay, the compose modal and one viewer per posted sign.
type Feed struct {
	mu            sync.Mutex
	svc           SignService
	session       *Session
	composing     bool
	editor        *Sign
	viewers       map[int]*Sign
	announcements []SignRecord
	onCreated     func(SignRecord)
	inflight      sync.WaitGroup
}

// NewFeed returns a feed controller for session backed by svc. onCreated,
// if non-nil, is called after a sign submitted from this feed is created.
func NewFeed(svc SignService, session *Session, onCreated func(SignRecord)) *Feed {
	return &Feed{
		svc:       svc,
		session:   session,
		viewers:   make(map[int]*Sign),
		onCreated: onCreated,
	}
}

// SessionID returns the owning session's ID.
func (f *Feed) SessionID() string { return f.session.ID }

// Handle returns the captured handle, "" until the gate is passed.
func (f *Feed) Handle() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.handle
}

// HasHandle reports whether the identity gate has been passed.
func (f *Feed) HasHandle() bool {
	return f.Handle() != ""
}

// SetHandle captures the handle once per session and returns the cleaned
// value.
func (f *Feed) SetHandle(typed string) (string, error) {
	handle := sanitizeHandle(typed)
	if handle == "" {
		return "", ErrEmptyHandle
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.handle != "" {
		return "", ErrHandleAlreadySet
	}
	f.session.handle = handle
	return handle, nil
}

// Load fetches the feed and reconciles the viewers with it.
func (f *Feed) Load(ctx context.Context) (FeedView, error) {
	if !f.HasHandle() {
		return FeedView{}, ErrIdentityRequired
	}

	records, err := f.svc.ListSigns(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		log.Printf("load feed for session %s: %v", f.session.ID, err)
		return FeedView{Err: err}, nil
	}

	records = f.mergeAnnouncements(records)

	seen := make(map[int]bool, len(records))
	cards := make([]SignCard, 0, len(records))
	for _, rec := range records {
		seen[rec.ID] = true
		grid, err := DecodeStrict(rec.Coordinates, rec.Characters)
		if err != nil {
			grid = rec.Grid()
		}
		v, ok := f.viewers[rec.ID]
		if !ok {
			if err != nil {
				log.Printf("sign %d: %v, extra segments dropped", rec.ID, err)
			}
			v = NewViewer(grid)
			f.viewers[rec.ID] = v
		} else {
			v.Reconcile(grid)
		}
		cards = append(cards, SignCard{
			Record: rec,
			Rows:   v.Rows(),
			Likes:  f.likeCount(rec),
			Liked:  f.session.likes[rec.ID],
		})
	}
	for id := range f.viewers {
		if !seen[id] {
			delete(f.viewers, id)
		}
	}
	return FeedView{Cards: cards}, nil
}

// Announcements whose sign is already in the fetched feed are dropped; the
// rest are shown first, newest first.
func (f *Feed) mergeAnnouncements(records []SignRecord) []SignRecord {
	if len(f.announcements) == 0 {
		return records
	}
	fetched := make(map[int]bool, len(records))
	for _, rec := range records {
		fetched[rec.ID] = true
	}
	var pending []SignRecord
	for _, rec := range f.announcements {
		if !fetched[rec.ID] {
			pending = append(pending, rec)
		}
	}
	f.announcements = pending
	if len(pending) == 0 {
		return records
	}
	merged := slices.Clone(pending)
	slices.Reverse(merged)
	return append(merged, records...)
}

// Announcements returns the signs created from this feed that have not yet
// shown up in a fetched feed.
func (f *Feed) Announcements() []SignRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.announcements)
}

// Like marks the sign as liked for this session and sends one
// increment-likes call per invocation. The overlay is set whatever the
// outcome of the call.
func (f *Feed) Like(ctx context.Context, id int) error {
	f.mu.Lock()
	if f.session.handle == "" {
		f.mu.Unlock()
		return ErrIdentityRequired
	}
	f.session.likes[id] = true
	f.mu.Unlock()

	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		if _, err := f.svc.IncrementLikes(context.WithoutCancel(ctx), id); err != nil {
			log.Printf("increment likes for sign %d: %v", id, err)
		}
	}()
	return nil
}

// Liked reports the overlay flag for a sign.
func (f *Feed) Liked(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.likes[id]
}

// LikeCount is the displayed count: the backend count, plus one when this
// session liked the sign.
func (f *Feed) LikeCount(rec SignRecord) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.likeCount(rec)
}

func (f *Feed) likeCount(rec SignRecord) int {
	if f.session.likes[rec.ID] {
		return len(rec.Likes) + 1
	}
	return len(rec.Likes)
}

// OpenCompose shows the compose modal with a fresh editor. Opening it while
// already open keeps the current editor.
func (f *Feed) OpenCompose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.handle == "" {
		return ErrIdentityRequired
	}
	if !f.composing {
		f.composing = true
		f.editor = NewEditor(f.svc)
	}
	return nil
}

// CloseCompose hides the modal and discards the editor.
func (f *Feed) CloseCompose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composing = false
	f.editor = nil
}

// Composing reports whether the compose modal is open.
func (f *Feed) Composing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.composing
}

// EditorRows returns the editor's grid for rendering.
func (f *Feed) EditorRows() ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.composing {
		return nil, ErrNotComposing
	}
	return f.editor.Rows(), nil
}

// EditorGrid returns a copy of the editor's grid.
func (f *Feed) EditorGrid() (Grid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.composing {
		return nil, ErrNotComposing
	}
	return f.editor.Grid(), nil
}

// Type sets one cell of the sign being composed.
func (f *Feed) Type(idx CellIndex, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.composing {
		return ErrNotComposing
	}
	return f.editor.Type(idx, value)
}

// TypeCells types several cells of the sign being composed. Either every
// value is accepted or the editor is left as it was.
func (f *Feed) TypeCells(cells map[CellIndex]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.composing {
		return ErrNotComposing
	}
	draft := NewEditor(nil)
	draft.grid = f.editor.Grid()
	for idx, value := range cells {
		if err := draft.Type(idx, value); err != nil {
			return err
		}
	}
	return f.editor.Fill(draft.grid)
}

// Fill replaces the grid of the sign being composed.
func (f *Feed) Fill(g Grid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.composing {
		return ErrNotComposing
	}
	return f.editor.Fill(g)
}

// Clear empties the sign being composed.
func (f *Feed) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.composing {
		return ErrNotComposing
	}
	return f.editor.Clear()
}

// Submit posts the sign being composed. The modal is closed before the
// backend answers; the created sign is added to the announcements when it
// does.
func (f *Feed) Submit(ctx context.Context) (*Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.handle == "" {
		return nil, ErrIdentityRequired
	}
	if !f.composing {
		return nil, ErrNotComposing
	}

	sub, err := f.editor.Submit(ctx, f.session.handle, SubmitHooks{
		// Runs inside editor.Submit, with f.mu held.
		OnSubmit: func() {
			f.composing = false
			f.editor = nil
		},
		OnUpdate: func(rec SignRecord) {
			f.mu.Lock()
			f.announcements = append(f.announcements, rec)
			f.mu.Unlock()
			if f.onCreated != nil {
				f.onCreated(rec)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		<-sub.Done()
	}()
	return sub, nil
}

// Settle waits for all backend calls started by this feed.
func (f *Feed) Settle() {
	f.inflight.Wait()
}

func sanitizeHandle(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "@", ""))
	if utf8.RuneCountInString(s) > maxHandleLength {
		s = strings.TrimSpace(string([]rune(s)[:maxHandleLength]))
	}
	return s
}
