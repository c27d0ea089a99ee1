package main

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Store is an in-memory SignService. It backs local runs without a GraphQL
// endpoint, and the tests.
type Store struct {
	mu       sync.RWMutex
	signs    map[int]*SignRecord
	lastSign int
	lastLike int
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		signs: make(map[int]*SignRecord),
		now:   time.Now,
	}
}

// CreateSign saves a sign and returns it with a generated ID.
func (s *Store) CreateSign(ctx context.Context, sign EncodedSign, handle string) (SignRecord, error) {
	if err := ctx.Err(); err != nil {
		return SignRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSign++
	rec := &SignRecord{
		ID:          s.lastSign,
		Coordinates: sign.Coordinates,
		Characters:  sign.Characters,
		Handle:      handle,
		CreatedAt:   s.now(),
		Likes:       []Like{},
		Comments:    []Comment{},
	}
	s.signs[rec.ID] = rec
	return cloneRecord(rec), nil
}

// GetSign returns a sign by ID.
func (s *Store) GetSign(id int) (SignRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.signs[id]
	if !ok {
		return SignRecord{}, false
	}
	return cloneRecord(rec), true
}

// ListSigns returns all signs, most recent first.
func (s *Store) ListSigns(ctx context.Context) ([]SignRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]SignRecord, 0, len(s.signs))
	for _, rec := range s.signs {
		list = append(list, cloneRecord(rec))
	}
	// Ties on CreatedAt fall back to the ID so the order stays stable.
	slices.SortFunc(list, func(a, b SignRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return list, nil
}

// IncrementLikes appends a like to the sign and returns the like's ID.
func (s *Store) IncrementLikes(ctx context.Context, id int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.signs[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrSignNotFound, id)
	}
	s.lastLike++
	rec.Likes = append(rec.Likes, Like{ID: s.lastLike})
	return s.lastLike, nil
}

func cloneRecord(rec *SignRecord) SignRecord {
	cp := *rec
	cp.Likes = slices.Clone(rec.Likes)
	cp.Comments = slices.Clone(rec.Comments)
	return cp
}
