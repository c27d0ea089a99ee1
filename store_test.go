package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore() *Store {
	s := NewStore()
	base := time.Date(2021, 8, 1, 12, 0, 0, 0, time.UTC)
	var n int
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	return s
}

func TestCreateAndGetSign(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	rec, err := s.CreateSign(ctx, EncodedSign{Coordinates: "0, 0", Characters: "A"}, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected sign to have an ID")
	}
	if rec.Handle != "alice" {
		t.Fatalf("expected handle alice, got %q", rec.Handle)
	}
	if _, ok := s.GetSign(rec.ID); !ok {
		t.Fatal("expected to find saved sign")
	}
	if _, ok := s.GetSign(999); ok {
		t.Fatal("expected miss for unknown ID")
	}
}

func TestListSignsNewestFirst(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	first, _ := s.CreateSign(ctx, EncodedSign{}, "alice")
	second, _ := s.CreateSign(ctx, EncodedSign{}, "bob")

	list, err := s.ListSigns(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 signs, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got ids %d, %d", list[0].ID, list[1].ID)
	}
}

func TestIncrementLikes(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if _, err := s.IncrementLikes(ctx, 42); !errors.Is(err, ErrSignNotFound) {
		t.Fatalf("expected ErrSignNotFound, got %v", err)
	}

	rec, _ := s.CreateSign(ctx, EncodedSign{}, "alice")
	id1, err := s.IncrementLikes(ctx, rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, _ := s.IncrementLikes(ctx, rec.ID)
	if id1 == id2 {
		t.Fatal("like IDs should be distinct")
	}

	got, _ := s.GetSign(rec.ID)
	if len(got.Likes) != 2 {
		t.Fatalf("expected 2 likes, got %d", len(got.Likes))
	}
}

func TestListSignsReturnsCopies(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	rec, _ := s.CreateSign(ctx, EncodedSign{}, "alice")
	s.IncrementLikes(ctx, rec.ID)

	list, _ := s.ListSigns(ctx)
	list[0].Likes[0].ID = -1
	list[0].Handle = "mallory"

	got, _ := s.GetSign(rec.ID)
	if got.Handle != "alice" || got.Likes[0].ID == -1 {
		t.Fatal("ListSigns should return copies, not references")
	}
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	s := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.CreateSign(ctx, EncodedSign{}, "alice"); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if _, err := s.ListSigns(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	rec, _ := s.CreateSign(ctx, EncodedSign{}, "alice")

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.IncrementLikes(ctx, rec.ID)
			s.ListSigns(ctx)
			if i%10 == 0 {
				s.CreateSign(ctx, EncodedSign{Coordinates: "0, 0", Characters: "X"}, "bob")
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.GetSign(rec.ID)
	if len(got.Likes) != 100 {
		t.Fatalf("expected 100 likes, got %d", len(got.Likes))
	}
}
