package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrReadOnly           = errors.New("sign is display only")
	ErrOutOfBounds        = errors.New("cell outside the sign")
	ErrNotSingleCharacter = errors.New("a cell holds at most one character")
	ErrReservedCharacter  = errors.New("character is reserved by the sign encoding")
)

// Sign holds one grid, either shown read-only (a posted sign) or being
// composed. It is not safe for concurrent use; the owning Feed serializes
// access.
type Sign struct {
	grid        Grid
	displayOnly bool
	creator     SignCreator
}

// NewViewer returns a display-only sign showing g.
func NewViewer(g Grid) *Sign {
	return &Sign{grid: g.Clone(), displayOnly: true}
}

// NewEditor returns an empty editable sign that submits through creator.
func NewEditor(creator SignCreator) *Sign {
	return &Sign{grid: Grid{}, creator: creator}
}

// DisplayOnly reports the sign's mode.
func (s *Sign) DisplayOnly() bool { return s.displayOnly }

// Grid returns a copy of the current grid.
func (s *Sign) Grid() Grid { return s.grid.Clone() }

// Rows returns the grid laid out for rendering.
func (s *Sign) Rows() [][]string { return s.grid.Rows() }

// Reconcile replaces the shown grid with supplied when they differ. It is
// called once per render of a display-only sign and reports whether the
// grid changed. Editable signs are never touched.
func (s *Sign) Reconcile(supplied Grid) bool {
	if !s.displayOnly || s.grid.Equal(supplied) {
		return false
	}
	s.grid = supplied.Clone()
	return true
}

// Type sets the character at idx, overwriting what was there. An empty value
// unsets the cell.
func (s *Sign) Type(idx CellIndex, value string) error {
	if s.displayOnly {
		return ErrReadOnly
	}
	if !idx.Valid() {
		return fmt.Errorf("%w: (%d, %d)", ErrOutOfBounds, idx.Row, idx.Col)
	}
	value = norm.NFC.String(value)
	if utf8.RuneCountInString(value) > 1 {
		return fmt.Errorf("%w: %q", ErrNotSingleCharacter, value)
	}
	if strings.Contains(value, segmentSeparator) {
		return fmt.Errorf("%w: %q", ErrReservedCharacter, value)
	}

	next := s.grid.Clone()
	if value == "" {
		delete(next, idx.Key())
	} else {
		next[idx.Key()] = value
	}
	s.grid = next
	return nil
}

// Fill replaces the whole grid of an editable sign.
func (s *Sign) Fill(g Grid) error {
	if s.displayOnly {
		return ErrReadOnly
	}
	s.grid = g.Clone()
	return nil
}

// Clear empties an editable sign.
func (s *Sign) Clear() error {
	if s.displayOnly {
		return ErrReadOnly
	}
	s.grid = Grid{}
	return nil
}

// SubmitHooks are the two notifications of a submission. OnSubmit runs
// before Submit returns, without waiting for the backend. OnUpdate runs on
// another goroutine once the backend has returned the created sign, and
// always after OnSubmit. OnUpdate is not called when the backend fails.
type SubmitHooks struct {
	OnSubmit func()
	OnUpdate func(SignRecord)
}

// Submission tracks one in-flight create-sign call.
type Submission struct {
	done   chan struct{}
	record SignRecord
	err    error
}

// Done is closed once the backend call has settled and OnUpdate has returned.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Result waits for the call to settle.
func (s *Submission) Result() (SignRecord, error) {
	<-s.done
	return s.record, s.err
}

// Submit encodes the grid and sends it to the backend with handle as author.
// The call is not canceled when ctx is; it runs to completion.
func (s *Sign) Submit(ctx context.Context, handle string, hooks SubmitHooks) (*Submission, error) {
	if s.displayOnly {
		return nil, ErrReadOnly
	}
	if s.creator == nil {
		return nil, errors.New("sign has no creator")
	}

	sign := Encode(s.grid)
	creator := s.creator
	sub := &Submission{done: make(chan struct{})}
	fired := make(chan struct{})

	go func() {
		defer close(sub.done)
		rec, err := creator.CreateSign(context.WithoutCancel(ctx), sign, handle)
		<-fired
		sub.record, sub.err = rec, err
		if err != nil {
			log.Printf("create sign for %q: %v", handle, err)
			return
		}
		if hooks.OnUpdate != nil {
			hooks.OnUpdate(rec)
		}
	}()

	if hooks.OnSubmit != nil {
		hooks.OnSubmit()
	}
	close(fired)
	return sub, nil
}
