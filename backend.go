package main

import (
	"context"
	"errors"
	"time"
)

var ErrSignNotFound = errors.New("sign not found")

// Like is one like sub-record of a sign.
type Like struct {
	ID int `graphql:"id" json:"id"`
}

// Comment is fetched with a sign but not shown on the board.
type Comment struct {
	ID        int       `graphql:"id" json:"id"`
	Comment   string    `graphql:"comment" json:"comment"`
	CreatedAt time.Time `graphql:"created_at" json:"created_at"`
}

// SignRecord is a posted sign as the backend returns it.
type SignRecord struct {
	ID          int       `graphql:"id" json:"id"`
	Coordinates string    `graphql:"coordinates" json:"coordinates"`
	Characters  string    `graphql:"characters" json:"characters"`
	Handle      string    `graphql:"handle" json:"handle"`
	CreatedAt   time.Time `graphql:"created_at" json:"created_at"`
	Likes       []Like    `graphql:"likes" json:"likes"`
	Comments    []Comment `graphql:"comments" json:"comments"`
}

// Grid decodes the record's encoded sign.
func (r SignRecord) Grid() Grid {
	return Decode(r.Coordinates, r.Characters)
}

// SignCreator persists a new sign.
type SignCreator interface {
	CreateSign(ctx context.Context, sign EncodedSign, handle string) (SignRecord, error)
}

// SignService is the backend contract: the feed query plus the two mutations.
type SignService interface {
	SignCreator
	// ListSigns returns every sign, newest first.
	ListSigns(ctx context.Context) ([]SignRecord, error)
	// IncrementLikes adds a like to sign id and returns the new like's id.
	IncrementLikes(ctx context.Context, id int) (int, error)
}
