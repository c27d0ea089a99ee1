package main

import (
	"bytes"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

type cellView struct {
	Row   int
	Col   int
	Value string
}

type cardView struct {
	ID        int
	Handle    string
	Posted    string
	Rows      [][]cellView
	Likes     int
	BaseLikes int
	Liked     bool
}

type feedData struct {
	Cards  []cardView
	Failed bool
}

type boardData struct {
	Handle       string
	Composing    bool
	Editor       [][]cellView
	Feed         feedData
	PhotoEnabled bool
}

type promptData struct {
	Typed string
	Error string
}

func parsePages() *template.Template {
	return template.Must(template.New("").ParseFS(frontendFS, "frontend/*.html"))
}

func cellRows(rows [][]string) [][]cellView {
	out := make([][]cellView, len(rows))
	for r, row := range rows {
		out[r] = make([]cellView, len(row))
		for c, v := range row {
			out[r][c] = cellView{Row: r, Col: c, Value: v}
		}
	}
	return out
}

func newFeedData(view FeedView, now time.Time) feedData {
	if view.Err != nil {
		return feedData{Failed: true}
	}
	cards := make([]cardView, 0, len(view.Cards))
	for _, card := range view.Cards {
		cards = append(cards, cardView{
			ID:        card.Record.ID,
			Handle:    card.Record.Handle,
			Posted:    humanize.RelTime(card.Record.CreatedAt, now, "ago", "from now"),
			Rows:      cellRows(card.Rows),
			Likes:     card.Likes,
			BaseLikes: len(card.Record.Likes),
			Liked:     card.Liked,
		})
	}
	return feedData{Cards: cards}
}

// render executes a template into a buffer first so a failure never sends
// a half-written page.
func (s *Server) render(w http.ResponseWriter, name string, status int, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("render %s: %v", name, err)
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
