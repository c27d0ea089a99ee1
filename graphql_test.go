package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// fakeBackend answers GraphQL requests with canned data and records them.
type fakeBackend struct {
	mu       sync.Mutex
	requests []graphqlRequest
	secrets  []string
	reply    func(req graphqlRequest) string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.secrets = append(b.secrets, r.Header.Get("x-hasura-admin-secret"))
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(b.reply(req)))
}

func (b *fakeBackend) last() (graphqlRequest, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1], b.secrets[len(b.secrets)-1]
}

func newFakeBackend(t *testing.T, reply func(req graphqlRequest) string) (*fakeBackend, *GraphQLService) {
	t.Helper()
	b := &fakeBackend{reply: reply}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, NewGraphQLService(srv.URL, "s3cret", 5*time.Second)
}

const signJSON = `{
	"id": 12,
	"coordinates": "0, 0;0, 1",
	"characters": "H;I",
	"handle": "alice",
	"created_at": "2021-08-01T12:00:00.123456+00:00",
	"likes": [{"id": 1}, {"id": 2}],
	"comments": [{"id": 3, "comment": "nice", "created_at": "2021-08-01T12:05:00+00:00"}]
}`

func TestGraphQLListSigns(t *testing.T) {
	b, svc := newFakeBackend(t, func(graphqlRequest) string {
		return `{"data": {"signs": [` + signJSON + `]}}`
	})

	signs, err := svc.ListSigns(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signs) != 1 {
		t.Fatalf("expected 1 sign, got %d", len(signs))
	}
	s := signs[0]
	if s.ID != 12 || s.Handle != "alice" || s.Coordinates != "0, 0;0, 1" || s.Characters != "H;I" {
		t.Fatalf("unexpected sign: %+v", s)
	}
	if len(s.Likes) != 2 || len(s.Comments) != 1 || s.Comments[0].Comment != "nice" {
		t.Fatalf("unexpected sub-records: %+v", s)
	}
	if s.CreatedAt.IsZero() {
		t.Fatal("created_at should be decoded")
	}

	req, secret := b.last()
	if !strings.Contains(req.Query, "signs(order_by: {created_at: desc})") {
		t.Fatalf("unexpected query: %s", req.Query)
	}
	if !strings.Contains(req.Query, "GetSigns") {
		t.Fatalf("expected operation name in query: %s", req.Query)
	}
	if secret != "s3cret" {
		t.Fatalf("expected admin secret header, got %q", secret)
	}
}

func TestGraphQLCreateSign(t *testing.T) {
	b, svc := newFakeBackend(t, func(graphqlRequest) string {
		return `{"data": {"insert_signs_one": ` + signJSON + `}}`
	})

	rec, err := svc.CreateSign(context.Background(), EncodedSign{Coordinates: "0, 0;0, 1", Characters: "H;I"}, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != 12 {
		t.Fatalf("expected created sign 12, got %d", rec.ID)
	}

	req, _ := b.last()
	if !strings.Contains(req.Query, "insert_signs_one") {
		t.Fatalf("unexpected mutation: %s", req.Query)
	}
	want := map[string]string{"coordinates": "0, 0;0, 1", "characters": "H;I", "handle": "alice"}
	for k, v := range want {
		if req.Variables[k] != v {
			t.Errorf("variable %s: expected %q, got %v", k, v, req.Variables[k])
		}
	}
}

func TestGraphQLIncrementLikes(t *testing.T) {
	b, svc := newFakeBackend(t, func(graphqlRequest) string {
		return `{"data": {"insert_likes_one": {"id": 77}}}`
	})

	id, err := svc.IncrementLikes(context.Background(), 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 77 {
		t.Fatalf("expected like 77, got %d", id)
	}

	req, _ := b.last()
	if !strings.Contains(req.Query, "insert_likes_one") {
		t.Fatalf("unexpected mutation: %s", req.Query)
	}
	// JSON numbers decode as float64.
	if req.Variables["id"] != float64(12) {
		t.Fatalf("expected id variable 12, got %v", req.Variables["id"])
	}
}

func TestGraphQLErrors(t *testing.T) {
	_, svc := newFakeBackend(t, func(graphqlRequest) string {
		return `{"errors": [{"message": "field \"signs\" not found"}]}`
	})

	if _, err := svc.ListSigns(context.Background()); err == nil {
		t.Fatal("expected GraphQL error to surface")
	}
}
