package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	graphql "github.com/hasura/go-graphql-client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// GraphQLService talks to the Hasura backend that stores signs and likes.
type GraphQLService struct {
	client *graphql.Client
}

// NewGraphQLService creates a backend client for endpoint. adminSecret, when
// set, is sent as x-hasura-admin-secret on every request.
func NewGraphQLService(endpoint, adminSecret string, timeout time.Duration) *GraphQLService {
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	client := graphql.NewClient(endpoint, httpClient)
	if adminSecret != "" {
		client = client.WithRequestModifier(func(r *http.Request) {
			r.Header.Set("x-hasura-admin-secret", adminSecret)
		})
	}
	return &GraphQLService{client: client}
}

// ListSigns runs GetSigns.
func (g *GraphQLService) ListSigns(ctx context.Context) ([]SignRecord, error) {
	var q struct {
		Signs []SignRecord `graphql:"signs(order_by: {created_at: desc})"`
	}
	if err := g.client.Query(ctx, &q, nil, graphql.OperationName("GetSigns")); err != nil {
		return nil, fmt.Errorf("get signs: %w", err)
	}
	return q.Signs, nil
}

// CreateSign runs AddSign and returns the created sign.
func (g *GraphQLService) CreateSign(ctx context.Context, sign EncodedSign, handle string) (SignRecord, error) {
	var m struct {
		InsertSignsOne SignRecord `graphql:"insert_signs_one(object: {characters: $characters, coordinates: $coordinates, handle: $handle})"`
	}
	vars := map[string]any{
		"characters":  graphql.String(sign.Characters),
		"coordinates": graphql.String(sign.Coordinates),
		"handle":      graphql.String(handle),
	}
	if err := g.client.Mutate(ctx, &m, vars, graphql.OperationName("AddSign")); err != nil {
		return SignRecord{}, fmt.Errorf("add sign: %w", err)
	}
	return m.InsertSignsOne, nil
}

// IncrementLikes runs IncrementLikes and returns the new like's ID.
func (g *GraphQLService) IncrementLikes(ctx context.Context, id int) (int, error) {
	var m struct {
		InsertLikesOne Like `graphql:"insert_likes_one(object: {sign_id: $id})"`
	}
	vars := map[string]any{
		"id": graphql.Int(id),
	}
	if err := g.client.Mutate(ctx, &m, vars, graphql.OperationName("IncrementLikes")); err != nil {
		return 0, fmt.Errorf("increment likes for sign %d: %w", id, err)
	}
	return m.InsertLikesOne.ID, nil
}
