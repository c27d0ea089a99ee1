package main

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultRegion = "europe-west1"
	defaultModel  = "gemini-2.5-flash"
)

// GeminiClient wraps the Google GenAI client for VertexAI.
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a client using Application Default Credentials.
// Set GOOGLE_APPLICATION_CREDENTIALS to the service account key file path.
func NewGeminiClient(ctx context.Context, projectID, region string) (*GeminiClient, error) {
	if region == "" {
		region = defaultRegion
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		modelName: defaultModel,
	}, nil
}

// Close releases resources held by the client.
func (g *GeminiClient) Close() error {
	return nil
}

var signPrompt = fmt.Sprintf(`This is a photo of a letterboard sign with %d rows of %d letter slots.

Read the letters on it and answer with JSON in this exact shape:
{"rows": ["<row 1>", "<row 2>", "<row 3>", "<row 4>"]}

Rules:
- Each row is exactly %d characters, one per slot, left to right.
- Use a space for an empty slot.
- Never use the character ";".
- Answer ONLY with the JSON, no comment and no markdown.`, NumRows, NumColumns, NumColumns)

// AnalyzeSign sends a sign photo to Gemini Flash and returns the letters it
// read as a grid.
func (g *GeminiClient) AnalyzeSign(ctx context.Context, imageData []byte, mimeType string) (Grid, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: signPrompt},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: imageData}},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0.1)),
			TopP:             genai.Ptr(float32(1)),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty gemini response")
	}
	return parseSignRows(text)
}

// parseSignRows turns the model's {"rows": [...]} answer into a Grid.
// Rows and columns beyond the sign are ignored; spaces and ";" leave the
// cell unset.
func parseSignRows(text string) (Grid, error) {
	var resp struct {
		Rows []string `json:"rows"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("parse sign JSON: %w\nraw response: %s", err, text)
	}
	if len(resp.Rows) == 0 {
		return nil, fmt.Errorf("invalid sign: no rows")
	}

	g := Grid{}
	for r, row := range resp.Rows {
		if r >= NumRows {
			break
		}
		c := 0
		for _, ch := range row {
			if c >= NumColumns {
				break
			}
			if ch != ' ' && string(ch) != segmentSeparator {
				g[CellIndex{Row: r, Col: c}.Key()] = string(ch)
			}
			c++
		}
	}
	return g, nil
}
