package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"talk-archive/pkg/httpclient"
)

// Dimensions is the width of the transcripts.text_vector column.
const Dimensions = 384

// Embedder turns segment texts into vectors. The result is parallel to texts;
// a nil slice means no vectors are stored.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Noop stores no vectors.
type Noop struct{}

func (Noop) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

// Client calls an HTTP inference service: POST <endpoint>/embed with {"texts": [...]}.
type Client struct {
	endpoint string
	apiKey   string
	http     *httpclient.Client
}

var _ Embedder = (*Client)(nil)

// NewClient creates a reusable client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     httpclient.New(httpclient.Curl, 30*time.Second),
	}
}

// New returns a Client when endpoint is set and Noop otherwise.
func New(endpoint, apiKey string) Embedder {
	if endpoint == "" {
		return Noop{}
	}
	return NewClient(endpoint, apiKey)
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]any{"texts": texts})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	for i, v := range out.Embeddings {
		if len(v) != Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), Dimensions)
		}
	}
	return out.Embeddings, nil
}
