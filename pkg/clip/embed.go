// Package clip provides an HTTP client for a CLIP inference service
// exposing text and image embedding endpoints. It is the engine's
// embedding provider: deterministic per model checkpoint, opaque to the
// rest of the system.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/retina-search/retina/engine/domain"
)

// DefaultTimeout bounds a single embedding call.
const DefaultTimeout = 30 * time.Second

// Client calls a CLIP embedding service over HTTP.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates a CLIP embedding client. model may be empty if the service
// serves a single checkpoint.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

type embedTextReq struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type embedImageReq struct {
	Model string `json:"model,omitempty"`
	Image string `json:"image"` // base64-encoded bytes
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// EmbedText maps a text string to its embedding vector.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.post(ctx, "/embed/text", embedTextReq{Model: c.model, Text: text})
}

// EmbedImage maps raw image bytes to their embedding vector.
func (c *Client) EmbedImage(ctx context.Context, img []byte) ([]float32, error) {
	return c.post(ctx, "/embed/image", embedImageReq{
		Model: c.model,
		Image: base64.StdEncoding.EncodeToString(img),
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]float32, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("clip: %w: %w", domain.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip: %w: %w", domain.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clip: %w: status %d", domain.ErrEmbedding, resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("clip: %w: decode: %w", domain.ErrEmbedding, err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("clip: %w: empty embedding", domain.ErrEmbedding)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
