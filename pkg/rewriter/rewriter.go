// Package rewriter provides an OpenAI-compatible chat-completions client
// used to rewrite conversational queries into caption style. Every
// failure mode, including rate limiting and an open circuit breaker,
// surfaces as domain.ErrRewriteUnavailable so callers can degrade
// uniformly instead of failing the search.
package rewriter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/retina-search/retina/engine/domain"
	"github.com/retina-search/retina/pkg/resilience"
)

// systemPrompt steers the model toward short, concrete caption rewrites
// that maximize CLIP retrieval accuracy.
const systemPrompt = `You are an expert at rewriting queries for the CLIP image-text model.
Rewrite the user query into a short, concrete, descriptive image caption.
Keep the original meaning. Use a 3-12 word caption style. Remove chat
words (show me, give me, please, etc). Keep colors, objects, actions.
Translate to English if needed. Do NOT add new details.
Respond with only the rewritten caption.`

// DefaultTimeout bounds a single rewrite call; rewriting is an
// optimization and must never stall a search for long.
const DefaultTimeout = 20 * time.Second

// Opts configures the rewriter client.
type Opts struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// RatePerSec and Burst bound outbound call rate. Zero disables the
	// limiter.
	RatePerSec float64
	Burst      int
	Breaker    resilience.BreakerOpts
}

// Client is a rewriter backed by a chat-completions endpoint.
type Client struct {
	opts    Opts
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// New creates a rewriter client.
func New(opts Opts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		breaker: resilience.NewBreaker(opts.Breaker),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Rewrite returns the caption-style rewrite of query, capped at
// maxTokens of output.
func (c *Client) Rewrite(ctx context.Context, query string, maxTokens int) (string, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return "", fmt.Errorf("rewriter: %w: rate limited", domain.ErrRewriteUnavailable)
	}

	var rewritten string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		rewritten, err = c.invoke(ctx, query, maxTokens)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("rewriter: %w: %w", domain.ErrRewriteUnavailable, err)
	}
	return rewritten, nil
}

func (c *Client) invoke(ctx context.Context, query string, maxTokens int) (string, error) {
	body, _ := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
		Temperature: 0,
		MaxTokens:   maxTokens,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", c.opts.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
