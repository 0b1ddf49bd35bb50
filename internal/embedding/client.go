// Package embedding implements the embedding provider contract (spec.md
// §6): embed_single(text) -> vector<f32>, with a soft input cap and a
// skip rule for trivially short input. Grounded on the teacher's
// internal/embedding/client.go EmbedText, narrowed to the single-text
// call HCME needs and carrying the same header-auth/timeout shape.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hcme/internal/config"
)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Client calls a single embedding endpoint over HTTP.
type Client struct {
	cfg        config.EmbeddingConfig
	softCap    int
	minChars   int
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) *Client {
	return &Client{
		cfg:        cfg.Embedding,
		softCap:    cfg.EmbeddingSoftCapChars,
		minChars:   cfg.EmbeddingMinChars,
		httpClient: httpClient,
	}
}

// skippable reports whether text is short enough that embedding should
// be skipped rather than attempted (spec.md §6: "empty or sub-10-
// character inputs").
func (c *Client) skippable(text string) bool {
	return len([]rune(text)) < c.minChars
}

// EmbedSingle truncates text to the soft cap, skips trivially short
// input by returning (nil, nil), and otherwise calls the configured
// embedding endpoint.
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if c.skippable(text) {
		return nil, nil
	}
	runes := []rune(text)
	if len(runes) > c.softCap {
		runes = runes[:c.softCap]
	}
	truncated := string(runes)

	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: []string{truncated}})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	timeout := time.Duration(c.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.cfg.BaseURL + c.cfg.Path
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		header := c.cfg.APIHeader
		if header == "" {
			header = "Authorization"
			req.Header.Set(header, "Bearer "+c.cfg.APIKey)
		} else {
			req.Header.Set(header, c.cfg.APIKey)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding: provider returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty response data")
	}
	return out.Data[0].Embedding, nil
}

// CheckReachability performs a minimal round trip to confirm the
// provider is reachable, without consuming an embedding slot for a real
// input.
func (c *Client) CheckReachability(ctx context.Context) error {
	_, err := c.EmbedSingle(ctx, "reachability check padding text")
	return err
}
