// Package generator produces advisory text from a prompt. Output is
// informational only and never gates access.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable means no text can be produced right now; callers fall back to
// a heuristic explanation.
var ErrUnavailable = errors.New("advisory generator unavailable")

// Generator turns a prompt into advisory text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Unavailable is the generator used when none is configured.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

const maxResponseBytes = 64 << 10

// HTTP calls a text generation endpoint that accepts {"prompt": "..."} and
// answers {"text": "..."}.
type HTTP struct {
	client *http.Client
	url    string
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(url, "/"),
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate posts prompt to the endpoint. Transport failures, non-2xx answers
// and empty text all wrap ErrUnavailable.
func (g *HTTP) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return text, nil
}
