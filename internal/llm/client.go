// Package llm is the text-generation boundary. The pipeline never
// assumes an LLM is reachable: every consumer pairs a Generator with a
// deterministic rule-based fallback and degrades to it on any error.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/quantpulse/tradingkb/internal/observ"
)

// Generator produces text from a prompt. Implementations may fail or
// return malformed output; callers own the fallback.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var ErrUnavailable = errors.New("llm unavailable")

// Disabled is the Generator used when no LLM is configured; every call
// reports ErrUnavailable so consumers take their rule-based path.
type Disabled struct{}

func (Disabled) Generate(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

type Config struct {
	BaseURL            string
	Model              string
	APIKey             string
	RateLimitPerMinute int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	cfg     Config
}

func NewClient(cfg Config) *Client {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 10
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 500
	}

	http := resty.New()
	http.SetBaseURL(cfg.BaseURL)
	http.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		http:    http,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		cfg:     cfg,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	observ.IncCounter("llm_requests", nil)
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	req := chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			observ.IncCounter("llm_retries", nil)
			backoff := time.Duration(c.cfg.BackoffBaseMs*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		var out chatResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post("/v1/chat/completions")
		if err != nil {
			lastErr = err
			continue
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("llm http %d: %s", resp.StatusCode(), resp.String())
			continue
		}
		if len(out.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			continue
		}
		return out.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

var codeFenceRe = regexp.MustCompile("```[a-zA-Z]*\n?")

// StripCodeFences removes markdown code fencing so fenced JSON payloads
// parse cleanly.
func StripCodeFences(s string) string {
	return strings.TrimSpace(codeFenceRe.ReplaceAllString(s, ""))
}
