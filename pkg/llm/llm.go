// Package llm abstracts the language-model providers agents reason
// with. A Registry holds one client per provider; every completion
// reports the dollars it cost so the budget governor can charge it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/retry"
)

// Provider identifies a model backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderLocal     Provider = "local"
)

// ParseProvider validates a user-supplied provider name.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderAnthropic, ProviderOpenAI, ProviderLocal:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("llm: unknown provider %q", s)
	}
}

// Request is one completion request.
type Request struct {
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Response is a completion plus its accounting.
type Response struct {
	Text         string  `json:"text"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	// CostUSD is what this call cost, per the provider's price sheet.
	CostUSD float64 `json:"cost_usd"`
}

// Client talks to one provider.
type Client interface {
	// Provider returns the provider name.
	Provider() Provider

	// Complete runs one completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Validate checks if credentials are usable.
	Validate(ctx context.Context) error
}

// Registry holds the configured clients and rate-limits calls across
// all of them.
type Registry struct {
	mu      sync.RWMutex
	clients map[Provider]Client
	limiter *RateLimiter
}

// NewRegistry creates an empty registry. Calls across all providers
// share one sliding-window rate limit.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[Provider]Client),
		limiter: NewRateLimiter(60, time.Minute),
	}
}

// Register adds or replaces the client for its provider.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Provider()] = c
}

// Get returns the registered client for a provider.
func (r *Registry) Get(p Provider) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[p]
	return c, ok
}

// Complete runs a completion through the named provider, subject to
// the shared rate limit.
func (r *Registry) Complete(ctx context.Context, p Provider, req *Request) (*Response, error) {
	c, ok := r.Get(p)
	if !ok {
		return nil, fmt.Errorf("llm: provider not registered: %s", p)
	}
	if !r.limiter.Allow() {
		return nil, retry.RateLimited(errors.New("llm: rate limit exceeded"))
	}
	return c.Complete(ctx, req)
}

// RateLimiter is a sliding-window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	times  []time.Time
}

// NewRateLimiter allows max calls per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{max: max, window: window}
}

// Allow reports whether another call may proceed now.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	kept := l.times[:0]
	for _, t := range l.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.times = kept

	if len(l.times) >= l.max {
		return false
	}
	l.times = append(l.times, time.Now())
	return true
}
