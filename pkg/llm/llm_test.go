package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/retry"
)

func TestParseProvider(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"anthropic", "openai", "local"} {
		got, err := ParseProvider(p)
		if err != nil || string(got) != p {
			t.Errorf("ParseProvider(%q) = %v, %v", p, got, err)
		}
	}
	if _, err := ParseProvider("mistral"); err == nil {
		t.Error("ParseProvider(mistral) succeeded, want error")
	}
}

func TestRegistryRouting(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	local := NewLocalClient()
	local.Script("ping", "pong")
	reg.Register(local)

	resp, err := reg.Complete(context.Background(), ProviderLocal, &Request{Prompt: "ping"})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Text != "pong" {
		t.Errorf("Text = %q, want pong", resp.Text)
	}
	if resp.CostUSD <= 0 {
		t.Errorf("CostUSD = %f, want positive", resp.CostUSD)
	}

	if _, err := reg.Complete(context.Background(), ProviderOpenAI, &Request{Prompt: "x"}); err == nil {
		t.Error("Complete() with unregistered provider succeeded")
	}
}

func TestLocalClientCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewLocalClient()
	if _, err := c.Complete(ctx, &Request{Prompt: "x"}); err == nil {
		t.Error("Complete() with cancelled context succeeded")
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("Allow() call %d = false, want true", i)
		}
	}
	if l.Allow() {
		t.Error("Allow() over limit = true, want false")
	}
}

func TestRegistryRateLimitClassified(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(NewLocalClient())

	var err error
	for i := 0; i < 70; i++ {
		if _, err = reg.Complete(context.Background(), ProviderLocal, &Request{Prompt: "ping"}); err != nil {
			break
		}
	}
	if err == nil {
		t.Fatal("Complete() never hit the shared window")
	}
	var rl *retry.RateLimitError
	if !errors.As(err, &rl) {
		t.Errorf("limiter denial = %v, want a rate-limited error", err)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(1, 10*time.Millisecond)
	if !l.Allow() {
		t.Fatal("first Allow() = false")
	}
	if l.Allow() {
		t.Fatal("second Allow() inside window = true")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow() {
		t.Error("Allow() after window = false, want true")
	}
}

func TestPromptLoaderDefaults(t *testing.T) {
	t.Parallel()

	l := NewPromptLoader("")
	for _, role := range []string{"whitebox", "recon", "analysis", "exploitation", "reporting"} {
		p, err := l.Load(role)
		if err != nil || p == "" {
			t.Errorf("Load(%q) = %q, %v", role, p, err)
		}
	}
	if _, err := l.Load("barista"); err == nil {
		t.Error("Load(barista) succeeded, want error")
	}
}

func TestPromptLoaderFileOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "recon.md"), []byte("custom recon prompt\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewPromptLoader(dir)
	p, err := l.Load("recon")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if p != "custom recon prompt" {
		t.Errorf("Load() = %q, want file override", p)
	}

	// Roles without an override fall back to built-ins.
	if p, err := l.Load("reporting"); err != nil || p == "" {
		t.Errorf("Load(reporting) fallback = %q, %v", p, err)
	}
}
