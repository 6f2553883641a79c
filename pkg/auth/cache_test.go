package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingProvider counts Token calls and hands out distinct token values.
type countingProvider struct {
	calls atomic.Int64
	ttl   time.Duration
	delay time.Duration
}

func (p *countingProvider) Token(ctx context.Context, resource string) (Token, error) {
	n := p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return Token{
		Value:     fmt.Sprintf("%s-token-%d", resource, n),
		ExpiresAt: time.Now().Add(p.ttl),
	}, nil
}

func TestCachedProviderReusesToken(t *testing.T) {
	inner := &countingProvider{ttl: time.Hour}
	c := NewCachedProvider(inner)

	first, err := c.Token(context.Background(), "res-a")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	second, err := c.Token(context.Background(), "res-a")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first.Value != second.Value {
		t.Errorf("cache miss on second call: %q vs %q", first.Value, second.Value)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner provider called %d times, want 1", got)
	}
}

func TestCachedProviderPerResource(t *testing.T) {
	inner := &countingProvider{ttl: time.Hour}
	c := NewCachedProvider(inner)

	a, _ := c.Token(context.Background(), "res-a")
	b, _ := c.Token(context.Background(), "res-b")
	if a.Value == b.Value {
		t.Error("distinct resources share a token")
	}
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner provider called %d times, want 2", got)
	}
}

func TestCachedProviderRefreshesNearExpiry(t *testing.T) {
	// Tokens expire within the refresh margin, so every call refreshes.
	inner := &countingProvider{ttl: time.Minute}
	c := NewCachedProvider(inner, WithRefreshMargin(5*time.Minute))

	c.Token(context.Background(), "res-a")
	c.Token(context.Background(), "res-a")
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner provider called %d times, want 2 (near-expiry tokens refreshed)", got)
	}
}

func TestCachedProviderInvalidate(t *testing.T) {
	inner := &countingProvider{ttl: time.Hour}
	c := NewCachedProvider(inner)

	first, _ := c.Token(context.Background(), "res-a")
	c.Invalidate("res-a")
	second, _ := c.Token(context.Background(), "res-a")

	if first.Value == second.Value {
		t.Error("Invalidate did not drop the cached token")
	}
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner provider called %d times, want 2", got)
	}
}

func TestCachedProviderCoalescesConcurrentRefresh(t *testing.T) {
	inner := &countingProvider{ttl: time.Hour, delay: 50 * time.Millisecond}
	c := NewCachedProvider(inner)

	const workers = 20
	var wg sync.WaitGroup
	values := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Token(context.Background(), "res-a")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			values[i] = tok.Value
		}(i)
	}
	wg.Wait()

	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner provider called %d times under concurrency, want 1", got)
	}
	for i := 1; i < workers; i++ {
		if values[i] != values[0] {
			t.Fatalf("workers received different tokens: %q vs %q", values[0], values[i])
		}
	}
}
