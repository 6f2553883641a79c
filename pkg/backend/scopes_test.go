package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunScopesPreservesOrder(t *testing.T) {
	scopes := []string{"a", "b", "c", "d"}
	results := runScopes(context.Background(), scopes, 4, func(_ context.Context, scope string) ([]Row, error) {
		// Finish in reverse order to exercise the slot-by-index writes.
		if scope == "a" {
			time.Sleep(30 * time.Millisecond)
		}
		return []Row{{"scope": scope}}, nil
	})

	for i, sr := range results {
		if sr.Scope != scopes[i] {
			t.Errorf("results[%d].Scope = %q, want %q", i, sr.Scope, scopes[i])
		}
	}
}

func TestRunScopesIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	results := runScopes(context.Background(), []string{"ok-1", "bad", "ok-2"}, 3, func(_ context.Context, scope string) ([]Row, error) {
		if scope == "bad" {
			return nil, boom
		}
		return []Row{{"scope": scope}}, nil
	})

	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy scopes failed: %v, %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want the scope's own error", results[1].Err)
	}
}

func TestRunScopesBoundsConcurrency(t *testing.T) {
	const limit = 2
	var mu sync.Mutex
	inFlight, peak := 0, 0

	scopes := []string{"a", "b", "c", "d", "e", "f"}
	runScopes(context.Background(), scopes, limit, func(_ context.Context, _ string) ([]Row, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, nil
	})

	if peak > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
	}
}

func TestRunScopesCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := runScopes(ctx, []string{"a", "b"}, 1, func(ctx context.Context, _ string) ([]Row, error) {
		t.Error("scope function ran under a canceled context")
		return nil, nil
	})
	for _, sr := range results {
		if !errors.Is(sr.Err, context.Canceled) {
			t.Errorf("scope %s: err = %v, want context.Canceled", sr.Scope, sr.Err)
		}
	}
}

func TestRunScopesEmpty(t *testing.T) {
	results := runScopes(context.Background(), nil, 5, func(_ context.Context, _ string) ([]Row, error) {
		t.Error("scope function ran with no scopes")
		return nil, nil
	})
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}
