package backend

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runScopes fans out fn across scopes with bounded concurrency and returns
// one ScopeResult per scope, in the caller's scope order. Errors are
// captured per scope, never propagated: a failed scope must not abort its
// siblings. Cancellation surfaces as ctx.Err() on the scopes still pending.
func runScopes(ctx context.Context, scopes []string, limit int, fn func(ctx context.Context, scope string) ([]Row, error)) []ScopeResult {
	results := make([]ScopeResult, len(scopes))
	if len(scopes) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, scope := range scopes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = ScopeResult{Scope: scope, Err: err}
				return nil
			}
			rows, err := fn(gctx, scope)
			results[i] = ScopeResult{Scope: scope, Rows: rows, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
