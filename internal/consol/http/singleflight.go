package http

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// flight collapses concurrent regenerate calls for the same scope into one
// run. Callers that give up keep the shared run alive for the others.
type flight struct {
	group singleflight.Group
}

// do returns the shared result and whether it was produced for another caller too.
func (f *flight) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := f.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}
