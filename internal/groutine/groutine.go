// Package groutine starts goroutines tagged with a pprof label so they can be
// told apart in profiles and stack dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// LabelKey is the pprof label carrying the goroutine name.
const LabelKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
// A nil parent context is treated as context.Background().
//
//	groutine.Go(ctx, "pairing-read-auth-device", func(ctx context.Context) {
//	    // work
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	go pprof.Do(parent, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to the goroutine that owns ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
