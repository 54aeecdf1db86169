package groutine

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_LabelsGoroutine(t *testing.T) {
	type result struct {
		name  string
		label string
	}
	done := make(chan result, 1)

	//nolint:staticcheck // nil parent is part of the contract
	Go(nil, "worker-1", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, LabelKey)
		done <- result{name: Name(ctx), label: label}
	})

	select {
	case r := <-done:
		assert.Equal(t, "worker-1", r.name)
		assert.Equal(t, "worker-1", r.label)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestName_Empty(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	//nolint:staticcheck // nil context is handled
	assert.Equal(t, "", Name(nil))
}
