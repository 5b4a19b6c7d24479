package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCloseStopsAllGoroutinesAndBlocksUntilDone(t *testing.T) {
	g := New(context.Background())
	var running atomic.Int32

	for i := 0; i < 5; i++ {
		g.Go(func() {
			running.Add(1)
			defer running.Add(-1)
			<-g.Quit()
		})
	}

	deadline := time.Now().Add(time.Second)
	for running.Load() != 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(5), running.Load())

	g.Close()
	assert.Equal(t, int32(0), running.Load())
}

func TestContextIsCanceledOnClose(t *testing.T) {
	g := New(context.Background())
	g.Close()
	select {
	case <-g.Context().Done():
	default:
		t.Fatal("expected context to be canceled after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	g := New(context.Background())
	g.Close()
	assert.NotPanics(t, func() { g.Close() })
}
