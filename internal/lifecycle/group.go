// Package lifecycle factors the quit-channel/WaitGroup shutdown pattern
// into a single reusable type, grounded on libevm/rpcroute/server.go's own
// Server.quit/Server.done fields and its Close/trackHeight goroutine-lifetime
// convention. cmd/web3-proxy uses it to run its top-level goroutines;
// internal/backend, internal/pool and internal/pendingtx keep their own
// quit/done fields.
package lifecycle

import (
	"context"
	"sync"
)

// Group coordinates the shutdown of a set of goroutines spawned with Go.
// The zero value is not usable; construct with New.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	done   sync.WaitGroup

	closeOnce sync.Once
}

// New derives a cancelable context from parent and returns a Group ready
// to spawn goroutines against it. Callers read Context() inside spawned
// goroutines instead of capturing parent directly, so Close cancels them
// even if parent outlives the Group (e.g. parent is context.Background()).
func New(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
}

// Context returns the Group's derived context, canceled by Close.
func (g *Group) Context() context.Context { return g.ctx }

// Quit returns a channel closed by Close, for goroutines that select on
// shutdown without needing the full context.Context machinery (mirrors
// libevm/rpcroute's own `case <-s.quit`).
func (g *Group) Quit() <-chan struct{} { return g.quit }

// Go runs fn in a new goroutine tracked by Close. fn should select on
// Context().Done() or Quit() to exit promptly.
func (g *Group) Go(fn func()) {
	g.done.Add(1)
	go func() {
		defer g.done.Done()
		fn()
	}()
}

// Close signals every tracked goroutine to exit (by canceling Context and
// closing Quit) and blocks until all of them have returned. Safe to call
// more than once; only the first call has effect.
func (g *Group) Close() {
	g.closeOnce.Do(func() {
		close(g.quit)
		g.cancel()
	})
	g.done.Wait()
}
