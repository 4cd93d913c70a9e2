// Package gate provides a resettable boolean condition that goroutines can
// wait on.
package gate

import (
	"context"
	"sync"
)

// Gate starts unset. Set wakes every waiter; Clear makes later waiters block
// until the next Set.
type Gate struct {
	mutex sync.Mutex
	set   bool
	ch    chan struct{}
}

func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

func (g *Gate) Set() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.set {
		return
	}
	g.set = true
	close(g.ch)
}

func (g *Gate) Clear() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if !g.set {
		return
	}
	g.set = false
	g.ch = make(chan struct{})
}

func (g *Gate) IsSet() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.set
}

// Wait blocks until the gate is set or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mutex.Lock()
	ch := g.ch
	g.mutex.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
