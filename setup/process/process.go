// Package process provides ProcessContext: the root context and
// component-tracking waitgroup that long-running pieces of this module
// register with (discret.Host registers each transport's accept loop),
// so a shutdown signal drains every registered component before the
// process actually exits.
package process

import (
	"context"
	"sync"
)

// ProcessContext is the process-wide cancellation root. Components
// call ComponentStarted when they begin work derived from Context() and
// ComponentFinished when that work is done; Shutdown cancels the
// context and WaitForShutdown blocks until every started component has
// finished.
type ProcessContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

// NewProcessContext constructs a ProcessContext rooted in
// context.Background().
func NewProcessContext() *ProcessContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessContext{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Context returns the root context; it's cancelled once Shutdown runs.
func (p *ProcessContext) Context() context.Context { return p.ctx }

// ComponentStarted registers one unit of in-flight work.
func (p *ProcessContext) ComponentStarted() { p.wg.Add(1) }

// ComponentFinished marks one previously-registered unit of work done.
func (p *ProcessContext) ComponentFinished() { p.wg.Done() }

// Shutdown cancels the root context, signalling every component to
// begin winding down. Safe to call more than once.
func (p *ProcessContext) Shutdown() {
	p.once.Do(func() {
		p.cancel()
		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	})
}

// WaitForShutdown returns a channel closed once Shutdown has been
// called and every registered component has called ComponentFinished.
func (p *ProcessContext) WaitForShutdown() <-chan struct{} {
	return p.done
}
