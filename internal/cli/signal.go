package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext is cancelled by the first interrupt. An advance in flight at
// that moment commits nothing, so the session can be resumed later. A second
// interrupt calls the force handler, which exits the process by default.
type SignalContext struct {
	context.Context
	Cancel func()

	mu       sync.Mutex
	received []os.Signal
	onForce  func(os.Signal)
	ch       chan os.Signal
	release  func(chan<- os.Signal)
}

// SignalOption configures a SignalContext.
type SignalOption func(*SignalContext)

// WithForceHandler replaces the handler run on the second interrupt.
func WithForceHandler(fn func(os.Signal)) SignalOption {
	return func(sc *SignalContext) { sc.onForce = fn }
}

// withSignalSource replaces os/signal for tests.
func withSignalSource(subscribe func(chan<- os.Signal), release func(chan<- os.Signal)) SignalOption {
	return func(sc *SignalContext) {
		subscribe(sc.ch)
		sc.release = release
	}
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
func NewSignalContext(parent context.Context, opts ...SignalOption) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		ch:      make(chan os.Signal, 2),
		onForce: func(os.Signal) { os.Exit(130) },
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.release == nil {
		signal.Notify(sc.ch, os.Interrupt, syscall.SIGTERM)
		sc.release = func(ch chan<- os.Signal) { signal.Stop(ch) }
	}

	go sc.watch(parent)
	return sc
}

func (sc *SignalContext) watch(parent context.Context) {
	defer sc.release(sc.ch)

	select {
	case sig := <-sc.ch:
		sc.record(sig)
		sc.Cancel()
	case <-sc.Done():
		return
	}

	// Shutdown is under way; a second interrupt forces it.
	select {
	case sig := <-sc.ch:
		sc.record(sig)
		sc.onForce(sig)
	case <-parent.Done():
	}
}

func (sc *SignalContext) record(sig os.Signal) {
	sc.mu.Lock()
	sc.received = append(sc.received, sig)
	sc.mu.Unlock()
}

// Signal returns the signal that cancelled the context, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.received) == 0 {
		return nil
	}
	return sc.received[0]
}
