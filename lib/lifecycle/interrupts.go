// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ErrInterrupted is returned by operations that stopped because a
// signal was handled.
var ErrInterrupted = errors.New("interrupted by signal")

// Handler reacts to the first interruption. It normally does not
// return (it exits the process).
type Handler func(os.Signal)

// Interrupts dispatches interruption signals, honoring critical
// sections. At most one signal is ever handed to the Handler.
type Interrupts struct {
	mu      sync.Mutex
	depth   int
	pending os.Signal
	handled bool

	handler  Handler
	logger   *slog.Logger
	signals  chan os.Signal
	stopOnce sync.Once
	done     chan struct{}
}

// New returns an Interrupts that is not attached to OS signals.
// Deliver feeds it; Watch attaches it.
func New(handler Handler, logger *slog.Logger) *Interrupts {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Interrupts{
		handler: handler,
		logger:  logger,
		signals: make(chan os.Signal, 4),
		done:    make(chan struct{}),
	}
}

// Watch returns an Interrupts subscribed to sigs (SIGINT, SIGTERM and
// SIGHUP when none are given). Call Stop to unsubscribe.
func Watch(handler Handler, logger *slog.Logger, sigs ...os.Signal) *Interrupts {
	interrupts := New(handler, logger)
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
	}
	signal.Notify(interrupts.signals, sigs...)
	go interrupts.loop()
	return interrupts
}

func (i *Interrupts) loop() {
	for {
		select {
		case sig := <-i.signals:
			i.Deliver(sig)
		case <-i.done:
			return
		}
	}
}

// Deliver handles sig as if the OS had sent it: immediately when no
// critical section is active, otherwise when the last one exits.
func (i *Interrupts) Deliver(sig os.Signal) {
	i.mu.Lock()
	if i.handled {
		i.mu.Unlock()
		return
	}
	if i.depth > 0 {
		if i.pending == nil {
			i.pending = sig
		}
		i.mu.Unlock()
		i.logger.Warn("interruption deferred until critical section completes", "signal", sig.String())
		return
	}
	i.handled = true
	i.mu.Unlock()
	i.dispatch(sig)
}

// Interrupted reports whether a signal has been handled or is pending.
func (i *Interrupts) Interrupted() bool {
	if i == nil {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handled || i.pending != nil
}

// Stop detaches from OS signals. Pending deferred signals are dropped.
func (i *Interrupts) Stop() {
	i.stopOnce.Do(func() {
		signal.Stop(i.signals)
		close(i.done)
	})
}

// Enter opens a critical section. Sections nest; signals are deferred
// until every open section has exited.
func (i *Interrupts) Enter() *CriticalSection {
	if i == nil {
		return &CriticalSection{}
	}
	i.mu.Lock()
	i.depth++
	i.mu.Unlock()
	return &CriticalSection{owner: i}
}

func (i *Interrupts) exit() {
	i.mu.Lock()
	i.depth--
	if i.depth > 0 || i.pending == nil || i.handled {
		i.mu.Unlock()
		return
	}
	sig := i.pending
	i.pending = nil
	i.handled = true
	i.mu.Unlock()

	i.logger.Warn("delivering deferred interruption", "signal", sig.String())
	i.dispatch(sig)
}

func (i *Interrupts) dispatch(sig os.Signal) {
	if i.handler != nil {
		i.handler(sig)
	}
}

// CriticalSection is an open deferral of interruption handling. Exit
// must run on every path out of the guarded code, so pair Enter with a
// deferred Exit.
type CriticalSection struct {
	owner *Interrupts
	once  sync.Once
}

// Exit closes the section. Idempotent. When it closes the outermost
// section and a signal arrived meanwhile, the handler runs on the
// calling goroutine before Exit returns (or instead of returning, when
// the handler exits the process). A nil section is a no-op.
func (c *CriticalSection) Exit() {
	if c == nil || c.owner == nil {
		return
	}
	c.once.Do(c.owner.exit)
}
