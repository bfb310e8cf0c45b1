// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	signals []os.Signal
}

func (r *recorder) handle(sig os.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func TestDeliver_OutsideCriticalSectionIsImmediate(t *testing.T) {
	handled := &recorder{}
	interrupts := New(handled.handle, nil)

	interrupts.Deliver(syscall.SIGINT)

	if handled.count() != 1 {
		t.Fatalf("handler ran %d times, want 1", handled.count())
	}
	if !interrupts.Interrupted() {
		t.Error("Interrupted() should be true after delivery")
	}
}

func TestDeliver_DeferredUntilSectionExits(t *testing.T) {
	handled := &recorder{}
	interrupts := New(handled.handle, nil)

	section := interrupts.Enter()
	interrupts.Deliver(syscall.SIGTERM)
	if handled.count() != 0 {
		t.Fatal("signal must not be handled inside a critical section")
	}
	if !interrupts.Interrupted() {
		t.Error("pending signal should report Interrupted()")
	}

	section.Exit()
	if handled.count() != 1 {
		t.Fatalf("handler ran %d times after Exit, want 1", handled.count())
	}
	if handled.signals[0] != syscall.SIGTERM {
		t.Errorf("delivered %v, want SIGTERM", handled.signals[0])
	}
}

func TestDeliver_NestedSections(t *testing.T) {
	handled := &recorder{}
	interrupts := New(handled.handle, nil)

	outer := interrupts.Enter()
	inner := interrupts.Enter()
	interrupts.Deliver(syscall.SIGINT)
	inner.Exit()
	if handled.count() != 0 {
		t.Fatal("signal delivered while the outer section is still open")
	}
	outer.Exit()
	if handled.count() != 1 {
		t.Fatalf("handler ran %d times, want 1", handled.count())
	}
}

func TestDeliver_OnlyFirstSignalIsHandled(t *testing.T) {
	handled := &recorder{}
	interrupts := New(handled.handle, nil)

	section := interrupts.Enter()
	interrupts.Deliver(syscall.SIGINT)
	interrupts.Deliver(syscall.SIGTERM)
	section.Exit()
	interrupts.Deliver(syscall.SIGHUP)

	if handled.count() != 1 {
		t.Fatalf("handler ran %d times, want 1", handled.count())
	}
	if handled.signals[0] != syscall.SIGINT {
		t.Errorf("delivered %v, want the first signal", handled.signals[0])
	}
}

func TestCriticalSection_ExitIsIdempotent(t *testing.T) {
	handled := &recorder{}
	interrupts := New(handled.handle, nil)

	first := interrupts.Enter()
	second := interrupts.Enter()
	first.Exit()
	first.Exit()
	interrupts.Deliver(syscall.SIGINT)
	if handled.count() != 0 {
		t.Fatal("double Exit must not close another section")
	}
	second.Exit()
	if handled.count() != 1 {
		t.Fatalf("handler ran %d times, want 1", handled.count())
	}
}

func TestNilInterrupts(t *testing.T) {
	var interrupts *Interrupts
	section := interrupts.Enter()
	section.Exit()
	if interrupts.Interrupted() {
		t.Error("nil Interrupts is never interrupted")
	}
}

func TestWatch_ReceivesProcessSignal(t *testing.T) {
	received := make(chan os.Signal, 1)
	interrupts := Watch(func(sig os.Signal) { received <- sig }, nil, syscall.SIGUSR1)
	defer interrupts.Stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case sig := <-received:
		if sig != syscall.SIGUSR1 {
			t.Errorf("received %v, want SIGUSR1", sig)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not delivered to the handler")
	}
}
