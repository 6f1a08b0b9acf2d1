// Package cm11atest provides an in-memory cm11a.Controller for tests.
package cm11atest

import (
	"context"
	"sync"

	"x10-go-home/internal/x10"
)

// Recorder records every command it is asked to send.
type Recorder struct {
	mu       sync.Mutex
	commands []x10.Command
	err      error
	onStatus func(x10.UnitStatus)
	onClosed func()
	closed   bool
}

// New returns an empty Recorder.
func New() *Recorder { return &Recorder{} }

// FailWith makes subsequent sends return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []x10.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]x10.Command(nil), r.commands...)
}

// Report delivers a unit status as if the interface had uploaded it.
func (r *Recorder) Report(st x10.UnitStatus) {
	r.mu.Lock()
	h := r.onStatus
	r.mu.Unlock()
	if h != nil {
		h(st)
	}
}

func (r *Recorder) record(kind x10.CommandKind, addrs []x10.Address, steps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, a := range addrs {
		r.commands = append(r.commands, x10.Command{Kind: kind, Address: a, Steps: steps})
	}
	return nil
}

func (r *Recorder) TurnOn(_ context.Context, addrs ...x10.Address) error {
	return r.record(x10.TurnOn, addrs, 0)
}

func (r *Recorder) TurnOff(_ context.Context, addrs ...x10.Address) error {
	return r.record(x10.TurnOff, addrs, 0)
}

func (r *Recorder) Brighten(_ context.Context, addrs []x10.Address, steps int) error {
	return r.record(x10.Brighten, addrs, steps)
}

func (r *Recorder) Dim(_ context.Context, addrs []x10.Address, steps int) error {
	return r.record(x10.Dim, addrs, steps)
}

func (r *Recorder) OnUnitStatus(h func(x10.UnitStatus)) {
	r.mu.Lock()
	r.onStatus = h
	r.mu.Unlock()
}

func (r *Recorder) OnClosed(h func()) {
	r.mu.Lock()
	r.onClosed = h
	r.mu.Unlock()
}

// Close fires the closed handler once, asynchronously like a real link.
func (r *Recorder) Close() error {
	r.mu.Lock()
	already := r.closed
	r.closed = true
	h := r.onClosed
	r.mu.Unlock()
	if !already && h != nil {
		go h()
	}
	return nil
}
