// Package dbtest provides an in-process db.Transactor for service tests.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is an in-memory store that can capture its state. The returned
// function restores the captured state.
type Snapshotter interface {
	Snapshot() (restore func())
}

type txKey struct{}

// Transactor snapshots every registered store when a unit of work starts and
// restores them when the unit fails, so fakes observe rollback the way a real
// database would. Nested units join the outer one.
type Transactor struct {
	mu       sync.Mutex
	stores   []Snapshotter
	units    int
	readOnly int
	// BeginErr, when set, is returned instead of starting a unit.
	BeginErr error
}

func NewTransactor(stores ...Snapshotter) *Transactor {
	return &Transactor{stores: stores}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.run(ctx, false, fn)
}

func (t *Transactor) WithinReadOnlyTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.run(ctx, true, fn)
}

// InTx reports whether ctx belongs to a unit of work.
func InTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// Units returns how many outermost units ran, and how many were read-only.
func (t *Transactor) Units() (total, readOnly int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.units, t.readOnly
}

func (t *Transactor) run(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}
	if t.BeginErr != nil {
		return t.BeginErr
	}

	t.mu.Lock()
	t.units++
	if readOnly {
		t.readOnly++
	}
	t.mu.Unlock()

	restores := make([]func(), len(t.stores))
	for i, s := range t.stores {
		restores[i] = s.Snapshot()
	}

	if err := fn(context.WithValue(ctx, txKey{}, readOnly)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
