// Copyright (C) The Sumclean Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sumclean

import (
	"context"
	"sync"
	"sync/atomic"
)

// throttle limits the number of goroutines doing work at once, and
// remembers the first error reported by any of them.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan bool
	running   int64
	err       atomic.Value
	setupOnce sync.Once
	errorOnce sync.Once
}

// Acquire waits for a free slot. It returns ctx.Err() without taking a
// slot if ctx is done first.
func (t *throttle) Acquire(ctx context.Context) error {
	t.setupOnce.Do(func() { t.ch = make(chan bool, t.Max) })
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case t.ch <- true:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.wg.Add(1)
	atomic.AddInt64(&t.running, 1)
	return nil
}

func (t *throttle) Release() {
	atomic.AddInt64(&t.running, -1)
	<-t.ch
	t.wg.Done()
}

// Running returns the number of slots currently held.
func (t *throttle) Running() int {
	return int(atomic.LoadInt64(&t.running))
}

func (t *throttle) Report(err error) {
	if err != nil {
		t.errorOnce.Do(func() { t.err.Store(err) })
	}
}

func (t *throttle) Err() error {
	err, _ := t.err.Load().(error)
	return err
}

func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
