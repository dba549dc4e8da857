// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"fmt"
)

// Awaitable is a result that completes later. Handlers may return one, or a
// *Future, to run asynchronously.
type Awaitable interface {
	Wait(ctx context.Context) (any, error)
}

// Future is the result of an invocation.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

var _ Awaitable = (*Future)(nil)

// Go runs fn in a new goroutine and returns its Future. A panic in fn is
// reported as an error.
func Go(fn func() (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.val, f.err = nil, fmt.Errorf("panic: %v", r)
			}
		}()
		f.val, f.err = fn()
	}()
	return f
}

// Completed returns a Future that is already done.
func Completed(v any, err error) *Future {
	f := &Future{done: make(chan struct{}), val: v, err: err}
	close(f.done)
	return f
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
