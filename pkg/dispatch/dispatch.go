// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dispatch applies bound arguments to a handler instance and calls
// the handler.
//
// Every invocation returns a *Future. Synchronous handlers yield a Future
// that is already complete; handlers returning an Awaitable or a
// <-chan error are awaited under the caller's context. Failures raised by
// the handler are wrapped in *HandlerError so callers can tell them apart
// from bad input.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/yeetrun/cmdbind/pkg/bind"
	"github.com/yeetrun/cmdbind/pkg/schema"
)

var (
	// ErrConsumed is returned when a Bound is invoked a second time.
	ErrConsumed = errors.New("bound arguments already used")

	// ErrPrecondition matches *PreconditionError.
	ErrPrecondition = errors.New("precondition failed")
)

// PreconditionError is returned when a command's guard rejects the call.
// The handler is not run.
type PreconditionError struct {
	Command string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s is not available", e.Command)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// HandlerError wraps a failure raised by the handler itself.
type HandlerError struct {
	Command string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

var errorType = reflect.TypeFor[error]()

// Invoke applies b to instance and calls the handler of s. Properties are
// set in declaration order before the guard is checked.
func Invoke(ctx context.Context, s *schema.Schema, b *bind.Bound, instance any) *Future {
	if b.Schema() != s {
		return Completed(nil, fmt.Errorf("arguments were bound for %s, not %s", b.Schema().Command, s.Command))
	}
	if s.Instance != nil && reflect.TypeOf(instance) != s.Instance {
		return Completed(nil, fmt.Errorf("%s needs a %s instance, got %T", s.Command, s.Instance, instance))
	}
	if !b.Consume() {
		return Completed(nil, ErrConsumed)
	}
	for _, m := range s.Members() {
		if m.Set == nil {
			continue
		}
		if err := m.Set(instance, b.Get(m)); err != nil {
			return Completed(nil, fmt.Errorf("setting %s: %w", m.Name, err))
		}
	}
	tgt := s.Target()
	if tgt.Guard != nil && !tgt.Guard(instance) {
		return Completed(nil, &PreconditionError{Command: s.Command})
	}
	args := make([]any, len(tgt.Args))
	for i, m := range tgt.Args {
		args[i] = b.Get(m)
	}

	v, err := call(ctx, tgt, instance, args)
	if err != nil {
		return Completed(nil, &HandlerError{Command: s.Command, Err: err})
	}
	switch r := v.(type) {
	case Awaitable:
		return Go(func() (any, error) {
			v, err := r.Wait(ctx)
			return v, wrapAsync(ctx, s.Command, err)
		})
	case <-chan error:
		return Go(func() (any, error) {
			select {
			case err := <-r:
				return nil, wrapAsync(ctx, s.Command, err)
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	}
	return Completed(v, nil)
}

// wrapAsync wraps err as a HandlerError unless it is the caller's own
// context ending.
func wrapAsync(ctx context.Context, cmd string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return &HandlerError{Command: cmd, Err: err}
}

func call(ctx context.Context, tgt schema.Target, instance any, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	if tgt.Func != nil {
		return tgt.Func(ctx, instance, args)
	}
	meth := reflect.ValueOf(instance).MethodByName(tgt.Method)
	if !meth.IsValid() {
		return nil, fmt.Errorf("%T has no method %s", instance, tgt.Method)
	}
	mt := meth.Type()
	in := make([]reflect.Value, 0, len(args)+1)
	if tgt.TakesContext {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for _, a := range args {
		pt := mt.In(len(in))
		if a == nil {
			in = append(in, reflect.Zero(pt))
		} else {
			in = append(in, reflect.ValueOf(a))
		}
	}
	var out []reflect.Value
	if tgt.Variadic {
		out = meth.CallSlice(in)
	} else {
		out = meth.Call(in)
	}
	return results(out)
}

func results(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	}
	err, _ := out[1].Interface().(error)
	if err != nil {
		return nil, err
	}
	return out[0].Interface(), nil
}
