// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package convert turns command-line strings into typed Go values.
//
// A Registry maps a reflect.Type to a Func. Lookups are done once, when a
// schema is built, and the resulting Func is kept on the member so that
// binding never switches on types.
//
// Supported out of the box:
//   - string, bool
//   - int, int8, int16, int32, int64 and named types based on them
//   - uint, uint8, uint16, uint32, uint64
//   - float32, float64
//   - time.Duration
//   - url.URL, *url.URL
//   - uuid.UUID
//   - semver.Version, *semver.Version
//   - any type implementing encoding.TextUnmarshaler
//   - pointers to any of the above
package convert

import (
	"encoding"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"tailscale.com/types/lazy"
	"tailscale.com/util/mak"
)

// Func converts s into a value assignable to the type it was looked up for.
type Func func(s string) (any, error)

// Registry holds converters keyed by type. The zero value is empty and
// ready to use; kind-based fallbacks still apply.
type Registry struct {
	mu    sync.RWMutex
	funcs map[reflect.Type]Func
}

var defaultRegistry lazy.SyncValue[*Registry]

// Default returns the process-wide registry with the built-in converters.
func Default() *Registry {
	return defaultRegistry.Get(func() *Registry {
		r := new(Registry)
		registerBuiltins(r)
		return r
	})
}

// Register installs f for t, replacing any previous converter.
func (r *Registry) Register(t reflect.Type, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mak.Set(&r.funcs, t, f)
}

// Clone returns a registry with the same converters as r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := new(Registry)
	for t, f := range r.funcs {
		mak.Set(&c.funcs, t, f)
	}
	return c
}

// Lookup returns the converter for t. Exact registrations win, then
// pointer wrapping, then encoding.TextUnmarshaler, then the kind of t.
func (r *Registry) Lookup(t reflect.Type) (Func, error) {
	r.mu.RLock()
	f, ok := r.funcs[t]
	r.mu.RUnlock()
	if ok {
		return f, nil
	}
	if t.Kind() == reflect.Ptr {
		elem, err := r.Lookup(t.Elem())
		if err != nil {
			return nil, err
		}
		return pointerTo(t.Elem(), elem), nil
	}
	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return textUnmarshaler(t), nil
	}
	return byKind(t)
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

func pointerTo(elemType reflect.Type, elem Func) Func {
	return func(s string) (any, error) {
		v, err := elem(s)
		if err != nil {
			return nil, err
		}
		p := reflect.New(elemType)
		p.Elem().Set(reflect.ValueOf(v))
		return p.Interface(), nil
	}
}

func textUnmarshaler(t reflect.Type) Func {
	return func(s string) (any, error) {
		p := reflect.New(t)
		if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", t, s, err)
		}
		return p.Elem().Interface(), nil
	}
}

func byKind(t reflect.Type) (Func, error) {
	set := func(parse func(s string, v reflect.Value) error) Func {
		return func(s string) (any, error) {
			v := reflect.New(t).Elem()
			if err := parse(s, v); err != nil {
				return nil, err
			}
			return v.Interface(), nil
		}
	}
	switch t.Kind() {
	case reflect.String:
		return set(func(s string, v reflect.Value) error {
			v.SetString(s)
			return nil
		}), nil
	case reflect.Bool:
		return set(func(s string, v reflect.Value) error {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("invalid bool value %q", s)
			}
			v.SetBool(b)
			return nil
		}), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits := t.Bits()
		return set(func(s string, v reflect.Value) error {
			i, err := strconv.ParseInt(s, 10, bits)
			if err != nil {
				return fmt.Errorf("invalid int value %q", s)
			}
			v.SetInt(i)
			return nil
		}), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		bits := t.Bits()
		return set(func(s string, v reflect.Value) error {
			u, err := strconv.ParseUint(s, 10, bits)
			if err != nil {
				return fmt.Errorf("invalid uint value %q", s)
			}
			v.SetUint(u)
			return nil
		}), nil
	case reflect.Float32, reflect.Float64:
		bits := t.Bits()
		return set(func(s string, v reflect.Value) error {
			f, err := strconv.ParseFloat(s, bits)
			if err != nil {
				return fmt.Errorf("invalid float value %q", s)
			}
			v.SetFloat(f)
			return nil
		}), nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return func(s string) (any, error) { return s, nil }, nil
		}
	}
	return nil, fmt.Errorf("no converter for type %s", t)
}

func registerBuiltins(r *Registry) {
	r.Register(reflect.TypeFor[time.Duration](), func(s string) (any, error) {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", s)
		}
		return d, nil
	})
	r.Register(reflect.TypeFor[*url.URL](), func(s string) (any, error) {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %q", s)
		}
		return u, nil
	})
	r.Register(reflect.TypeFor[url.URL](), func(s string) (any, error) {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %q", s)
		}
		return *u, nil
	})
	r.Register(reflect.TypeFor[uuid.UUID](), func(s string) (any, error) {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q", s)
		}
		return id, nil
	})
	r.Register(reflect.TypeFor[*semver.Version](), func(s string) (any, error) {
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
		return v, nil
	})
	r.Register(reflect.TypeFor[semver.Version](), func(s string) (any, error) {
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", s, err)
		}
		return *v, nil
	})
}
