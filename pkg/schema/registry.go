// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/yeetrun/cmdbind/pkg/convert"
	"golang.org/x/sync/singleflight"
	"tailscale.com/syncs"
	"tailscale.com/types/lazy"
)

// Key identifies a cached schema.
type Key struct {
	Type    reflect.Type // handler instance type, nil for func handlers
	Command string       // lower case
}

// KeyOf returns the cache key for d.
func KeyOf(d Decl) Key {
	return Key{Type: d.Instance, Command: strings.ToLower(d.Command)}
}

func (k Key) flightKey() string {
	return fmt.Sprintf("%p/%s", k.Type, k.Command)
}

// Registry caches schemas of method handlers by Key. Schemas are built at most once per key,
// even under concurrent first use. Build failures are not cached.
type Registry struct {
	conv    *convert.Registry
	schemas syncs.Map[Key, *Schema]
	flight  singleflight.Group
}

// NewRegistry returns an empty registry building with conv, or with the
// default converters if conv is nil.
func NewRegistry(conv *convert.Registry) *Registry {
	return &Registry{conv: conv}
}

var defaultRegistry lazy.SyncValue[*Registry]

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry.Get(func() *Registry { return NewRegistry(nil) })
}

// Register registers d with the process-wide registry.
func Register(d Decl) (*Schema, error) {
	return Default().Register(d)
}

// Cacheable reports whether d's key identifies its handler. Only method
// handlers without shared groups are cached: func handlers all share a nil
// instance type, and shared groups carry setters bound to one settings
// object.
func Cacheable(d Decl) bool {
	return d.Handler.Method != "" && d.Instance != nil && len(d.Shared) == 0
}

// Register returns the cached schema for d's key, building it on first use.
// Decls that are not Cacheable are built fresh on every call.
func (r *Registry) Register(d Decl) (*Schema, error) {
	if !Cacheable(d) {
		return Build(d, r.conv)
	}
	k := KeyOf(d)
	if s, ok := r.schemas.Load(k); ok {
		return s, nil
	}
	v, err, _ := r.flight.Do(k.flightKey(), func() (any, error) {
		if s, ok := r.schemas.Load(k); ok {
			return s, nil
		}
		s, err := Build(d, r.conv)
		if err != nil {
			return nil, err
		}
		s, _ = r.schemas.LoadOrStore(k, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Schema), nil
}

// Lookup returns the cached schema for k.
func (r *Registry) Lookup(k Key) (*Schema, bool) {
	return r.schemas.Load(k)
}
