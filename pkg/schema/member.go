// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"reflect"

	"github.com/yeetrun/cmdbind/pkg/convert"
)

// Kind is the way a member receives its value.
type Kind int

const (
	KindProperty Kind = iota // named option; a bool property is a switch
	KindParam                // positional handler parameter
	KindArray                // trailing variadic parameter
)

func (k Kind) String() string {
	switch k {
	case KindProperty:
		return "property"
	case KindParam:
		return "param"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// Category ranks members for positional matching and error reporting.
type Category int

const (
	CategoryRequired Category = iota
	CategoryExplicitRequired
	CategoryOptional
	CategoryArray
)

func (c Category) String() string {
	switch c {
	case CategoryRequired:
		return "required"
	case CategoryExplicitRequired:
		return "explicit-required"
	case CategoryOptional:
		return "optional"
	case CategoryArray:
		return "array"
	}
	return "unknown"
}

// Setter stores a converted value. instance is the live handler instance;
// setters for shared groups ignore it. v is nil for a nil value.
type Setter func(instance any, v any) error

// MemberDecl declares one bindable member. Build it with Property, Param or
// Array and the With* methods.
type MemberDecl struct {
	Kind             Kind
	Name             string
	Short            rune
	Aliases          []string
	Required         bool
	ExplicitRequired bool
	Default          any
	HasDefault       bool
	Type             reflect.Type // element type is Type.Elem() for arrays
	Help             string
	Set              Setter

	// Rest makes an array take every token after its first element
	// verbatim, including ones that look like options.
	Rest bool
}

// Property declares a named option.
func Property(name string) MemberDecl { return MemberDecl{Kind: KindProperty, Name: name} }

// Param declares a positional handler parameter.
func Param(name string) MemberDecl { return MemberDecl{Kind: KindParam, Name: name} }

// Array declares the trailing variadic parameter.
func Array(name string) MemberDecl { return MemberDecl{Kind: KindArray, Name: name} }

func (d MemberDecl) WithShort(r rune) MemberDecl { d.Short = r; return d }

func (d MemberDecl) WithAliases(a ...string) MemberDecl {
	d.Aliases = append(append([]string(nil), d.Aliases...), a...)
	return d
}

// WithDefault sets the default. A string default for a non-string type is
// converted when the schema is built.
func (d MemberDecl) WithDefault(v any) MemberDecl {
	d.Default, d.HasDefault = v, true
	return d
}

func (d MemberDecl) Require() MemberDecl { d.Required = true; return d }

// RequireExplicit marks the member as satisfiable only by naming it.
func (d MemberDecl) RequireExplicit() MemberDecl { d.ExplicitRequired = true; return d }

func (d MemberDecl) WithType(t reflect.Type) MemberDecl { d.Type = t; return d }
func (d MemberDecl) WithHelp(h string) MemberDecl       { d.Help = h; return d }
func (d MemberDecl) WithSetter(s Setter) MemberDecl     { d.Set = s; return d }
func (d MemberDecl) AsRest() MemberDecl                 { d.Rest = true; return d }

// Member is a validated member of a Schema. Members are shared read-only
// between concurrent binds.
type Member struct {
	Kind             Kind
	Name             string
	Short            rune
	Aliases          []string
	ExplicitRequired bool
	Default          any
	HasDefault       bool
	Type             reflect.Type
	Help             string
	Set              Setter
	Rest             bool

	Index    int // declaration order
	Category Category
	Nullable bool
	Switch   bool

	// Required is true when the author declared it or when the member has
	// no default and its type cannot hold nil.
	Required bool

	// Convert converts one token. For arrays it converts one element.
	Convert convert.Func
}

// TakesValue reports whether the member consumes a value token when named.
func (m *Member) TakesValue() bool { return !m.Switch }

// PositionalCandidate reports whether a bare value token may fill m.
func (m *Member) PositionalCandidate() bool { return !m.Switch && !m.ExplicitRequired }

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
