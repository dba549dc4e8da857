// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package schema builds immutable command schemas from declarations.
//
// A Decl lists the members a command accepts: named properties (a bool
// property is a switch), positional parameters and at most one trailing
// array. Build validates the declaration, resolves a converter for every
// member and fixes the order in which positional tokens fill members.
// Schemas are read-only once built and safe to share between goroutines.
package schema

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/yeetrun/cmdbind/pkg/convert"
	"tailscale.com/util/set"
)

// HandlerFunc is a handler that is not a method. params holds one value per
// handler argument in declaration order.
type HandlerFunc func(ctx context.Context, instance any, params []any) (any, error)

// Handler names the code a command runs. Exactly one of Method or Func is set.
type Handler struct {
	Method string // method on Decl.Instance
	Func   HandlerFunc
}

// Group is a set of members shared by several commands. Their setters
// write to the group's own storage, never to the handler instance.
type Group struct {
	Name    string
	Members []MemberDecl
}

// Decl declares a command.
type Decl struct {
	Command  string
	Aliases  []string
	Help     string
	Instance reflect.Type // nil for commands without an instance
	Members  []MemberDecl
	Shared   []Group
	Handler  Handler

	// Guard, if set, is evaluated right before the handler runs. When nil
	// and the handler is a method, a Can<Method>() bool method is used.
	Guard func(instance any) bool
}

// Target is what the dispatcher needs to call the handler.
type Target struct {
	Method       string
	Func         HandlerFunc
	TakesContext bool
	Variadic     bool
	Args         []*Member // handler arguments in call order
	Guard        func(instance any) bool
}

// Schema is a validated command declaration.
type Schema struct {
	Command  string
	Aliases  []string
	Help     string
	Instance reflect.Type

	members  []*Member
	ordered  []*Member
	long     map[string]*Member
	short    map[rune]*Member
	implicit map[rune][]*Member
	array    *Member
	target   Target
}

// Members returns the members in declaration order.
func (s *Schema) Members() []*Member { return slices.Clone(s.members) }

// Ordered returns the members in binding order: members without a default
// first, then by category, then by declaration order.
func (s *Schema) Ordered() []*Member { return slices.Clone(s.ordered) }

// Lookup finds a member by name or alias, ignoring case.
func (s *Schema) Lookup(name string) (*Member, bool) {
	m, ok := s.long[strings.ToLower(name)]
	return m, ok
}

// LookupShort finds a member by its declared short name.
func (s *Schema) LookupShort(r rune) (*Member, bool) {
	m, ok := s.short[r]
	return m, ok
}

// ShortCandidates returns the members without a declared short name whose
// name starts with r, ignoring case.
func (s *Schema) ShortCandidates(r rune) []*Member {
	return s.implicit[lowerRune(r)]
}

// Array returns the array member, or nil.
func (s *Schema) Array() *Member { return s.array }

// Target returns the handler description.
func (s *Schema) Target() Target { return s.target }

// Names returns the command name followed by its aliases.
func (s *Schema) Names() []string {
	return append([]string{s.Command}, s.Aliases...)
}

var contextType = reflect.TypeFor[context.Context]()

// Build validates d and returns its Schema. conv may be nil to use the
// default converters.
func Build(d Decl, conv *convert.Registry) (*Schema, error) {
	if conv == nil {
		conv = convert.Default()
	}
	cmd := d.Command
	if strings.TrimSpace(cmd) == "" {
		return nil, schemaErr(cmd, "", ErrSignature, "empty command name")
	}
	decls := slices.Clone(d.Members)
	for _, g := range d.Shared {
		decls = append(decls, g.Members...)
	}
	if err := checkNames(cmd, decls); err != nil {
		return nil, err
	}
	if err := checkArray(cmd, decls); err != nil {
		return nil, err
	}
	target, err := resolveTarget(d, decls)
	if err != nil {
		return nil, err
	}

	s := &Schema{
		Command:  cmd,
		Aliases:  slices.Clone(d.Aliases),
		Help:     d.Help,
		Instance: d.Instance,
		long:     make(map[string]*Member),
		short:    make(map[rune]*Member),
		implicit: make(map[rune][]*Member),
	}
	byIndex := make(map[int]*Member, len(decls))
	for i, md := range decls {
		m, err := buildMember(cmd, i, md, conv)
		if err != nil {
			return nil, err
		}
		byIndex[i] = m
		s.members = append(s.members, m)
		s.long[strings.ToLower(m.Name)] = m
		for _, a := range m.Aliases {
			s.long[strings.ToLower(a)] = m
		}
		if m.Short != 0 {
			s.short[m.Short] = m
		}
		if m.Kind == KindArray {
			s.array = m
		}
	}
	for _, m := range s.members {
		if m.Short != 0 {
			continue
		}
		r := lowerRune([]rune(m.Name)[0])
		if _, taken := s.short[r]; taken {
			continue
		}
		s.implicit[r] = append(s.implicit[r], m)
	}

	for _, i := range target.argIndex {
		s.target.Args = append(s.target.Args, byIndex[i])
	}
	s.target.Method = target.Method
	s.target.Func = target.Func
	s.target.TakesContext = target.TakesContext
	s.target.Variadic = target.Variadic
	s.target.Guard = target.Guard

	s.ordered = slices.Clone(s.members)
	slices.SortStableFunc(s.ordered, func(a, b *Member) int {
		if a.HasDefault != b.HasDefault {
			if a.HasDefault {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return s, nil
}

func lowerRune(r rune) rune {
	return []rune(strings.ToLower(string(r)))[0]
}

func checkNames(cmd string, decls []MemberDecl) error {
	long := set.Set[string]{}
	short := set.Set[rune]{}
	for _, d := range decls {
		if strings.TrimSpace(d.Name) == "" || strings.HasPrefix(d.Name, "-") {
			return schemaErr(cmd, d.Name, ErrSignature, "invalid member name")
		}
		for _, n := range append([]string{d.Name}, d.Aliases...) {
			k := strings.ToLower(n)
			if long.Contains(k) {
				return schemaErr(cmd, d.Name, ErrDuplicateName, "%q is declared twice", n)
			}
			long.Add(k)
		}
		if d.Short == 0 {
			continue
		}
		if d.Short == '-' || d.Short == '=' {
			return schemaErr(cmd, d.Name, ErrSignature, "invalid short name %q", d.Short)
		}
		if short.Contains(d.Short) {
			return schemaErr(cmd, d.Name, ErrDuplicateName, "short name -%c is declared twice", d.Short)
		}
		short.Add(d.Short)
	}
	return nil
}

func checkArray(cmd string, decls []MemberDecl) error {
	seen := ""
	for _, d := range decls {
		switch d.Kind {
		case KindArray:
			if seen != "" {
				return schemaErr(cmd, d.Name, ErrMultipleArrays, "%q is already the array", seen)
			}
			seen = d.Name
		case KindParam:
			if seen != "" {
				return schemaErr(cmd, seen, ErrArrayNotLast, "parameter %q follows it", d.Name)
			}
		}
		if d.Rest && d.Kind != KindArray {
			return schemaErr(cmd, d.Name, ErrSignature, "only an array can take the rest of the line")
		}
	}
	return nil
}

type resolved struct {
	Target
	argIndex []int
}

// resolveTarget checks the handler against the declared parameters and
// fills in parameter types taken from a method signature.
func resolveTarget(d Decl, decls []MemberDecl) (*resolved, error) {
	cmd := d.Command
	r := &resolved{Target: Target{Method: d.Handler.Method, Func: d.Handler.Func, Guard: d.Guard}}
	for i, md := range decls {
		switch {
		case md.Kind == KindParam, md.Kind == KindArray && md.Set == nil:
			r.argIndex = append(r.argIndex, i)
		case md.Set == nil:
			return nil, schemaErr(cmd, md.Name, ErrSignature, "property has no setter")
		}
	}

	switch {
	case d.Handler.Method != "" && d.Handler.Func != nil:
		return nil, schemaErr(cmd, "", ErrSignature, "both a method and a func handler")
	case d.Handler.Func != nil:
		r.TakesContext = true
		for i := range decls {
			if decls[i].Type != nil {
				continue
			}
			if decls[i].Kind == KindArray {
				decls[i].Type = reflect.TypeFor[[]string]()
			} else {
				decls[i].Type = reflect.TypeFor[string]()
			}
		}
		return r, nil
	case d.Handler.Method == "":
		return nil, schemaErr(cmd, "", ErrSignature, "no handler")
	}

	if d.Instance == nil {
		return nil, schemaErr(cmd, "", ErrSignature, "method %s needs an instance type", d.Handler.Method)
	}
	meth, ok := d.Instance.MethodByName(d.Handler.Method)
	if !ok {
		return nil, schemaErr(cmd, "", ErrSignature, "%s has no method %s", d.Instance, d.Handler.Method)
	}
	mt := meth.Type
	first := 1 // receiver
	if mt.NumIn() > first && mt.In(first) == contextType {
		r.TakesContext = true
		first++
	}
	if got, want := mt.NumIn()-first, len(r.argIndex); got != want {
		return nil, schemaErr(cmd, "", ErrSignature, "method %s takes %d arguments, %d declared", d.Handler.Method, got, want)
	}
	r.Variadic = mt.IsVariadic()
	for j, i := range r.argIndex {
		pt := mt.In(first + j)
		md := &decls[i]
		if md.Kind == KindArray && pt.Kind() != reflect.Slice {
			return nil, schemaErr(cmd, md.Name, ErrSignature, "array parameter has type %s", pt)
		}
		if md.Kind == KindParam && r.Variadic && j == len(r.argIndex)-1 {
			return nil, schemaErr(cmd, md.Name, ErrSignature, "variadic parameter must be declared as an array")
		}
		if md.Type == nil {
			md.Type = pt
		} else if md.Type != pt {
			return nil, schemaErr(cmd, md.Name, ErrSignature, "declared %s, method takes %s", md.Type, pt)
		}
	}
	switch mt.NumOut() {
	case 0, 1:
	case 2:
		if mt.Out(1) != reflect.TypeFor[error]() {
			return nil, schemaErr(cmd, "", ErrSignature, "second result of %s must be error", d.Handler.Method)
		}
	default:
		return nil, schemaErr(cmd, "", ErrSignature, "%s returns too many values", d.Handler.Method)
	}
	if r.Guard == nil {
		r.Guard = methodGuard(d.Instance, "Can"+d.Handler.Method)
	}
	return r, nil
}

// methodGuard returns a guard calling the named func() bool method, or nil
// if t has no such method.
func methodGuard(t reflect.Type, name string) func(any) bool {
	m, ok := t.MethodByName(name)
	if !ok {
		return nil
	}
	if m.Type.NumIn() != 1 || m.Type.NumOut() != 1 || m.Type.Out(0).Kind() != reflect.Bool {
		return nil
	}
	return func(instance any) bool {
		return reflect.ValueOf(instance).MethodByName(name).Call(nil)[0].Bool()
	}
}

func buildMember(cmd string, idx int, d MemberDecl, conv *convert.Registry) (*Member, error) {
	if d.Type == nil {
		d.Type = reflect.TypeFor[string]()
		if d.Kind == KindArray {
			d.Type = reflect.TypeFor[[]string]()
		}
	}
	m := &Member{
		Kind:             d.Kind,
		Name:             d.Name,
		Short:            d.Short,
		Aliases:          slices.Clone(d.Aliases),
		ExplicitRequired: d.ExplicitRequired,
		Type:             d.Type,
		Help:             d.Help,
		Set:              d.Set,
		Rest:             d.Rest,
		Index:            idx,
		Nullable:         nullable(d.Type),
		Switch:           d.Kind == KindProperty && d.Type.Kind() == reflect.Bool,
	}
	elem := d.Type
	if d.Kind == KindArray {
		if d.Type.Kind() != reflect.Slice {
			return nil, schemaErr(cmd, d.Name, ErrSignature, "array has non-slice type %s", d.Type)
		}
		elem = d.Type.Elem()
	}
	f, err := conv.Lookup(elem)
	if err != nil {
		return nil, schemaErr(cmd, d.Name, ErrNoConverter, "%v", err)
	}
	m.Convert = f

	switch {
	case d.HasDefault:
		v, err := coerceDefault(d.Default, d.Type, d.Kind == KindArray, f)
		if err != nil {
			return nil, schemaErr(cmd, d.Name, ErrBadDefault, "%v", err)
		}
		m.Default, m.HasDefault = v, true
	case m.Switch:
		m.Default, m.HasDefault = reflect.Zero(d.Type).Interface(), true
	case d.Kind == KindArray:
		m.Default, m.HasDefault = reflect.MakeSlice(d.Type, 0, 0).Interface(), true
	}
	m.Required = d.Required || d.ExplicitRequired || (!m.HasDefault && !m.Nullable)

	switch {
	case d.Kind == KindArray:
		m.Category = CategoryArray
	case d.ExplicitRequired:
		m.Category = CategoryExplicitRequired
	case m.Required:
		m.Category = CategoryRequired
	default:
		m.Category = CategoryOptional
	}
	return m, nil
}

// coerceDefault makes v a value of type t. Strings are run through the
// member's converter; for arrays they are split on commas.
func coerceDefault(v any, t reflect.Type, array bool, f convert.Func) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && reflect.TypeOf(v) != t {
		if !array {
			return f(s)
		}
		out := reflect.MakeSlice(t, 0, 0)
		if s == "" {
			return out.Interface(), nil
		}
		for _, part := range strings.Split(s, ",") {
			e, err := f(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			out = reflect.Append(out, reflect.ValueOf(e))
		}
		return out.Interface(), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out.Interface(), nil
	case isNumber(rv.Kind()) && isNumber(t.Kind()) && rv.CanConvert(t):
		return rv.Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func isNumber(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}
