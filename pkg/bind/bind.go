// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bind matches tokens against a schema.
//
// Tokens are classified as long options (--name, --name=value), short
// option groups (-abc, -m value, -mvalue) or positional values. Quoted
// tokens are always values, and a bare -- ends option parsing. Positional
// values fill members in the schema's binding order, skipping switches and
// members that must be named explicitly; the array member, once reached,
// takes every remaining positional value.
package bind

import (
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/yeetrun/cmdbind/pkg/schema"
	"github.com/yeetrun/cmdbind/pkg/tokenize"
	"tailscale.com/util/set"
)

// Bound holds the values for one invocation.
type Bound struct {
	schema   *schema.Schema
	values   map[*schema.Member]any
	supplied set.Set[*schema.Member]
	consumed atomic.Bool
}

// Schema returns the schema b was bound against.
func (b *Bound) Schema() *schema.Schema { return b.schema }

// Get returns the value bound to m.
func (b *Bound) Get(m *schema.Member) any { return b.values[m] }

// Value returns the value bound to the member named name. ok is false when
// the schema has no such member.
func (b *Bound) Value(name string) (v any, ok bool) {
	m, ok := b.schema.Lookup(name)
	if !ok {
		return nil, false
	}
	return b.values[m], true
}

// Supplied reports whether the named member was given in the input rather
// than defaulted.
func (b *Bound) Supplied(name string) bool {
	m, ok := b.schema.Lookup(name)
	return ok && b.supplied.Contains(m)
}

// Values returns all bound values keyed by member name.
func (b *Bound) Values() map[string]any {
	out := make(map[string]any, len(b.values))
	for m, v := range b.values {
		out[m.Name] = v
	}
	return out
}

// Consume marks b as used. It reports false if b was already consumed.
func (b *Bound) Consume() bool {
	return b.consumed.CompareAndSwap(false, true)
}

// Consumed reports whether b has been used for an invocation.
func (b *Bound) Consumed() bool { return b.consumed.Load() }

type binder struct {
	s       *schema.Schema
	ordered []*schema.Member
	values  map[*schema.Member]any
	arrays  map[*schema.Member]reflect.Value
	filled  set.Set[*schema.Member]

	noMoreOptions bool
	rest          *schema.Member
	excess        *tokenize.Token
}

// Bind matches tokens against s. It never mutates s and may be called
// concurrently.
func Bind(s *schema.Schema, tokens []tokenize.Token) (*Bound, error) {
	b := &binder{
		s:       s,
		ordered: s.Ordered(),
		values:  make(map[*schema.Member]any),
		arrays:  make(map[*schema.Member]reflect.Value),
		filled:  set.Set[*schema.Member]{},
	}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		var err error
		switch {
		case b.rest != nil:
			err = b.set(b.rest, tok.Text)
		case tok.Quoted || b.noMoreOptions:
			err = b.positional(tok)
		case tok.Text == "--":
			b.noMoreOptions = true
		case strings.HasPrefix(tok.Text, "--"):
			i, err = b.long(tokens, i)
		case b.isShortGroup(tok.Text):
			i, err = b.shortGroup(tokens, i)
		default:
			err = b.positional(tok)
		}
		if err != nil {
			return nil, err
		}
	}
	return b.finish()
}

// isShortGroup reports whether text is -x... rather than a lone dash or a
// negative number. A number is still a group if its first digit is a
// declared short name.
func (b *binder) isShortGroup(text string) bool {
	if len(text) < 2 || text[0] != '-' {
		return false
	}
	if isNumeric(text) {
		_, declared := b.s.LookupShort(rune(text[1]))
		return declared
	}
	return true
}

// isOption reports whether tok would be read as an option, which stops it
// from being taken as the value of the preceding one.
func (b *binder) isOption(tok tokenize.Token) bool {
	if tok.Quoted || b.noMoreOptions {
		return false
	}
	return strings.HasPrefix(tok.Text, "--") || b.isShortGroup(tok.Text)
}

func (b *binder) long(tokens []tokenize.Token, i int) (int, error) {
	tok := tokens[i]
	name, value, hasValue := strings.Cut(tok.Text[2:], "=")
	m, ok := b.s.Lookup(name)
	if !ok {
		return i, &BindError{Kind: UnknownOption, Token: "--" + name}
	}
	if !m.TakesValue() {
		if !hasValue {
			return i, b.assign(m, true)
		}
		return i, b.set(m, value)
	}
	if !hasValue && i+1 < len(tokens) && !b.isOption(tokens[i+1]) {
		i++
		value, hasValue = tokens[i].Text, true
	}
	if !hasValue {
		return i, b.valueMissing(m)
	}
	return i, b.set(m, value)
}

func (b *binder) shortGroup(tokens []tokenize.Token, i int) (int, error) {
	runes := []rune(tokens[i].Text[1:])
	for j := 0; j < len(runes); j++ {
		m, err := b.resolveShort(runes[j])
		if err != nil {
			return i, err
		}
		tail := runes[j+1:]
		if !m.TakesValue() {
			if len(tail) > 0 && tail[0] == '=' {
				return i, b.set(m, string(tail[1:]))
			}
			if err := b.assign(m, true); err != nil {
				return i, err
			}
			continue
		}
		if len(tail) > 0 {
			return i, b.set(m, strings.TrimPrefix(string(tail), "="))
		}
		if i+1 < len(tokens) && !b.isOption(tokens[i+1]) {
			return i + 1, b.set(m, tokens[i+1].Text)
		}
		return i, b.valueMissing(m)
	}
	return i, nil
}

// resolveShort maps a short-name character to its member. Characters that
// are not declared short names fall back to the one member without a short
// name whose name starts with that character.
func (b *binder) resolveShort(r rune) (*schema.Member, error) {
	if m, ok := b.s.LookupShort(r); ok {
		return m, nil
	}
	cands := b.s.ShortCandidates(r)
	switch len(cands) {
	case 0:
		return nil, &BindError{Kind: UnknownOption, Token: "-" + string(r)}
	case 1:
		return cands[0], nil
	}
	names := make([]string, len(cands))
	for i, m := range cands {
		names[i] = m.Name
	}
	return nil, &BindError{
		Kind:  AmbiguousShortName,
		Token: "-" + string(r),
		Err:   fmt.Errorf("matches %s", strings.Join(names, ", ")),
	}
}

// valueMissing handles an option named without a value: it takes its
// default if it has one.
func (b *binder) valueMissing(m *schema.Member) error {
	if !m.HasDefault {
		return &BindError{Kind: MissingRequiredValue, Member: m.Name}
	}
	if m.Kind == schema.KindArray {
		b.filled.Add(m)
		return nil
	}
	return b.assign(m, m.Default)
}

func (b *binder) positional(tok tokenize.Token) error {
	for _, m := range b.ordered {
		if !m.PositionalCandidate() {
			continue
		}
		if m.Kind != schema.KindArray && b.filled.Contains(m) {
			continue
		}
		return b.set(m, tok.Text)
	}
	if b.excess == nil {
		b.excess = &tok
	}
	return nil
}

// set converts raw and stores it on m.
func (b *binder) set(m *schema.Member, raw string) error {
	if m.Kind != schema.KindArray && b.filled.Contains(m) {
		return &BindError{Kind: DuplicateAssignment, Member: m.Name, Token: raw}
	}
	v, err := m.Convert(raw)
	if err != nil {
		return &BindError{Kind: TypeConversionFailed, Member: m.Name, Token: raw, Err: err}
	}
	if m.Kind == schema.KindArray {
		arr, ok := b.arrays[m]
		if !ok {
			arr = reflect.MakeSlice(m.Type, 0, 1)
		}
		b.arrays[m] = reflect.Append(arr, reflect.ValueOf(v))
		b.filled.Add(m)
		if m.Rest {
			b.rest = m
		}
		return nil
	}
	return b.assign(m, v)
}

func (b *binder) assign(m *schema.Member, v any) error {
	if b.filled.Contains(m) {
		return &BindError{Kind: DuplicateAssignment, Member: m.Name}
	}
	b.values[m] = v
	b.filled.Add(m)
	return nil
}

// finish resolves unfilled members in binding order. Missing members are
// reported before excess positional values.
func (b *binder) finish() (*Bound, error) {
	for _, m := range b.ordered {
		if m.Kind == schema.KindArray {
			b.values[m] = b.arrayValue(m)
			continue
		}
		if b.filled.Contains(m) {
			continue
		}
		switch {
		case m.ExplicitRequired:
			return nil, &BindError{Kind: MissingRequiredValue, Member: m.Name}
		case m.HasDefault:
			b.values[m] = m.Default
		case m.Required:
			return nil, &BindError{Kind: MissingRequiredValue, Member: m.Name}
		default:
			b.values[m] = reflect.Zero(m.Type).Interface()
		}
	}
	if b.excess != nil {
		return nil, &BindError{Kind: TooManyPositionalArguments, Token: b.excess.Text}
	}
	supplied := set.Set[*schema.Member]{}
	for m := range b.filled {
		supplied.Add(m)
	}
	return &Bound{schema: b.s, values: b.values, supplied: supplied}, nil
}

// arrayValue returns the elements bound to m, or a copy of its default.
// The result is never a nil slice.
func (b *binder) arrayValue(m *schema.Member) any {
	if arr, ok := b.arrays[m]; ok {
		return arr.Interface()
	}
	out := reflect.MakeSlice(m.Type, 0, 0)
	if m.Default != nil {
		out = reflect.AppendSlice(out, reflect.ValueOf(m.Default))
	}
	return out.Interface()
}

// isNumeric reports whether s is a number such as 10, -10 or -3.14.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		if len(s) == 1 {
			return false
		}
		start = 1
	}
	hasDigit, hasDot := false, false
	for i := start; i < len(s); i++ {
		switch {
		case s[i] >= '0' && s[i] <= '9':
			hasDigit = true
		case s[i] == '.' && !hasDot:
			hasDot = true
		default:
			return false
		}
	}
	return hasDigit
}
