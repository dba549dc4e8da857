// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// Reflect derives a Decl for calling method on instance, which must be a
// pointer to a struct. Tagged fields become members:
//
//	type Deploy struct {
//		Message string   `flag:"message" short:"m" required:"explicit"`
//		Force   bool     `flag:"force" short:"f" help:"skip checks"`
//		Env     string   `flag:"env" alias:"environment" default:"prod"`
//		Tags    []string `flag:"tag" array:"true"`
//	}
//
// Fields without a flag tag, or with flag:"-", are ignored. An empty flag
// tag uses the lower-cased field name. params name the method's parameters
// in order; their types come from the method.
func Reflect(instance any, method string, params ...MemberDecl) (Decl, error) {
	t := reflect.TypeOf(instance)
	cmd := strings.ToLower(method)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return Decl{}, schemaErr(cmd, "", ErrSignature, "instance must be a pointer to a struct, got %T", instance)
	}
	members, err := tagMembers(cmd, t.Elem(), func(idx []int) Setter {
		return func(instance any, v any) error {
			return setField(reflect.ValueOf(instance).Elem().FieldByIndex(idx), v)
		}
	})
	if err != nil {
		return Decl{}, err
	}
	for _, p := range params {
		if p.Kind == KindProperty {
			return Decl{}, schemaErr(cmd, p.Name, ErrSignature, "method parameters must be Param or Array")
		}
	}
	return Decl{
		Command:  cmd,
		Instance: t,
		Members:  append(members, params...),
		Handler:  Handler{Method: method},
	}, nil
}

// GroupOf builds a shared group from the tagged fields of target, a pointer
// to a struct. Bound values are written to target.
func GroupOf(name string, target any) (Group, error) {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return Group{}, schemaErr("", name, ErrSignature, "group must be a pointer to a struct, got %T", target)
	}
	members, err := tagMembers("", rv.Elem().Type(), func(idx []int) Setter {
		return func(_ any, v any) error {
			return setField(rv.Elem().FieldByIndex(idx), v)
		}
	})
	if err != nil {
		return Group{}, err
	}
	return Group{Name: name, Members: members}, nil
}

func tagMembers(cmd string, t reflect.Type, setter func(idx []int) Setter) ([]MemberDecl, error) {
	var out []MemberDecl
	for i := range t.NumField() {
		f := t.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok || name == "-" || !f.IsExported() {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		d := Property(name)
		switch f.Tag.Get("array") {
		case "":
		case "true":
			d.Kind = KindArray
		case "rest":
			d.Kind = KindArray
			d.Rest = true
		default:
			return nil, schemaErr(cmd, name, ErrSignature, "bad array tag %q", f.Tag.Get("array"))
		}
		if s := f.Tag.Get("short"); s != "" {
			if utf8.RuneCountInString(s) != 1 {
				return nil, schemaErr(cmd, name, ErrSignature, "short name %q must be one character", s)
			}
			d.Short, _ = utf8.DecodeRuneInString(s)
		}
		if a := f.Tag.Get("alias"); a != "" {
			for _, alias := range strings.Split(a, ",") {
				d.Aliases = append(d.Aliases, strings.TrimSpace(alias))
			}
		}
		if def, ok := f.Tag.Lookup("default"); ok {
			d = d.WithDefault(def)
		}
		switch r := f.Tag.Get("required"); r {
		case "", "false":
		case "true":
			d.Required = true
		case "explicit":
			d.ExplicitRequired = true
		default:
			return nil, schemaErr(cmd, name, ErrSignature, "bad required tag %q", r)
		}
		d.Help = f.Tag.Get("help")
		d.Type = f.Type
		d.Set = setter(f.Index)
		out = append(out, d)
	}
	return out, nil
}

func setField(fv reflect.Value, v any) error {
	if v == nil {
		fv.SetZero()
		return nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(fv.Type()) {
		return fmt.Errorf("cannot assign %s to field of type %s", rv.Type(), fv.Type())
	}
	fv.Set(rv)
	return nil
}
