// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manifest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/yeetrun/cmdbind/pkg/cmdutil"
	"github.com/yeetrun/cmdbind/pkg/dispatch"
	"github.com/yeetrun/cmdbind/pkg/engine"
	"github.com/yeetrun/cmdbind/pkg/env"
	"github.com/yeetrun/cmdbind/pkg/schema"
	"tailscale.com/types/logger"
	"tailscale.com/util/mak"
)

// ArgEnvPrefix prefixes the environment variables that carry bound values
// to a manifest command, as in CMDBIND_ARG_WHO.
const ArgEnvPrefix = "CMDBIND_ARG_"

// Values holds the option values bound for one invocation.
type Values map[string]any

var valuesType = reflect.TypeFor[*Values]()

var memberTypes = map[string]reflect.Type{
	"":         reflect.TypeFor[string](),
	"string":   reflect.TypeFor[string](),
	"bool":     reflect.TypeFor[bool](),
	"int":      reflect.TypeFor[int](),
	"float":    reflect.TypeFor[float64](),
	"duration": reflect.TypeFor[time.Duration](),
	"uuid":     reflect.TypeFor[uuid.UUID](),
	"version":  reflect.TypeFor[*semver.Version](),
	"url":      reflect.TypeFor[*url.URL](),
}

// Runner holds what manifest commands need to run programs.
// Nil streams fall back to the process's own.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv is used for when_env guards. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)

	Logf logger.Logf
}

func (r *Runner) lookupEnv(k string) (string, bool) {
	if r.LookupEnv != nil {
		return r.LookupEnv(k)
	}
	return os.LookupEnv(k)
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Install adds every command in m to e. Each invocation gets fresh Values.
func (m *Manifest) Install(e *engine.Engine, r *Runner) error {
	decls, err := m.Decls(r)
	if err != nil {
		return err
	}
	for _, d := range decls {
		if err := e.Add(d, func() any { return &Values{} }); err != nil {
			return err
		}
	}
	return nil
}

// Decls converts the manifest's commands into schema declarations.
func (m *Manifest) Decls(r *Runner) ([]schema.Decl, error) {
	groups := make(map[string]schema.Group)
	for _, g := range m.Shared {
		group := schema.Group{Name: g.Name}
		for _, o := range g.Options {
			d, err := o.decl(schema.KindProperty)
			if err != nil {
				return nil, fmt.Errorf("shared group %q: %w", g.Name, err)
			}
			d.Set = setValue(o.Name)
			group.Members = append(group.Members, d)
		}
		mak.Set(&groups, g.Name, group)
	}

	var out []schema.Decl
	for i, c := range m.Commands {
		if c.Name == "" {
			return nil, fmt.Errorf("command %d has no name", i)
		}
		if len(c.Run) == 0 {
			return nil, fmt.Errorf("command %q has nothing to run", c.Name)
		}
		var timeout time.Duration
		if c.Timeout != "" {
			t, err := time.ParseDuration(c.Timeout)
			if err != nil {
				return nil, fmt.Errorf("command %q: invalid timeout: %w", c.Name, err)
			}
			timeout = t
		}
		d := schema.Decl{
			Command:  c.Name,
			Aliases:  c.Aliases,
			Help:     c.Help,
			Instance: valuesType,
		}
		for _, name := range c.Shared {
			g, ok := groups[name]
			if !ok {
				return nil, fmt.Errorf("command %q: unknown shared group %q", c.Name, name)
			}
			d.Shared = append(d.Shared, g)
		}
		for _, o := range c.Options {
			md, err := o.decl(schema.KindProperty)
			if err != nil {
				return nil, fmt.Errorf("command %q: %w", c.Name, err)
			}
			md.Set = setValue(o.Name)
			d.Members = append(d.Members, md)
		}
		var args []string
		for _, p := range c.Params {
			md, err := p.decl(schema.KindParam)
			if err != nil {
				return nil, fmt.Errorf("command %q: %w", c.Name, err)
			}
			d.Members = append(d.Members, md)
			args = append(args, p.Name)
		}
		if c.Array != nil {
			md, err := c.Array.decl(schema.KindArray)
			if err != nil {
				return nil, fmt.Errorf("command %q: %w", c.Name, err)
			}
			d.Members = append(d.Members, md)
			args = append(args, c.Array.Name)
		}
		if c.WhenEnv != "" {
			env := c.WhenEnv
			d.Guard = func(any) bool {
				_, ok := r.lookupEnv(env)
				return ok
			}
		}
		dir := m.Dir
		if c.Dir != "" {
			dir = c.Dir
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(m.Dir, dir)
			}
		}
		d.Handler = schema.Handler{Func: r.handler(c, dir, timeout, args)}
		out = append(out, d)
	}
	return out, nil
}

func setValue(name string) schema.Setter {
	return func(instance any, v any) error {
		vals, ok := instance.(*Values)
		if !ok {
			return fmt.Errorf("option %q: unexpected instance %T", name, instance)
		}
		mak.Set(vals, name, v)
		return nil
	}
}

func (r *Runner) handler(c Command, dir string, timeout time.Duration, args []string) schema.HandlerFunc {
	return func(ctx context.Context, instance any, params []any) (any, error) {
		vals := Values{}
		if v, ok := instance.(*Values); ok {
			for k, x := range *v {
				vals[k] = x
			}
		}
		for i, name := range args {
			vals[name] = params[i]
		}
		argv, err := Expand(c.Run, vals)
		if err != nil {
			return nil, err
		}
		strs := make(map[string]string, len(vals))
		for k, v := range vals {
			strs[k] = strings.Join(texts(v), " ")
		}
		exported, err := env.Pairs(ArgEnvPrefix, strs)
		if err != nil {
			return nil, err
		}
		stdio := cmdutil.Stdio{Stdin: r.Stdin, Stdout: r.Stdout, Stderr: r.Stderr}
		if c.Confirm != "" {
			ok, err := stdio.Confirm(c.Confirm)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, cmdutil.ErrDeclined
			}
		}
		return dispatch.Go(func() (any, error) {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			cmd := stdio.Command(ctx, argv[0], argv[1:]...)
			cmd.Dir = dir
			cmd.Env = append(os.Environ(), "CMDBIND_COMMAND="+c.Name)
			cmd.Env = append(cmd.Env, exported...)
			r.logf("exec %q in %s", argv, dir)
			if err := cmd.Run(); err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%s: %w", argv[0], ctx.Err())
				}
				return nil, err
			}
			return cmd.ProcessState.ExitCode(), nil
		}), nil
	}
}

func (o Member) decl(kind schema.Kind) (schema.MemberDecl, error) {
	t, ok := memberTypes[strings.ToLower(o.Type)]
	if !ok {
		return schema.MemberDecl{}, fmt.Errorf("member %q: unknown type %q", o.Name, o.Type)
	}
	d := schema.MemberDecl{
		Kind:             kind,
		Name:             o.Name,
		Aliases:          o.Aliases,
		Required:         o.Required,
		ExplicitRequired: o.Explicit,
		Help:             o.Help,
		Type:             t,
	}
	if o.Short != "" {
		if utf8.RuneCountInString(o.Short) != 1 {
			return schema.MemberDecl{}, fmt.Errorf("member %q: short name %q must be one character", o.Name, o.Short)
		}
		d.Short, _ = utf8.DecodeRuneInString(o.Short)
	}
	if kind == schema.KindArray {
		d.Type = reflect.SliceOf(t)
		d.Rest = o.Rest
	} else if o.Rest {
		return schema.MemberDecl{}, fmt.Errorf("member %q: only the array can be rest", o.Name)
	}
	switch {
	case o.Default != nil:
		d = d.WithDefault(normalizeDefault(o.Default))
	case o.Optional:
		d = d.WithDefault(nil)
	case kind == schema.KindProperty && t.Kind() != reflect.Bool && !o.Required && !o.Explicit:
		// Options are optional unless marked otherwise.
		d = d.WithDefault(nil)
	}
	return d, nil
}

// normalizeDefault turns decoded list defaults into the comma form the
// schema builder splits.
func normalizeDefault(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	parts := make([]string, len(list))
	for i, x := range list {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Expand fills {{name}} placeholders in argv from vals. An argument that is
// exactly one placeholder expands to nothing for a nil value and to one
// argument per element for a slice. Placeholders inside a larger argument
// are replaced by the value's text, with slice elements joined by spaces.
func Expand(argv []string, vals map[string]any) ([]string, error) {
	var out []string
	for _, a := range argv {
		if m := placeholder.FindStringSubmatch(a); m != nil && m[0] == a {
			v, ok := vals[m[1]]
			if !ok {
				return nil, fmt.Errorf("unknown placeholder %s", a)
			}
			out = append(out, texts(v)...)
			continue
		}
		var missing string
		s := placeholder.ReplaceAllStringFunc(a, func(ph string) string {
			name := placeholder.FindStringSubmatch(ph)[1]
			v, ok := vals[name]
			if !ok {
				missing = ph
				return ""
			}
			return strings.Join(texts(v), " ")
		})
		if missing != "" {
			return nil, fmt.Errorf("unknown placeholder %s", missing)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("nothing to run")
	}
	return out, nil
}

func texts(v any) []string {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		if _, ok := v.(fmt.Stringer); ok {
			return []string{fmt.Sprint(v)}
		}
		return texts(rv.Elem().Interface())
	case reflect.Slice:
		out := make([]string, 0, rv.Len())
		for i := range rv.Len() {
			out = append(out, texts(rv.Index(i).Interface())...)
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
