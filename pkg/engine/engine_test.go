// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/yeetrun/cmdbind/pkg/bind"
	"github.com/yeetrun/cmdbind/pkg/dispatch"
	"github.com/yeetrun/cmdbind/pkg/schema"
	"github.com/yeetrun/cmdbind/pkg/tokenize"
	"golang.org/x/sync/errgroup"
)

type testCmd struct {
	Message string `flag:"message" short:"m" required:"explicit"`

	mu    sync.Mutex
	calls []string
}

func (c *testCmd) Test(target1 string, target2 *string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t2 := "<nil>"
	if target2 != nil {
		t2 = *target2
	}
	out := fmt.Sprintf("%s,%s,%s", target1, t2, c.Message)
	c.calls = append(c.calls, out)
	return out
}

type counter struct {
	By int `flag:"by" default:"1"`
}

func (c *counter) Add(ctx context.Context, n int) int { return n + c.By }

func newEngine(t *testing.T, opts ...Option) (*Engine, *testCmd) {
	t.Helper()
	e := New(append([]Option{WithRegistry(schema.NewRegistry(nil))}, opts...)...)
	inst := &testCmd{}
	d, err := schema.Reflect(inst, "Test", schema.Param("target1"), schema.Param("target2").WithDefault(nil))
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	d.Aliases = []string{"t"}
	if err := e.Add(d, Instance(inst)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return e, inst
}

func TestRunScenarioD(t *testing.T) {
	e, inst := newEngine(t)
	ctx := context.Background()

	got, err := e.Run(ctx, "test a -m wow")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "a,<nil>,wow" {
		t.Errorf("Run() = %v, want a,<nil>,wow", got)
	}

	_, err = e.Run(ctx, "test a")
	if !errors.Is(err, bind.ErrMissingRequiredValue) {
		t.Errorf("Run() error = %v, want missing required value", err)
	}
	if len(inst.calls) != 1 {
		t.Errorf("handler ran %d times, want 1", len(inst.calls))
	}
}

func TestRunAliasesAndCase(t *testing.T) {
	e, _ := newEngine(t)
	for _, line := range []string{"TEST a b --message hi", "t a b -m hi", "T a b --MESSAGE hi"} {
		got, err := e.Run(context.Background(), line)
		if err != nil {
			t.Fatalf("Run(%q) error = %v", line, err)
		}
		if got != "a,b,hi" {
			t.Errorf("Run(%q) = %v, want a,b,hi", line, got)
		}
	}
}

func TestHelpNeverInvokes(t *testing.T) {
	e, inst := newEngine(t)
	tests := []struct {
		line   string
		target string
	}{
		{"help", ""},
		{"HELP", ""},
		{"help t", "test"},
		{"help test -m x", "test"},
	}
	for _, tt := range tests {
		_, err := e.Run(context.Background(), tt.line)
		var hr *HelpRequest
		if !errors.As(err, &hr) || !errors.Is(err, ErrHelp) {
			t.Fatalf("Run(%q) error = %v, want *HelpRequest", tt.line, err)
		}
		if hr.Target != tt.target {
			t.Errorf("Run(%q) target = %q, want %q", tt.line, hr.Target, tt.target)
		}
		var be *bind.BindError
		if errors.As(err, &be) {
			t.Errorf("help reported as a binding error")
		}
	}
	if len(inst.calls) != 0 {
		t.Errorf("help invoked the handler %d times", len(inst.calls))
	}

	_, err := e.Run(context.Background(), "help nope")
	var uc *UnknownCommandError
	if !errors.As(err, &uc) || uc.Command != "nope" {
		t.Errorf("Run(help nope) error = %v, want unknown command", err)
	}
}

func TestRunErrors(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Run(ctx, "deploy now")
	var uc *UnknownCommandError
	if !errors.As(err, &uc) || uc.Command != "deploy" {
		t.Errorf("Run(deploy) error = %v, want unknown command", err)
	}
	if _, err := e.Run(ctx, "   "); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Run(blank) error = %v, want ErrNoCommand", err)
	}
	if _, err := e.Run(ctx, `test "a`); !errors.Is(err, tokenize.ErrUnterminatedQuote) {
		t.Errorf("Run(unterminated) error = %v, want syntax error", err)
	}
}

func TestAddRejectsConflicts(t *testing.T) {
	e, _ := newEngine(t)
	noop := schema.Handler{Func: func(context.Context, any, []any) (any, error) { return nil, nil }}

	for _, d := range []schema.Decl{
		{Command: "other", Aliases: []string{"T"}, Handler: noop},
		{Command: "Help", Handler: noop},
	} {
		err := e.Add(d, nil)
		if !errors.Is(err, schema.ErrDuplicateName) {
			t.Errorf("Add(%s) error = %v, want ErrDuplicateName", d.Command, err)
		}
	}
	if _, ok := e.Lookup("other"); ok {
		t.Errorf("rejected command was registered")
	}

	d, err := schema.Reflect(&counter{}, "Add", schema.Param("n"))
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if err := e.Add(d, nil); !errors.Is(err, schema.ErrSignature) {
		t.Errorf("Add() without target error = %v, want ErrSignature", err)
	}
}

func TestFreshInstancePerInvocation(t *testing.T) {
	e := New(WithRegistry(schema.NewRegistry(nil)))
	d, err := schema.Reflect(&counter{}, "Add", schema.Param("n"))
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if err := e.Add(d, func() any { return &counter{} }); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	ctx := context.Background()
	if got, err := e.Exec(ctx, []string{"add", "5", "--by", "10"}); err != nil || got != 15 {
		t.Fatalf("Exec() = %v, %v; want 15", got, err)
	}
	if got, err := e.Exec(ctx, []string{"add", "5"}); err != nil || got != 6 {
		t.Errorf("Exec() = %v, %v; want 6 from a fresh instance", got, err)
	}
}

func TestHandlerErrorsAreDistinct(t *testing.T) {
	e := New(WithRegistry(schema.NewRegistry(nil)))
	cause := errors.New("disk full")
	err := e.Add(schema.Decl{
		Command: "save",
		Members: []schema.MemberDecl{schema.Param("path")},
		Handler: schema.Handler{Func: func(context.Context, any, []any) (any, error) { return nil, cause }},
	}, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	_, err = e.Run(context.Background(), "save /tmp/x")
	var he *dispatch.HandlerError
	if !errors.As(err, &he) || !errors.Is(err, cause) {
		t.Fatalf("Run() error = %v, want handler error wrapping cause", err)
	}
	var be *bind.BindError
	if errors.As(err, &be) {
		t.Errorf("handler failure reported as a binding error")
	}
}

func TestLogsInvocationID(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	logf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	e, _ := newEngine(t, WithLogf(logf))
	if _, err := e.Run(context.Background(), "test a -m hi"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(lines) == 0 {
		t.Fatalf("nothing was logged")
	}
	_, rest, _ := strings.Cut(lines[0], "[")
	id, _, _ := strings.Cut(rest, "]")
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("first log line %q has no invocation id: %v", lines[0], err)
	}
	for _, l := range lines {
		if !strings.Contains(l, id) {
			t.Errorf("log line %q does not carry id %s", l, id)
		}
	}
}

func TestConcurrentRuns(t *testing.T) {
	e := New(WithRegistry(schema.NewRegistry(nil)))
	d, err := schema.Reflect(&counter{}, "Add", schema.Param("n"))
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if err := e.Add(d, func() any { return &counter{} }); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	var g errgroup.Group
	for i := range 32 {
		g.Go(func() error {
			got, err := e.Run(context.Background(), fmt.Sprintf("add %d --by %d", i, i))
			if err != nil {
				return err
			}
			if got != 2*i {
				return fmt.Errorf("add %d = %v, want %d", i, got, 2*i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestEnginesKeepTheirOwnFuncCommands(t *testing.T) {
	a, b := New(), New()
	if err := a.Add(schema.Decl{
		Command: "deploy",
		Handler: schema.Handler{Func: func(context.Context, any, []any) (any, error) { return "A", nil }},
	}, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := b.Add(schema.Decl{
		Command: "deploy",
		Members: []schema.MemberDecl{schema.Param("target")},
		Handler: schema.Handler{Func: func(_ context.Context, _ any, params []any) (any, error) {
			return "B:" + params[0].(string), nil
		}},
	}, nil); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	ctx := context.Background()
	got, err := b.Run(ctx, "deploy prod")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "B:prod" {
		t.Errorf("Run() = %v, want B:prod", got)
	}
	got, err = a.Run(ctx, "deploy")
	if err != nil || got != "A" {
		t.Errorf("Run() = %v, %v, want A", got, err)
	}
}
