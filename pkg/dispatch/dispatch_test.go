// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yeetrun/cmdbind/pkg/bind"
	"github.com/yeetrun/cmdbind/pkg/schema"
	"github.com/yeetrun/cmdbind/pkg/tokenize"
)

type ctxKey struct{}

var errBoom = errors.New("boom")

type deployCmd struct {
	Env   string `flag:"env" default:"prod"`
	Force bool   `flag:"force" short:"f"`

	disabled bool
	calls    int
	gotCtx   any
}

func (d *deployCmd) Deploy(ctx context.Context, target string, tags ...string) (string, error) {
	d.calls++
	d.gotCtx = ctx.Value(ctxKey{})
	return fmt.Sprintf("%s@%s force=%v tags=%v", target, d.Env, d.Force, tags), nil
}

func (d *deployCmd) CanDeploy() bool { return !d.disabled }

func (d *deployCmd) Greet(name string, count int) string {
	return fmt.Sprintf("%s x%d", name, count)
}

func (d *deployCmd) Fail() error { return errBoom }

func (d *deployCmd) Panic() { panic("kaboom") }

func (d *deployCmd) Later(ms int) *Future {
	return Go(func() (any, error) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return "later", nil
	})
}

func (d *deployCmd) Signal(fail bool) <-chan error {
	ch := make(chan error, 1)
	go func() {
		if fail {
			ch <- errBoom
		}
		close(ch)
	}()
	return ch
}

func (d *deployCmd) Hang(ctx context.Context) *Future {
	return Go(func() (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func prepare(t *testing.T, method, line string, params ...schema.MemberDecl) (*schema.Schema, *bind.Bound) {
	t.Helper()
	d, err := schema.Reflect(&deployCmd{}, method, params...)
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	s, err := schema.Build(d, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	toks, err := tokenize.Tokenize(line)
	if err != nil {
		t.Fatalf("Tokenize() error = %v", err)
	}
	b, err := bind.Bind(s, toks)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	return s, b
}

func TestInvokeMethod(t *testing.T) {
	s, b := prepare(t, "Deploy", "web -f --env dev a b", schema.Param("target"), schema.Array("tags"))
	inst := &deployCmd{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
	got, err := Invoke(ctx, s, b, inst).Wait(ctx)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if want := "web@dev force=true tags=[a b]"; got != want {
		t.Errorf("Invoke() = %v, want %v", got, want)
	}
	if inst.gotCtx != "marker" {
		t.Errorf("handler context value = %v, want marker", inst.gotCtx)
	}
}

func TestInvokeAppliesDefaults(t *testing.T) {
	s, b := prepare(t, "Deploy", "web", schema.Param("target"), schema.Array("tags"))
	inst := &deployCmd{Env: "stale", Force: true}
	got, err := Invoke(context.Background(), s, b, inst).Wait(context.Background())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if want := "web@prod force=false tags=[]"; got != want {
		t.Errorf("Invoke() = %v, want %v", got, want)
	}
}

func TestInvokeNilParamIsZero(t *testing.T) {
	s, b := prepare(t, "Greet", "bob", schema.Param("name"), schema.Param("count").WithDefault(nil))
	got, err := Invoke(context.Background(), s, b, &deployCmd{}).Wait(context.Background())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "bob x0" {
		t.Errorf("Invoke() = %v, want %q", got, "bob x0")
	}
}

func TestInvokeGuard(t *testing.T) {
	s, b := prepare(t, "Deploy", "web", schema.Param("target"), schema.Array("tags"))
	inst := &deployCmd{disabled: true}
	_, err := Invoke(context.Background(), s, b, inst).Wait(context.Background())
	var pe *PreconditionError
	if !errors.As(err, &pe) || !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Invoke() error = %v, want *PreconditionError", err)
	}
	var he *HandlerError
	if errors.As(err, &he) {
		t.Errorf("precondition failure reported as handler error")
	}
	if inst.calls != 0 {
		t.Errorf("handler ran %d times, want 0", inst.calls)
	}
}

func TestInvokeHandlerFailures(t *testing.T) {
	tests := []struct {
		method string
		line   string
		params []schema.MemberDecl
		want   string
	}{
		{method: "Fail", want: "fail: boom"},
		{method: "Panic", want: "panic: panic: kaboom"},
		{method: "Signal", line: "true", params: []schema.MemberDecl{schema.Param("fail")}, want: "signal: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			s, b := prepare(t, tt.method, tt.line, tt.params...)
			_, err := Invoke(context.Background(), s, b, &deployCmd{}).Wait(context.Background())
			var he *HandlerError
			if !errors.As(err, &he) {
				t.Fatalf("Invoke() error = %v, want *HandlerError", err)
			}
			if err.Error() != tt.want {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.want)
			}
		})
	}

	s, b := prepare(t, "Fail", "")
	_, err := Invoke(context.Background(), s, b, &deployCmd{}).Wait(context.Background())
	if !errors.Is(err, errBoom) {
		t.Errorf("errors.Is(%v, errBoom) = false", err)
	}
}

func TestInvokeAsync(t *testing.T) {
	s, b := prepare(t, "Later", "5", schema.Param("ms"))
	f := Invoke(context.Background(), s, b, &deployCmd{})
	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got != "later" {
		t.Errorf("Wait() = %v, want later", got)
	}
	select {
	case <-f.Done():
	default:
		t.Errorf("Done() not closed after Wait returned")
	}

	s, b = prepare(t, "Signal", "false", schema.Param("fail"))
	if _, err := Invoke(context.Background(), s, b, &deployCmd{}).Wait(context.Background()); err != nil {
		t.Errorf("Signal(false) error = %v", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	s, b := prepare(t, "Hang", "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Invoke(ctx, s, b, &deployCmd{}).Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
	var he *HandlerError
	if errors.As(err, &he) {
		t.Errorf("caller cancellation reported as handler error")
	}
}

func TestInvokeConsumesBound(t *testing.T) {
	s, b := prepare(t, "Fail", "")
	Invoke(context.Background(), s, b, &deployCmd{})
	_, err := Invoke(context.Background(), s, b, &deployCmd{}).Wait(context.Background())
	if !errors.Is(err, ErrConsumed) {
		t.Errorf("second Invoke() error = %v, want ErrConsumed", err)
	}
}

func TestInvokeWrongInstance(t *testing.T) {
	s, b := prepare(t, "Fail", "")
	_, err := Invoke(context.Background(), s, b, struct{}{}).Wait(context.Background())
	if err == nil {
		t.Fatalf("Invoke() with wrong instance succeeded")
	}
	if b.Consumed() {
		t.Errorf("rejected invocation consumed the arguments")
	}
}

func TestInvokeFunc(t *testing.T) {
	type settings struct {
		Verbose bool `flag:"verbose" short:"v"`
	}
	var global settings
	group, err := schema.GroupOf("global", &global)
	if err != nil {
		t.Fatalf("GroupOf() error = %v", err)
	}
	var gotParams []any
	d := schema.Decl{
		Command: "echo",
		Shared:  []schema.Group{group},
		Members: []schema.MemberDecl{schema.Param("first"), schema.Array("rest")},
		Handler: schema.Handler{Func: func(ctx context.Context, instance any, params []any) (any, error) {
			gotParams = params
			return len(params), nil
		}},
	}
	s, err := schema.Build(d, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	b, err := bind.Bind(s, tokenize.FromArgs([]string{"-v", "a", "b", "c"}))
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	got, err := Invoke(context.Background(), s, b, nil).Wait(context.Background())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != 2 {
		t.Errorf("Invoke() = %v, want 2", got)
	}
	if diff := cmp.Diff([]any{"a", []string{"b", "c"}}, gotParams); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if !global.Verbose {
		t.Errorf("shared group was not set")
	}
}

func TestCompletedFuture(t *testing.T) {
	f := Completed(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := f.Wait(ctx)
	if err != nil || got != 1 {
		t.Errorf("Wait() = %v, %v; want 1, nil even with a cancelled context", got, err)
	}
}
