// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine ties tokenizing, binding and dispatch together behind a
// table of named commands.
//
// The first token of a line names the command. Names and aliases match
// without regard to case. The word "help" is reserved: it never runs a
// handler and instead returns a *HelpRequest for the caller to render.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/yeetrun/cmdbind/pkg/bind"
	"github.com/yeetrun/cmdbind/pkg/dispatch"
	"github.com/yeetrun/cmdbind/pkg/schema"
	"github.com/yeetrun/cmdbind/pkg/tokenize"
	"tailscale.com/types/logger"
	"tailscale.com/util/mak"
)

// HelpWord is the reserved pseudo-command.
const HelpWord = "help"

var (
	// ErrHelp matches *HelpRequest.
	ErrHelp = errors.New("help requested")

	// ErrNoCommand is returned for an empty line.
	ErrNoCommand = errors.New("no command given")
)

// HelpRequest is returned instead of running a handler when the line starts
// with the reserved help word. Target is the canonical name of the command
// to describe, or empty for all commands.
type HelpRequest struct {
	Target string
}

func (e *HelpRequest) Error() string {
	if e.Target == "" {
		return ErrHelp.Error()
	}
	return fmt.Sprintf("help requested for %s", e.Target)
}

func (e *HelpRequest) Is(target error) bool {
	return target == ErrHelp
}

// UnknownCommandError is returned when no command has the given name.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command: %s", e.Command)
}

// Target returns the instance a command runs against. It is called once
// per invocation.
type Target func() any

// Instance returns a Target that always yields x.
func Instance(x any) Target {
	return func() any { return x }
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogf sets the debug logger. The default discards.
func WithLogf(logf logger.Logf) Option {
	return func(e *Engine) { e.logf = logf }
}

// WithRegistry sets the schema registry. The default is schema.Default(),
// which shares method-handler schemas across engines by instance type and
// command name.
func WithRegistry(r *schema.Registry) Option {
	return func(e *Engine) { e.reg = r }
}

type command struct {
	schema *schema.Schema
	target Target
}

// Engine is a set of commands. It is safe for concurrent use.
type Engine struct {
	logf logger.Logf
	reg  *schema.Registry

	mu       sync.RWMutex
	byName   map[string]*command // lower-cased names and aliases
	commands []*command          // in the order added
}

// New returns an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logf: logger.Discard}
	for _, o := range opts {
		o(e)
	}
	if e.reg == nil {
		e.reg = schema.Default()
	}
	return e
}

// Add registers the command declared by d. target may be nil for commands
// without an instance.
func (e *Engine) Add(d schema.Decl, target Target) error {
	s, err := e.reg.Register(d)
	if err != nil {
		return err
	}
	if s.Instance != nil && target == nil {
		return &schema.SchemaError{Command: s.Command, Err: schema.ErrSignature, Detail: "method handler needs a target"}
	}
	names := s.Names()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range names {
		k := strings.ToLower(n)
		if k == HelpWord {
			return &schema.SchemaError{Command: s.Command, Err: schema.ErrDuplicateName, Detail: "help is reserved"}
		}
		if _, ok := e.byName[k]; ok {
			return &schema.SchemaError{Command: s.Command, Err: schema.ErrDuplicateName, Detail: fmt.Sprintf("command %q already exists", n)}
		}
	}
	c := &command{schema: s, target: target}
	for _, n := range names {
		mak.Set(&e.byName, strings.ToLower(n), c)
	}
	e.commands = append(e.commands, c)
	return nil
}

// Lookup returns the schema for a command name or alias.
func (e *Engine) Lookup(name string) (*schema.Schema, bool) {
	c, ok := e.lookup(name)
	if !ok {
		return nil, false
	}
	return c.schema, true
}

func (e *Engine) lookup(name string) (*command, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.byName[strings.ToLower(name)]
	return c, ok
}

// Commands returns the schemas of all commands in the order they were added.
func (e *Engine) Commands() []*schema.Schema {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*schema.Schema, 0, len(e.commands))
	for _, c := range e.commands {
		out = append(out, c.schema)
	}
	return out
}

// Run tokenizes line, runs it and waits for the result.
func (e *Engine) Run(ctx context.Context, line string) (any, error) {
	toks, err := tokenize.Tokenize(line)
	if err != nil {
		return nil, err
	}
	return e.Start(ctx, toks).Wait(ctx)
}

// Exec runs pre-split arguments and waits for the result.
func (e *Engine) Exec(ctx context.Context, args []string) (any, error) {
	return e.Start(ctx, tokenize.FromArgs(args)).Wait(ctx)
}

// Start binds toks and starts the handler. Binding errors are returned
// through the Future.
func (e *Engine) Start(ctx context.Context, toks []tokenize.Token) *dispatch.Future {
	if len(toks) == 0 {
		return dispatch.Completed(nil, ErrNoCommand)
	}
	name := toks[0].Text
	if strings.EqualFold(name, HelpWord) {
		return dispatch.Completed(nil, e.help(toks[1:]))
	}
	c, ok := e.lookup(name)
	if !ok {
		return dispatch.Completed(nil, &UnknownCommandError{Command: name})
	}
	s := c.schema
	id := uuid.NewString()
	args := toks[1:]
	e.logf("[%s] %s %s", id, s.Command, tokenize.Join(args))
	b, err := bind.Bind(s, args)
	if err != nil {
		e.logf("[%s] bind: %v", id, err)
		return dispatch.Completed(nil, err)
	}
	var inst any
	if c.target != nil {
		inst = c.target()
	}
	f := dispatch.Invoke(ctx, s, b, inst)
	select {
	case <-f.Done():
		_, err := f.Wait(ctx)
		e.logf("[%s] done: err=%v", id, err)
	default:
		e.logf("[%s] running", id)
	}
	return f
}

func (e *Engine) help(args []tokenize.Token) error {
	if len(args) == 0 {
		return &HelpRequest{}
	}
	c, ok := e.lookup(args[0].Text)
	if !ok {
		return &UnknownCommandError{Command: args[0].Text}
	}
	return &HelpRequest{Target: c.schema.Command}
}
