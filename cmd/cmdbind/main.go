// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cmdbind runs commands declared in a cmdbind.toml or cmdbind.yaml
// manifest, binding their arguments the same way an embedding program
// would.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/shayne/yargs"
	"github.com/yeetrun/cmdbind/pkg/bind"
	"github.com/yeetrun/cmdbind/pkg/engine"
	"github.com/yeetrun/cmdbind/pkg/manifest"
	"github.com/yeetrun/cmdbind/pkg/schema"
	"github.com/yeetrun/cmdbind/pkg/tokenize"
	"github.com/yeetrun/cmdbind/pkg/usage"
	"golang.org/x/term"
	"tailscale.com/types/logger"
	"tailscale.com/util/must"
)

const (
	prog    = "cmdbind"
	version = "0.3.0"
)

type globalFlagsParsed struct {
	Manifest string `flag:"manifest" short:"f" help:"Manifest to load (CMDBIND_MANIFEST)"`
	Command  string `flag:"command" short:"c" help:"Run one command line"`
	Verbose  bool   `flag:"verbose" short:"v" help:"Log each invocation"`
	NoColor  bool   `flag:"no-color" help:"Disable colored output (NO_COLOR)"`
}

// valueFlags are the global flags that take the next argument.
var valueFlags = map[string]bool{
	"-f": true, "--manifest": true,
	"-c": true, "--command": true,
}

// splitGlobal returns the leading global flags and the command after them.
// Flags after the command name belong to the command.
func splitGlobal(args []string) (global, rest []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return args[:i], args[i+1:]
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			return args[:i], args[i:]
		}
		if valueFlags[a] && i+1 < len(args) {
			i++
		}
	}
	return args, nil
}

func parseGlobalFlags(args []string) (globalFlagsParsed, []string, error) {
	global, rest := splitGlobal(args)
	result, err := yargs.ParseKnownFlags[globalFlagsParsed](global, yargs.KnownFlagsOptions{})
	if err != nil {
		return globalFlagsParsed{}, nil, err
	}
	if len(result.RemainingArgs) > 0 {
		return globalFlagsParsed{}, nil, fmt.Errorf("unknown option: %s", result.RemainingArgs[0])
	}
	return result.Flags, rest, nil
}

type exitCoder interface {
	ExitCode() int
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	getwd  func() (string, error)

	errPrefix *color.Color
}

func newCLI() *cli {
	return &cli{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
		getwd:  os.Getwd,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *cli) printCLIError(err error) {
	if err == nil {
		return
	}
	prefix := "error: "
	if c.errPrefix != nil {
		prefix = c.errPrefix.Sprint("error:") + " "
	}
	fmt.Fprintf(c.stderr, "%s%v\n", prefix, err)
}

// run executes args and returns the process exit code.
func (c *cli) run(ctx context.Context, args []string) int {
	flags, rest, err := parseGlobalFlags(args)
	if err != nil {
		c.printCLIError(err)
		return 2
	}
	if !flags.NoColor && c.getenv("NO_COLOR") == "" && isTerminal(c.stderr) {
		c.errPrefix = color.New(color.FgRed, color.Bold)
		c.errPrefix.EnableColor()
	}
	logf := logger.Discard
	if flags.Verbose {
		l := log.New(c.stderr, "", log.LstdFlags)
		logf = logger.WithPrefix(l.Printf, prog+": ")
	}

	e := engine.New(
		engine.WithRegistry(schema.NewRegistry(nil)),
		engine.WithLogf(logf),
	)
	c.addBuiltins(e)
	if err := c.loadManifest(e, flags.Manifest, logf); err != nil {
		c.printCLIError(err)
		return 1
	}

	var res any
	switch {
	case flags.Command != "":
		res, err = e.Run(ctx, flags.Command)
	case len(rest) == 0:
		fmt.Fprint(c.stdout, usage.Index(prog, e.Commands()))
		return 0
	default:
		res, err = e.Exec(ctx, rest)
	}
	return c.finish(e, res, err)
}

func (c *cli) finish(e *engine.Engine, res any, err error) int {
	var help *engine.HelpRequest
	var unknown *engine.UnknownCommandError
	var ec exitCoder
	switch {
	case err == nil:
	case errors.As(err, &help):
		if help.Target == "" {
			fmt.Fprint(c.stdout, usage.Index(prog, e.Commands()))
		} else if s, ok := e.Lookup(help.Target); ok {
			fmt.Fprint(c.stdout, usage.Command(prog, s))
		}
		return 0
	case errors.As(err, &unknown), errors.Is(err, engine.ErrNoCommand), errors.Is(err, tokenize.ErrUnterminatedQuote):
		c.printCLIError(err)
		return 2
	case isBindError(err):
		c.printCLIError(err)
		fmt.Fprintf(c.stderr, "run '%s help' for usage\n", prog)
		return 2
	case errors.As(err, &ec) && ec.ExitCode() > 0:
		c.printCLIError(err)
		return ec.ExitCode()
	default:
		c.printCLIError(err)
		return 1
	}
	switch v := res.(type) {
	case nil:
	case int:
		return v
	default:
		fmt.Fprintln(c.stdout, v)
	}
	return 0
}

func isBindError(err error) bool {
	var be *bind.BindError
	return errors.As(err, &be)
}

func (c *cli) loadManifest(e *engine.Engine, path string, logf logger.Logf) error {
	if path == "" {
		path = c.getenv("CMDBIND_MANIFEST")
	}
	var m *manifest.Manifest
	var err error
	if path != "" {
		m, err = manifest.Load(path)
	} else {
		var wd string
		wd, err = c.getwd()
		if err != nil {
			return err
		}
		m, err = manifest.FindAndLoad(wd)
	}
	if err != nil || m == nil {
		return err
	}
	if err := m.Check(version); err != nil {
		return err
	}
	logf("loaded %s", m.Path)
	return m.Install(e, &manifest.Runner{
		Stdin:  c.stdin,
		Stdout: c.stdout,
		Stderr: c.stderr,
		Logf:   logf,
	})
}

func (c *cli) addBuiltins(e *engine.Engine) {
	tokens := schema.Decl{
		Command: "tokens",
		Help:    "Show how a command line is split",
		Members: []schema.MemberDecl{
			schema.Array("line").AsRest().WithHelp("Command line to split"),
		},
		Handler: schema.Handler{Func: func(_ context.Context, _ any, params []any) (any, error) {
			toks, err := tokenize.Tokenize(strings.Join(params[0].([]string), " "))
			if err != nil {
				return nil, err
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			for i, t := range toks {
				q := ""
				if t.Quoted {
					q = "quoted"
				}
				fmt.Fprintf(tw, "%d\t%q\t%s\n", i, t.Text, q)
			}
			return nil, tw.Flush()
		}},
	}
	ver := schema.Decl{
		Command: "version",
		Help:    "Print the version",
		Handler: schema.Handler{Func: func(context.Context, any, []any) (any, error) {
			return version, nil
		}},
	}
	for _, d := range []schema.Decl{tokens, ver} {
		must.Do(e.Add(d, nil))
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := newCLI().run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
