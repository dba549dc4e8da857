// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usage renders help text from schemas. It only reads schemas and
// has no effect on binding.
package usage

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/yeetrun/cmdbind/pkg/schema"
)

// Index renders the list of commands.
func Index(prog string, cmds []*schema.Schema) string {
	var b strings.Builder
	b.WriteString("USAGE:\n")
	b.WriteString(fmt.Sprintf("    %s COMMAND [ARGS...]\n\n", strings.TrimSpace(prog)))
	b.WriteString("COMMANDS:\n")
	for _, s := range cmds {
		b.WriteString(fmt.Sprintf("    %-12s %s\n", s.Command, describeWithAliases(s.Help, s.Aliases)))
	}
	b.WriteString(fmt.Sprintf("    %-12s %s\n", "help", "Show help for a command"))
	return b.String()
}

// Command renders help for one command.
func Command(prog string, s *schema.Schema) string {
	var b strings.Builder
	if s.Help != "" {
		b.WriteString(s.Help)
		b.WriteString("\n\n")
	}
	if len(s.Aliases) > 0 {
		b.WriteString("ALIASES:\n")
		b.WriteString(fmt.Sprintf("    %s\n\n", strings.Join(s.Aliases, ", ")))
	}

	var args, opts []*schema.Member
	for _, m := range s.Members() {
		if m.Kind == schema.KindProperty || m.Set != nil {
			opts = append(opts, m)
		} else {
			args = append(args, m)
		}
	}

	b.WriteString("USAGE:\n")
	line := strings.TrimSpace(prog + " " + s.Command)
	if len(opts) > 0 {
		line += " [OPTIONS]"
	}
	for _, m := range opts {
		if m.ExplicitRequired {
			line += fmt.Sprintf(" --%s <%s>", m.Name, strings.ToUpper(m.Name))
		}
	}
	for _, m := range args {
		line += " " + argUsage(m)
	}
	b.WriteString("    " + line + "\n")

	if len(args) > 0 {
		b.WriteString("\nARGUMENTS:\n")
		for _, m := range args {
			name := strings.ToUpper(m.Name)
			if desc := describe(m); desc != "" {
				b.WriteString(fmt.Sprintf("    %-20s %s\n", name, desc))
			} else {
				b.WriteString(fmt.Sprintf("    %s\n", name))
			}
		}
	}

	if len(opts) > 0 {
		b.WriteString("\nOPTIONS:\n")
		for _, m := range opts {
			flag := fmt.Sprintf("    --%s", m.Name)
			if m.Short != 0 {
				flag = fmt.Sprintf("    -%c, --%s", m.Short, m.Name)
			}
			if desc := describe(m); desc != "" {
				b.WriteString(fmt.Sprintf("%-28s %s\n", flag, desc))
			} else {
				b.WriteString(flag + "\n")
			}
		}
	}
	return b.String()
}

func argUsage(m *schema.Member) string {
	name := strings.ToUpper(m.Name)
	switch {
	case m.Kind == schema.KindArray:
		return fmt.Sprintf("[%s...]", name)
	case m.Required:
		return fmt.Sprintf("<%s>", name)
	}
	return fmt.Sprintf("[%s]", name)
}

func describe(m *schema.Member) string {
	var parts []string
	if m.Help != "" {
		parts = append(parts, m.Help)
	}
	if len(m.Aliases) > 0 {
		parts = append(parts, fmt.Sprintf("(aliases: %s)", strings.Join(m.Aliases, ", ")))
	}
	if m.Required && m.Kind == schema.KindProperty {
		parts = append(parts, "(required)")
	}
	if d := defaultText(m); d != "" {
		parts = append(parts, fmt.Sprintf("(default: %s)", d))
	}
	return strings.Join(parts, " ")
}

// defaultText returns the default worth showing, or "" for none, nil,
// empty and false.
func defaultText(m *schema.Member) string {
	if !m.HasDefault || m.Default == nil || m.Switch {
		return ""
	}
	v := reflect.ValueOf(m.Default)
	if v.IsZero() || (v.Kind() == reflect.Slice && v.Len() == 0) {
		return ""
	}
	return fmt.Sprint(m.Default)
}

func describeWithAliases(desc string, aliases []string) string {
	if len(aliases) == 0 {
		return desc
	}
	suffix := fmt.Sprintf("(aliases: %s)", strings.Join(aliases, ", "))
	if desc == "" {
		return suffix
	}
	return desc + " " + suffix
}
