// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by SchemaError.
var (
	ErrDuplicateName  = errors.New("duplicate name")
	ErrMultipleArrays = errors.New("more than one array parameter")
	ErrArrayNotLast   = errors.New("array parameter must be the last positional member")
	ErrNoConverter    = errors.New("no converter")
	ErrSignature      = errors.New("invalid handler signature")
	ErrBadDefault     = errors.New("invalid default value")
)

// SchemaError is returned when a declaration cannot be turned into a Schema.
// It is a programming error and is never recovered from at bind time.
type SchemaError struct {
	Command string
	Member  string // empty when the problem is not tied to one member
	Err     error  // one of the sentinel errors above
	Detail  string
}

func (e *SchemaError) Error() string {
	msg := "schema"
	if e.Command != "" {
		msg += " " + e.Command
	}
	if e.Member != "" {
		msg += fmt.Sprintf(": member %q", e.Member)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErr(cmd, member string, err error, format string, args ...any) *SchemaError {
	return &SchemaError{Command: cmd, Member: member, Err: err, Detail: fmt.Sprintf(format, args...)}
}
