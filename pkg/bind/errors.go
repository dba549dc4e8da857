// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bind

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a BindError.
type ErrorKind int

const (
	UnknownOption ErrorKind = iota + 1
	MissingRequiredValue
	DuplicateAssignment
	TypeConversionFailed
	TooManyPositionalArguments
	AmbiguousShortName
)

// Sentinels matched by errors.Is against a *BindError of the same kind.
var (
	ErrUnknownOption              = errors.New("unknown option")
	ErrMissingRequiredValue       = errors.New("missing required value")
	ErrDuplicateAssignment        = errors.New("duplicate assignment")
	ErrTypeConversionFailed       = errors.New("type conversion failed")
	ErrTooManyPositionalArguments = errors.New("too many positional arguments")
	ErrAmbiguousShortName         = errors.New("ambiguous short name")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case UnknownOption:
		return ErrUnknownOption
	case MissingRequiredValue:
		return ErrMissingRequiredValue
	case DuplicateAssignment:
		return ErrDuplicateAssignment
	case TypeConversionFailed:
		return ErrTypeConversionFailed
	case TooManyPositionalArguments:
		return ErrTooManyPositionalArguments
	case AmbiguousShortName:
		return ErrAmbiguousShortName
	}
	return nil
}

func (k ErrorKind) String() string {
	if err := k.sentinel(); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// BindError is returned when input does not satisfy a schema.
type BindError struct {
	Kind   ErrorKind
	Member string // offending member, if known
	Token  string // offending token, if any
	Err    error  // underlying cause, e.g. the converter's error
}

func (e *BindError) Error() string {
	switch e.Kind {
	case UnknownOption:
		return fmt.Sprintf("unknown option: %s", e.Token)
	case MissingRequiredValue:
		return fmt.Sprintf("missing required value for %s", e.Member)
	case DuplicateAssignment:
		return fmt.Sprintf("%s given more than once", e.Member)
	case TypeConversionFailed:
		return fmt.Sprintf("invalid value %q for %s: %v", e.Token, e.Member, e.Err)
	case TooManyPositionalArguments:
		return fmt.Sprintf("unexpected argument %q", e.Token)
	case AmbiguousShortName:
		return fmt.Sprintf("ambiguous option %s: %v", e.Token, e.Err)
	}
	return e.Kind.String()
}

func (e *BindError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *BindError) Unwrap() error {
	return e.Err
}
