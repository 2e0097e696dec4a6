// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

// Package iceerr defines the error kinds returned by the flow classification
// engine and the layers built on top of it.
package iceerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindParam
	KindResourceExhausted
	KindAlreadyExists
	KindNotFound
	KindHardwareTransport
	KindInvalidConfig
)

func (k Kind) String() string {
	switch k {
	case KindParam:
		return "ParamError"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotFound:
		return "NotFound"
	case KindHardwareTransport:
		return "HardwareTransportError"
	case KindInvalidConfig:
		return "InvalidConfig"
	}
	return "Unknown"
}

// Sentinels for errors.Is comparisons. Any *Error of the same kind matches.
var (
	ErrParam             = &Error{Kind: KindParam}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrHardwareTransport = &Error{Kind: KindHardwareTransport}
	ErrInvalidConfig     = &Error{Kind: KindInvalidConfig}
)

// Error carries the kind of failure, the operation that produced it and an
// optional underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so wrapped errors match the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
