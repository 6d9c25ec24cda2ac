// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package failure defines the error taxonomy shared by the backup and recovery
// subsystems.
//
// Every failure that crosses a component boundary is classified into exactly one
// kind so callers can branch with errors.Is without parsing messages:
//
//	if errors.Is(err, failure.ErrIntegrity) {
//	    // checksum mismatch: never restore from this artifact
//	}
//
// The original cause is preserved and remains reachable through errors.Is and
// errors.As as well.
package failure

import (
	"errors"
	"fmt"
)

var (
	// ErrIO covers file read, write, rename, and delete failures.
	ErrIO = errors.New("io failure")

	// ErrIntegrity is a checksum mismatch on read or before restore.
	ErrIntegrity = errors.New("integrity failure")

	// ErrValidation covers out-of-bounds policy values, missing or expired
	// confirmation tokens, insufficient disk space, and denied operators.
	ErrValidation = errors.New("validation failure")

	// ErrExternalTool is a non-zero exit or timeout of the dump/restore tool.
	ErrExternalTool = errors.New("external tool failure")

	// ErrCrypto covers key or cipher misconfiguration and decrypt failures.
	ErrCrypto = errors.New("crypto failure")
)

// kinds lists the taxonomy in a stable order for KindOf and metrics labels.
var kinds = []error{ErrIO, ErrIntegrity, ErrValidation, ErrExternalTool, ErrCrypto}

// Error is a classified failure. Op names the operation that failed
// (for example "artifact.write" or "recovery.decrypt").
type Error struct {
	Kind error
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err under kind. A nil err returns nil. If err is already
// classified its kind is kept and only the operation context is added.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if existing := KindOf(err); existing != nil {
		kind = existing
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New returns a classified failure with a formatted message.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// IO wraps err as an ErrIO failure.
func IO(op string, err error) error { return Wrap(ErrIO, op, err) }

// Integrity wraps err as an ErrIntegrity failure.
func Integrity(op string, err error) error { return Wrap(ErrIntegrity, op, err) }

// Validation wraps err as an ErrValidation failure.
func Validation(op string, err error) error { return Wrap(ErrValidation, op, err) }

// ExternalTool wraps err as an ErrExternalTool failure.
func ExternalTool(op string, err error) error { return Wrap(ErrExternalTool, op, err) }

// Crypto wraps err as an ErrCrypto failure.
func Crypto(op string, err error) error { return Wrap(ErrCrypto, op, err) }

// KindOf returns the taxonomy sentinel err belongs to, or nil if unclassified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Label returns a short metrics label for err's kind.
func Label(err error) string {
	switch KindOf(err) {
	case ErrIO:
		return "io"
	case ErrIntegrity:
		return "integrity"
	case ErrValidation:
		return "validation"
	case ErrExternalTool:
		return "external_tool"
	case ErrCrypto:
		return "crypto"
	default:
		if err == nil {
			return "none"
		}
		return "unknown"
	}
}
