// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package failure

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestWrap_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		kind  error
		label string
	}{
		{"io", IO("artifact.write", fs.ErrPermission), ErrIO, "io"},
		{"integrity", Integrity("artifact.verify", errors.New("mismatch")), ErrIntegrity, "integrity"},
		{"validation", Validation("policy.update", errors.New("out of range")), ErrValidation, "validation"},
		{"external tool", ExternalTool("dbtool.dump", errors.New("exit status 1")), ErrExternalTool, "external_tool"},
		{"crypto", Crypto("encryption.open", errors.New("auth tag")), ErrCrypto, "crypto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.kind)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			if got := Label(tt.err); got != tt.label {
				t.Errorf("Label() = %q, want %q", got, tt.label)
			}
		})
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	err := IO("artifact.delete", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected wrapped cause to remain reachable")
	}
	if got := err.Error(); got != "artifact.delete: io failure: file does not exist" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestWrap_KeepsExistingKind(t *testing.T) {
	inner := Integrity("artifact.verify", errors.New("checksum mismatch"))
	outer := IO("recovery.validate", fmt.Errorf("verify: %w", inner))

	if KindOf(outer) != ErrIntegrity {
		t.Errorf("expected existing integrity kind to win, got %v", KindOf(outer))
	}
	if errors.Is(outer, ErrIO) {
		t.Error("reclassified error should not also match ErrIO")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(ErrIO, "noop", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
	if Label(nil) != "none" {
		t.Errorf("Label(nil) = %q, want none", Label(nil))
	}
	if Label(errors.New("plain")) != "unknown" {
		t.Error("unclassified errors should be labelled unknown")
	}
}

func TestNew(t *testing.T) {
	err := New(ErrValidation, "recovery.prerequisites", "need %d bytes free", 300)
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected validation kind")
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("expected *Error")
	}
	if fe.Op != "recovery.prerequisites" {
		t.Errorf("Op = %q", fe.Op)
	}
}
