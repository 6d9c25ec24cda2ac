// Snapvault - Backup Lifecycle and Recovery Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil || v1 != v2 {
		t.Error("GetValidator() should return the same non-nil instance")
	}
}

type policyFixture struct {
	RetentionDays int     `validate:"min=1,max=365"`
	Threshold     float64 `validate:"gt=0,lte=1"`
	Schedule      string  `validate:"omitempty,cronspec"`
	Type          string  `validate:"oneof=FULL INCREMENTAL DIFFERENTIAL"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     policyFixture
		wantField string
		wantMsg   string
	}{
		{
			name:  "valid",
			input: policyFixture{RetentionDays: 30, Threshold: 0.8, Schedule: "@hourly", Type: "FULL"},
		},
		{
			name:      "retention too high",
			input:     policyFixture{RetentionDays: 400, Threshold: 0.8, Type: "FULL"},
			wantField: "RetentionDays",
			wantMsg:   "RetentionDays must be at most 365",
		},
		{
			name:      "threshold zero",
			input:     policyFixture{RetentionDays: 30, Threshold: 0, Type: "FULL"},
			wantField: "Threshold",
			wantMsg:   "Threshold must be greater than 0",
		},
		{
			name:      "bad cron",
			input:     policyFixture{RetentionDays: 30, Threshold: 0.5, Schedule: "every day", Type: "FULL"},
			wantField: "Schedule",
			wantMsg:   "Schedule must be a valid cron expression",
		},
		{
			name:      "bad type",
			input:     policyFixture{RetentionDays: 30, Threshold: 0.5, Type: "SNAPSHOT"},
			wantField: "Type",
			wantMsg:   "Type must be one of: FULL INCREMENTAL DIFFERENTIAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.input)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateStruct() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateStruct() expected error")
			}
			errs := err.Errors()
			if len(errs) != 1 || errs[0].Field() != tt.wantField {
				t.Fatalf("errors = %v, want one error on %s", err, tt.wantField)
			}
			if errs[0].Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", errs[0].Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateVar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   interface{}
		tag     string
		wantErr string
	}{
		{60, "min=1,max=365", ""},
		{400, "min=1,max=365", "retentionDays must be at most 365"},
		{0, "min=1,max=365", "retentionDays must be at least 1"},
		{1.0, "gt=0,lte=1", ""},
		{1.5, "gt=0,lte=1", "retentionDays must be less than or equal to 1"},
	}

	for _, tt := range tests {
		err := ValidateVar("retentionDays", tt.value, tt.tag)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("ValidateVar(%v, %s) unexpected error = %v", tt.value, tt.tag, err)
			}
			continue
		}
		if err == nil || err.Error() != tt.wantErr {
			t.Errorf("ValidateVar(%v, %s) = %v, want %q", tt.value, tt.tag, err, tt.wantErr)
		}
		if err != nil && err.Errors()[0].Param() == "" {
			t.Error("Param() should carry the tag parameter")
		}
	}
}

func TestValidCronSpec(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"@hourly", "@daily", "@every 30m", "0 2 * * *", "*/15 * * * 1-5"} {
		if !ValidCronSpec(spec) {
			t.Errorf("ValidCronSpec(%q) = false", spec)
		}
	}
	for _, spec := range []string{"", "hourly", "0 2 * *", "61 * * * *"} {
		if ValidCronSpec(spec) {
			t.Errorf("ValidCronSpec(%q) = true", spec)
		}
	}
}

func TestRequestValidationError_Combined(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&policyFixture{RetentionDays: 0, Threshold: 2, Type: "FULL"})
	if err == nil || len(err.Errors()) != 2 {
		t.Fatalf("expected two errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("combined message should join errors, got %q", err.Error())
	}
}
