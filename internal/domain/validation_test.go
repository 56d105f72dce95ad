package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestValidateIssueKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "simple", key: "IDP-1", wantErr: false},
		{name: "digits in project", key: "CP2-1042", wantErr: false},
		{name: "underscore in project", key: "CP_BM-7", wantErr: false},
		{name: "lowercase", key: "idp-1", wantErr: true},
		{name: "missing number", key: "IDP-", wantErr: true},
		{name: "missing project", key: "-12", wantErr: true},
		{name: "empty", key: "", wantErr: true},
		{name: "path traversal", key: "../IDP-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIssueKey(tt.key)
			if tt.wantErr && err == nil {
				t.Error("ValidateIssueKey() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateIssueKey() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateComponentName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain", input: "idp-infra", wantErr: false},
		{name: "spaces allowed", input: "Bare Metal", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
		{name: "dot", input: ".", wantErr: true},
		{name: "dotdot", input: "..", wantErr: true},
		{name: "slash", input: "a/b", wantErr: true},
		{name: "backslash", input: `a\b`, wantErr: true},
		{name: "hidden", input: ".git", wantErr: true},
		{name: "control prefix", input: "_archive", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateComponentName(tt.input)
			if tt.wantErr && err == nil {
				t.Error("ValidateComponentName() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateComponentName() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "UTC with Z", input: "2025-11-19T10:30:00Z", wantErr: false},
		{name: "with offset", input: "2025-11-19T10:30:00+02:00", wantErr: false},
		{name: "date only", input: "2025-11-19", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateTimestamp(tt.input)
			if tt.wantErr && err == nil {
				t.Error("ValidateTimestamp() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateTimestamp() unexpected error: %v", err)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 11, 19, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	if got := FormatTimestamp(ts); got != "2025-11-19T11:30:00Z" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}

func TestErrorTypes(t *testing.T) {
	malformed := fmt.Errorf("reading: %w", &MalformedDocumentError{Path: "a.md", Reason: "missing opening delimiter"})
	if !IsMalformedDocument(malformed) {
		t.Error("IsMalformedDocument() = false for wrapped MalformedDocumentError")
	}
	if IsMalformedDocument(errors.New("other")) {
		t.Error("IsMalformedDocument() = true for unrelated error")
	}

	cause := errors.New("connection reset")
	remote := &RemoteWriteError{Key: "IDP-1", Err: cause}
	if !errors.Is(remote, cause) {
		t.Error("RemoteWriteError should unwrap to its cause")
	}
	if got := (&RemoteWriteError{StatusCode: 400, Body: "bad"}).Error(); got != "remote write to new entity failed with status 400: bad" {
		t.Errorf("RemoteWriteError.Error() = %q", got)
	}

	mismatch := &StructuralMismatchError{Key: "IDP-2", Field: "parent", Expected: "IDP-1", Actual: "IDP-9"}
	if got := mismatch.Error(); got != `IDP-2: parent is "IDP-9", expected "IDP-1"` {
		t.Errorf("StructuralMismatchError.Error() = %q", got)
	}
}
