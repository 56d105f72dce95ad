package domain

import (
	"errors"
	"fmt"
)

// MalformedDocumentError is returned when a local file cannot be split into
// metadata and body, or lacks identity fields that cannot be defaulted.
type MalformedDocumentError struct {
	Path   string
	Reason string
}

func (e *MalformedDocumentError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed document: %s", e.Reason)
	}
	return fmt.Sprintf("malformed document %s: %s", e.Path, e.Reason)
}

// MappingResolutionError reports a wire path that could not be resolved
// against a record. It is a warning: the property resolves to null.
type MappingResolutionError struct {
	Property string
	Path     string
	Segment  string
}

func (e *MappingResolutionError) Error() string {
	return fmt.Sprintf("property %q: path %q did not resolve at segment %q", e.Property, e.Path, e.Segment)
}

// StructuralMismatchError reports a child whose parent link or component
// disagrees with the epic it was fetched under.
type StructuralMismatchError struct {
	Key      string
	Field    string
	Expected string
	Actual   string
}

func (e *StructuralMismatchError) Error() string {
	return fmt.Sprintf("%s: %s is %q, expected %q", e.Key, e.Field, e.Actual, e.Expected)
}

// FilesystemConflictError reports a path that is occupied when it should be
// free, or missing when it should exist.
type FilesystemConflictError struct {
	Path   string
	Reason string
}

func (e *FilesystemConflictError) Error() string {
	return fmt.Sprintf("filesystem conflict at %s: %s", e.Path, e.Reason)
}

// RemoteWriteError wraps a failed tracker update or create.
type RemoteWriteError struct {
	Key        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteWriteError) Error() string {
	target := e.Key
	if target == "" {
		target = "new entity"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote write to %s failed with status %d: %s", target, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("remote write to %s failed: %v", target, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// IsMalformedDocument reports whether err is or wraps a MalformedDocumentError.
func IsMalformedDocument(err error) bool {
	var target *MalformedDocumentError
	return errors.As(err, &target)
}
