package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// IssueKeyRegex validates tracker keys such as "IDP-123"
var IssueKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)

// ValidateIssueKey validates a tracker issue key
func ValidateIssueKey(key string) error {
	if !IssueKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid issue key %q: must look like PROJECT-123", key)
	}
	return nil
}

// ValidateComponentName validates a component name before it is used as a
// directory name. Names are taken verbatim from the tracker, so only
// path-hostile values are rejected.
func ValidateComponentName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("component name cannot be empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid component name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("invalid component name %q: must not contain path separators", name)
	case strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_"):
		return fmt.Errorf("invalid component name %q: leading '.' and '_' are reserved", name)
	}
	return nil
}

// ValidateTimestamp validates and parses an ISO8601 timestamp
func ValidateTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: expected ISO8601/RFC3339")
	}
	return t, nil
}

// FormatTimestamp formats a time as ISO-8601 with Z suffix.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
