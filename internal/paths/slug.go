package paths

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
	hyphenRuns     = regexp.MustCompile(`-{2,}`)
	maxSlugLen     = 200
)

// Slugify converts free text into a directory/file name fragment.
// Rules:
// - Always lower-case
// - Runs of whitespace become a single hyphen
// - Characters outside [a-z0-9-] are dropped
// - Repeated hyphens collapse, leading/trailing hyphens are trimmed
//
// Slugify never fails. Empty or fully-stripped input yields "".
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRuns.ReplaceAllString(s, "-")

	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}

	s = hyphenRuns.ReplaceAllString(result.String(), "-")
	return strings.Trim(s, "-")
}

// NormalizeSlug slugifies s for use as a directory name. Unlike Slugify it
// reports an empty result as an error and clips over-long slugs.
func NormalizeSlug(s string) (string, error) {
	slug := Slugify(s)
	if slug == "" {
		return "", fmt.Errorf("slug of %q is empty", s)
	}

	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}

	return slug, nil
}

// validateSlug checks s is already in NormalizeSlug's output form.
func validateSlug(s string) error {
	if s == "" {
		return fmt.Errorf("slug cannot be empty")
	}

	if len(s) > maxSlugLen {
		return fmt.Errorf("slug exceeds maximum length of %d bytes", maxSlugLen)
	}

	if !slugPattern.MatchString(s) || strings.Contains(s, "--") || strings.HasSuffix(s, "-") {
		return fmt.Errorf("invalid slug format: must be lowercase, start with alphanumeric, and contain only [a-z0-9-]")
	}

	return nil
}
