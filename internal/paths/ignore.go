package paths

import (
	"path/filepath"
	"strings"
)

// controlPatterns match entries that never count as mirror content.
// Patterns are matched against the upper-cased entry name.
var controlPatterns = []string{
	"README*",
	"CHANGELOG*",
	"LICENSE*",
	"CONTRIBUTING*",
}

// IsControlEntry reports whether a directory entry is bookkeeping rather than
// mirrored content: dotfiles, underscore-prefixed entries, and README-style files.
func IsControlEntry(name string) bool {
	if name == "" {
		return true
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}

	upper := strings.ToUpper(name)
	for _, pattern := range controlPatterns {
		if matched, err := filepath.Match(pattern, upper); err == nil && matched {
			return true
		}
	}
	return false
}

// IsEpicDir reports whether a directory name is one EpicDirName could have
// produced: the epic prefix followed by a normalized slug.
func IsEpicDir(name string) bool {
	slug, ok := strings.CutPrefix(name, EpicDirPrefix)
	return ok && validateSlug(slug) == nil
}
