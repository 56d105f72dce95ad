package paths

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lherron/epicsync/internal/domain"
)

const (
	// EpicDirPrefix prefixes every epic directory name.
	EpicDirPrefix = "epic-"

	// DocumentExt is the extension of mirrored documents.
	DocumentExt = ".md"

	// SnapshotExt is the extension of raw snapshot cache entries.
	SnapshotExt = ".json"
)

// EpicDirName returns "epic-{slug}" for an epic summary.
// An empty slug is an error; callers decide on the fallback.
func EpicDirName(summary string) (string, error) {
	slug, err := NormalizeSlug(summary)
	if err != nil {
		return "", fmt.Errorf("cannot name epic directory: %w", err)
	}
	return EpicDirPrefix + slug, nil
}

// FileName returns "{type}-{key}{ext}", e.g. "story-IDP-12.md".
func FileName(t domain.IssueType, key, ext string) string {
	return t.Prefix() + "-" + key + ext
}

// ParseFileName splits a mirrored file name into its type and key.
// ok is false for names that do not follow the "{type}-{key}{ext}" scheme.
func ParseFileName(name, ext string) (t domain.IssueType, key string, ok bool) {
	if !strings.HasSuffix(name, ext) {
		return domain.TypeUnknown, "", false
	}
	stem := strings.TrimSuffix(name, ext)

	prefix, key, found := strings.Cut(stem, "-")
	if !found || key == "" {
		return domain.TypeUnknown, "", false
	}

	t, err := domain.ParseIssueType(prefix)
	if err != nil {
		return domain.TypeUnknown, "", false
	}
	return t, key, true
}

// CanonicalDir returns the directory an epic group lives in, relative to root.
func CanonicalDir(root, component, epicDir string) string {
	return filepath.Join(root, component, epicDir)
}

// CanonicalPath returns the one correct location of an entity's file.
// Epics and their children share the epic directory.
func CanonicalPath(root, component, epicDir string, t domain.IssueType, key, ext string) string {
	return filepath.Join(CanonicalDir(root, component, epicDir), FileName(t, key, ext))
}
