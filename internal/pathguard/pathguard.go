// Package pathguard turns untrusted names into filesystem paths that are
// guaranteed to stay inside a given root directory.
//
// Two entry points cover both directions of traffic: SanitizeFilename cleans
// names that are written in, Resolve verifies references that are read out.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/book-expert/voiceclone-service/internal/core"
)

const (
	defaultDirPermissions = 0o750
	opResolve             = "pathguard.resolve"
	opEnsureDir           = "pathguard.ensure_dir"
	dot                   = "."
	dotDot                = ".."
)

// Error messages.
const (
	msgEmptyReference       = "reference cannot be empty"
	msgTraversal            = "reference must be a bare file name"
	msgEscapesRoot          = "reference resolves outside its root"
	msgNotFound             = "file not found"
	msgRootUnavailable      = "root directory is unavailable"
	errFmtFailedToCreateDir = "failed to create directory %s"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename keeps only the final path component of raw and strips every
// character outside [a-zA-Z0-9._-]. It returns "" when nothing usable remains,
// including the "." and ".." special names.
func SanitizeFilename(raw string) string {
	normalized := strings.ReplaceAll(raw, `\`, "/")
	base := path.Base(normalized)
	clean := unsafeChars.ReplaceAllString(base, "")

	if clean == dot || clean == dotDot {
		return ""
	}

	return clean
}

// HasExtension reports whether name ends in one of exts, compared case-insensitively.
func HasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}

	for _, allowed := range exts {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}

	return false
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(dir string) error {
	err := os.MkdirAll(dir, defaultDirPermissions)
	if err != nil {
		return core.Wrap(core.KindStoreUnavailable, opEnsureDir, fmt.Sprintf(errFmtFailedToCreateDir, dir), err)
	}

	return nil
}

// Resolve maps a client-supplied reference to an existing file directly inside
// root. Any reference carrying directory segments, an absolute prefix or a
// special name is Forbidden, as is a file whose canonical location (after
// following symlinks) is not a descendant of root. A missing file is NotFound.
func Resolve(root, ref string) (string, error) {
	if ref == "" {
		return "", core.New(core.KindInvalidInput, opResolve, msgEmptyReference)
	}

	if !isBareName(ref) {
		return "", core.New(core.KindForbidden, opResolve, msgTraversal)
	}

	canonicalRoot, err := canonicalize(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", core.New(core.KindNotFound, opResolve, msgNotFound)
		}

		return "", core.Wrap(core.KindStoreUnavailable, opResolve, msgRootUnavailable, err)
	}

	candidate := filepath.Join(canonicalRoot, filepath.Base(ref))
	if !Within(canonicalRoot, candidate) {
		return "", core.New(core.KindForbidden, opResolve, msgEscapesRoot)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", core.New(core.KindNotFound, opResolve, msgNotFound)
		}

		return "", core.Wrap(core.KindIO, opResolve, "failed to canonicalize reference", err)
	}

	if !Within(canonicalRoot, resolved) {
		return "", core.New(core.KindForbidden, opResolve, msgEscapesRoot)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", core.Wrap(core.KindIO, opResolve, "failed to stat reference", err)
	}

	if !info.Mode().IsRegular() {
		return "", core.New(core.KindNotFound, opResolve, msgNotFound)
	}

	return resolved, nil
}

// Within reports whether target is a strict descendant of root. Both paths
// must already be absolute and clean.
func Within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}

	if rel == dot || rel == dotDot || filepath.IsAbs(rel) {
		return false
	}

	return !strings.HasPrefix(rel, dotDot+string(filepath.Separator))
}

func isBareName(ref string) bool {
	if ref == dot || ref == dotDot {
		return false
	}

	if strings.ContainsAny(ref, `/\`) || strings.ContainsRune(ref, 0) {
		return false
	}

	if filepath.IsAbs(ref) || filepath.VolumeName(ref) != "" {
		return false
	}

	return filepath.Base(ref) == ref
}

func canonicalize(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("could not resolve absolute path for %q: %w", dir, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("could not canonicalize %q: %w", abs, err)
	}

	return resolved, nil
}
