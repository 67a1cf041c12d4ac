// Package artifacts manages the scratch directory of generated audio files.
//
// Artifacts are write-once files named by an opaque, collision-resistant id.
// Clients only ever hold that id; every read goes back through Resolve, which
// refuses anything that would land outside the scratch root.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/pathguard"
	"github.com/google/uuid"
)

const (
	filePermissions = 0o600
	idPrefix        = "out_"
	idTimeLayout    = "20060102T150405"
)

const (
	opReserve = "artifacts.reserve"
	opOpen    = "artifacts.open"
	opDiscard = "artifacts.discard"
	opRead    = "artifacts.read"
	opSweep   = "artifacts.sweep"
)

// Log formats.
const (
	logFmtSweepRemoved = "Janitor removed %d artifact(s) older than %s"
	logFmtSweepFailed  = "Janitor sweep failed: %v"
	logFmtSweepEntry   = "Janitor could not remove '%s': %v"
)

// Static errors.
var (
	ErrNoRoot       = errors.New("scratch root cannot be empty")
	ErrBadExtension = errors.New("artifact extension must start with '.'")
)

// Store owns the scratch root.
type Store struct {
	root string
	ext  string
	log  *logger.Logger
	now  func() time.Time
}

// New creates a Store writing files with extension ext (e.g. ".wav") into root.
func New(root, ext string, log *logger.Logger) (*Store, error) {
	if root == "" {
		return nil, ErrNoRoot
	}

	if !strings.HasPrefix(ext, ".") {
		return nil, fmt.Errorf("%w: got %q", ErrBadExtension, ext)
	}

	err := pathguard.EnsureDir(root)
	if err != nil {
		return nil, err
	}

	return &Store{
		root: root,
		ext:  ext,
		log:  log,
		now:  time.Now,
	}, nil
}

// Root returns the scratch directory.
func (s *Store) Root() string {
	return s.root
}

// Extension returns the extension given to every artifact.
func (s *Store) Extension() string {
	return s.ext
}

// Reserve picks a fresh artifact name. The file itself is not created; the
// random UUID component keeps concurrent reservations apart.
func (s *Store) Reserve() (core.ArtifactHandle, error) {
	err := pathguard.EnsureDir(s.root)
	if err != nil {
		return core.ArtifactHandle{}, core.Wrap(core.KindStoreUnavailable, opReserve, "scratch root is unavailable", err)
	}

	createdAt := s.now().UTC()
	id := idPrefix + createdAt.Format(idTimeLayout) + "_" + uuid.NewString() + s.ext

	return core.ArtifactHandle{
		ID:        id,
		Path:      filepath.Join(s.root, id),
		CreatedAt: createdAt,
	}, nil
}

// Open creates the reserved file for writing. It fails if the file already
// exists, so a handle can never be written twice.
func (s *Store) Open(handle core.ArtifactHandle) (io.WriteCloser, error) {
	if !s.owns(handle) {
		return nil, core.New(core.KindForbidden, opOpen, "handle does not belong to this store")
	}

	file, err := os.OpenFile(handle.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, core.Wrap(core.KindIO, opOpen, "failed to open artifact for writing", err)
	}

	return file, nil
}

// Discard removes whatever was written for handle. Removing a file that was
// never created is not an error.
func (s *Store) Discard(handle core.ArtifactHandle) error {
	if !s.owns(handle) {
		return core.New(core.KindForbidden, opDiscard, "handle does not belong to this store")
	}

	err := os.Remove(handle.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.Wrap(core.KindIO, opDiscard, "failed to discard artifact", err)
	}

	return nil
}

// Resolve maps a client-supplied artifact id to its verified path.
func (s *Store) Resolve(clientRef string) (string, error) {
	return pathguard.Resolve(s.root, clientRef)
}

// Read returns the content of a path obtained from Resolve together with its size.
func (s *Store) Read(path string) ([]byte, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, core.New(core.KindNotFound, opRead, "artifact not found")
		}

		return nil, 0, core.Wrap(core.KindIO, opRead, "failed to read artifact", err)
	}

	return data, int64(len(data)), nil
}

// Sweep removes artifacts whose modification time is older than olderThan.
// Only files carrying the store's naming scheme are touched.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, core.Wrap(core.KindStoreUnavailable, opSweep, "failed to read scratch directory", err)
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, idPrefix) || !strings.HasSuffix(name, s.ext) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		removeErr := os.Remove(filepath.Join(s.root, name))
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn(logFmtSweepEntry, name, removeErr)

			continue
		}

		removed++
	}

	return removed, nil
}

// RunJanitor sweeps every interval until ctx is cancelled.
func (s *Store) RunJanitor(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.Sweep(retention)
			if err != nil {
				s.log.Error(logFmtSweepFailed, err)

				continue
			}

			if removed > 0 {
				s.log.Info(logFmtSweepRemoved, removed, retention)
			}
		}
	}
}

func (s *Store) owns(handle core.ArtifactHandle) bool {
	return handle.ID != "" &&
		pathguard.SanitizeFilename(handle.ID) == handle.ID &&
		handle.Path == filepath.Join(s.root, handle.ID)
}
