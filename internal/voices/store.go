// Package voices persists uploaded reference-voice samples under sanitized names.
package voices

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/pathguard"
	"github.com/h2non/filetype"
)

const (
	filePermissions = 0o600
	tempPattern     = ".upload-*"
	stagePrefix     = ".sample-"
	hiddenPrefix    = "."
)

const (
	opUpload = "voices.upload"
	opList   = "voices.list"
	opLookup = "voices.lookup"
	opDelete = "voices.delete"
	opStage  = "voices.stage"
)

// Log formats.
const (
	logFmtVoiceSaved        = "Saved voice %q (%d bytes)"
	logFmtVoiceDeleted      = "Deleted voice %q"
	logFmtTempCleanupFailed = "Failed to remove temp upload '%s': %v"
	logFmtSampleStaged      = "Staged one-shot sample %q as %s (%d bytes)"
)

// ErrNoRoot is returned when the store is constructed without a root directory.
var ErrNoRoot = errors.New("voices root cannot be empty")

// Options controls what the store accepts.
type Options struct {
	AllowedExtensions []string
	VerifyContent     bool
}

// Store keeps one file per voice directly under its root. The directory listing
// is the source of truth; there is no index.
type Store struct {
	root string
	opts Options
	log  *logger.Logger
}

// New creates a Store rooted at root. The directory is created lazily.
func New(root string, opts Options, log *logger.Logger) (*Store, error) {
	if root == "" {
		return nil, ErrNoRoot
	}

	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = []string{".wav", ".mp3"}
	}

	return &Store{
		root: root,
		opts: opts,
		log:  log,
	}, nil
}

// Root returns the directory the store writes into.
func (s *Store) Root() string {
	return s.root
}

// Upload stores data under the sanitized form of rawFilename, replacing any
// existing voice with the same sanitized name.
func (s *Store) Upload(rawFilename string, data []byte) (core.VoiceReference, error) {
	name, err := s.validate(opUpload, rawFilename, data)
	if err != nil {
		return core.VoiceReference{}, err
	}

	err = pathguard.EnsureDir(s.root)
	if err != nil {
		return core.VoiceReference{}, err
	}

	target := filepath.Join(s.root, name)

	err = s.writeAtomically(target, data)
	if err != nil {
		return core.VoiceReference{}, core.Wrap(core.KindIO, opUpload, "failed to store voice sample", err)
	}

	s.log.Info(logFmtVoiceSaved, name, len(data))

	return core.VoiceReference{ID: name, Path: target}, nil
}

// List returns every stored voice with an accepted extension, in directory order.
func (s *Store) List() ([]core.VoiceReference, error) {
	err := pathguard.EnsureDir(s.root)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, opList, "failed to read voices directory", err)
	}

	refs := make([]core.VoiceReference, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), hiddenPrefix) ||
			!pathguard.HasExtension(entry.Name(), s.opts.AllowedExtensions) {
			continue
		}

		refs = append(refs, core.VoiceReference{
			ID:   entry.Name(),
			Path: filepath.Join(s.root, entry.Name()),
		})
	}

	return refs, nil
}

// Lookup resolves a client-supplied voice id through the containment check.
func (s *Store) Lookup(voiceID string) (core.VoiceReference, error) {
	if voiceID == "" {
		return core.VoiceReference{}, core.New(core.KindInvalidInput, opLookup, "voice id cannot be empty")
	}

	resolved, err := pathguard.Resolve(s.root, voiceID)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return core.VoiceReference{}, core.New(core.KindUnknownVoice, opLookup, fmt.Sprintf("voice %q does not exist", voiceID))
		}

		return core.VoiceReference{}, err
	}

	if strings.HasPrefix(voiceID, hiddenPrefix) || !pathguard.HasExtension(voiceID, s.opts.AllowedExtensions) {
		return core.VoiceReference{}, core.New(core.KindUnknownVoice, opLookup, fmt.Sprintf("voice %q does not exist", voiceID))
	}

	return core.VoiceReference{ID: voiceID, Path: resolved}, nil
}

// Delete removes a stored voice.
func (s *Store) Delete(voiceID string) error {
	ref, err := s.Lookup(voiceID)
	if err != nil {
		return err
	}

	err = os.Remove(ref.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.New(core.KindUnknownVoice, opDelete, fmt.Sprintf("voice %q does not exist", voiceID))
		}

		return core.Wrap(core.KindIO, opDelete, "failed to delete voice", err)
	}

	s.log.Info(logFmtVoiceDeleted, voiceID)

	return nil
}

// Stage validates a one-off reference sample the same way Upload does and
// writes it to a hidden file in the voices root. Hidden files are neither
// listed nor resolvable by Lookup, so the sample never becomes a voice.
// The returned release func removes it and is safe to call more than once.
func (s *Store) Stage(rawFilename string, data []byte) (core.VoiceReference, func(), error) {
	name, err := s.validate(opStage, rawFilename, data)
	if err != nil {
		return core.VoiceReference{}, nil, err
	}

	err = pathguard.EnsureDir(s.root)
	if err != nil {
		return core.VoiceReference{}, nil, err
	}

	tmp, err := os.CreateTemp(s.root, stagePrefix+"*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return core.VoiceReference{}, nil, core.Wrap(core.KindIO, opStage, "failed to create staged sample", err)
	}

	path := tmp.Name()
	release := func() {
		removeErr := os.Remove(path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn(logFmtTempCleanupFailed, path, removeErr)
		}
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		release()

		return core.VoiceReference{}, nil, core.Wrap(core.KindIO, opStage, "failed to write staged sample", writeErr)
	}

	s.log.Info(logFmtSampleStaged, name, filepath.Base(path), len(data))

	return core.VoiceReference{ID: filepath.Base(path), Path: path}, release, nil
}

// validate returns the stored name for rawFilename or an InvalidInput error.
// Leading dots are stripped: hidden names belong to the store itself.
func (s *Store) validate(op, rawFilename string, data []byte) (string, error) {
	name := strings.TrimLeft(pathguard.SanitizeFilename(rawFilename), hiddenPrefix)
	if name == "" {
		return "", core.New(core.KindInvalidInput, op, "file name is empty after sanitization")
	}

	if !pathguard.HasExtension(name, s.opts.AllowedExtensions) {
		return "", core.New(core.KindInvalidInput, op, fmt.Sprintf("unsupported audio format %q", filepath.Ext(name)))
	}

	if len(data) == 0 {
		return "", core.New(core.KindInvalidInput, op, "voice sample is empty")
	}

	if s.opts.VerifyContent && !filetype.IsAudio(data) {
		return "", core.New(core.KindInvalidInput, op, "voice sample is not recognised as audio")
	}

	return name, nil
}

// writeAtomically writes into a dot-prefixed temp file in the same directory
// and renames it over target, so readers see either the old or the new sample.
func (s *Store) writeAtomically(target string, data []byte) error {
	tmp, err := os.CreateTemp(s.root, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		removeErr := os.Remove(tmpName)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn(logFmtTempCleanupFailed, tmpName, removeErr)
		}
	}()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write temp file: %w", writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	err = os.Chmod(tmpName, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	err = os.Rename(tmpName, target)
	if err != nil {
		return fmt.Errorf("failed to move voice into place: %w", err)
	}

	return nil
}
