// Package delivery serves generated audio back to clients by opaque reference.
package delivery

import (
	"path/filepath"
	"strings"

	"github.com/book-expert/voiceclone-service/internal/core"
)

const (
	opFetch            = "delivery.fetch"
	defaultContentType = "audio/wav"
)

var contentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// Audio is a fetched artifact ready to be written to a response.
type Audio struct {
	Name          string
	ContentType   string
	ContentLength int64
	Data          []byte
}

// Service resolves client references against the artifact store.
type Service struct {
	artifacts core.ArtifactStore
}

// New creates a delivery Service.
func New(artifacts core.ArtifactStore) *Service {
	return &Service{artifacts: artifacts}
}

// Fetch returns the artifact named by ref. Anything that does not resolve to
// a regular file directly inside the scratch root is refused.
func (s *Service) Fetch(ref string) (*Audio, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, core.New(core.KindInvalidInput, opFetch, "audio reference is required")
	}

	path, err := s.artifacts.Resolve(ref)
	if err != nil {
		return nil, err
	}

	data, size, err := s.artifacts.Read(path)
	if err != nil {
		return nil, err
	}

	return &Audio{
		Name:          filepath.Base(path),
		ContentType:   ContentType(path),
		ContentLength: size,
		Data:          data,
	}, nil
}

// ContentType maps an audio file extension to its MIME type.
func ContentType(name string) string {
	contentType, ok := contentTypes[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return defaultContentType
	}

	return contentType
}
