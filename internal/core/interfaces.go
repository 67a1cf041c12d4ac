// Package core defines the domain types and interfaces shared by the voice-clone service.
package core

import (
	"context"
	"io"
	"time"
)

// VoiceReference is a stored reference sample. Its ID is the sanitized file name.
type VoiceReference struct {
	ID   string `json:"id"`
	Path string `json:"-"`
}

// SynthesisRequest pairs a voice with the text to speak. It is never persisted.
type SynthesisRequest struct {
	VoiceID string `json:"voiceId"`
	Text    string `json:"text"`
}

// SampleRequest synthesizes text against a reference sample supplied with the
// request instead of a stored voice. ReferenceText may be empty, in which case
// the engine transcribes the sample itself.
type SampleRequest struct {
	Filename      string
	Sample        []byte
	ReferenceText string
	Text          string
}

// ArtifactHandle is a reserved, not yet written, artifact location.
type ArtifactHandle struct {
	ID        string
	Path      string
	CreatedAt time.Time
}

// Artifact is a generated audio file owned by the artifact store.
// Clients only ever see ID; Path stays server-side.
type Artifact struct {
	ID        string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// VoiceStore persists and resolves reference voices.
type VoiceStore interface {
	Upload(rawFilename string, data []byte) (VoiceReference, error)
	List() ([]VoiceReference, error)
	Lookup(voiceID string) (VoiceReference, error)
	Delete(voiceID string) error
	Stage(rawFilename string, data []byte) (VoiceReference, func(), error)
}

// ArtifactStore manages the scratch directory of generated audio.
type ArtifactStore interface {
	Reserve() (ArtifactHandle, error)
	Open(handle ArtifactHandle) (io.WriteCloser, error)
	Discard(handle ArtifactHandle) error
	Resolve(clientRef string) (string, error)
	Read(path string) ([]byte, int64, error)
}

// Synthesizer turns a voice and text into an artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (Artifact, error)
}

// SampleSynthesizer runs one-shot syntheses against unregistered samples.
type SampleSynthesizer interface {
	SynthesizeSample(ctx context.Context, req SampleRequest) (Artifact, error)
}

// Completer is the external text-completion collaborator used by the chat flow.
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
