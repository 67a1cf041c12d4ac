// Package worker runs voice synthesis jobs delivered over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/nats-io/nats.go"
)

const (
	defaultJobTimeout = 6 * time.Minute
	opHandle          = "worker.handle"
)

// Reply headers set on failed jobs.
const (
	HeaderErrorKind = "Voice-Error-Kind"
	HeaderError     = "Voice-Error"
)

// Log formats.
const (
	logFmtJobStarted   = "Job %s: synthesizing text '%s' with voice %q"
	logFmtJobDone      = "Job %s: uploaded audio '%s' (%d bytes)"
	logFmtJobFailed    = "Job %s failed: %v"
	logFmtDiagnostic   = "Job %s engine diagnostic: %s"
	logFmtReplyFailed  = "Job %s: failed to send reply: %v"
	logFmtDiscardAfter = "Job %s: failed to discard local artifact '%s': %v"
)

// Static errors.
var (
	ErrSubjectEmpty      = errors.New("worker subject cannot be empty")
	ErrMissingDependency = errors.New("worker requires a connection, both object stores, a synthesizer and an artifact store")
)

// Dependencies are the collaborators a NatsWorker needs.
type Dependencies struct {
	Connection  *nats.Conn
	TextStore   core.ObjectStore
	AudioStore  core.ObjectStore
	Synthesizer core.Synthesizer
	Artifacts   core.ArtifactStore
	Logger      *logger.Logger
}

// NatsWorker listens for events.TextProcessedEvent requests, synthesizes the
// referenced text and replies with an events.AudioChunkCreatedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	jobTimeout     time.Duration
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	synthesizer    core.Synthesizer
	artifacts      core.ArtifactStore
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A non-positive
// jobTimeout falls back to a default that comfortably exceeds one engine run.
func NewNatsWorker(subject string, jobTimeout time.Duration, deps Dependencies) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	if deps.Connection == nil || deps.TextStore == nil || deps.AudioStore == nil ||
		deps.Synthesizer == nil || deps.Artifacts == nil {
		return nil, ErrMissingDependency
	}

	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: deps.Connection,
		subject:        subject,
		jobTimeout:     jobTimeout,
		textStore:      deps.TextStore,
		audioStore:     deps.AudioStore,
		synthesizer:    deps.Synthesizer,
		artifacts:      deps.Artifacts,
		log:            deps.Logger,
	}, nil
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error(logFmtJobFailed, "?", err)
		w.replyError(msg, "?", err)

		return
	}

	jobID := event.Header.WorkflowID

	audioKey, err := w.processJob(ctx, jobID, event)
	if err != nil {
		w.log.Error(logFmtJobFailed, jobID, err)

		if diagnostic := core.DiagnosticOf(err); diagnostic != "" {
			w.log.Error(logFmtDiagnostic, jobID, diagnostic)
		}

		w.replyError(msg, jobID, err)

		return
	}

	reply := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error(logFmtReplyFailed, jobID, err)
	}
}

// processJob downloads the text, synthesizes it and uploads the audio under
// the artifact id, which becomes the reply's AudioKey.
func (w *NatsWorker) processJob(ctx context.Context, jobID string, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.textStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", err
	}

	w.log.Info(logFmtJobStarted, jobID, event.TextKey, event.Voice)

	artifact, err := w.synthesizer.Synthesize(ctx, core.SynthesisRequest{
		VoiceID: event.Voice,
		Text:    string(textData),
	})
	if err != nil {
		return "", err
	}

	defer w.discard(jobID, artifact)

	audioData, _, err := w.artifacts.Read(artifact.Path)
	if err != nil {
		return "", err
	}

	err = w.audioStore.Upload(ctx, artifact.ID, audioData)
	if err != nil {
		return "", err
	}

	w.log.Info(logFmtJobDone, jobID, artifact.ID, len(audioData))

	return artifact.ID, nil
}

func (w *NatsWorker) discard(jobID string, artifact core.Artifact) {
	err := w.artifacts.Discard(core.ArtifactHandle{ID: artifact.ID, Path: artifact.Path, CreatedAt: artifact.CreatedAt})
	if err != nil {
		w.log.Warn(logFmtDiscardAfter, jobID, artifact.ID, err)
	}
}

// replyError answers a request with an empty body and the failure in headers.
// Only the classified message is sent; engine diagnostics stay in the log.
func (w *NatsWorker) replyError(msg *nats.Msg, jobID string, err error) {
	if msg.Reply == "" {
		return
	}

	kind := core.KindOf(err)
	if kind == "" {
		kind = core.KindIO
	}

	message := "job failed"

	var typed *core.Error
	if errors.As(err, &typed) && typed.Message != "" {
		message = typed.Message
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderErrorKind, string(kind))
	reply.Header.Set(HeaderError, strings.ReplaceAll(message, "\n", " "))

	respondErr := msg.RespondMsg(reply)
	if respondErr != nil {
		w.log.Error(logFmtReplyFailed, jobID, respondErr)
	}
}

func publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, core.Wrap(core.KindInvalidInput, opHandle, "malformed synthesis event", err)
	}

	if event.TextKey == "" {
		return nil, core.New(core.KindInvalidInput, opHandle, "event is missing a text key")
	}

	if event.Voice == "" {
		return nil, core.New(core.KindInvalidInput, opHandle, "event is missing a voice")
	}

	return &event, nil
}
