// Package tts drives the external voice-cloning engine: one bounded child
// process per synthesis, writing into a freshly reserved artifact.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"golang.org/x/sync/semaphore"
)

const (
	opSynthesize    = "tts.synthesize"
	stderrTailBytes = 8 << 10
	killGracePeriod = 2 * time.Second
)

// Log formats.
const (
	logFmtSynthesisStarted  = "Synthesizing %d rune(s) with voice %q into %s"
	logFmtSynthesisDone     = "Synthesized %s (%d bytes) in %s"
	logFmtSynthesisFailed   = "Synthesis %s failed: %v - engine diagnostic: %s"
	logFmtDiscardFailed     = "Failed to discard artifact '%s': %v"
	msgSynthesisTimedOut    = "synthesis timed out after %s"
	msgEngineExited         = "synthesis engine failed: %v"
	msgEngineProducedNoData = "synthesis engine produced no audio"
)

// Static errors.
var (
	ErrBinaryPathEmpty  = errors.New("engine binary path cannot be empty")
	ErrGenTextFlagEmpty = errors.New("engine gen_text flag cannot be empty")
	ErrTimeoutRange     = errors.New("engine timeout must be positive")
	ErrConcurrencyRange = errors.New("engine max concurrency must be at least 1")
	ErrNilDependency    = errors.New("voice store and artifact store are required")
)

// Config fixes everything about an engine invocation except the reference
// voice, the text and the output location.
type Config struct {
	BinaryPath       string
	WorkingDir       string
	RefAudioFlag     string
	RefTextFlag      string
	GenTextFlag      string
	OutputFlag       string
	OutputToStdout   bool
	NFEStep          int
	SwaySamplingCoef *float64
	ExtraArgs        []string
	Timeout          time.Duration
	MaxConcurrent    int
	MaxTextRunes     int
}

// Orchestrator implements core.Synthesizer on top of a subprocess engine.
type Orchestrator struct {
	config    Config
	voices    core.VoiceStore
	artifacts core.ArtifactStore
	slots     *semaphore.Weighted
	log       *logger.Logger
}

// New creates a new Orchestrator.
func New(cfg Config, voices core.VoiceStore, artifacts core.ArtifactStore, log *logger.Logger) (*Orchestrator, error) {
	if cfg.BinaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	if cfg.GenTextFlag == "" {
		return nil, ErrGenTextFlagEmpty
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrTimeoutRange, cfg.Timeout)
	}

	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrConcurrencyRange, cfg.MaxConcurrent)
	}

	if voices == nil || artifacts == nil {
		return nil, ErrNilDependency
	}

	return &Orchestrator{
		config:    cfg,
		voices:    voices,
		artifacts: artifacts,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:       log,
	}, nil
}

// GetConfig returns the engine configuration.
func (o *Orchestrator) GetConfig() Config {
	return o.config
}

// Synthesize resolves the voice, reserves an artifact, runs the engine under
// the configured timeout and verifies the output. On any failure the reserved
// file is discarded and no artifact is returned.
func (o *Orchestrator) Synthesize(ctx context.Context, req core.SynthesisRequest) (core.Artifact, error) {
	err := o.validateText(req.Text)
	if err != nil {
		return core.Artifact{}, err
	}

	voice, err := o.voices.Lookup(req.VoiceID)
	if err != nil {
		return core.Artifact{}, err
	}

	return o.synthesize(ctx, voice, "", req.Text)
}

// SynthesizeSample clones the voice of a sample supplied with the request
// without registering it. The sample is staged in the voice store for the
// duration of the engine run and removed afterwards, whatever the outcome.
func (o *Orchestrator) SynthesizeSample(ctx context.Context, req core.SampleRequest) (core.Artifact, error) {
	err := o.validateText(req.Text)
	if err != nil {
		return core.Artifact{}, err
	}

	err = o.validateReferenceText(req.ReferenceText)
	if err != nil {
		return core.Artifact{}, err
	}

	voice, release, err := o.voices.Stage(req.Filename, req.Sample)
	if err != nil {
		return core.Artifact{}, err
	}
	defer release()

	return o.synthesize(ctx, voice, req.ReferenceText, req.Text)
}

func (o *Orchestrator) synthesize(ctx context.Context, voice core.VoiceReference, refText, text string) (core.Artifact, error) {
	err := o.slots.Acquire(ctx, 1)
	if err != nil {
		return core.Artifact{}, core.Wrap(core.KindSynthesisFailed, opSynthesize, "synthesis cancelled while queued", err)
	}
	defer o.slots.Release(1)

	handle, err := o.artifacts.Reserve()
	if err != nil {
		return core.Artifact{}, err
	}

	o.log.Info(logFmtSynthesisStarted, utf8.RuneCountInString(text), voice.ID, handle.ID)

	started := time.Now()

	err = o.run(ctx, voice.Path, refText, text, handle)
	if err == nil {
		err = o.verifyOutput(handle)
	}

	if err != nil {
		o.log.Error(logFmtSynthesisFailed, handle.ID, err, core.DiagnosticOf(err))
		o.discard(handle)

		return core.Artifact{}, err
	}

	info, err := os.Stat(handle.Path)
	if err != nil {
		o.discard(handle)

		return core.Artifact{}, core.Wrap(core.KindSynthesisFailed, opSynthesize, msgEngineProducedNoData, err)
	}

	o.log.Info(logFmtSynthesisDone, handle.ID, info.Size(), time.Since(started).Round(time.Millisecond))

	return core.Artifact{
		ID:        handle.ID,
		Path:      handle.Path,
		Size:      info.Size(),
		CreatedAt: handle.CreatedAt,
	}, nil
}

// BuildArgs returns the engine argument vector. Each value is its own argv
// element, so nothing in text can change how the engine parses its flags.
// An empty refText asks the engine to transcribe the reference itself.
func (o *Orchestrator) BuildArgs(refAudioPath, refText, text, outputPath string) []string {
	args := make([]string, 0, 12+len(o.config.ExtraArgs))

	if o.config.RefAudioFlag != "" {
		args = append(args, o.config.RefAudioFlag, refAudioPath)
	}

	if o.config.RefTextFlag != "" {
		args = append(args, o.config.RefTextFlag, refText)
	}

	args = append(args, o.config.GenTextFlag, text)

	if !o.config.OutputToStdout && o.config.OutputFlag != "" {
		args = append(args, o.config.OutputFlag, outputPath)
	}

	if o.config.NFEStep > 0 {
		args = append(args, "--nfe_step", strconv.Itoa(o.config.NFEStep))
	}

	if o.config.SwaySamplingCoef != nil {
		args = append(args, "--sway_sampling_coef", strconv.FormatFloat(*o.config.SwaySamplingCoef, 'f', -1, 64))
	}

	return append(args, o.config.ExtraArgs...)
}

func (o *Orchestrator) run(ctx context.Context, refAudioPath, refText, text string, handle core.ArtifactHandle) error {
	runCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	args := o.BuildArgs(refAudioPath, refText, text, handle.Path)

	// #nosec G204 -- argv is built element by element; no shell is involved
	cmd := exec.CommandContext(runCtx, o.config.BinaryPath, args...)
	cmd.Dir = o.config.WorkingDir
	cmd.WaitDelay = killGracePeriod
	isolateProcessGroup(cmd)

	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = stderr

	if o.config.OutputToStdout {
		sink, err := o.artifacts.Open(handle)
		if err != nil {
			return err
		}
		defer sink.Close()

		cmd.Stdout = sink
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}

	failure := &core.Error{
		Kind:       core.KindSynthesisFailed,
		Op:         opSynthesize,
		Diagnostic: strings.TrimSpace(stderr.String()),
		Cause:      err,
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		failure.Message = fmt.Sprintf(msgSynthesisTimedOut, o.config.Timeout)
		failure.Cause = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	case ctx.Err() != nil:
		failure.Message = "synthesis cancelled"
		failure.Cause = fmt.Errorf("%w: %w", ctx.Err(), err)
	default:
		failure.Message = fmt.Sprintf(msgEngineExited, err)
	}

	return failure
}

func (o *Orchestrator) verifyOutput(handle core.ArtifactHandle) error {
	info, err := os.Stat(handle.Path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return core.New(core.KindSynthesisFailed, opSynthesize, msgEngineProducedNoData)
	}

	return nil
}

func (o *Orchestrator) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return core.New(core.KindInvalidInput, opSynthesize, "text cannot be empty")
	}

	if strings.ContainsRune(text, 0) {
		return core.New(core.KindInvalidInput, opSynthesize, "text cannot contain NUL characters")
	}

	if !utf8.ValidString(text) {
		return core.New(core.KindInvalidInput, opSynthesize, "text must be valid UTF-8")
	}

	if o.config.MaxTextRunes > 0 && utf8.RuneCountInString(text) > o.config.MaxTextRunes {
		return core.New(core.KindInvalidInput, opSynthesize,
			fmt.Sprintf("text too long: max %d characters", o.config.MaxTextRunes))
	}

	return nil
}

// validateReferenceText accepts an empty transcript; a non-empty one is bound
// by the same argv rules as the text to speak.
func (o *Orchestrator) validateReferenceText(refText string) error {
	if strings.ContainsRune(refText, 0) {
		return core.New(core.KindInvalidInput, opSynthesize, "reference text cannot contain NUL characters")
	}

	if !utf8.ValidString(refText) {
		return core.New(core.KindInvalidInput, opSynthesize, "reference text must be valid UTF-8")
	}

	if o.config.MaxTextRunes > 0 && utf8.RuneCountInString(refText) > o.config.MaxTextRunes {
		return core.New(core.KindInvalidInput, opSynthesize,
			fmt.Sprintf("reference text too long: max %d characters", o.config.MaxTextRunes))
	}

	return nil
}

func (o *Orchestrator) discard(handle core.ArtifactHandle) {
	err := o.artifacts.Discard(handle)
	if err != nil {
		o.log.Warn(logFmtDiscardFailed, handle.ID, err)
	}
}
