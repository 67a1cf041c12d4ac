package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/gin-gonic/gin"
)

const (
	formFieldVoiceSample   = "voiceSample"
	formFieldSampleFile    = "file"
	formFieldText          = "text"
	formFieldReferenceText = "reference_text"
	audioRoute             = "/api/audio"
	queryID                = "id"
	queryLegacyPath        = "path"
	opUpload               = "httpapi.upload"
	opGenerate             = "httpapi.generate"
)

// Client-facing messages.
const (
	msgVoiceSaved         = "Voice saved successfully"
	msgVoiceDeleted       = "Voice deleted successfully"
	msgNoFileUploaded     = "No file uploaded"
	msgUploadTooLarge     = "Voice sample exceeds the upload limit of %d bytes"
	msgMissingVoiceOrText = "Missing voiceId or text"
	msgMissingFileOrText  = "Missing file or text"
	msgMissingMessage     = "Missing message"
	msgMissingAudioRef    = "Audio id is required"
)

const (
	logFmtSynthesized      = "Generated %s with voice %q"
	logFmtSynthesizedFresh = "Generated %s from one-shot sample %q"
)

var (
	errUploadTooLarge  = errors.New("upload exceeds the size limit")
	errMissingFormFile = errors.New("multipart file field missing")
)

// VoicesResponse lists stored voice ids.
type VoicesResponse struct {
	Success bool     `json:"success"`
	Voices  []string `json:"voices"`
}

// UploadResponse acknowledges a stored voice.
type UploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	VoiceID string `json:"voiceId"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GenerateResponse points the client at the produced artifact.
type GenerateResponse struct {
	Success    bool   `json:"success"`
	AudioURL   string `json:"audioUrl"`
	ArtifactID string `json:"artifactId"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the completion text.
type ChatResponse struct {
	Success     bool   `json:"success"`
	LLMResponse string `json:"llmResponse"`
}

// AudioURL returns the fetch URL for an artifact id.
func AudioURL(artifactID string) string {
	return audioRoute + "?" + queryID + "=" + url.QueryEscape(artifactID)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
}

func (h *Handlers) listVoices(c *gin.Context) {
	refs, err := h.voices.List()
	if err != nil {
		h.respondError(c, err)

		return
	}

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}

	c.JSON(http.StatusOK, VoicesResponse{Success: true, Voices: ids})
}

func (h *Handlers) uploadVoice(c *gin.Context) {
	filename, data, err := h.readFormFile(c, opUpload, formFieldVoiceSample)
	if err != nil {
		h.respondFormFileError(c, err, msgNoFileUploaded)

		return
	}

	ref, err := h.voices.Upload(filename, data)
	if err != nil {
		h.respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, UploadResponse{Success: true, Message: msgVoiceSaved, VoiceID: ref.ID})
}

// readFormFile reads one multipart file field under the upload limit.
func (h *Handlers) readFormFile(c *gin.Context, op, field string) (string, []byte, error) {
	if c.Request.ContentLength > h.maxUploadBytes {
		return "", nil, errUploadTooLarge
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, errUploadTooLarge
		}

		return "", nil, fmt.Errorf("%w: %w", errMissingFormFile, err)
	}

	file, err := header.Open()
	if err != nil {
		return "", nil, core.Wrap(core.KindIO, op, "failed to open uploaded file", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, core.Wrap(core.KindIO, op, "failed to read uploaded file", err)
	}

	return header.Filename, data, nil
}

func (h *Handlers) respondFormFileError(c *gin.Context, err error, missingMsg string) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		h.respondTooLarge(c)
	case errors.Is(err, errMissingFormFile):
		respondBadRequest(c, missingMsg)
	default:
		h.respondError(c, err)
	}
}

func (h *Handlers) deleteVoice(c *gin.Context) {
	err := h.voices.Delete(c.Param("id"))
	if err != nil {
		h.respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: msgVoiceDeleted})
}

func (h *Handlers) generateAudio(c *gin.Context) {
	var req core.SynthesisRequest

	err := c.ShouldBindJSON(&req)
	if err != nil || req.VoiceID == "" || req.Text == "" {
		respondBadRequest(c, msgMissingVoiceOrText)

		return
	}

	artifact, err := h.synthesizer.Synthesize(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)

		return
	}

	h.log.Info(logFmtSynthesized, artifact.ID, req.VoiceID)

	c.JSON(http.StatusOK, GenerateResponse{
		Success:    true,
		AudioURL:   AudioURL(artifact.ID),
		ArtifactID: artifact.ID,
	})
}

// generateFromSample clones a voice from a sample that arrives with the
// request. The sample is used for this synthesis only and never stored.
func (h *Handlers) generateFromSample(c *gin.Context) {
	filename, data, err := h.readFormFile(c, opGenerate, formFieldSampleFile)
	if err != nil {
		h.respondFormFileError(c, err, msgMissingFileOrText)

		return
	}

	text := c.PostForm(formFieldText)
	if text == "" {
		respondBadRequest(c, msgMissingFileOrText)

		return
	}

	artifact, err := h.samples.SynthesizeSample(c.Request.Context(), core.SampleRequest{
		Filename:      filename,
		Sample:        data,
		ReferenceText: c.PostForm(formFieldReferenceText),
		Text:          text,
	})
	if err != nil {
		h.respondError(c, err)

		return
	}

	h.log.Info(logFmtSynthesizedFresh, artifact.ID, filename)

	c.JSON(http.StatusOK, GenerateResponse{
		Success:    true,
		AudioURL:   AudioURL(artifact.ID),
		ArtifactID: artifact.ID,
	})
}

func (h *Handlers) getAudio(c *gin.Context) {
	ref := c.Query(queryID)
	if ref == "" {
		ref = c.Query(queryLegacyPath)
	}

	if strings.TrimSpace(ref) == "" {
		respondBadRequest(c, msgMissingAudioRef)

		return
	}

	audio, err := h.audio.Fetch(ref)
	if err != nil {
		h.respondError(c, err)

		return
	}

	c.DataFromReader(http.StatusOK, audio.ContentLength, audio.ContentType, bytes.NewReader(audio.Data),
		map[string]string{
			"Content-Disposition": mime.FormatMediaType("inline", map[string]string{"filename": audio.Name}),
		})
}

func (h *Handlers) chat(c *gin.Context) {
	var req ChatRequest

	err := c.ShouldBindJSON(&req)
	if err != nil || strings.TrimSpace(req.Message) == "" {
		respondBadRequest(c, msgMissingMessage)

		return
	}

	reply, err := h.completer.Complete(c.Request.Context(), req.Message)
	if err != nil {
		h.respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, ChatResponse{Success: true, LLMResponse: reply})
}

func (h *Handlers) respondTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
		Success: false,
		Error:   fmt.Sprintf(msgUploadTooLarge, h.maxUploadBytes),
		Kind:    string(core.KindInvalidInput),
	})
}
