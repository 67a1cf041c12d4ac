// Package client is the Go client for the voice-clone HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// API endpoints and paths.
const (
	apiHealth        = "/healthz"
	apiVoices        = "/api/voices"
	apiGenerateAudio = "/api/generate-audio"
	apiGenerate      = "/api/generate"
	apiChat          = "/api/chat"
	formFieldVoice   = "voiceSample"
	formFieldSample  = "file"
	formFieldText    = "text"
	formFieldRefText = "reference_text"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errTextCannotBeEmpty     = "text cannot be empty"
	errVoiceCannotBeEmpty    = "voice id cannot be empty"
	errReceivedEmptyAudio    = "received empty audio data"
	errFmtServiceNonOKStatus = "service returned %s"
	errFmtRequestFailed      = "request to %s failed: %w"
)

// ErrUnsuccessful is returned when a 2xx response carries success=false.
var ErrUnsuccessful = errors.New("service reported an unsuccessful response")

// Client talks to a running voiceclone-service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// GenerateResult is the outcome of a synthesis request.
type GenerateResult struct {
	AudioURL   string `json:"audioUrl"`
	ArtifactID string `json:"artifactId"`
}

type envelope struct {
	Success     bool     `json:"success"`
	Error       string   `json:"error"`
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	VoiceID     string   `json:"voiceId"`
	Voices      []string `json:"voices"`
	AudioURL    string   `json:"audioUrl"`
	ArtifactID  string   `json:"artifactId"`
	LLMResponse string   `json:"llmResponse"`
}

// New creates a Client. baseURL includes the scheme and port, e.g.
// "http://localhost:8080". The timeout bounds every request.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies that the service is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.doJSON(ctx, "client.health", http.MethodGet, apiHealth, nil)

	return err
}

// ListVoices returns the ids of all stored voices.
func (c *Client) ListVoices(ctx context.Context) ([]string, error) {
	body, err := c.doJSON(ctx, "client.list_voices", http.MethodGet, apiVoices, nil)
	if err != nil {
		return nil, err
	}

	if body.Voices == nil {
		return []string{}, nil
	}

	return body.Voices, nil
}

// UploadVoice stores a voice sample under filename and returns the id the
// server assigned after sanitization.
func (c *Client) UploadVoice(ctx context.Context, filename string, sample io.Reader) (string, error) {
	body, err := c.postMultipart(ctx, "client.upload_voice", apiVoices, formFieldVoice, filename, sample, nil)
	if err != nil {
		return "", err
	}

	return body.VoiceID, nil
}

// SynthesizeFromSample speaks text in the voice of a sample that is sent
// along with the request and not stored by the service. referenceText is
// the sample's transcript; leave it empty to let the engine transcribe it.
func (c *Client) SynthesizeFromSample(
	ctx context.Context, filename string, sample io.Reader, referenceText, text string,
) (GenerateResult, error) {
	if text == "" {
		return GenerateResult{}, errors.New(errTextCannotBeEmpty)
	}

	fields := map[string]string{formFieldText: text}
	if referenceText != "" {
		fields[formFieldRefText] = referenceText
	}

	body, err := c.postMultipart(ctx, "client.synthesize_sample", apiGenerate, formFieldSample, filename, sample, fields)
	if err != nil {
		return GenerateResult{}, err
	}

	return GenerateResult{AudioURL: body.AudioURL, ArtifactID: body.ArtifactID}, nil
}

func (c *Client) postMultipart(
	ctx context.Context, op, path, fileField, filename string, file io.Reader, fields map[string]string,
) (*envelope, error) {
	var payload bytes.Buffer

	writer := multipart.NewWriter(&payload)

	part, err := writer.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, fmt.Errorf("failed to copy voice sample: %w", err)
	}

	for name, value := range fields {
		err = writer.WriteField(name, value)
		if err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, writer.FormDataContentType())
	req.Header.Set(headerAccept, contentTypeJSON)

	return c.send(req, op)
}

// DeleteVoice removes a stored voice.
func (c *Client) DeleteVoice(ctx context.Context, voiceID string) error {
	if voiceID == "" {
		return errors.New(errVoiceCannotBeEmpty)
	}

	_, err := c.doJSON(ctx, "client.delete_voice", http.MethodDelete, apiVoices+"/"+url.PathEscape(voiceID), nil)

	return err
}

// Synthesize asks the service to speak text in the given voice.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string) (GenerateResult, error) {
	if voiceID == "" {
		return GenerateResult{}, errors.New(errVoiceCannotBeEmpty)
	}

	if text == "" {
		return GenerateResult{}, errors.New(errTextCannotBeEmpty)
	}

	body, err := c.doJSON(ctx, "client.synthesize", http.MethodPost, apiGenerateAudio,
		core.SynthesisRequest{VoiceID: voiceID, Text: text})
	if err != nil {
		return GenerateResult{}, err
	}

	return GenerateResult{AudioURL: body.AudioURL, ArtifactID: body.ArtifactID}, nil
}

// FetchAudio downloads the audio behind an audioUrl returned by Synthesize.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	target := audioURL
	if strings.HasPrefix(audioURL, "/") {
		target = c.baseURL + audioURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestFailed, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp, "client.fetch_audio")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(data) == 0 {
		return nil, errors.New(errReceivedEmptyAudio)
	}

	return data, nil
}

// Chat sends message to the completion endpoint and returns the reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	body, err := c.doJSON(ctx, "client.chat", http.MethodPost, apiChat, map[string]string{"message": message})
	if err != nil {
		return "", err
	}

	return body.LLMResponse, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload any) (*envelope, error) {
	var reader io.Reader = http.NoBody

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	return c.send(req, op)
}

func (c *Client) send(req *http.Request, op string) (*envelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestFailed, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseErrorResponse(resp, op)
	}

	var body envelope

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !body.Success {
		return nil, fmt.Errorf("%w: %s", ErrUnsuccessful, body.Error)
	}

	return &body, nil
}

// parseErrorResponse decodes the service's error envelope into a *core.Error
// carrying the server-side kind. Non-JSON bodies are kept verbatim.
func parseErrorResponse(resp *http.Response, op string) error {
	raw, _ := io.ReadAll(resp.Body)
	statusErr := fmt.Errorf(errFmtServiceNonOKStatus, resp.Status)

	var body envelope

	err := json.Unmarshal(raw, &body)
	if err == nil && body.Error != "" {
		return &core.Error{
			Kind:    core.Kind(body.Kind),
			Op:      op,
			Message: body.Error,
			Cause:   statusErr,
		}
	}

	return &core.Error{
		Kind:    kindForStatus(resp.StatusCode),
		Op:      op,
		Message: strings.TrimSpace(string(raw)),
		Cause:   statusErr,
	}
}

func kindForStatus(status int) core.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return core.KindInvalidInput
	case http.StatusForbidden:
		return core.KindForbidden
	case http.StatusNotFound:
		return core.KindNotFound
	case http.StatusServiceUnavailable:
		return core.KindStoreUnavailable
	default:
		return core.KindIO
	}
}
