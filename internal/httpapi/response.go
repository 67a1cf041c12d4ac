package httpapi

import (
	"errors"
	"net/http"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/gin-gonic/gin"
)

const (
	msgInternalError   = "Server error"
	msgSynthesisFailed = "Speech synthesis failed"
)

const logFmtRequestFailed = "%s %s failed: %v"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind core.Kind) int {
	switch kind {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindUnknownVoice, core.KindNotFound:
		return http.StatusNotFound
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case core.KindSynthesisFailed, core.KindIO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage is what a client may see for err. Engine diagnostics and
// internal causes stay in the log.
func clientMessage(err error) string {
	kind := core.KindOf(err)

	switch kind {
	case core.KindSynthesisFailed:
		return msgSynthesisFailed
	case core.KindIO, "":
		return msgInternalError
	}

	var typed *core.Error
	if errors.As(err, &typed) && typed.Message != "" {
		return typed.Message
	}

	return msgInternalError
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	status := StatusFor(kind)

	if status >= http.StatusInternalServerError {
		h.log.Error(logFmtRequestFailed, c.Request.Method, c.Request.URL.Path, err)
	} else {
		h.log.Warn(logFmtRequestFailed, c.Request.Method, c.Request.URL.Path, err)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error:   clientMessage(err),
		Kind:    string(kind),
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Success: false,
		Error:   message,
		Kind:    string(core.KindInvalidInput),
	})
}
