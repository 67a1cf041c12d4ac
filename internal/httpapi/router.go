// Package httpapi exposes the voice-clone service over HTTP.
package httpapi

import (
	"errors"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/delivery"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	defaultMaxUploadBytes = 20 << 20
	corsMaxAge            = 12 * time.Hour
	logFmtRequest         = "[HTTP] %s %s -> %d (%s)"
)

// Static errors.
var (
	ErrMissingDependency = errors.New("voices, synthesizer and audio fetcher are required")
	ErrMissingLogger     = errors.New("http router requires a logger")
)

// AudioFetcher resolves client references to generated audio.
type AudioFetcher interface {
	Fetch(ref string) (*delivery.Audio, error)
}

// Options configures the router.
type Options struct {
	Voices         core.VoiceStore
	Synthesizer    core.Synthesizer
	Samples        core.SampleSynthesizer
	Audio          AudioFetcher
	Completer      core.Completer
	Logger         *logger.Logger
	CORSOrigins    []string
	MaxUploadBytes int64
}

// Handlers holds the request handlers and their collaborators.
type Handlers struct {
	voices         core.VoiceStore
	synthesizer    core.Synthesizer
	samples        core.SampleSynthesizer
	audio          AudioFetcher
	completer      core.Completer
	log            *logger.Logger
	maxUploadBytes int64
}

// New builds the gin engine with recovery, access logging, CORS and every route.
// The one-shot generate route needs Samples and the chat route needs a
// Completer; each is only registered when supplied.
func New(opts Options) (*gin.Engine, error) {
	if opts.Voices == nil || opts.Synthesizer == nil || opts.Audio == nil {
		return nil, ErrMissingDependency
	}

	if opts.Logger == nil {
		return nil, ErrMissingLogger
	}

	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	handlers := &Handlers{
		voices:         opts.Voices,
		synthesizer:    opts.Synthesizer,
		samples:        opts.Samples,
		audio:          opts.Audio,
		completer:      opts.Completer,
		log:            opts.Logger,
		maxUploadBytes: opts.MaxUploadBytes,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(cors.New(corsConfig(opts.CORSOrigins)))

	engine.GET("/healthz", handlers.health)

	api := engine.Group("/api")
	api.GET("/voices", handlers.listVoices)
	api.POST("/voices", handlers.uploadVoice)
	api.DELETE("/voices/:id", handlers.deleteVoice)
	api.POST("/generate-audio", handlers.generateAudio)
	api.GET("/audio", handlers.getAudio)

	if opts.Samples != nil {
		api.POST("/generate", handlers.generateFromSample)
	}

	if opts.Completer != nil {
		api.POST("/chat", handlers.chat)
	}

	return engine, nil
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        corsMaxAge,
	}

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}

	return config
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info(logFmtRequest, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
