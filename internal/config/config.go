// Package config provides the configuration structure for the voiceclone-service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Defaults matching the reference F5-TTS deployment.
const (
	defaultListenAddr        = ":8080"
	defaultMaxUploadBytes    = 20 << 20
	defaultShutdownTimeout   = 10
	defaultLogsDir           = "logs"
	defaultVoicesDir         = "voices"
	defaultScratchDir        = "tmp"
	defaultEngineBinary      = "f5-tts_infer-cli"
	defaultRefAudioFlag      = "--ref_audio"
	defaultRefTextFlag       = "--ref_text"
	defaultGenTextFlag       = "--gen_text"
	defaultOutputFlag        = "--output_file"
	defaultNFEStep           = 16
	defaultSwaySamplingCoef  = 0.5
	defaultEngineTimeout     = 300
	defaultMaxConcurrent     = 1
	defaultMaxTextRunes      = 5000
	defaultOutputExtension   = ".wav"
	defaultRetentionMinutes  = 60
	defaultSweepInterval     = 300
	defaultChatBaseURL       = "https://api.groq.com/openai/v1"
	defaultChatModel         = "llama3-8b-8192"
	defaultChatFallback      = "I am speechless."
	defaultChatTimeout       = 60
	defaultNATSURL           = "nats://127.0.0.1:4222"
	defaultSynthesisSubject  = "voice.synthesis.requested"
	defaultTextBucket        = "VOICE_TEXT"
	defaultAudioBucket       = "VOICE_AUDIO"
	errFmtInvalidConfigValue = "%w: got %v"
)

// Validation errors.
var (
	ErrEngineBinaryEmpty     = errors.New("engine binary path cannot be empty")
	ErrGenTextFlagEmpty      = errors.New("engine gen_text flag cannot be empty")
	ErrTimeoutNotPositive    = errors.New("engine timeout_seconds must be positive")
	ErrMaxConcurrentRange    = errors.New("engine max_concurrent must be at least 1")
	ErrNFEStepRange          = errors.New("engine nfe_step must be positive")
	ErrOutputExtension       = errors.New("engine output_extension must start with '.'")
	ErrSameRoots             = errors.New("voices_dir and scratch_dir must differ")
	ErrNoAllowedExtensions   = errors.New("voices allowed_extensions cannot be empty")
	ErrChatModelEmpty        = errors.New("chat model cannot be empty when chat is enabled")
	ErrSynthesisSubjectEmpty = errors.New("nats synthesis_subject cannot be empty when nats is enabled")
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	ListenAddr             string   `toml:"listen_addr"              env:"VOICECLONE_LISTEN_ADDR"`
	CORSOrigins            []string `toml:"cors_origins"             env:"VOICECLONE_CORS_ORIGINS"`
	MaxUploadBytes         int64    `toml:"max_upload_bytes"         env:"VOICECLONE_MAX_UPLOAD_BYTES"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir" env:"VOICECLONE_LOGS_DIR"`
	VoicesDir   string `toml:"voices_dir"    env:"VOICECLONE_VOICES_DIR"`
	ScratchDir  string `toml:"scratch_dir"   env:"VOICECLONE_SCRATCH_DIR"`
}

// EngineConfig describes how the external synthesis engine is invoked.
// The quality parameters are fixed here and never taken from requests.
type EngineConfig struct {
	BinaryPath       string   `toml:"binary_path"        env:"VOICECLONE_ENGINE_BINARY"`
	WorkingDir       string   `toml:"working_dir"        env:"VOICECLONE_ENGINE_WORKDIR"`
	RefAudioFlag     string   `toml:"ref_audio_flag"`
	RefTextFlag      string   `toml:"ref_text_flag"`
	GenTextFlag      string   `toml:"gen_text_flag"`
	OutputFlag       string   `toml:"output_flag"`
	OutputToStdout   bool     `toml:"output_to_stdout"`
	NFEStep          *int     `toml:"nfe_step"`
	SwaySamplingCoef *float64 `toml:"sway_sampling_coef"`
	ExtraArgs        []string `toml:"extra_args"`
	TimeoutSeconds   int      `toml:"timeout_seconds"    env:"VOICECLONE_ENGINE_TIMEOUT"`
	MaxConcurrent    int      `toml:"max_concurrent"     env:"VOICECLONE_ENGINE_MAX_CONCURRENT"`
	MaxTextRunes     int      `toml:"max_text_runes"`
	OutputExtension  string   `toml:"output_extension"`
}

// VoicesConfig controls what the voice store accepts.
type VoicesConfig struct {
	AllowedExtensions []string `toml:"allowed_extensions"`
	VerifyContent     bool     `toml:"verify_content"`
}

// ArtifactsConfig controls scratch-directory retention.
type ArtifactsConfig struct {
	RetentionMinutes     int `toml:"retention_minutes"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// ChatConfig configures the OpenAI-compatible text-completion collaborator.
type ChatConfig struct {
	Enabled        bool   `toml:"enabled"         env:"VOICECLONE_CHAT_ENABLED"`
	BaseURL        string `toml:"base_url"        env:"VOICECLONE_CHAT_BASE_URL"`
	APIKey         string `toml:"api_key"         env:"GROQ_API_KEY"`
	Model          string `toml:"model"           env:"VOICECLONE_CHAT_MODEL"`
	FallbackReply  string `toml:"fallback_reply"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled          bool   `toml:"enabled"           env:"VOICECLONE_NATS_ENABLED"`
	URL              string `toml:"url"               env:"VOICECLONE_NATS_URL"`
	SynthesisSubject string `toml:"synthesis_subject"`
	TextBucket       string `toml:"text_bucket"`
	AudioBucket      string `toml:"audio_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Paths     PathsConfig     `toml:"paths"`
	Engine    EngineConfig    `toml:"engine"`
	Voices    VoicesConfig    `toml:"voices"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Chat      ChatConfig      `toml:"chat"`
	NATS      NATSConfig      `toml:"nats"`
}

// Load loads the configuration for the voiceclone-service through the central
// configurator, then applies environment overrides, defaults and validation.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// Parse builds a Config from raw TOML, running the same pipeline as Load.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.applyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// EngineTimeout returns the wall-clock bound for one engine invocation.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long the HTTP server may drain on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Retention returns how long artifacts are kept before the janitor removes them.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Artifacts.RetentionMinutes) * time.Minute
}

// SweepInterval returns the janitor period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Artifacts.SweepIntervalSeconds) * time.Second
}

// ChatTimeout returns the per-request bound for the completion call.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.Chat.TimeoutSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	setString(&c.Server.ListenAddr, defaultListenAddr)
	setInt64(&c.Server.MaxUploadBytes, defaultMaxUploadBytes)
	setInt(&c.Server.ShutdownTimeoutSeconds, defaultShutdownTimeout)

	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	setString(&c.Paths.BaseLogsDir, defaultLogsDir)
	setString(&c.Paths.VoicesDir, defaultVoicesDir)
	setString(&c.Paths.ScratchDir, defaultScratchDir)

	setString(&c.Engine.BinaryPath, defaultEngineBinary)
	setString(&c.Engine.RefAudioFlag, defaultRefAudioFlag)
	setString(&c.Engine.RefTextFlag, defaultRefTextFlag)
	setString(&c.Engine.GenTextFlag, defaultGenTextFlag)
	setString(&c.Engine.OutputFlag, defaultOutputFlag)
	setIntPtr(&c.Engine.NFEStep, defaultNFEStep)
	setInt(&c.Engine.TimeoutSeconds, defaultEngineTimeout)
	setInt(&c.Engine.MaxConcurrent, defaultMaxConcurrent)
	setInt(&c.Engine.MaxTextRunes, defaultMaxTextRunes)
	setString(&c.Engine.OutputExtension, defaultOutputExtension)

	if c.Engine.SwaySamplingCoef == nil {
		coef := defaultSwaySamplingCoef
		c.Engine.SwaySamplingCoef = &coef
	}

	if len(c.Voices.AllowedExtensions) == 0 {
		c.Voices.AllowedExtensions = []string{".wav", ".mp3"}
	}

	setInt(&c.Artifacts.RetentionMinutes, defaultRetentionMinutes)
	setInt(&c.Artifacts.SweepIntervalSeconds, defaultSweepInterval)

	setString(&c.Chat.BaseURL, defaultChatBaseURL)
	setString(&c.Chat.Model, defaultChatModel)
	setString(&c.Chat.FallbackReply, defaultChatFallback)
	setInt(&c.Chat.TimeoutSeconds, defaultChatTimeout)

	setString(&c.NATS.URL, defaultNATSURL)
	setString(&c.NATS.SynthesisSubject, defaultSynthesisSubject)
	setString(&c.NATS.TextBucket, defaultTextBucket)
	setString(&c.NATS.AudioBucket, defaultAudioBucket)
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.BinaryPath) == "" {
		return ErrEngineBinaryEmpty
	}

	if c.Engine.GenTextFlag == "" {
		return ErrGenTextFlagEmpty
	}

	if c.Engine.TimeoutSeconds <= 0 {
		return fmt.Errorf(errFmtInvalidConfigValue, ErrTimeoutNotPositive, c.Engine.TimeoutSeconds)
	}

	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf(errFmtInvalidConfigValue, ErrMaxConcurrentRange, c.Engine.MaxConcurrent)
	}

	if c.Engine.NFEStep == nil {
		return ErrNFEStepRange
	}

	if *c.Engine.NFEStep <= 0 {
		return fmt.Errorf(errFmtInvalidConfigValue, ErrNFEStepRange, *c.Engine.NFEStep)
	}

	if !strings.HasPrefix(c.Engine.OutputExtension, ".") {
		return fmt.Errorf(errFmtInvalidConfigValue, ErrOutputExtension, c.Engine.OutputExtension)
	}

	if len(c.Voices.AllowedExtensions) == 0 {
		return ErrNoAllowedExtensions
	}

	if c.Paths.VoicesDir == c.Paths.ScratchDir {
		return fmt.Errorf(errFmtInvalidConfigValue, ErrSameRoots, c.Paths.VoicesDir)
	}

	if c.Chat.Enabled && c.Chat.Model == "" {
		return ErrChatModelEmpty
	}

	if c.NATS.Enabled && c.NATS.SynthesisSubject == "" {
		return ErrSynthesisSubjectEmpty
	}

	return nil
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

// setIntPtr fills a field only when the TOML left it out, so an explicit
// zero reaches validation instead of being replaced by the default.
func setIntPtr(field **int, value int) {
	if *field == nil {
		*field = &value
	}
}

func setInt64(field *int64, value int64) {
	if *field == 0 {
		*field = value
	}
}
