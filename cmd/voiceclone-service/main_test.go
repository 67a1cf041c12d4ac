package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()

	root := t.TempDir()
	raw := fmt.Sprintf(`
[paths]
base_logs_dir = %q
voices_dir = %q
scratch_dir = %q

[engine]
binary_path = "/usr/bin/f5-tts_infer-cli"
nfe_step = 16
sway_sampling_coef = -0.5
extra_args = ["--remove_silence"]
timeout_seconds = 90
max_concurrent = 2
%s
`, filepath.Join(root, "logs"), filepath.Join(root, "voices"), filepath.Join(root, "scratch"), extra)

	cfg, err := config.Parse([]byte(raw))
	require.NoError(t, err)

	return cfg
}

func TestEngineConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	engine := engineConfig(cfg)

	assert.Equal(t, "/usr/bin/f5-tts_infer-cli", engine.BinaryPath)
	assert.Equal(t, cfg.Engine.GenTextFlag, engine.GenTextFlag)
	assert.Equal(t, cfg.Engine.OutputFlag, engine.OutputFlag)
	assert.Equal(t, 16, engine.NFEStep)
	require.NotNil(t, engine.SwaySamplingCoef)
	assert.InDelta(t, -0.5, *engine.SwaySamplingCoef, 1e-9)
	assert.Equal(t, []string{"--remove_silence"}, engine.ExtraArgs)
	assert.Equal(t, 90*time.Second, engine.Timeout)
	assert.Equal(t, 2, engine.MaxConcurrent)
}

// buildServices switches gin into release mode, so these cases run serially.
func TestBuildServices(t *testing.T) {
	log, err := logger.New(t.TempDir(), "service-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	t.Run("chat disabled", func(t *testing.T) {
		cfg := testConfig(t, "")

		svc, err := buildServices(cfg, log)
		require.NoError(t, err)

		assert.Equal(t, cfg.Paths.VoicesDir, svc.voices.Root())
		assert.Equal(t, cfg.Paths.ScratchDir, svc.artifacts.Root())
		assert.Equal(t, 90*time.Second, svc.tts.GetConfig().Timeout)

		recorder := httptest.NewRecorder()
		svc.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, recorder.Code)

		recorder = httptest.NewRecorder()
		svc.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})

	t.Run("chat enabled", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.Chat.Enabled = true
		cfg.Chat.Model = "llama3-8b-8192"
		cfg.Chat.BaseURL = "http://127.0.0.1:1/v1"

		svc, err := buildServices(cfg, log)
		require.NoError(t, err)

		recorder := httptest.NewRecorder()
		svc.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
		assert.NotEqual(t, http.StatusNotFound, recorder.Code)
	})
}

func TestAbandonStartup(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()

	log, err := logger.New(logDir, "abandon-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	startErr := errors.New("nats unreachable")
	stopped := false

	err = abandonStartup(
		func() { stopped = true },
		func() error {
			assert.True(t, stopped, "wait runs after cancellation")

			return errors.New("http server shutdown failed: deadline exceeded")
		},
		log,
		startErr,
	)
	require.ErrorIs(t, err, startErr)

	content, err := os.ReadFile(filepath.Join(logDir, "abandon-test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Shutdown after failed startup reported: http server shutdown failed: deadline exceeded")
	assert.Contains(t, string(content), "Failed to start NATS worker: nats unreachable")
}

func TestAbandonStartup_CleanShutdown(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()

	log, err := logger.New(logDir, "abandon-clean.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	startErr := errors.New("bucket missing")

	err = abandonStartup(func() {}, func() error { return nil }, log, startErr)
	require.ErrorIs(t, err, startErr)

	content, err := os.ReadFile(filepath.Join(logDir, "abandon-clean.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "Shutdown after failed startup")
}
