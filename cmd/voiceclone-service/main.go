// main package for the voiceclone-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/artifacts"
	"github.com/book-expert/voiceclone-service/internal/chat"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/delivery"
	"github.com/book-expert/voiceclone-service/internal/httpapi"
	"github.com/book-expert/voiceclone-service/internal/objectstore"
	"github.com/book-expert/voiceclone-service/internal/tts"
	"github.com/book-expert/voiceclone-service/internal/voices"
	"github.com/book-expert/voiceclone-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogFile  = "voiceclone-service-bootstrap.log"
	serviceLogFile    = "voiceclone-service.log"
	readHeaderTimeout = 10 * time.Second
	jobTimeoutSlack   = time.Minute
)

// Log formats.
const (
	logFmtListening       = "Voice-clone service listening on %s (voices: %s, scratch: %s)"
	logFmtWorkerStarted   = "NATS worker listening for jobs on subject: %s"
	logFmtShuttingDown    = "Shutting down: %v"
	logChatDisabled       = "Chat endpoint disabled"
	logFmtChatEnabled     = "Chat endpoint enabled with model %s"
	logFmtJanitorStarted  = "Artifact janitor running every %s (retention %s)"
	logFmtAbortedShutdown = "Shutdown after failed startup reported: %v"
	logFmtWorkerFailed    = "Failed to start NATS worker: %v"
)

type services struct {
	voices    *voices.Store
	artifacts *artifacts.Store
	tts       *tts.Orchestrator
	router    *gin.Engine
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	svc, err := buildServices(cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to initialize services: %v", err)

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	serveHTTP(groupCtx, group, cfg, svc, finalLog)

	finalLog.Info(logFmtJanitorStarted, cfg.SweepInterval(), cfg.Retention())
	group.Go(func() error {
		return svc.artifacts.RunJanitor(groupCtx, cfg.SweepInterval(), cfg.Retention())
	})

	if cfg.NATS.Enabled {
		err = startWorker(groupCtx, group, cfg, svc, finalLog)
		if err != nil {
			return abandonStartup(stop, group.Wait, finalLog, err)
		}
	}

	err = group.Wait()
	if err != nil {
		finalLog.Error("Service stopped with error: %v", err)

		return err
	}

	finalLog.System("Service stopped cleanly.")

	return nil
}

// abandonStartup stops everything already running after a failed startup step
// and waits for it. A shutdown error is logged, the startup error is returned.
func abandonStartup(stop context.CancelFunc, wait func() error, log *logger.Logger, startErr error) error {
	stop()

	waitErr := wait()
	if waitErr != nil {
		log.Warn(logFmtAbortedShutdown, waitErr)
	}

	log.Error(logFmtWorkerFailed, startErr)

	return startErr
}

func buildServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	voiceStore, err := voices.New(cfg.Paths.VoicesDir, voices.Options{
		AllowedExtensions: cfg.Voices.AllowedExtensions,
		VerifyContent:     cfg.Voices.VerifyContent,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice store: %w", err)
	}

	artifactStore, err := artifacts.New(cfg.Paths.ScratchDir, cfg.Engine.OutputExtension, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	orchestrator, err := tts.New(engineConfig(cfg), voiceStore, artifactStore, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis orchestrator: %w", err)
	}

	var completer core.Completer

	if cfg.Chat.Enabled {
		chatClient, chatErr := chat.New(chat.Config{
			BaseURL:       cfg.Chat.BaseURL,
			APIKey:        cfg.Chat.APIKey,
			Model:         cfg.Chat.Model,
			FallbackReply: cfg.Chat.FallbackReply,
			Timeout:       cfg.ChatTimeout(),
		}, log)
		if chatErr != nil {
			return nil, fmt.Errorf("failed to create chat client: %w", chatErr)
		}

		completer = chatClient

		log.Info(logFmtChatEnabled, cfg.Chat.Model)
	} else {
		log.Info(logChatDisabled)
	}

	gin.SetMode(gin.ReleaseMode)

	router, err := httpapi.New(httpapi.Options{
		Voices:         voiceStore,
		Synthesizer:    orchestrator,
		Samples:        orchestrator,
		Audio:          delivery.New(artifactStore),
		Completer:      completer,
		Logger:         log,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &services{
		voices:    voiceStore,
		artifacts: artifactStore,
		tts:       orchestrator,
		router:    router,
	}, nil
}

func engineConfig(cfg *config.Config) tts.Config {
	nfeStep := 0
	if cfg.Engine.NFEStep != nil {
		nfeStep = *cfg.Engine.NFEStep
	}

	return tts.Config{
		BinaryPath:       cfg.Engine.BinaryPath,
		WorkingDir:       cfg.Engine.WorkingDir,
		RefAudioFlag:     cfg.Engine.RefAudioFlag,
		RefTextFlag:      cfg.Engine.RefTextFlag,
		GenTextFlag:      cfg.Engine.GenTextFlag,
		OutputFlag:       cfg.Engine.OutputFlag,
		OutputToStdout:   cfg.Engine.OutputToStdout,
		NFEStep:          nfeStep,
		SwaySamplingCoef: cfg.Engine.SwaySamplingCoef,
		ExtraArgs:        cfg.Engine.ExtraArgs,
		Timeout:          cfg.EngineTimeout(),
		MaxConcurrent:    cfg.Engine.MaxConcurrent,
		MaxTextRunes:     cfg.Engine.MaxTextRunes,
	}
}

func serveHTTP(ctx context.Context, group *errgroup.Group, cfg *config.Config, svc *services, log *logger.Logger) {
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           svc.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group.Go(func() error {
		log.System(logFmtListening, cfg.Server.ListenAddr, svc.voices.Root(), svc.artifacts.Root())

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		log.System(logFmtShuttingDown, context.Cause(ctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}

		return nil
	})
}

func startWorker(ctx context.Context, group *errgroup.Group, cfg *config.Config, svc *services, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	textStore, err := objectstore.New(jetstreamContext, cfg.NATS.TextBucket)
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("failed to open text bucket: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("failed to open audio bucket: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(cfg.NATS.SynthesisSubject, cfg.EngineTimeout()+jobTimeoutSlack, worker.Dependencies{
		Connection:  natsConnection,
		TextStore:   textStore,
		AudioStore:  audioStore,
		Synthesizer: svc.tts,
		Artifacts:   svc.artifacts,
		Logger:      log,
	})
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("failed to create NATS worker: %w", err)
	}

	log.System(logFmtWorkerStarted, cfg.NATS.SynthesisSubject)

	group.Go(func() error {
		defer natsConnection.Close()

		return natsWorker.Run(ctx)
	})

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
