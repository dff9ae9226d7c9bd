package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kotoba-labs/kaiwa/internal/config"
	"github.com/kotoba-labs/kaiwa/internal/httpapi"
	"github.com/kotoba-labs/kaiwa/internal/imagegen"
	"github.com/kotoba-labs/kaiwa/internal/llm"
	"github.com/kotoba-labs/kaiwa/internal/memory"
	"github.com/kotoba-labs/kaiwa/internal/observability"
	"github.com/kotoba-labs/kaiwa/internal/session"
	"github.com/kotoba-labs/kaiwa/internal/voice"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.MemoryDir)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer store.Close()

	var provider llm.Provider
	if cfg.OpenAIAPIKey != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		})
		if err != nil {
			log.Fatalf("openai provider init failed: %v", err)
		}
		provider = p
		log.Printf("llm provider: openai (%s)", cfg.OpenAIModel)
	} else {
		provider = llm.NewMockProvider()
		log.Printf("llm provider: mock (OPENAI_API_KEY not set)")
	}

	var stt voice.STTProvider
	if cfg.DeepgramAPIKey != "" {
		stt = voice.NewDeepgramSTT(cfg.DeepgramAPIKey, cfg.STTLanguage)
		log.Printf("stt provider: deepgram (%s)", cfg.STTLanguage)
	} else {
		stt = voice.NewMockProvider()
		log.Printf("stt provider: mock (DEEPGRAM_API_KEY not set)")
	}

	var tts voice.TTSProvider
	if cfg.ElevenLabsAPIKey != "" {
		tts = voice.NewElevenLabsTTS(voice.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.ElevenLabsVoiceID,
		})
		log.Printf("tts provider: elevenlabs")
	} else {
		tts = voice.NewMockProvider()
		log.Printf("tts provider: mock (ELEVENLABS_API_KEY not set)")
	}

	var images imagegen.Generator
	if cfg.FalAPIKey != "" {
		images = imagegen.NewFalGenerator(imagegen.FalConfig{APIKey: cfg.FalAPIKey})
		log.Printf("image provider: fal")
	} else {
		images = imagegen.NewMockGenerator()
		log.Printf("image provider: mock (FAL_KEY not set)")
	}

	sessions := session.NewManager(session.Deps{
		Store:             store,
		LLM:               provider,
		TTS:               tts,
		STT:               stt,
		Images:            images,
		Metrics:           metrics,
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
	})

	api := httpapi.New(cfg, sessions, store, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	sessions.CloseAll(cfg.ShutdownTimeout / 2)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
