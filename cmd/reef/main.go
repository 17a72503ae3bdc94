package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reeftutor/reef/internal/config"
	"github.com/reeftutor/reef/internal/events"
	"github.com/reeftutor/reef/internal/hrr"
	"github.com/reeftutor/reef/internal/httpapi"
	"github.com/reeftutor/reef/internal/llm"
	"github.com/reeftutor/reef/internal/observability"
	"github.com/reeftutor/reef/internal/pipeline"
	"github.com/reeftutor/reef/internal/promptctx"
	"github.com/reeftutor/reef/internal/reasoning"
	"github.com/reeftutor/reef/internal/session"
	"github.com/reeftutor/reef/internal/store"
	"github.com/reeftutor/reef/internal/stt"
	"github.com/reeftutor/reef/internal/transcribe"
	"github.com/reeftutor/reef/internal/tts"
	"github.com/reeftutor/reef/internal/ttsregistry"
	"github.com/reeftutor/reef/internal/voiceq"
)

const tutorSystemPrompt = `You are a quiet math and science tutor watching a student work on paper in real time. Default to silence: most turns nothing should be said. Speak only when the student is stuck, has made an error worth flagging, or has clearly finished correctly. Keep any spoken feedback to one short sentence.`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	sessions := session.NewManager()
	broker := events.NewBroker()
	ttsReg := ttsregistry.New()
	erases := promptctx.NewEraseSnapshots()
	gate := reasoning.NewGate()
	assembler := promptctx.NewAssembler(st, erases)

	hrrClient := hrr.New(cfg.HRRBaseURL, cfg.HRRAppID, cfg.HRRAppKey, cfg.HRRTimeout, cfg.HRRSessionTTL)
	sttClient := stt.New(cfg.STTBaseURL, cfg.STTAPIKey, cfg.STTTimeout)
	llmModel := cfg.LLMModel
	if cfg.ReasoningModelOverride != "" {
		llmModel = cfg.ReasoningModelOverride
	}
	llmClient := llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, llmModel, cfg.LLMTimeout)
	ttsClient := tts.New(cfg.TTSBaseURL, cfg.TTSAPIKey, cfg.TTSVoice, cfg.TTSTimeout)

	transcribeSched := transcribe.NewScheduler(hrrClient, st, erases, gate)
	reasoningSched := reasoning.NewScheduler(llmClient, st, assembler, broker, ttsReg, sessions, gate, metrics)
	voiceqPipeline := voiceq.NewPipeline(llmClient, st, assembler, broker, ttsReg, sessions, tutorSystemPrompt)

	p := pipeline.New(sessions, st, transcribeSched, reasoningSched, voiceqPipeline, sttClient, broker, erases)

	api := httpapi.New(cfg, p, sessions, st, broker, ttsReg, ttsClient, assembler, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go ttsReg.RunSweeper(runCtx, time.Minute, func(n int) {
		log.Printf("swept %d stale tts handle(s)", n)
	})

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

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
