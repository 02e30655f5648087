package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/agentmemory/memoryd/internal/api"
	"github.com/agentmemory/memoryd/internal/config"
	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/eventbus"
	"github.com/agentmemory/memoryd/internal/graph"
	"github.com/agentmemory/memoryd/internal/lifecycle"
	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/recall"
	"github.com/agentmemory/memoryd/internal/reflection"
	"github.com/agentmemory/memoryd/internal/scheduler"
	"github.com/agentmemory/memoryd/internal/settings"
	"github.com/agentmemory/memoryd/internal/store"
	"github.com/agentmemory/memoryd/internal/usage"
)

func main() {
	configPath := flag.String("config", "configs/memoryd.yaml", "Path to configuration file")
	natsPort := flag.Int("nats-port", 0, "Override embedded NATS port (0 = use config)")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  memoryd - agent memory service")
	log.Println("===============================================")

	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Printf("[MAIN] Warning: failed to load config from %s: %v", *configPath, err)
			log.Println("[MAIN] Using default configuration")
			cfg = config.DefaultConfig()
		} else {
			log.Printf("[MAIN] Loaded configuration from %s", *configPath)
		}
	} else {
		log.Println("[MAIN] Config file not found, using defaults")
		cfg = config.DefaultConfig()
	}

	if *natsPort > 0 {
		cfg.NATS.Port = *natsPort
	}

	log.Printf("[MAIN] NATS port: %d", cfg.NATS.Port)
	log.Printf("[MAIN] Embedding mock: %v, model: %s", cfg.Embedding.Mock, cfg.Embedding.Model)

	if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
		log.Fatalf("[MAIN] Failed to create data directory: %v", err)
	}

	st, err := store.Open(filepath.Join(cfg.Store.DataDir, cfg.Store.DBFile))
	if err != nil {
		log.Fatalf("[MAIN] Failed to open store: %v", err)
	}
	defer st.Close()

	var embedder *embedding.Client
	if cfg.Embedding.Mock {
		embedder = embedding.NewMock()
	} else {
		embedder = embedding.NewLive(cfg.Embedding.Endpoint, cfg.Embedding.APIKey)
	}
	if cfg.Embedding.Model != "" {
		embedder = embedder.WithModel(cfg.Embedding.Model)
	}

	log.Println("[MAIN] Store and embedding client initialized")

	natsOpts := &server.Options{
		Port:     cfg.NATS.Port,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}

	natsServer, err := server.NewServer(natsOpts)
	if err != nil {
		log.Fatalf("[MAIN] Failed to create NATS server: %v", err)
	}

	go natsServer.Start()

	if !natsServer.ReadyForConnections(5 * time.Second) {
		log.Fatal("[MAIN] NATS server failed to start in time")
	}
	log.Printf("[MAIN] Embedded NATS server started on port %d", cfg.NATS.Port)

	natsURL := fmt.Sprintf("nats://localhost:%d", cfg.NATS.Port)
	bus, err := eventbus.NewClient(natsURL, "memoryd")
	if err != nil {
		log.Fatalf("[MAIN] Failed to connect event bus: %v", err)
	}
	defer bus.Close()

	tracker := usage.NewTracker(st.InsertUsageEvent, func(ev memory.UsageEvent) {
		msg := eventbus.UsageEventMessage{Operation: ev.Operation, AgentID: ev.AgentID, Model: ev.Model,
			TotalTokens: ev.TotalTokens, EstimatedCostUsd: ev.EstimatedCostUsd, IsMock: ev.IsMock}
		if err := bus.PublishJSON(eventbus.SubjectUsageEvent, msg); err != nil {
			log.Printf("[MAIN] usage publish failed: %v", err)
		}
	})
	embedder.OnUsage(tracker.Listener())

	recallEngine := &recall.Engine{Store: st, Embedder: embedder}
	graphSvc := &graph.Service{Store: st}

	daemonDefaults := settings.DaemonDefaults{
		SemanticLevel: memory.SemanticLevel(cfg.LLM.SemanticLevel),
		LLM: memory.LLMProviderConfig{
			Endpoint:    cfg.LLM.Endpoint,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			TimeoutMs:   cfg.LLM.TimeoutMs,
		},
	}

	settingsFor := func(agentID string) memory.ResolvedPipelineSettings {
		agentDoc, _ := st.GetSettings(agentID)
		globalDoc, _ := st.GetSettings(memory.GlobalAgentID)
		return settings.Resolve(agentDoc, globalDoc, daemonDefaults)
	}

	notify := func(job *memory.ReflectJob, stage string) {
		subject := fmt.Sprintf(eventbus.SubjectJobCompleteFmt, job.ID)
		var msg interface{} = eventbus.JobCompleteMessage{JobID: job.ID, Status: string(job.Status)}
		for _, rec := range job.Stages {
			if stage != "" && rec.Stage == stage {
				subject = fmt.Sprintf(eventbus.SubjectJobStageFmt, job.ID)
				msg = eventbus.JobStageMessage{JobID: job.ID, Stage: rec.Stage, Status: string(rec.Status), Error: rec.Error}
			}
		}
		if err := bus.PublishJSON(subject, msg); err != nil {
			log.Printf("[MAIN] reflect-stage publish failed: %v", err)
		}
	}

	pipeline := reflection.NewPipeline(st, embedder, tracker, notify, settingsFor, 8)

	decayRun := func() error {
		agentIDs, err := st.DistinctAgentIDs()
		if err != nil {
			return fmt.Errorf("decay pass: list agents: %w", err)
		}
		for _, agentID := range agentIDs {
			stats, err := lifecycle.RunDecayPass(st, agentID, time.Now())
			if err != nil {
				log.Printf("[MAIN] decay pass failed for %s: %v", agentID, err)
				continue
			}
			log.Printf("[MAIN] decay pass for %s: %d decayed, %d archival candidates, %d expiration candidates",
				agentID, stats.Decayed, stats.ArchivalCandidates, stats.ExpirationCandidates)
		}
		return nil
	}
	sched := scheduler.New(cfg.Scheduler.DecayIntervalHours, cfg.Scheduler.DecayTimeOfDay, decayRun)
	if cfg.Scheduler.DecayEnabled {
		if err := sched.Start(); err != nil {
			log.Fatalf("[MAIN] Failed to start decay scheduler: %v", err)
		}
		log.Printf("[MAIN] Decay scheduler started, every %dh at %s", cfg.Scheduler.DecayIntervalHours, cfg.Scheduler.DecayTimeOfDay)
	}

	svc := api.New(st, embedder, recallEngine, graphSvc, pipeline, tracker, daemonDefaults)
	_ = svc // consumed by the transport layer, out of scope per spec §1 Non-goals

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		runs, errs := sched.Stats()
		fmt.Fprintf(w, `{"status":"ok","natsConnected":%v,"decayRuns":%d,"decayErrors":%d,"usageFailures":%d}`,
			bus.IsConnected(), runs, errs, tracker.Failures())
	})
	mux.HandleFunc("/debug/usage", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"totals":%d}`, len(tracker.RunningTotals()))
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.NATS.Port+1000),
		Handler: mux,
	}

	go func() {
		log.Printf("[MAIN] Debug HTTP server starting on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] HTTP server error: %v", err)
		}
	}()

	log.Println("===============================================")
	log.Println("  memoryd ready")
	log.Printf("  Health: http://localhost%s/health", httpServer.Addr)
	log.Println("===============================================")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[MAIN] Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pipeline.Shutdown()
	if cfg.Scheduler.DecayEnabled {
		sched.Stop()
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] HTTP server shutdown error: %v", err)
	}
	natsServer.Shutdown()

	log.Println("[MAIN] memoryd shutdown complete")
}
