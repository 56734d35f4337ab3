package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"orchd/internal/common/fsutil"
	"orchd/internal/config"
	"orchd/internal/events"
	"orchd/internal/health"
	"orchd/internal/httpapi"
	"orchd/internal/inference"
	"orchd/internal/orchestrator"
	"orchd/internal/registry"
	"orchd/internal/scheduler"
	"orchd/internal/supervisor"
	"orchd/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (.yaml/.json/.toml)")
	addr := flag.String("addr", "", "HTTP listen address, e.g. :8090")
	modelsDir := flag.String("models-dir", "", "Directory to scan for *.gguf model files")
	serverBin := flag.String("server-bin", "", "Backend server binary (name on PATH or absolute path)")
	defaultModel := flag.String("default-model", "", "Model id used for roles with no explicit mapping")
	correctionRole := flag.String("correction-role", "", "Role asked to repair failed plans (empty disables)")
	corsOrigins := flag.String("cors-origins", "", "Comma-separated allowed CORS origins (empty disables CORS)")
	logJSON := flag.Bool("log-json", false, "Emit structured JSON request logs")
	flag.Parse()

	cfg := config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		log.Fatalf("failed to read environment: %v", err)
	}
	// Flags win over file and environment.
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *modelsDir != "" {
		cfg.ModelsDir = *modelsDir
	}
	if *serverBin != "" {
		cfg.ServerBin = *serverBin
	}
	if *defaultModel != "" {
		cfg.DefaultModel = *defaultModel
	}
	if *correctionRole != "" {
		cfg.CorrectionRole = *correctionRole
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "~/models/llm"
	}
	if cfg.ServerBin == "" {
		cfg.ServerBin = "llama-server"
	}

	// Load registry by scanning ModelsDir for *.gguf
	models, err := registry.LoadDir(cfg.ModelsDir, cfg.Ports)
	if err != nil {
		log.Fatalf("failed to load models: %v", err)
	}
	if len(models) == 0 {
		log.Printf("registry warning=empty dir=%s", cfg.ModelsDir)
	}

	bin, err := fsutil.ResolveBinary(cfg.ServerBin)
	if err != nil {
		log.Fatalf("failed to resolve server binary %q: %v", cfg.ServerBin, err)
	}

	bindings := types.Bindings{
		Roles:        cfg.Roles,
		Ports:        cfg.Ports,
		DefaultModel: cfg.DefaultModel,
	}

	sup := supervisor.New(supervisor.Config{
		Binary:    bin,
		Host:      cfg.BackendHost,
		CtxSize:   cfg.CtxSize,
		GPULayers: cfg.GPULayers,
	}, registry.Resolver(models))
	gate := health.New(health.Config{
		Host:     cfg.BackendHost,
		Interval: cfg.HealthInterval,
		Timeout:  cfg.HealthTimeout,
	})
	client := inference.New(inference.Config{
		Host:        cfg.BackendHost,
		Timeout:     cfg.RequestTimeout,
		Retries:     cfg.Retries,
		RetryDelay:  cfg.RetryDelay,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	sched := scheduler.New(bindings, sup, gate, client, scheduler.Config{Stagger: cfg.SwapStagger})
	sup.SetExitHandler(sched.NotifyExit)

	orch := orchestrator.New(orchestrator.Config{CorrectionRole: cfg.CorrectionRole}, sched, models)

	if *logJSON {
		logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "orchd").Logger()
		httpapi.SetLogger(logger)
		orch.TeeEvents(events.Log{Logger: logger})
	}
	if *corsOrigins != "" {
		httpapi.SetCORSOptions(true, strings.Split(*corsOrigins, ","))
	}

	ctx, stopSched := context.WithCancel(context.Background())
	go sched.Run(ctx)
	orch.Started()

	mux := httpapi.NewMux(orch)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Printf("orchd listening on %s (models dir: %s, models: %d)", cfg.Addr, cfg.ModelsDir, len(models))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	stopSched()
	sup.StopAll()
}
