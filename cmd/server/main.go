// Package main provides the entry point for the ComplyForge server.
// This is a compliance remediation engine with plan generation, supervised
// execution, and rollback.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/complyforge/complyforge/internal/ai"
	"github.com/complyforge/complyforge/internal/api/gateway"
	"github.com/complyforge/complyforge/internal/cloud"
	"github.com/complyforge/complyforge/internal/compliance"
	"github.com/complyforge/complyforge/internal/config"
	"github.com/complyforge/complyforge/internal/observability"
	"github.com/complyforge/complyforge/internal/remediation"
	"github.com/complyforge/complyforge/internal/script"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type server struct {
	cfg    *config.Config
	engine *remediation.Engine
	logger *zap.Logger
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ComplyForge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	telemetry, err := observability.New(observability.Config{
		ServiceName:    "complyforge",
		ServiceVersion: Version,
		Environment:    os.Getenv("COMPLYFORGE_ENV"),
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		MetricsPort:    cfg.Telemetry.MetricsPort,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.Logger()

	logger.Info("starting ComplyForge",
		zap.String("version", Version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, rdb, err := buildEngine(ctx, cfg, telemetry)
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}

	telemetry.StartSystemMetricsCollector(ctx)

	srv := &server{cfg: cfg, engine: engine, logger: logger}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/health", srv.handleHealth)
	r.Get("/ready", srv.handleReady)
	if cfg.Telemetry.MetricsEnabled {
		r.Handle("/metrics", telemetry.MetricsHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit.Enabled && rdb != nil {
			limiter := gateway.NewRateLimiter(rdb, gateway.RateLimitConfig{
				DefaultRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
				IncludeHeaders:           cfg.RateLimit.IncludeHeaders,
			}, logger)
			r.Use(limiter.Middleware(
				func(req *http.Request) string {
					if tier := req.Header.Get("X-API-Tier"); tier != "" {
						return tier
					}
					return "operator"
				},
				func(req *http.Request) string { return req.Header.Get("X-API-Key") },
			))
		}

		r.Post("/plan", srv.handleGeneratePlan)
		r.Post("/remediate", srv.handleRemediate)
		r.Post("/remediate/batch", srv.handleRemediateBatch)

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", srv.handleListActive)
			r.Post("/{id}/approval", srv.handleApproval)
			r.Post("/{id}/run", srv.handleRun)
		})

		r.Get("/progress", srv.handleProgress)
		r.Get("/history", srv.handleHistory)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildEngine wires the remediation engine from configuration. The returned
// Redis client is nil when Redis is disabled; callers that need it (the rate
// limiter) must check.
func buildEngine(ctx context.Context, cfg *config.Config, telemetry *observability.Telemetry) (*remediation.Engine, *redis.Client, error) {
	logger := telemetry.Logger()

	var client cloud.ResourceClient
	switch cfg.Cloud.Provider {
	case "aws":
		aws, err := cloud.NewAWSClient(ctx, cfg.Cloud.Region, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("aws client: %w", err)
		}
		client = aws
	case "memory", "":
		client = cloud.NewMemoryClient()
	default:
		return nil, nil, fmt.Errorf("unknown cloud provider: %s", cfg.Cloud.Provider)
	}

	var texts ai.Service = ai.NewNoop()
	if cfg.AI.Enabled {
		aiClient, err := ai.NewClient(cfg.AI, logger)
		if err != nil {
			// The engine degrades to non-AI strategies when the collaborator
			// is absent.
			logger.Warn("AI collaborator unavailable", zap.Error(err))
		} else {
			texts = aiClient
		}
	}

	var executor script.Executor
	if local, err := script.NewLocalExecutor(cfg.Script.Shell, cfg.Script.WorkDir, logger); err != nil {
		logger.Warn("script executor unavailable", zap.Error(err))
	} else {
		executor = local
	}

	resolver := remediation.NewPathResolver(remediation.ResolverConfig{
		Texts:   texts,
		Scripts: executor,
		Client:  client,
		Dialect: cfg.AI.Dialect,
		ScriptOpts: script.Options{
			Timeout:    cfg.Script.Timeout,
			MaxRetries: cfg.Script.MaxRetries,
			Sanitize:   cfg.Script.Sanitize,
		},
		Logger: logger,
	})

	var store remediation.Store
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		store = remediation.NewRedisStore(rdb, cfg.Redis.HistoryTTL)
	}

	return remediation.NewEngine(remediation.EngineConfig{
		Remediation: cfg.Remediation,
		Resolver:    resolver,
		Snapshots:   remediation.NewSnapshotStore(client, logger),
		Validator:   remediation.NewValidationEngine(client, logger),
		Texts:       texts,
		Store:       store,
		Metrics:     telemetry.Metrics(),
		Logger:      logger,
	}), rdb, nil
}

// executeDefaults derives per-request execution options from configuration.
func (s *server) executeDefaults() remediation.ExecuteOptions {
	return remediation.ExecuteOptions{
		RequireApproval: s.cfg.Remediation.RequireApproval,
		AutoValidate:    s.cfg.Remediation.AutoValidate,
		AutoRollback:    s.cfg.Remediation.AutoRollback,
		Snapshot:        s.cfg.Remediation.SnapshotBeforeChange,
		UseAIScripts:    s.cfg.AI.Enabled,
	}
}

// Health and readiness handlers

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Plan handlers

type planRequest struct {
	Findings []compliance.Finding    `json:"findings"`
	Options  remediation.PlanOptions `json:"options"`
}

func (s *server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := s.engine.GeneratePlan(r.Context(), req.Findings, req.Options)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		out, err := plan.ExportYAML()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// Remediation handlers

type remediateRequest struct {
	Finding compliance.Finding          `json:"finding"`
	Options *remediation.ExecuteOptions `json:"options,omitempty"`
}

func (s *server) handleRemediate(w http.ResponseWriter, r *http.Request) {
	var req remediateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Finding.ID == "" {
		writeError(w, http.StatusBadRequest, "finding.id is required")
		return
	}

	opts := s.executeDefaults()
	if req.Options != nil {
		opts = *req.Options
	}

	exec, err := s.engine.ExecuteOne(r.Context(), req.Finding, opts)
	if err != nil && exec == nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Failed executions still return the full record; the status carries the
	// outcome.
	writeJSON(w, http.StatusOK, exec)
}

type batchRequest struct {
	Findings []compliance.Finding      `json:"findings"`
	Options  *remediation.BatchOptions `json:"options,omitempty"`
}

func (s *server) handleRemediateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Findings) == 0 {
		writeError(w, http.StatusBadRequest, "findings are required")
		return
	}

	opts := remediation.BatchOptions{Execute: s.executeDefaults()}
	if req.Options != nil {
		opts = *req.Options
	}

	result, err := s.engine.ExecuteBatch(r.Context(), req.Findings, opts)
	if err != nil && !errors.Is(err, remediation.ErrBatchAborted) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Execution handlers

func (s *server) handleListActive(w http.ResponseWriter, r *http.Request) {
	active := s.engine.ActiveExecutions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": active,
		"count":      len(active),
	})
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
	Comments string `json:"comments,omitempty"`
}

func (s *server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}

	result, err := s.engine.ProcessApproval(r.Context(), id, req.Approved, req.Approver, req.Comments)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, remediation.ErrExecutionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, remediation.ErrNotPending):
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exec, err := s.engine.ExecuteApproved(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, remediation.ErrExecutionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, remediation.ErrApprovalRequired):
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		// Execution faults still carry the record.
		if exec == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, exec)
}

// Progress and history handlers

func (s *server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	progress, err := s.engine.GetProgress(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC3339")
			return
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		end = parsed
	}

	history, err := s.engine.GetHistory(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// JSON helpers

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
