package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/campus-analytics/curate-cli/internal/curate"
	"github.com/campus-analytics/curate-cli/internal/curate/aggregate"
	"github.com/campus-analytics/curate-cli/internal/curate/audit"
	"github.com/campus-analytics/curate-cli/internal/curate/entity"
	"github.com/campus-analytics/curate-cli/internal/curate/resolve"
	"github.com/campus-analytics/curate-cli/internal/db"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline trigger server",
	Long: `Starts an HTTP server exposing pipeline status and a run trigger.
Only one pipeline run executes at a time; triggers are rate limited.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := curatePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := curate.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "serve: migrate")
		}

		resolver, closeCache := buildResolver(ctx, pool)
		defer closeCache()

		srv := newServer(pool, resolver, cfg.Curate.ClaimLimit, cfg.Server.RunsPerMinute)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      srv.routes(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "serve: listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// server holds the pipeline dependencies behind the HTTP handlers.
type server struct {
	pool       db.Pool
	runLog     *curate.RunLog
	reg        *entity.Registry
	resolver   *resolve.Resolver
	claimLimit int
	limiter    *rate.Limiter
	running    atomic.Bool
}

func newServer(pool db.Pool, resolver *resolve.Resolver, claimLimit int, runsPerMinute float64) *server {
	if runsPerMinute <= 0 {
		runsPerMinute = 6
	}
	return &server{
		pool:       pool,
		runLog:     curate.NewRunLog(pool),
		reg:        entity.NewRegistry(),
		resolver:   resolver,
		claimLimit: claimLimit,
		limiter:    rate.NewLimiter(rate.Limit(runsPerMinute/60.0), 1),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/run", s.handleRun)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := curate.RawStore{}.PendingCounts(ctx, s.pool, s.reg.RawTables())
	if err != nil {
		zap.L().Error("status: pending counts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "pending counts unavailable"})
		return
	}

	entries, err := s.runLog.ListRecent(ctx, 20)
	if err != nil {
		zap.L().Error("status: list runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run log unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"running":     s.running.Load(),
		"pending":     counts,
		"recent_runs": entries,
	})
}

// handleRun triggers a pipeline job. The optional body selects the job:
// full (default), merge, aggregate, audit, or a single entity name. One
// job at a time: a second trigger while one is in flight gets 409, not a
// queued run.
func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	var req struct {
		Job string `json:"job"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if req.Job == "" {
		req.Job = "full"
	}
	if !s.validJob(req.Job) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown job " + strconv.Quote(req.Job)})
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "pipeline run already in progress"})
		return
	}

	// Detach from the request context: the job outlives the response.
	job := req.Job
	go func() {
		defer s.running.Store(false)
		if err := s.runJob(context.Background(), job); err != nil {
			zap.L().Error("triggered run failed", zap.String("job", job), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "job": job})
}

func (s *server) validJob(job string) bool {
	switch job {
	case "full", "merge", "aggregate", "audit":
		return true
	}
	_, err := s.reg.Get(job)
	return err == nil
}

func (s *server) runJob(ctx context.Context, job string) error {
	switch job {
	case "full":
		return s.runPipeline(ctx)
	case "merge":
		engine := entity.NewEngine(s.pool, s.runLog, s.reg, s.resolver, s.claimLimit)
		return engine.Run(ctx, entity.RunOpts{})
	case "aggregate":
		_, err := aggregate.NewRecomputer(s.pool, s.runLog).Run(ctx)
		return err
	case "audit":
		_, err := audit.NewAuditor(s.pool, s.runLog).Run(ctx)
		return err
	default:
		engine := entity.NewEngine(s.pool, s.runLog, s.reg, s.resolver, s.claimLimit)
		return engine.Run(ctx, entity.RunOpts{Entities: []string{job}})
	}
}

func (s *server) runPipeline(ctx context.Context) error {
	engine := entity.NewEngine(s.pool, s.runLog, s.reg, s.resolver, s.claimLimit)
	if err := engine.Run(ctx, entity.RunOpts{}); err != nil {
		return eris.Wrap(err, "serve: merge")
	}

	result, err := aggregate.NewRecomputer(s.pool, s.runLog).Run(ctx)
	if err != nil {
		return eris.Wrap(err, "serve: aggregate")
	}

	report, err := audit.NewAuditor(s.pool, s.runLog).Run(ctx)
	if err != nil {
		return eris.Wrap(err, "serve: audit")
	}

	zap.L().Info("triggered pipeline run complete",
		zap.Int("performance_rows", result.PerformanceRows),
		zap.Int("analytics_rows", result.AnalyticsRows),
		zap.Int("quality_issues", report.TotalIssues),
	)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
