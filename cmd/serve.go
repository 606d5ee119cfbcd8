package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/ingest"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/monitoring"
	"github.com/sells-group/prospect-cli/internal/persist"
	"github.com/sells-group/prospect-cli/internal/pipeline"
	"github.com/sells-group/prospect-cli/internal/workflow"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the working set over HTTP and receive enrichment callbacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if secs := cfg.Persist.AutosaveSecs; secs > 0 {
			go env.Pipeline.RunAutosave(ctx, time.Duration(secs)*time.Second)
		}

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(env.Monitor, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		s := &server{
			env:     env,
			bg:      ctx,
			secret:  cfg.Server.WebhookSecret,
			origins: cfg.Server.AllowedOrigins,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		if report := env.Pipeline.Save(context.Background()); report.Remote != nil && !eris.Is(report.Remote, persist.ErrNotEligible) {
			zap.L().Warn("final backup failed", zap.Error(report.Remote))
		}
		return nil
	},
}

// server exposes the pipeline over HTTP.
type server struct {
	env     *pipelineEnv
	bg      context.Context // outlives requests; searches run under it
	secret  string
	origins []string
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Webhook-Secret"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/leads", s.handleLeads)
	r.Get("/state", s.handleState)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/search", s.handleSearch)
	r.Post("/webhook/enrichment", s.handleEnrichment)
	r.Post("/workflow/stage", s.handleStage)
	r.Post("/workflow/select", s.handleSelect)
	r.Post("/save", s.handleSave)
	r.Post("/signout", s.handleSignOut)
	r.Delete("/data", s.handleReset)
	return r
}

func (s *server) handleLeads(w http.ResponseWriter, r *http.Request) {
	leads := s.env.Pipeline.Leads()
	if r.URL.Query().Get("selected") == "true" {
		leads = s.env.Pipeline.Targets()
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(leads), "leads": leads})
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentStatus(s.env))
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.env.Monitor == nil {
		writeError(w, http.StatusNotFound, "monitoring disabled")
		return
	}
	hours := 24
	if cfg != nil && cfg.Monitoring.LookbackWindowHours > 0 {
		hours = cfg.Monitoring.LookbackWindowHours
	}
	writeJSON(w, http.StatusOK, s.env.Monitor.Collect(hours))
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context model.SearchContext `json:"context"`
		Mode    model.SearchMode    `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Context.SearchType == "" {
		req.Context.SearchType = model.SearchPlaces
	}

	updates, gen, err := s.env.Pipeline.Search(s.bg, req.Context, req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	go func() {
		for u := range updates {
			if u.Kind == ingest.UpdateResult && u.Result != nil {
				zap.L().Info("search finished",
					zap.Uint64("generation", u.Result.Generation),
					zap.String("outcome", string(u.Result.Outcome)),
					zap.Int("count", u.Result.Count),
				)
			}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "generation": gen})
}

func (s *server) handleEnrichment(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var cb pipeline.EnrichmentCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cb.LeadID == "" {
		writeError(w, http.StatusBadRequest, "lead_id is required")
		return
	}

	applied := s.env.Pipeline.OnEnrichment(r.Context(), cb)
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (s *server) handleStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage model.Stage `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := s.env.Pipeline.Goto(req.Stage)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, t)
	case eris.Is(err, workflow.ErrEmptyLeadSet):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "transition": t})
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"selected": s.env.Pipeline.Select(req.IDs)})
}

func (s *server) handleSave(w http.ResponseWriter, r *http.Request) {
	report := s.env.Pipeline.Save(r.Context())
	resp := map[string]any{"leads": report.Leads}
	if !report.SavedAt.IsZero() {
		resp["saved_at"] = report.SavedAt
	}
	if report.Local != nil {
		resp["local_error"] = report.Local.Error()
	}
	status := http.StatusOK
	if report.Remote != nil {
		resp["remote_error"] = report.Remote.Error()
		if !eris.Is(report.Remote, persist.ErrNotEligible) {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, resp)
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	err := s.env.Pipeline.Reset(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	case eris.Is(err, persist.ErrRemoteDelete):
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "cleared",
			"warning": "remote backup could not be deleted and may reappear on next load",
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.env.Pipeline.SignOut(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
