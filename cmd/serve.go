package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leasingborsen/lease-ingest/internal/apply"
	"github.com/leasingborsen/lease-ingest/internal/model"
	"github.com/leasingborsen/lease-ingest/internal/session"
	"github.com/leasingborsen/lease-ingest/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	Long:  "Serves a JSON API for browsing sessions, reviewing proposed changes, and triggering batch applies. Intended as the backend for the admin review UI.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		api := newAPI(st, apply.Options{
			ItemTimeout:       time.Duration(cfg.Apply.ItemTimeoutSecs) * time.Second,
			CreateConcurrency: cfg.Apply.CreateConcurrency,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.router(),
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

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type reviewAPI struct {
	store    store.Store
	sessions *session.Manager
	engine   *apply.Engine
}

func newAPI(st store.Store, opts apply.Options) *reviewAPI {
	mgr := session.NewManager(st)
	return &reviewAPI{
		store:    st,
		sessions: mgr,
		engine:   apply.New(st, mgr, opts),
	}
}

func (a *reviewAPI) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", a.listSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", a.getSession)
			r.Get("/proposals", a.listProposals)
			r.Get("/audit", a.listAudit)
			r.Post("/review", a.review)
			r.Post("/apply", a.applyBatch)
		})
		r.Get("/listings", a.listListings)
	})

	return r
}

func (a *reviewAPI) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	sessions, err := a.store.ListSessions(r.Context(), store.SessionFilter{
		SellerID: q.Get("seller"),
		Status:   model.SessionStatus(q.Get("status")),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *reviewAPI) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, eris.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *reviewAPI) listProposals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := a.store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, eris.New("session not found"))
		return
	}

	proposals, err := a.store.ProposalsBySession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (a *reviewAPI) listAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.AuditBySession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

func (a *reviewAPI) review(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve []string `json:"approve"`
		Reject  []string `json:"reject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
		return
	}
	if len(req.Approve) == 0 && len(req.Reject) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("approve or reject must be non-empty"))
		return
	}

	err := a.sessions.Review(r.Context(), chi.URLParam(r, "id"), req.Approve, req.Reject)
	switch {
	case err == nil:
	case eris.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case eris.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
		return
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"approved": len(req.Approve),
		"rejected": len(req.Reject),
	})
}

func (a *reviewAPI) applyBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs   []string `json:"ids"`
		Actor string   `json:"actor"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	result, err := a.engine.Apply(r.Context(), chi.URLParam(r, "id"), req.IDs, req.Actor)
	switch {
	case err == nil:
	case eris.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *reviewAPI) listListings(w http.ResponseWriter, r *http.Request) {
	seller := r.URL.Query().Get("seller")
	if seller == "" {
		writeError(w, http.StatusBadRequest, eris.New("seller query param is required"))
		return
	}

	listings, err := a.store.ListingsBySeller(r.Context(), seller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		zap.L().Error("api error", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
