package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/invoice-reconciler/internal/storage"
	"github.com/zombor/invoice-reconciler/internal/workflow"
)

// Batch is the running batch as seen by the status API. Every read returns a
// snapshot.
type Batch interface {
	Progress() workflow.Progress
	Summary() workflow.Summary
	Tasks() []workflow.TaskSnapshot
	Cancel()
	Pause()
	Resume()
}

// History is the record of earlier batches.
type History interface {
	ListBatches() ([]workflow.Summary, error)
	GetBatch(id string) (*workflow.Summary, error)
	ListRecords(batchID string) ([]storage.Record, error)
}

// Server serves the batch status API
type Server struct {
	batch     Batch
	history   History
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux. history may be nil.
func NewServer(batch Batch, history History, basicAuth BasicAuth) *Server {
	return NewServerWithMux(batch, history, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(batch Batch, history History, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		batch:     batch,
		history:   history,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Reconciler"`)
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/progress", s.requireAuth(s.handleProgress))
	s.mux.HandleFunc("GET /api/summary", s.requireAuth(s.handleSummary))
	s.mux.HandleFunc("GET /api/tasks", s.requireAuth(s.handleTasks))
	s.mux.HandleFunc("POST /api/cancel", s.requireAuth(s.handleCancel))
	s.mux.HandleFunc("POST /api/pause", s.requireAuth(s.handlePause))
	s.mux.HandleFunc("POST /api/resume", s.requireAuth(s.handleResume))

	if s.history != nil {
		s.mux.HandleFunc("GET /api/history/{id}", s.requireAuth(s.handleGetBatch))
		s.mux.HandleFunc("GET /api/history", s.requireAuth(s.handleListBatches))
	}
}

// Start serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting status server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("Stopping status server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
