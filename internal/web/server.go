package web

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/ICLJog/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, loop Submitter, runSequence RunSequenceFunc, panel PanelConfig) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}

	handlers := NewHandlers(broadcaster, loop, runSequence, panel, subFS)

	return &Server{
		addr:     addr,
		handlers: handlers,
	}, nil
}

// Handlers returns the server's handlers.
func (s *Server) Handlers() *Handlers { return s.handlers }

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("GET /config", h.HandleConfig)
	mux.HandleFunc("GET /state", h.HandleState)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("POST /select", h.HandleSelect)
	mux.HandleFunc("POST /initialize", h.HandleInitialize)
	mux.HandleFunc("POST /move", h.HandleMove)
	mux.HandleFunc("POST /jog", h.HandleJog)
	mux.HandleFunc("POST /jog/velocity", h.HandleJogVelocity)
	mux.HandleFunc("POST /jog/acceleration", h.HandleJogAcceleration)
	mux.HandleFunc("POST /stop", h.HandleStop)
	mux.HandleFunc("POST /sequence", h.HandleSequence)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web panel listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
