// Package web serves the camera controls and a live status stream over HTTP.
package web

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
)

const shutdownTimeout = 5 * time.Second

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	logger   *zap.SugaredLogger
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, cam Camera, broadcaster *StatusBroadcaster, logger *zap.SugaredLogger) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, errors.Wrap(err, "sub static fs")
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(cam, broadcaster, subFS, logger),
		logger:   logger,
	}, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("POST /configure", s.handlers.HandleConfigure)
	mux.HandleFunc("POST /act", s.handlers.HandleAct)
	mux.HandleFunc("POST /zoom", s.handlers.HandleZoom)
	mux.HandleFunc("GET /media/last", s.handlers.HandleLastMedia)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	goutils.PanicCapturingGo(func() {
		s.logger.Infow("web server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	})

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "web server")
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Infow("web server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
