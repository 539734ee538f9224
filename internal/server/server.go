// Package server exposes the chat endpoint. A request carries the whole
// conversation; the response is a data stream of one assistant reply.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"TaxChat/internal/session"
	"TaxChat/internal/stream"
)

const (
	maxRequestBodySize = 1 << 20
	errChatFailed      = "Failed to process chat request"
)

// Responder answers a conversation into a sink and closes it.
type Responder interface {
	Respond(ctx context.Context, messages []session.Message, sink stream.Sink) (string, error)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []session.Message `json:"messages"`
}

type Options struct {
	Addr           string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	Logger         *slog.Logger
}

type Server struct {
	opts      Options
	responder Responder
	logger    *slog.Logger
	limiter   *RateLimiter
	router    *http.ServeMux
	server    *http.Server
}

func New(responder Responder, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:      opts,
		responder: responder,
		logger:    logger,
		limiter:   NewRateLimiter(opts.RateLimit, opts.RateBurst),
		router:    http.NewServeMux(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("POST /api/chat", RateLimitMiddleware(s.limiter, s.logger)(http.HandlerFunc(s.handleChat)))
	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
	)(s.router)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Error("failed to decode chat request", "error", err)
		writeError(w, http.StatusInternalServerError, errChatFailed)
		return
	}
	if err := session.Validate(req.Messages); err != nil {
		s.logger.Error("invalid chat request", "error", err)
		writeError(w, http.StatusInternalServerError, errChatFailed)
		return
	}

	ctx := r.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	sink := stream.NewWriterSink(&streamWriter{w: w})
	route, err := s.responder.Respond(ctx, req.Messages, sink)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		s.logger.Info("client went away", "route", route)
		return
	}
	if !sink.Started() {
		writeError(w, http.StatusInternalServerError, errChatFailed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// streamWriter commits the data stream headers on the first write, so a
// failure before any frame can still be answered with a JSON error.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (sw *streamWriter) Write(b []byte) (int, error) {
	if !sw.started {
		h := sw.w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("X-Vercel-AI-Data-Stream", "v1")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		sw.w.WriteHeader(http.StatusOK)
		sw.started = true
	}
	return sw.w.Write(b)
}

func (sw *streamWriter) Flush() {
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.opts.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}
