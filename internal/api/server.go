package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgate/internal/apperr"
	"github.com/JakeFAU/crawlgate/internal/auth"
	"github.com/JakeFAU/crawlgate/internal/dispatcher"
	"github.com/JakeFAU/crawlgate/internal/id/uuid"
	"github.com/JakeFAU/crawlgate/internal/metrics"
)

const maxBodyBytes = 1 << 20

// KeyChecker reports whether an API key is valid.
type KeyChecker interface {
	Check(ctx context.Context, key string) (bool, error)
}

// Crawler runs the crawl operations behind the POST routes.
type Crawler interface {
	Links(ctx context.Context, key string, in dispatcher.LinksInput) (dispatcher.LinksOutput, error)
	Markdown(ctx context.Context, key string, in dispatcher.MarkdownInput) (dispatcher.MarkdownOutput, error)
	Site(ctx context.Context, key string, in dispatcher.MarkdownInput) (dispatcher.SiteOutput, error)
}

// KeyRequestInfo is the static payload of /auth/request-key.
type KeyRequestInfo struct {
	Message string `json:"message"`
	Contact string `json:"contact"`
}

// Server wires HTTP handlers to the auth gate and dispatcher.
type Server struct {
	router  chi.Router
	keys    KeyChecker
	crawler Crawler
	info    KeyRequestInfo
	logger  *zap.Logger
	origins []string
}

// Option customizes a Server.
type Option func(*Server)

// WithAllowedOrigins restricts cross-origin requests to the given origins.
// An empty list keeps the default of allowing any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(keys KeyChecker, crawler Crawler, info KeyRequestInfo, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		keys:    keys,
		crawler: crawler,
		info:    info,
		logger:  logger.Named("api"),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	// Preflights are answered here, before the key check.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", auth.HeaderAPIKey, HeaderRequestID},
		ExposedHeaders: []string{HeaderRequestID},
		MaxAge:         300,
	}))
	r.Use(requestIDMiddleware(uuid.New()))
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Get("/validate-key", s.validateKey)
		r.Get("/request-key", s.requestKey)
	})

	r.Post("/crawl", s.crawl)
	r.Post("/markdown", s.markdown)
	r.Post("/advanced", s.advanced)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) validateKey(w http.ResponseWriter, r *http.Request) {
	valid, err := s.keys.Check(r.Context(), auth.KeyFromRequest(r))
	if err != nil {
		apperr.Write(w, s.logger, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) requestKey(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.info)
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var in dispatcher.LinksInput
	if err := decodeBody(w, r, &in); err != nil {
		apperr.Write(w, s.logger, err)
		return
	}
	out, err := s.crawler.Links(r.Context(), auth.KeyFromRequest(r), in)
	if err != nil {
		apperr.Write(w, s.logger, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) markdown(w http.ResponseWriter, r *http.Request) {
	var in dispatcher.MarkdownInput
	if err := decodeBody(w, r, &in); err != nil {
		apperr.Write(w, s.logger, err)
		return
	}
	out, err := s.crawler.Markdown(r.Context(), auth.KeyFromRequest(r), in)
	if err != nil {
		apperr.Write(w, s.logger, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) advanced(w http.ResponseWriter, r *http.Request) {
	var in dispatcher.MarkdownInput
	if err := decodeBody(w, r, &in); err != nil {
		apperr.Write(w, s.logger, err)
		return
	}
	out, err := s.crawler.Site(r.Context(), auth.KeyFromRequest(r), in)
	if err != nil {
		apperr.Write(w, s.logger, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// decodeBody reads a single JSON object into dst. Any decode failure is invalid_request.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "request body must be a JSON object"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		}
		return apperr.Wrap(apperr.InvalidRequest, msg, fmt.Errorf("decode body: %w", err))
	}
	if dec.More() {
		return apperr.New(apperr.InvalidRequest, "request body must contain a single JSON object")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(gen *uuid.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(HeaderRequestID)
			if !uuid.Valid(reqID) {
				reqID = gen.NewID()
			}
			ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
			w.Header().Set(HeaderRequestID, reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
				)
				apperr.Write(w, nil, apperr.Wrap(apperr.Internal, "internal server error", fmt.Errorf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
