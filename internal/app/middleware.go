package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	consolhttp "github.com/odyssey-erp/consolidation/internal/consol/http"
	"github.com/odyssey-erp/consolidation/internal/observability"
	"github.com/odyssey-erp/consolidation/internal/platform/httpx"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// edgeSettings are the config values the stack reads, with fallbacks for a
// nil Config.
type edgeSettings struct {
	timeout    time.Duration
	perMinute  int
	origins    []string
	production bool
}

func settingsFrom(cfg *Config) edgeSettings {
	s := edgeSettings{timeout: 30 * time.Second, perMinute: 120, origins: []string{"http://localhost:5173"}}
	if cfg == nil {
		return s
	}
	s.production = cfg.IsProduction()
	if cfg.AppRequestTimeout > 0 {
		s.timeout = cfg.AppRequestTimeout
	}
	if cfg.RateLimit > 0 {
		s.perMinute = cfg.RateLimit
	}
	if len(cfg.CORSOrigins) > 0 {
		s.origins = cfg.CORSOrigins
	}
	return s
}

// MiddlewareStack returns the API middleware chain, outermost first.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := settingsFrom(cfg.Config)

	chain := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		requestLogger(logger),
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", consolhttp.ActorHeader},
			ExposedHeaders:   []string{"X-Cache", "Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.Timeout(s.timeout),
		apiHeaders(logger, s.production),
		middleware.Compress(5),
		httprate.Limit(s.perMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		chain = append(chain, cfg.Metrics.Middleware)
	}
	return chain
}

// apiHeaders sets the security headers of a JSON API. Requests the secure
// policy rejects get a problem document.
func apiHeaders(logger *slog.Logger, production bool) func(http.Handler) http.Handler {
	policy := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := policy.Process(w, r); err != nil {
				logger.Warn("request rejected by header policy", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.Problem(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "request rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger writes one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
