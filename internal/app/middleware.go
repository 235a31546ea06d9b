package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/dcops/internal/observability"
	"github.com/odyssey-erp/dcops/internal/platform/httpx"
	"github.com/odyssey-erp/dcops/internal/shared"
)

const (
	headerActorID = "X-Actor-ID"
	headerFCID    = "X-FC-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the dcops middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	limit := 120
	var defaultFC int64
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.RateLimitPerMinute > 0 {
			limit = cfg.Config.RateLimitPerMinute
		}
		defaultFC = cfg.Config.DefaultFCID
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		ScopeMiddleware(defaultFC),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// ScopeMiddleware reads the caller scope from request headers and stores it in
// the request context for handlers to pass on explicitly. When a default FC is
// configured the header may narrow the scope to another FC but never clear it.
func ScopeMiddleware(defaultFC int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := shared.Scope{FCID: defaultFC}
			var err error
			if raw := r.Header.Get(headerActorID); raw != "" {
				if scope.ActorID, err = strconv.ParseInt(raw, 10, 64); err != nil || scope.ActorID < 0 {
					httpx.RespondError(w, shared.Validationf("invalid %s header", headerActorID))
					return
				}
			}
			if raw := r.Header.Get(headerFCID); raw != "" {
				if scope.FCID, err = strconv.ParseInt(raw, 10, 64); err != nil || scope.FCID < 0 {
					httpx.RespondError(w, shared.Validationf("invalid %s header", headerFCID))
					return
				}
				if scope.FCID == 0 && defaultFC != 0 {
					httpx.RespondError(w, shared.Validationf("%s must name a fulfilment center", headerFCID))
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithScope(r.Context(), scope)))
		})
	}
}
