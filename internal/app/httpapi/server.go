package httpapi

import (
	"net/http"

	app "github.com/R3E-Network/lockswap/internal/app"
	"github.com/R3E-Network/lockswap/internal/app/metrics"
	"github.com/R3E-Network/lockswap/internal/middleware"
)

// Config carries the middleware the API is served behind. Nil members are
// skipped.
type Config struct {
	Tracing *middleware.Tracing
	CORS    *middleware.CORS
	Auth    *middleware.AuthMiddleware
	Limiter *middleware.RateLimiter
	Audit   *AuditLog
}

// New returns the full API handler. From the outside in: metrics, tracing,
// CORS, authentication, rate limiting, auditing, router.
func New(application *app.Application, cfg Config) http.Handler {
	var h http.Handler = NewHandler(application, cfg.Audit)
	h = wrapWithAudit(h, cfg.Audit)
	if cfg.Limiter != nil {
		h = cfg.Limiter.Handler(h)
	}
	if cfg.Auth != nil {
		h = cfg.Auth.Handler(h)
	}
	if cfg.CORS != nil {
		h = cfg.CORS.Handler(h)
	}
	if cfg.Tracing != nil {
		h = cfg.Tracing.Handler(h)
	}
	return metrics.InstrumentHandler(h)
}
