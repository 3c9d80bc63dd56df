package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/ainu/errors"
	"github.com/teilomillet/ainu/server/handlers"
	"github.com/teilomillet/ainu/server/metrics"
	"github.com/teilomillet/ainu/server/middleware"
	"github.com/teilomillet/ainu/server/web"
	"go.uber.org/zap"
)

// Router wires the chat endpoint, operational endpoints and the web client
// behind the shared middleware stack.
type Router struct {
	router chi.Router
}

// NewRouter creates the application router.
//
// Routes:
//   - POST /api/chat   single-turn chat
//   - GET  /health     liveness
//   - GET  /metrics    Prometheus exposition
//   - GET  /          embedded web client and its assets
func NewRouter(chat http.Handler, m *metrics.Metrics, logger *zap.Logger) *Router {
	r := chi.NewRouter()

	// Recovery sits innermost so a panic still shows up as a logged,
	// counted 500.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.PrometheusMetrics(m))
	r.Use(errors.ErrorHandler(logger))

	r.Post("/api/chat", chat.ServeHTTP)
	r.Get("/health", handlers.Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Assets are listed explicitly: a catch-all would turn GET /api/chat
	// into a 404 instead of a 405.
	client := web.Handler()
	for _, path := range []string{"/", "/app.js", "/app.css"} {
		r.Method(http.MethodGet, path, client)
	}

	return &Router{router: r}
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
