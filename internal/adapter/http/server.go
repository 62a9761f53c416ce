// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"context"
	"net/http"

	"licensetrack/internal/app"
	"licensetrack/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps lists what the Server needs. Metrics, Gatherer, SSO and Ping are
// optional.
type Deps struct {
	Auth      *app.AuthService
	Guard     *app.Guard
	Licenses  *app.LicenseService
	Courses   *app.CourseService
	Dashboard *app.DashboardService

	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	SSO      *SSO
	Ping     func(ctx context.Context) error

	WebDir          string
	BaseURL         string
	CookieSecure    bool
	ForwardAuth     bool
	LoginRatePerMin int
}

// Server is the driving HTTP adapter that routes requests to application
// services.
type Server struct {
	auth      *app.AuthService
	guard     *app.Guard
	licenses  *app.LicenseService
	courses   *app.CourseService
	dashboard *app.DashboardService

	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	sso      *SSO
	ping     func(ctx context.Context) error
	limiter  *loginLimiter

	webDir       string
	baseURL      string
	cookieSecure bool
	forwardAuth  bool
	disableAuth  bool
}

// New creates a Server wired to the given application services.
func New(d Deps) *Server {
	return &Server{
		auth:         d.Auth,
		guard:        d.Guard,
		licenses:     d.Licenses,
		courses:      d.Courses,
		dashboard:    d.Dashboard,
		metrics:      d.Metrics,
		gatherer:     d.Gatherer,
		sso:          d.SSO,
		ping:         d.Ping,
		limiter:      newLoginLimiter(d.LoginRatePerMin),
		webDir:       d.WebDir,
		baseURL:      d.BaseURL,
		cookieSecure: d.CookieSecure,
		forwardAuth:  d.ForwardAuth,
	}
}

// WithoutAuth disables session checks. Every request runs as testUserID.
// Used by tests.
func (s *Server) WithoutAuth() *Server {
	s.disableAuth = true
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(withNoCache)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.limiter.middleware).Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Post("/refresh", s.handleRefresh)
			r.With(s.limiter.middleware).Post("/setup", s.handleSetupUser)
			r.Get("/config", s.handleConfig)
			r.Get("/sso/login", s.handleSSOLogin)
			r.Get("/sso/callback", s.handleSSOCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/session", s.handleSession)
			r.Get("/session/events", s.handleSessionEvents)

			r.Route("/licenses", func(r chi.Router) {
				r.Get("/", s.handleLicenseList)
				r.Post("/", s.handleLicenseCreate)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleLicenseGet)
					r.Patch("/", s.handleLicenseUpdate)
					r.Delete("/", s.handleLicenseDelete)
					r.Post("/renew", s.handleLicenseRenew)
					r.Get("/export", s.handleLicenseExport)
				})
			})

			r.Route("/courses", func(r chi.Router) {
				r.Get("/", s.handleCourseList)
				r.Post("/", s.handleCourseCreate)
				r.Patch("/{id}", s.handleCourseUpdate)
				r.Delete("/{id}", s.handleCourseDelete)
			})

			r.Get("/dashboard", s.handleDashboard)
			r.Get("/calendar", s.handleCalendar)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		})
	})

	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}
	r.Get("/sitemap.xml", s.handleSitemap)
	r.Get("/robots.txt", s.handleRobots)

	r.Handle("/*", s.pages())

	return r
}
