package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adapthttp "licensetrack/internal/adapter/http"
	"licensetrack/internal/adapter/memory"
	"licensetrack/internal/adapter/postgres"
	redisstore "licensetrack/internal/adapter/redis"
	"licensetrack/internal/app"
	"licensetrack/internal/config"
	"licensetrack/internal/domain"
	"licensetrack/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const purgeInterval = 15 * time.Minute

type stores struct {
	licenses domain.LicenseRepository
	courses  domain.CourseRepository
	users    domain.UserRepository
	sessions domain.SessionRepository
	ping     func(ctx context.Context) error
	closers  []func() error
}

func (s *stores) close() {
	for _, fn := range s.closers {
		if err := fn(); err != nil {
			slog.Warn("close store", slog.String("error", err.Error()))
		}
	}
}

// openStores builds the repositories selected by STORE and SESSION_STORE.
func openStores(cfg *config.Config) (*stores, error) {
	st := &stores{}

	var pg *postgres.DB
	if cfg.Store == config.StorePostgres || cfg.SessionStore == config.StorePostgres {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		pg = db
		st.closers = append(st.closers, db.Close)
	}

	var mem *memory.DB
	switch cfg.Store {
	case config.StorePostgres:
		st.licenses, st.courses, st.users = pg, pg, pg
		st.ping = pg.Ping
	case config.StoreMemory:
		mem = memory.New()
		st.licenses, st.courses, st.users = mem, mem, mem
		slog.Warn("using in-memory store; data is lost on restart")
	}

	switch cfg.SessionStore {
	case config.StorePostgres:
		st.sessions = postgres.NewSessionRepo(pg)
	case config.StoreMemory:
		if mem == nil {
			mem = memory.New()
		}
		st.sessions = mem.NewSessionRepo()
	case config.StoreRedis:
		client, err := redisstore.Connect(cfg.RedisURL)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		st.closers = append(st.closers, client.Close)
		st.sessions = redisstore.NewSessionStore(client)
	}
	return st, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	authSvc := app.NewAuthService(st.users, st.sessions).WithSessionTTL(cfg.SessionTTL)
	guard := app.NewGuard(authSvc, nil).WithObserver(collector)
	licenseSvc := app.NewLicenseService(st.licenses).
		WithDeadlineWindow(cfg.DeadlineWindowDays).
		WithObserver(collector)
	courseSvc := app.NewCourseService(st.courses)
	dashboardSvc := app.NewDashboardService(licenseSvc, st.courses)

	var sso *adapthttp.SSO
	if cfg.SSOEnabled() {
		sso, err = adapthttp.NewSSO(ctx, cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
		if err != nil {
			return err
		}
		slog.Info("sso enabled", slog.String("issuer", cfg.OIDCIssuer))
	}

	h := adapthttp.New(adapthttp.Deps{
		Auth:            authSvc,
		Guard:           guard,
		Licenses:        licenseSvc,
		Courses:         courseSvc,
		Dashboard:       dashboardSvc,
		Metrics:         collector,
		Gatherer:        reg,
		SSO:             sso,
		Ping:            st.ping,
		WebDir:          cfg.WebDir,
		BaseURL:         cfg.BaseURL,
		CookieSecure:    cfg.CookieSecure,
		ForwardAuth:     cfg.ForwardAuth,
		LoginRatePerMin: cfg.LoginRatePerMin,
	}).Handler()

	go purgeSessions(ctx, authSvc)

	// No WriteTimeout: /api/session/events holds its response open.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			slog.String("addr", cfg.Addr),
			slog.String("store", cfg.Store),
			slog.String("session_store", cfg.SessionStore),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// purgeSessions deletes expired sessions until ctx ends.
func purgeSessions(ctx context.Context, auth *app.AuthService) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := auth.PurgeExpired(ctx); err != nil {
				slog.Error("session purge failed", slog.String("error", err.Error()))
			}
		}
	}
}
