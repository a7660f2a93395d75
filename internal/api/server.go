// Package api serves the JSON API used by the bot and the embedded web view.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"speakadora-bot/internal/metrics"
)

type Config struct {
	Addr           string
	StaticDir      string
	RateLimitRPS   int
	RateLimitBurst int
	// MetricsAllowed restricts /metrics to these networks. Empty allows all.
	MetricsAllowed []*net.IPNet
	// TrustedProxies may set X-Forwarded-For / X-Real-IP.
	TrustedProxies []*net.IPNet
	// InternalToken exempts callers sending it in X-Internal-Token from the
	// rate limit. Empty disables the exemption.
	InternalToken string
}

type Server struct {
	cfg       Config
	users     UserStore
	referrals ReferralService
	log       logrus.FieldLogger
	limiter   *RateLimiter
	router    *mux.Router
}

func NewServer(cfg Config, users UserStore, referrals ReferralService, log logrus.FieldLogger) *Server {
	s := &Server{
		cfg:       cfg,
		users:     users,
		referrals: referrals,
		log:       log,
		limiter:   NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, observeMiddleware(s.log))

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware, s.rateLimit)
	api.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/stats", s.handleGetStats).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/profile", s.handleGetProfile).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/referral", s.handleTrackReferral).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metricsAllowList(metrics.Handler())).Methods(http.MethodGet)

	r.HandleFunc("/static/index.html", s.serveIndex).Methods(http.MethodGet, http.MethodHead)
	static := http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	r.PathPrefix("/static/").Handler(static).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/", s.serveIndex).Methods(http.MethodGet, http.MethodHead)

	return r
}

// serveIndex writes the web view entry point. http.ServeFile is avoided
// because it redirects paths ending in /index.html.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(filepath.Join(s.cfg.StaticDir, "index.html"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.internalError(w, r, err, "failed to stat index.html")
		return
	}
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go s.cleanupVisitors(ctx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("HTTP API stopped")
	return nil
}

func (s *Server) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup(10 * time.Minute)
		}
	}
}
