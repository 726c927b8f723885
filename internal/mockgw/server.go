// File: internal/mockgw/server.go
package mockgw

import (
	"net/http"
	"time"

	"mpesa-portal/internal/config"
	"mpesa-portal/internal/infra/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is a sandbox gateway: it speaks the portal's wire dialect and
// simulates the out-of-band M-Pesa webhook by materializing a callback
// record after a configurable delay.
type Server struct {
	cfg   config.MockGatewayConfig
	auth  *AuthManager
	store Store
	log   *zerolog.Logger
}

func NewServer(cfg config.MockGatewayConfig, store Store, logger *zerolog.Logger) *Server {
	secret := cfg.JWTSecret
	if secret == "" {
		// Sandbox-only fallback; sessions won't survive a restart.
		secret = uuid.NewString()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	metrics.MustRegister()
	return &Server{
		cfg:   cfg,
		auth:  NewAuthManager(secret, false, ttl),
		store: store,
		log:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/auth/csrf", s.handleCSRF)
		r.Get("/auth/me", s.handleMe)
		r.With(s.requireCSRF).Post("/auth/login", s.handleLogin)
		r.With(s.requireCSRF).Post("/auth/logout", s.handleLogout)

		// Token issuance is csrf-exempt, like the upstream it imitates.
		r.Post("/oauth/token/", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireClient)
			r.Post("/online/lipa", s.handleSTKPush)
			r.Post("/c2b/register", s.handleRegisterC2B)
			r.Post("/b2c/bulk", s.handleBulk("b2c"))
			r.Post("/b2b/bulk", s.handleBulk("b2b"))
			r.Get("/transactions/all", s.handleTransactions)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireStaff)
			r.Get("/admin/logs/callbacks", s.handleCallbacks)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ===== access control =====

// requireCSRF enforces the double-submit rule on state-changing auth calls:
// the X-CSRFToken header must match the csrftoken cookie.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("X-CSRFToken")
		cookie, err := r.Cookie("csrftoken")
		if header == "" || err != nil || cookie.Value == "" || header != cookie.Value {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "CSRF verification failed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireClient admits a valid bearer token or any established session.
func (s *Server) requireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.BearerFromRequest(r); err == nil {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := s.auth.SessionFromRequest(r); err == nil {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Authentication required"})
	})
}

// requireStaff admits staff sessions only. Bearer tokens deliberately do not
// carry staff standing, so a token-only caller polling the admin logs gets a
// 401 rather than data.
func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.SessionFromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Authentication required"})
			return
		}
		if !claims.Staff {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "Staff access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
