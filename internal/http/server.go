// Package http exposes the JSON API: registration and login, account and
// transaction management, bulk deletion with balance reconciliation, and the
// cached dashboard view.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"financemate/internal/core"
	"financemate/internal/ledger"
)

// LedgerService is the reconciliation surface the handlers call.
// *ledger.Service satisfies it.
type LedgerService interface {
	CreateAccount(ctx context.Context, ownerID string, in ledger.CreateAccountInput) (core.Account, error)
	UpdateAccount(ctx context.Context, ownerID, accountID string, patch core.AccountPatch) (core.Account, error)
	UpdateDefaultAccount(ctx context.Context, ownerID, accountID string) (core.Account, error)
	DeleteAccount(ctx context.Context, ownerID, accountID string) error
	GetAccountWithTransactions(ctx context.Context, ownerID, accountID string) (core.AccountDetail, error)
	Dashboard(ctx context.Context, ownerID string) (core.DashboardOverview, error)
	CreateTransaction(ctx context.Context, ownerID string, in ledger.CreateTransactionInput) (core.Transaction, error)
	BulkDeleteTransactions(ctx context.Context, ownerID string, ids []string) error
}

// AuthService is the identity surface. *auth.Service satisfies it.
type AuthService interface {
	Register(ctx context.Context, email, password string) (core.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	VerifyToken(tokenString string) (string, error)
	ResolveOwner(ctx context.Context, externalID string) (string, error)
}

type Server struct {
	http.Server
	ledger       LedgerService
	auth         AuthService
	views        *ViewCache
	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
// views may be nil to disable read caching.
func NewServer(addr string, ledgerSvc LedgerService, authSvc AuthService, views *ViewCache) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ledger:      ledgerSvc,
		auth:        authSvc,
		views:       views,
		rateLimiter: newRateLimiter(60),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/auth/register", s.withCommon(s.handleRegister))
	mux.HandleFunc("POST /api/auth/login", s.withCommon(s.handleLogin))

	mux.HandleFunc("POST /api/accounts", s.withCommon(s.withAuth(s.handleCreateAccount)))
	mux.HandleFunc("GET /api/accounts", s.withCommon(s.withAuth(s.handleListAccounts)))
	mux.HandleFunc("GET /api/accounts/{id}", s.withCommon(s.withAuth(s.handleGetAccount)))
	mux.HandleFunc("PATCH /api/accounts/{id}", s.withCommon(s.withAuth(s.handleUpdateAccount)))
	mux.HandleFunc("DELETE /api/accounts/{id}", s.withCommon(s.withAuth(s.handleDeleteAccount)))
	mux.HandleFunc("POST /api/accounts/{id}/default", s.withCommon(s.withAuth(s.handleSetDefaultAccount)))

	mux.HandleFunc("POST /api/transactions", s.withCommon(s.withAuth(s.handleCreateTransaction)))
	mux.HandleFunc("POST /api/transactions/bulk-delete", s.withCommon(s.withAuth(s.handleBulkDeleteTransactions)))

	mux.HandleFunc("GET /api/dashboard", s.withCommon(s.withAuth(s.handleDashboard)))

	return s
}

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	ownerIDKey   ctxKey = "owner_id"
)

// withCommon adds security headers, per-IP rate limiting on writes, a request
// id, and request logging.
func (s *Server) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := clientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(ip) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", ip, "method", r.Method, "url", r.URL.Path)
			writeError(w, r, core.ErrRateLimited)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ip)
	}
}

// withAuth verifies the bearer token and resolves the owner record id into
// the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, r, core.ErrUnauthorized)
			return
		}

		externalID, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		ownerID, err := s.auth.ResolveOwner(r.Context(), externalID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}

// ownerFrom returns the authenticated owner id placed by withAuth.
func ownerFrom(r *http.Request) string {
	if id, ok := r.Context().Value(ownerIDKey).(string); ok {
		return id
	}
	return ""
}

// Shutdown stops the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
