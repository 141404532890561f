// Package webhook is the HTTP front door (spec.md §4.10, §6.1): a single
// transport webhook endpoint, health probes, admin operations, and the
// tasks CRUD/list API. Routing uses go-chi/chi; HMAC and admin-secret
// checks use crypto/hmac and crypto/subtle.ConstantTimeCompare the same
// way the teacher's gateway.AuthMiddleware already does for API keys.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/basket/boss/internal/config"
	"github.com/basket/boss/internal/cryptutil"
	"github.com/basket/boss/internal/dispatch"
	"github.com/basket/boss/internal/ratelimit"
	"github.com/basket/boss/internal/safety"
	"github.com/basket/boss/internal/store"
)

// TransportDecoder turns a raw transport body into a dispatch.Inbound. One
// is registered per named transport ("telegram", ...).
type TransportDecoder func(body []byte) (dispatch.Inbound, error)

// Server is the L10 HTTP front door.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	box        *cryptutil.Box
	html       *safety.HTMLSanitizer
	sanitizer  *safety.Sanitizer
	authLim    *ratelimit.Limiter
	publicLim  *ratelimit.Limiter
	decoders   map[string]TransportDecoder
	logger     *slog.Logger

	router *chi.Mux
	httpSrv *http.Server

	group      *errgroup.Group
	groupCtx   context.Context
}

// Config bundles Server's construction dependencies beyond *config.Config
// and *store.Store, so New's signature stays readable.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Box        *cryptutil.Box
	Decoders   map[string]TransportDecoder
	Logger     *slog.Logger
	MaxInFlight int
}

func New(cfg *config.Config, st *store.Store, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxInFlight <= 0 {
		deps.MaxInFlight = 32
	}
	group, groupCtx := errgroup.WithContext(context.Background())
	group.SetLimit(deps.MaxInFlight)

	s := &Server{
		cfg:        cfg,
		store:      st,
		dispatcher: deps.Dispatcher,
		box:        deps.Box,
		html:       safety.NewHTMLSanitizer(),
		sanitizer:  safety.NewSanitizer(),
		authLim:    ratelimit.New(cfg.RateLimitAuthenticated, deps.Logger),
		publicLim:  ratelimit.New(cfg.RateLimitPublic, deps.Logger),
		decoders:   deps.Decoders,
		logger:     deps.Logger,
		group:      group,
		groupCtx:   groupCtx,
	}
	s.router = s.buildRouter()
	s.httpSrv = &http.Server{Addr: cfg.BindAddr, Handler: s.router}
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Signature"},
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/db", s.handleHealthDB)

	r.Post("/webhook/{transport}", s.withPublicRateLimit(s.handleWebhook))

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.withAuthRateLimit)
		r.Post("/run-migration", s.handleAdmin(s.adminRunMigration))
		r.Post("/seed-test-team", s.handleAdmin(s.adminSeedTestTeam))
		r.Post("/clear-conversations", s.handleAdmin(s.adminClearConversations))
		r.Post("/backup-oauth-tokens", s.handleAdmin(s.adminBackupOAuthTokens))
		r.Post("/verify-oauth-encryption", s.handleAdmin(s.adminVerifyOAuthEncryption))
		r.Post("/encrypt-oauth-tokens", s.handleAdmin(s.adminEncryptOAuthTokens))
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(s.withAuthRateLimit)
		r.Get("/", s.handleListTasks)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Put("/", s.handleUpdateTask)
			r.Post("/", s.handleUpdateTask)
			r.Delete("/", s.handleDeleteTask)
		})
	})

	return r
}

// Start launches the HTTP server in its own goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook: server error", "error", err)
		}
	}()
}

// Shutdown stops accepting new connections, waits up to 30s for
// in-flight background handoffs to drain, then cancels (spec.md §5).
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("webhook: http shutdown error", "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		return errors.New("webhook: background handoff drain timed out")
	}
}

func (s *Server) withPublicRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.publicLim.Allow(ratelimit.RemoteAddrKey(r)) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) withAuthRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Authorization")
		if key == "" {
			key = ratelimit.RemoteAddrKey(r)
		}
		if !s.authLim.Allow(key) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func verifySignature(secret string, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	given, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
