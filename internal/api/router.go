package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pollchat/internal/auth"
	"pollchat/internal/blob"
	"pollchat/internal/config"
	"pollchat/internal/db"
	"pollchat/internal/metrics"
	"pollchat/internal/presence"
)

const jsonBodyLimit = 1 << 20

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(
	cfg *config.Config,
	database *db.DB,
	blobs *blob.Service,
	tracker *presence.Tracker,
	registry *prometheus.Registry,
) (*Server, error) {
	resolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("configuring trusted proxies: %w", err)
	}

	serverMetrics := metrics.NewServer(registry)

	userRepo := db.NewUserRepository(database)
	messageRepo := db.NewMessageRepository(database)
	blobRepo := db.NewBlobRepository(database)
	revokedRepo := db.NewRevokedTokenRepository(database)
	idempotency := NewIdempotency(db.NewIdempotencyRepository(database))
	blobCleanup := blob.NewCleanupService(blobRepo, blobs)

	sessions := auth.NewSessionService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	authMiddleware := NewAuthMiddleware(sessions, revokedRepo, tracker)

	authHandler := NewAuthHandler(userRepo, revokedRepo, sessions, tracker, cfg.Auth.CookieSecure)
	userHandler := NewUserHandler(userRepo, tracker)
	messageHandler := NewMessageHandler(messageRepo, idempotency, blobCleanup, serverMetrics)
	uploadHandler := NewUploadHandler(blobs, blobRepo, blobCleanup, messageRepo, idempotency, serverMetrics, cfg.Server.BaseURL, cfg.Storage.MaxFiles)
	mediaHandler := NewMediaHandler(blobRepo, blobs)
	serverInfoHandler := NewServerInfoHandler(cfg.Server.Name, cfg.Storage.MaxUploadBytes, cfg.Storage.MaxFiles)
	healthHandler := NewHealthHandler(database, blobs.Ready)

	authLimit := rateLimitByIP(resolver, 10, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware(serverMetrics))
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/server/info", serverInfoHandler.GetInfo)

		r.Group(func(r chi.Router) {
			r.Use(maxBodySizeMiddleware(jsonBodyLimit))

			r.With(authLimit).Post("/register", authHandler.Register)
			r.With(authLimit).Post("/login", authHandler.Login)
			r.With(authMiddleware.RequireAuth).Post("/logout", authHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.OptionalAuth)
				r.Get("/messages", messageHandler.GetHistory)
				r.Get("/online-users", userHandler.OnlineUsers)
			})

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Get("/users/me", userHandler.GetMe)
				r.With(rateLimitByUser(60, time.Minute)).Post("/messages", messageHandler.Create)
				r.Put("/messages/{messageID}", messageHandler.Update)
				r.Delete("/messages/{messageID}", messageHandler.Delete)
				r.Delete("/messages", messageHandler.Clear)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.With(rateLimitByUser(20, time.Minute)).Post("/upload", uploadHandler.Upload)
			r.Get("/media/{blobID}", mediaHandler.GetBlob)
		})
	})

	return &Server{
		router: r,
		config: cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			allowed = append(allowed, origin)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !slices.Contains(allowed, origin) && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware labels by route pattern so IDs in paths do not explode
// cardinality.
func metricsMiddleware(m *metrics.Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(status/100)+"xx").Inc()
			m.Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
