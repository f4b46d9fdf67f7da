package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/api/middleware"
	"github.com/push-protocol/push-vnode-sub003/internal/handlers"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisClient *redis.Client, rlConfig middleware.RateLimiterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(2 * 1024 * 1024)) // encrypted payloads are base64, allow headroom over the 1MiB cap
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisClient, logger, rlConfig)
	r.Use(limiter.Middleware)

	// CORS - allow all origins (wallets and dapps call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Health and live event delivery
	r.Get("/health", h.Health)
	r.Get("/ws", h.Connect)

	// Identity
	r.Post("/v1/users", h.RegisterProfile)
	r.Get("/v1/users/{did}", h.GetProfile)

	// Chat
	r.Route("/v1/chat", func(r chi.Router) {
		r.Post("/message", h.SendMessage)
		r.Post("/request", h.CreateChatRequest)
		r.Put("/request/approve", h.ApproveChatRequest)
		r.Put("/request/reject", h.RejectChatRequest)
		r.Get("/{chatId}/messages", h.GetChatMessages)

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Get("/{chatId}", h.GetGroup)
			r.Put("/{chatId}/profile", h.UpdateGroupProfile)
			r.Put("/{chatId}/config", h.UpdateGroupConfig)
			r.Put("/{chatId}/members", h.UpdateGroupMembers)
			r.Get("/{chatId}/access/{did}", h.GroupAccess)
		})
	})

	return r
}
