package httpserver

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/IreinStark/marketgo/internal/config"
	"github.com/IreinStark/marketgo/internal/geo"
	"github.com/IreinStark/marketgo/internal/relay"
	"github.com/IreinStark/marketgo/internal/security"
	"github.com/IreinStark/marketgo/internal/service"
	"github.com/IreinStark/marketgo/internal/store/sqlite"
)

// NewRouter constructs the main HTTP router and wires routes, services, and
// middleware.
func NewRouter(cfg *config.Config, db *sql.DB, rl *relay.Relay, tokenSvc *security.TokenService) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Repositories
	convRepo := sqlite.NewConversationRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)
	partRepo := sqlite.NewParticipantRepo(db)

	// Services
	convSvc := service.NewConversationService(convRepo, partRepo, msgRepo)
	geoResolver := geo.NewResolver(cfg.GeoAPIBaseURL, nil)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": cfg.AppName,
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Geolocation is unauthenticated and never fails outward.
		r.Get("/geo", handleGeo(geoResolver))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc))

			r.Get("/presence", handlePresence(rl))

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleCreateConversation(convSvc))
				r.Get("/", handleListConversations(convSvc))
				r.Get("/{conversationID}", handleGetConversation(convSvc))
				r.Post("/{conversationID}/read", handleMarkConversationRead(convSvc))
				r.Get("/{conversationID}/messages", handleListMessages(convSvc))
				r.Post("/{conversationID}/messages", handleCreateMessage(convSvc))
			})
		})
	})

	// WebSocket endpoint; identity is verified by the relay's join event.
	r.Get("/ws", relay.MakeHandler(rl, cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
