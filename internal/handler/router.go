package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/library-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/library-chat/backend/internal/handler/socket"
	"github.com/zhouzirui/library-chat/backend/internal/logging"
	"github.com/zhouzirui/library-chat/backend/internal/metrics"
	chatService "github.com/zhouzirui/library-chat/backend/internal/service/chat"
	"github.com/zhouzirui/library-chat/backend/pkg/utils"
)

// Features reports which optional backends are configured.
type Features struct {
	Assistant   bool `json:"assistant"`
	Catalog     bool `json:"catalog"`
	Reservation bool `json:"reservation"`
	Tickets     bool `json:"tickets"`
}

// NewRouter wires HTTP routes to core services.
func NewRouter(logger zerolog.Logger, chatSvc *chatService.Service, sockets *socket.Handler, features Features) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	sockets.RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":      "ok",
				"connections": sockets.Active(),
				"features":    features,
			})
		})

		chat.New(chatSvc).RegisterRoutes(api)
	})

	return r
}
