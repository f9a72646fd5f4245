package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/entity-sync/internal/hub"
	"github.com/DoyleJ11/entity-sync/internal/ws"
)

func SetupRoutes(h *hub.Hub, opts ws.Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/rooms/{code}", GetRoom(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, opts))
	return r
}
