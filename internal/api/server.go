package api

import "github.com/RoyceAzure/lab/cartsync/internal/api/handler"

type Server struct {
	CartHandler   *handler.CartHandler
	EventHandler  *handler.EventHandler
	HealthHandler *handler.HealthHandler
}

func NewServer(
	cartHandler *handler.CartHandler,
	eventHandler *handler.EventHandler,
	healthHandler *handler.HealthHandler,
) *Server {
	return &Server{
		CartHandler:   cartHandler,
		EventHandler:  eventHandler,
		HealthHandler: healthHandler,
	}
}
