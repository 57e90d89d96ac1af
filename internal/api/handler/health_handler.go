package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/api/dto"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/storage"
)

type HealthHandler struct {
	storage storage.Storage
}

func NewHealthHandler(st storage.Storage) *HealthHandler {
	if st == nil {
		panic("storage cannot be nil")
	}
	return &HealthHandler{storage: st}
}

// @Summary health check
// @Tags health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Failure 503 {object} dto.HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	res := dto.HealthResponse{Status: "ok", Storage: "ok"}
	status := http.StatusOK
	if err := h.storage.Ping(ctx); err != nil {
		res = dto.HealthResponse{Status: "degraded", Storage: err.Error()}
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(res)
}
