package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
	"github.com/rs/zerolog"
)

const (
	snapshotEventName = "cart:snapshot"
	eventBufferSize   = 16
)

type EventHandler struct {
	bus       *event.Bus
	keepAlive time.Duration
	logger    *zerolog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func NewEventHandler(bus *event.Bus, keepAlive time.Duration, logger *zerolog.Logger) *EventHandler {
	if bus == nil {
		panic("event bus cannot be nil")
	}
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventHandler{bus: bus, keepAlive: keepAlive, logger: logger, done: make(chan struct{})}
}

// Close 結束所有 SSE 連線，http.Server.Shutdown 不會中斷長連線
func (h *EventHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// @Summary cart events
// @Description server-sent events of the current cart owner, starts with a cart:snapshot
// @Tags cart
// @Produce text/event-stream
// @Router /cart/events [get]
func (h *EventHandler) Events(w http.ResponseWriter, r *http.Request) {
	vm, ok := viewModel(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		apperr.ErrorJSON(w, apperr.New(apperr.InternalErrorCode, "streaming unsupported"))
		return
	}

	ctx := r.Context()
	view, err := vm.View(ctx)
	if err != nil {
		apperr.ErrorJSON(w, err)
		return
	}

	owner := vm.Source().Owner()
	events := make(chan event.Event, eventBufferSize)
	unsubscribe := h.bus.SubscribeOwner(owner, func(e event.Event) {
		select {
		case events <- e:
		default:
			// 客戶端讀取太慢時丟棄新事件
			h.logger.Warn().Str("owner", owner).Str("event_type", string(e.Type())).Msg("sse buffer full, event dropped")
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "", snapshotEventName, view); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case e := <-events:
			if err := writeSSE(w, e.GetID(), string(e.Type()), e); err != nil {
				h.logger.Debug().Err(err).Str("owner", owner).Msg("sse write failed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, id, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, raw)
	return err
}
