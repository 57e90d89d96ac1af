package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/rs/zerolog"
)

type StatusRecoder struct {
	http.ResponseWriter
	status int
}

func (w *StatusRecoder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusRecoder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *StatusRecoder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Flush SSE 需要逐筆送出
func (w *StatusRecoder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *StatusRecoder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// requestMeta 內層 middleware 解析出的資訊，回到 LoggerMiddleware 時寫入 log
type requestMeta struct {
	owner  string
	source string
}

// SetOwner 記錄本次請求的購物車 owner
func SetOwner(ctx context.Context, owner, source string) {
	if meta, ok := ctx.Value(constants.OwnerKey).(*requestMeta); ok {
		meta.owner = owner
		meta.source = source
	}
}

// 記錄request 請求
func LoggerMiddleware(logger *zerolog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recoder := &StatusRecoder{
				ResponseWriter: w,
			}
			meta := &requestMeta{owner: "unknown"}
			r = r.WithContext(context.WithValue(r.Context(), constants.OwnerKey, meta))

			next.ServeHTTP(recoder, r)

			status := recoder.Status()
			evt := logger.Info()
			if status >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.
				Str("request_id", GetRequestID(r.Context())).
				Str("owner", meta.owner).
				Str("source", meta.source).
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Int("status", status).
				Dur("elapsed", time.Since(start)).
				Msg("request completed")
		})
	}
}
