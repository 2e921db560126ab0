package transport

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/idempotency"
	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/model"
)

// HeaderIdempotencyKey carries the client-chosen key of a retryable POST.
const HeaderIdempotencyKey = "X-Idempotency-Key"

const maxIdempotentBody = 1 << 20

// Idempotency replays the stored response of a POST that repeats an
// X-Idempotency-Key already seen from the same subject. Only 2xx responses
// are stored, so a failed request can be retried with the same key.
func Idempotency(store idempotency.Store, ttl time.Duration, prefix string, metrics *observability.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				WriteError(w, model.NewBadRequestError("unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			subject := model.ActorFrom(r.Context())
			storeKey := idempotency.FormatKey(prefix, subject, key)
			hash := idempotency.HashRequest(r.Method, r.URL.Path, body)

			cached, found, err := store.Check(r.Context(), storeKey, hash)
			switch {
			case err != nil && found:
				WriteError(w, err)
				return
			case err != nil:
				// Degrade to executing the request when the store is down.
				logger.Warn("idempotency lookup failed", zap.Error(err), zap.String("key", storeKey))
			case found:
				metrics.RecordIdempotencyReplay()
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				w.Header().Set("X-Idempotent-Replay", "true")
				w.WriteHeader(cached.Status)
				w.Write(cached.Body)
				return
			}

			rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			resp := idempotency.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.buf.Bytes(),
			}
			if err := store.Save(r.Context(), storeKey, hash, resp, ttl); err != nil {
				logger.Warn("idempotency save failed", zap.Error(err), zap.String("key", storeKey))
			}
		})
	}
}

// capturingWriter tees the response body so it can be stored.
type capturingWriter struct {
	http.ResponseWriter
	status  int
	written bool
	buf     bytes.Buffer
}

func (w *capturingWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.written = true
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}
