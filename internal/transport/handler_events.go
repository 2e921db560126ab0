package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/model"
)

const (
	eventBuffer       = 64
	eventWriteTimeout = 5 * time.Second
)

// streamEvents upgrades to a websocket and forwards every bus event of the
// workflow as a JSON message until either side closes. A subscriber that
// falls eventBuffer events behind is disconnected.
func (a *api) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)
	if _, err := a.engine.Get(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.origins})
	if err != nil {
		// Accept has already written the HTTP error.
		return
	}
	defer conn.CloseNow()

	logger := observability.RequestLogger(r.Context(), a.logger).With(zap.String("workflow_id", id))

	queue := make(chan model.Event, eventBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	unsubscribe := a.bus.Subscribe(id, func(evt model.Event) {
		select {
		case queue <- evt:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	logger.Debug("event stream opened")
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed by peer")
			return
		case <-overflow:
			logger.Warn("event stream subscriber too slow, disconnecting")
			conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
			return
		case evt := <-queue:
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, evt)
			cancel()
			if err != nil {
				logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}
