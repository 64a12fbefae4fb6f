// Package server carries host messages between the host and a UI process.
// Two carriers are provided: newline-delimited JSON over a pair of streams
// (normally the host's stdin and stdout) and websocket text frames. Both
// hand every inbound message to the host unchanged and write every event the
// host publishes in its wire form.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/host"
	"github.com/Iron-Ham/termhost/internal/logging"
)

// Host is the part of the host a carrier talks to.
type Host interface {
	// Submit queues one raw message. It returns false once the host has
	// stopped.
	Submit(msg []byte) bool
	Bus() *event.Bus
}

// subscribe encodes every published event and hands it to write. Events with
// no wire form are skipped. It returns a function that stops delivery.
func subscribe(bus *event.Bus, logger *logging.Logger, write func([]byte) error) func() {
	id := bus.SubscribeAll(func(e event.Event) {
		msg, err := host.EncodeEvent(e)
		if err != nil {
			logger.Error("failed to encode event", "event_type", e.EventType(), "error", err)
			return
		}
		if msg == nil {
			return
		}
		if err := write(msg); err != nil {
			logger.Debug("failed to deliver event", "event_type", e.EventType(), "error", err)
		}
	})
	return func() { bus.Unsubscribe(id) }
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// the server down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
