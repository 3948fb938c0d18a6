package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/seantiz/doss/internal/model"
	"github.com/seantiz/doss/internal/store"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.invocationID(w, r)
	if !ok {
		return
	}

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Finished invocations publish nothing more.
	if model.Terminal(inv.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", inv.Status)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	// The attempt may have finished between the first status check and the
	// subscription; its close would then have been missed.
	inv, err = s.store.GetInvocation(r.Context(), id)
	if err != nil {
		s.logger.Error("get invocation for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}
	if model.Terminal(inv.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", inv.Status)
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode progress event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return // client gone
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
