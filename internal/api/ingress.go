package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/doss/internal/durable"
	"github.com/seantiz/doss/internal/engine"
	"github.com/seantiz/doss/internal/model"
	"github.com/seantiz/doss/internal/store"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerInvocationID   = "X-Invocation-Id"

	sendSuffix  = "send"
	maxBodySize = 10 << 20 // 10 MB
)

// handleIngress serves the invocation routes:
//
//	POST /{service}/{handler}[/send]
//	POST /{object}/{key}/{handler}[/send]
//
// Path segments are unescaped individually, so object keys may carry an
// encoded slash.
func (s *Server) handleIngress(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	req, send, err := s.parseTarget(service, chi.URLParam(r, "*"))
	if err != nil {
		s.writeInvokeError(w, nil, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req.Input = body
	req.IdempotencyKey = r.Header.Get(headerIdempotencyKey)

	if send {
		inv, err := s.engine.Send(r.Context(), req)
		if err != nil {
			s.writeInvokeError(w, inv, err)
			return
		}
		w.Header().Set(headerInvocationID, inv.ID)
		s.writeJSON(w, http.StatusAccepted, newInvocationResponse(inv))
		return
	}

	// Invocations may outlive the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for invocation", "error", err)
	}

	inv, err := s.engine.Invoke(r.Context(), req)
	if err != nil {
		s.writeInvokeError(w, inv, err)
		return
	}
	s.writeOutput(w, inv)
}

// parseTarget maps the path below the service name onto a request. The
// service type decides whether the first segment is a handler or a key.
func (s *Server) parseTarget(service, rest string) (engine.Request, bool, error) {
	typ, ok := s.engine.Registry().Type(service)
	if !ok {
		return engine.Request{}, false, engine.ErrServiceNotFound
	}

	segs := strings.Split(rest, "/")
	for i, seg := range segs {
		v, err := url.PathUnescape(seg)
		if err != nil || v == "" {
			return engine.Request{}, false, errRouteNotFound
		}
		segs[i] = v
	}

	send := false
	want := 1
	if typ == durable.ServiceTypeObject {
		want = 2
	}
	if len(segs) == want+1 && segs[want] == sendSuffix {
		send = true
		segs = segs[:want]
	}
	if len(segs) != want {
		return engine.Request{}, false, errRouteNotFound
	}

	req := engine.Request{Service: service, Handler: segs[want-1]}
	if typ == durable.ServiceTypeObject {
		req.Key = segs[0]
	}
	return req, send, nil
}

var errRouteNotFound = errors.New("route not found")

// writeOutput writes a completed invocation's output as the response body.
func (s *Server) writeOutput(w http.ResponseWriter, inv *model.Invocation) {
	w.Header().Set(headerInvocationID, inv.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(inv.Output) == 0 {
		return
	}
	if _, err := w.Write(inv.Output); err != nil {
		s.logger.Error("write invocation output", "error", err)
	}
}

// writeInvokeError maps an invocation error onto an HTTP status. inv is the
// invocation the error belongs to, if one was recorded.
func (s *Server) writeInvokeError(w http.ResponseWriter, inv *model.Invocation, err error) {
	if inv != nil {
		w.Header().Set(headerInvocationID, inv.ID)
	}

	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError && inv == nil {
		s.logger.Error("invoke handler", "error", err)
		msg = "failed to invoke handler"
	}
	s.writeError(w, status, msg)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, durable.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrServiceNotFound),
		errors.Is(err, engine.ErrHandlerNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, errRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvocationInFlight),
		errors.Is(err, engine.ErrIdempotencyKeyReused):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvocationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
