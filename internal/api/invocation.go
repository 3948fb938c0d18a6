package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/doss/internal/model"
	"github.com/seantiz/doss/internal/store"
)

// invocationResponse is an invocation record with its payloads inlined.
type invocationResponse struct {
	*model.Invocation
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

func newInvocationResponse(inv *model.Invocation) invocationResponse {
	return invocationResponse{
		Invocation: inv,
		Input:      rawJSON(inv.Input),
		Output:     rawJSON(inv.Output),
	}
}

// rawJSON passes valid JSON through and quotes anything else as a string.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return b
	}
	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}
	return quoted
}

// invocationID returns the {id} path parameter, writing a 404 when it cannot
// name an invocation.
func (s *Server) invocationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !model.ValidID(id) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return "", false
	}
	return id, true
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
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
		s.logger.Error("get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, newInvocationResponse(inv))
}

func (s *Server) handleResumeInvocation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.invocationID(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for resume", "error", err)
	}

	inv, err := s.engine.Resume(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.writeInvokeError(w, inv, err)
		return
	}

	w.Header().Set(headerInvocationID, inv.ID)
	s.writeJSON(w, http.StatusOK, newInvocationResponse(inv))
}

// journalEntry is a single journal entry in the journal response.
type journalEntry struct {
	Seq       int             `json:"seq"`
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// journalResponse is the JSON response for GET /restate/invocation/{id}/journal.
type journalResponse struct {
	InvocationID string         `json:"invocation_id"`
	Entries      []journalEntry `json:"entries"`
}

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := s.invocationID(w, r)
	if !ok {
		return
	}

	// Verify invocation exists.
	_, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation for journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	entries, err := s.store.ListJournal(r.Context(), id)
	if err != nil {
		s.logger.Error("list journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get journal")
		return
	}

	out := make([]journalEntry, len(entries))
	for i, e := range entries {
		out[i] = journalEntry{
			Seq:       e.Seq,
			Name:      e.Name,
			Value:     rawJSON(e.Value),
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
		}
	}

	s.writeJSON(w, http.StatusOK, journalResponse{
		InvocationID: id,
		Entries:      out,
	})
}
