package e2e

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/doss/internal/api"
	"github.com/seantiz/doss/internal/client"
	"github.com/seantiz/doss/internal/engine"
	"github.com/seantiz/doss/internal/services/benchmark"
	"github.com/seantiz/doss/internal/services/datastore"
	"github.com/seantiz/doss/internal/store"
)

// stack is a full in-process server reached over HTTP.
type stack struct {
	ts     *httptest.Server
	eng    *engine.Engine
	store  *store.SQLiteStore
	client *client.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := engine.NewRegistry()
	if err := reg.Register(datastore.Definition()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(benchmark.Definition()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, s, reg, logger, engine.Options{})
	srv := api.NewServer(":0", s, eng, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		eng.Wait()
	})

	return &stack{ts: ts, eng: eng, store: s, client: client.New(ts.URL)}
}

func intPtr(v int) *int { return &v }
