package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/doss/internal/model"
	"github.com/seantiz/doss/internal/services/benchmark"
)

func post(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(bytes.TrimSpace(b))
}

func TestIngressDataStoreRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/DossDataStore/bench-1/set_state", `{"stack_id":"s","step_id":0,"value":"hello"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set_state status = %d, body %s", resp.StatusCode, readBody(t, resp))
	}
	if resp.Header.Get(headerInvocationID) == "" {
		t.Error("missing invocation id header")
	}

	resp = post(t, ts.URL+"/DossDataStore/bench-1/get_state", `{"stack_id":"s","step_id":0}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get_state status = %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != `"hello"` {
		t.Errorf("get_state body = %s, want \"hello\"", got)
	}

	resp = post(t, ts.URL+"/DossDataStore/bench-1/get_state", `{"stack_id":"s","step_id":1}`, nil)
	if got := readBody(t, resp); got != "null" {
		t.Errorf("absent slot body = %s, want null", got)
	}

	resp = post(t, ts.URL+"/DossDataStore/bench-1/cleanup", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cleanup status = %d", resp.StatusCode)
	}
	resp = post(t, ts.URL+"/DossDataStore/bench-1/get_state", `{"stack_id":"s","step_id":0}`, nil)
	if got := readBody(t, resp); got != "null" {
		t.Errorf("body after cleanup = %s, want null", got)
	}
}

func TestIngressEscapedObjectKey(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/DossDataStore/team%2Fa/set_state", `{"stack_id":"s","step_id":0,"value":1}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, readBody(t, resp))
	}

	inv, err := srv.store.GetInvocation(t.Context(), resp.Header.Get(headerInvocationID))
	if err != nil {
		t.Fatalf("GetInvocation: %v", err)
	}
	if inv.ObjectKey != "team/a" {
		t.Errorf("object key = %q, want team/a", inv.ObjectKey)
	}
}

func TestIngressBenchmarkRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/BenchmarkPipeline/run", `{"steps":2,"payloadSizeBytes":3,"stepLatencyMs":0}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, readBody(t, resp))
	}

	var res benchmark.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Steps != 2 || res.PayloadSizeBytes != 3 || res.StepLatencyMs != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngressErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"validation", "/BenchmarkPipeline/run", `{"steps":0}`, http.StatusBadRequest},
		{"malformed json", "/BenchmarkPipeline/run", `{`, http.StatusBadRequest},
		{"missing stack id", "/DossDataStore/k/get_state", `{"step_id":1}`, http.StatusBadRequest},
		{"unknown service", "/Nope/run", `{}`, http.StatusNotFound},
		{"unknown handler", "/BenchmarkPipeline/nope", `{}`, http.StatusNotFound},
		{"object without key", "/DossDataStore/get_state", `{}`, http.StatusNotFound},
		{"service with extra segment", "/BenchmarkPipeline/k/run", `{}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+tt.path, tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var errResp map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if errResp["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestIngressIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	header := map[string]string{headerIdempotencyKey: "abc"}
	body := `{"steps":1,"stepLatencyMs":0}`

	first := post(t, ts.URL+"/BenchmarkPipeline/run", body, header)
	second := post(t, ts.URL+"/BenchmarkPipeline/run", body, header)

	id1, id2 := first.Header.Get(headerInvocationID), second.Header.Get(headerInvocationID)
	if id1 == "" || id1 != id2 {
		t.Errorf("invocation ids = %q, %q, want equal", id1, id2)
	}
	if b1, b2 := readBody(t, first), readBody(t, second); b1 != b2 {
		t.Errorf("replayed body = %s, want %s", b2, b1)
	}
}

func TestIngressSend(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/BenchmarkPipeline/run/send", `{"steps":1,"stepLatencyMs":0}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var inv model.Invocation
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(inv.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(inv.ID))
	}
	if inv.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", inv.Status)
	}

	srv.engine.Wait()
	got, err := srv.store.GetInvocation(t.Context(), inv.ID)
	if err != nil {
		t.Fatalf("GetInvocation: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status after Wait = %q, want completed", got.Status)
	}
}

func TestIngressObjectSend(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/DossDataStore/k/set_state/send", `{"stack_id":"s","step_id":2,"value":true}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	srv.engine.Wait()

	resp = post(t, ts.URL+"/DossDataStore/k/get_state", `{"stack_id":"s","step_id":2}`, nil)
	if got := readBody(t, resp); got != "true" {
		t.Errorf("body = %s, want true", got)
	}
}

func TestIngressIdempotencyKeyReusedConflicts(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	header := map[string]string{headerIdempotencyKey: "abc"}
	first := post(t, ts.URL+"/BenchmarkPipeline/run", `{"steps":1,"stepLatencyMs":0}`, header)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.StatusCode)
	}
	first.Body.Close()

	second := post(t, ts.URL+"/BenchmarkPipeline/run", `{"steps":2,"stepLatencyMs":0}`, header)
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", second.StatusCode)
	}
}

func TestIngressRejectsOversizedPayload(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := post(t, ts.URL+"/BenchmarkPipeline/run", `{"steps":1,"stepLatencyMs":0,"payloadSizeBytes":9223372036854775807}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
