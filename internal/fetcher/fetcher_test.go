package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GuiPezoti/b3-scraper/internal/catalog"
)

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     10 * time.Millisecond,
		BackoffMax:  40 * time.Millisecond,
		Timeouts: func(catalog.SizeClass) catalog.Timeouts {
			return catalog.Timeouts{Total: 2 * time.Second}
		},
	}
}

func newTestFetcher(t *testing.T, handler http.Handler, cfg Config) *Fetcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(NewHTTPClient(server.URL), "test-host", cfg)
}

func testUnit(task catalog.FetchTask) Unit {
	return Unit{
		Date: time.Date(2024, 9, 18, 0, 0, 0, 0, time.UTC),
		Task: task,
	}
}

func TestFetch_Success(t *testing.T) {
	var gotPath atomic.Value
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.Write([]byte("ticker,price\nPETR4,32.50\n"))
	})

	f := newTestFetcher(t, handler, testConfig())
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "daily_trades",
		EndpointTemplate: "/rapinegocios/tickercsv/{date}",
		Method:           http.MethodGet,
	}))

	if out.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (err: %v)", out.Status, out.Err)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
	if string(out.Bytes) != "ticker,price\nPETR4,32.50\n" {
		t.Errorf("Bytes = %q", out.Bytes)
	}
	if got := gotPath.Load(); got != "/rapinegocios/tickercsv/2024-09-18" {
		t.Errorf("request path = %v, want date substituted", got)
	}
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("data"))
	})

	f := newTestFetcher(t, handler, testConfig())
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "series",
		EndpointTemplate: "/file/{date}",
		Method:           http.MethodGet,
	}))

	if out.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (err: %v)", out.Status, out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
}

func TestFetch_404IsTerminal(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})

	f := newTestFetcher(t, handler, testConfig())
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "series",
		EndpointTemplate: "/file/{date}",
		Method:           http.MethodGet,
	}))

	if out.Status != StatusError {
		t.Fatal("Status = success, want error")
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (4xx must not retry)", out.Attempts)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if out.Err == nil || out.Err.Kind != KindHTTPStatus || out.Err.Code != 404 {
		t.Errorf("Err = %v, want http_status 404", out.Err)
	}
}

func TestFetch_RetryExhaustion(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	f := newTestFetcher(t, handler, testConfig())
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "series",
		EndpointTemplate: "/file/{date}",
		Method:           http.MethodGet,
	}))

	if out.Status != StatusError {
		t.Fatal("Status = success, want error")
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	if out.Err == nil || out.Err.Kind != KindHTTPStatus || out.Err.Code != 500 {
		t.Errorf("Err = %v, want http_status 500", out.Err)
	}
}

func TestFetch_IdleReadStall(t *testing.T) {
	// The handler writes one chunk, then stalls far longer than the
	// idle window. A sibling unit with no stall must complete long
	// before the stalled unit's deadline.
	stallDone := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stall/2024-09-18" {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			w.Write([]byte("partial"))
			w.(http.Flusher).Flush()
			select {
			case <-stallDone:
			case <-time.After(10 * time.Second):
			}
			return
		}
		w.Write([]byte("quick"))
	})
	defer close(stallDone)

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.Timeouts = func(catalog.SizeClass) catalog.Timeouts {
		return catalog.Timeouts{Total: 5 * time.Second, IdleRead: 150 * time.Millisecond}
	}
	f := newTestFetcher(t, handler, cfg)

	type timed struct {
		out Outcome
		at  time.Time
	}
	results := make(chan timed, 2)
	for _, path := range []string{"/stall/{date}", "/quick/{date}"} {
		go func(path string) {
			out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
				Name:             path,
				EndpointTemplate: path,
				Method:           http.MethodGet,
			}))
			results <- timed{out: out, at: time.Now()}
		}(path)
	}

	var stalled, quick timed
	for range 2 {
		r := <-results
		if r.out.Unit.Task.Name == "/stall/{date}" {
			stalled = r
		} else {
			quick = r
		}
	}

	if quick.out.Status != StatusSuccess {
		t.Fatalf("sibling unit failed: %v", quick.out.Err)
	}
	if stalled.out.Status != StatusError {
		t.Fatal("stalled unit succeeded, want timeout error")
	}
	if stalled.out.Err.Kind != KindTimeout {
		t.Errorf("stalled Err.Kind = %v, want timeout", stalled.out.Err.Kind)
	}
	if !quick.at.Before(stalled.at) {
		t.Error("sibling should complete before the stalled unit's deadline expires")
	}
}

func TestFetch_SlotReleasedDuringBackoff(t *testing.T) {
	// A retrying unit must give up its admission slot before sleeping,
	// so a sibling can use the slot during the backoff window.
	firstFail := make(chan struct{})
	var flakyCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/flaky/2024-09-18" && flakyCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			close(firstFail)
			return
		}
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testConfig()
	cfg.Backoff = 300 * time.Millisecond
	cfg.BackoffMax = 300 * time.Millisecond
	f := New(NewHTTPClient(server.URL), "test-host", cfg,
		WithAdmission(NewAdmission(1, 0)))

	flakyDone := make(chan Outcome, 1)
	go func() {
		flakyDone <- f.Fetch(context.Background(), testUnit(catalog.FetchTask{
			Name:             "flaky",
			EndpointTemplate: "/flaky/{date}",
			Method:           http.MethodGet,
		}))
	}()

	<-firstFail
	start := time.Now()
	quick := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "quick",
		EndpointTemplate: "/quick/{date}",
		Method:           http.MethodGet,
	}))
	elapsed := time.Since(start)

	if quick.Status != StatusSuccess {
		t.Fatalf("sibling unit failed: %v", quick.Err)
	}
	// The shortest jittered backoff is 150ms; finishing sooner means the
	// slot was free while the flaky unit slept.
	if elapsed >= 150*time.Millisecond {
		t.Errorf("sibling took %v, slot was held across the backoff sleep", elapsed)
	}

	flaky := <-flakyDone
	if flaky.Status != StatusSuccess {
		t.Fatalf("flaky unit failed: %v", flaky.Err)
	}
	if flaky.Attempts != 2 {
		t.Errorf("flaky Attempts = %d, want 2", flaky.Attempts)
	}
}

func TestFetch_ReadIncompleteRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Declare more bytes than are sent, then let the connection
		// close mid-body.
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("short"))
	})

	cfg := testConfig()
	cfg.MaxAttempts = 5
	f := newTestFetcher(t, handler, cfg)
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "series",
		EndpointTemplate: "/file/{date}",
		Method:           http.MethodGet,
	}))

	if out.Status != StatusError {
		t.Fatal("Status = success, want error")
	}
	if out.Err.Kind != KindReadIncomplete {
		t.Fatalf("Err.Kind = %v, want read_incomplete", out.Err.Kind)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (read_incomplete retried at most once)", out.Attempts)
	}
}

func TestFetch_TokenExchange(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/download/requestname":
			if r.URL.Query().Get("date") != "2024-09-18" {
				t.Errorf("date = %q, want 2024-09-18", r.URL.Query().Get("date"))
			}
			json.NewEncoder(w).Encode(map[string]string{"token": "abc123"})
		case r.URL.Path == "/api/download/":
			if r.URL.Query().Get("token") != "abc123" {
				t.Errorf("token = %q, want abc123", r.URL.Query().Get("token"))
			}
			w.Write([]byte("payload"))
		default:
			http.NotFound(w, r)
		}
	})

	f := newTestFetcher(t, handler, testConfig())
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "series",
		EndpointTemplate: "/api/download/requestname?fileName=InstrumentsConsolidatedFile&date={date}&recaptchaToken=",
		Method:           http.MethodGet,
		TokenExchange:    true,
	}))

	if out.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (err: %v)", out.Status, out.Err)
	}
	if string(out.Bytes) != "payload" {
		t.Errorf("Bytes = %q, want payload", out.Bytes)
	}
}

func TestFetch_PostBody(t *testing.T) {
	bodyCh := make(chan string, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		buf, _ := io.ReadAll(r.Body)
		bodyCh <- string(buf)
		w.Write([]byte("csv"))
	})

	f := newTestFetcher(t, handler, testConfig())
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "earnings",
		EndpointTemplate: "/bdi/table/export/csv",
		Method:           http.MethodPost,
		BodyTemplate:     `{"Name":"ProventionCreditVariable","Date":"{date}","FinalDate":"{date}"}`,
	}))

	if out.Status != StatusSuccess {
		t.Fatalf("Status = %v, want success (err: %v)", out.Status, out.Err)
	}
	want := `{"Name":"ProventionCreditVariable","Date":"2024-09-18","FinalDate":"2024-09-18"}`
	if got := <-bodyCh; got != want {
		t.Errorf("request body = %s, want %s", got, want)
	}
}

func TestFetch_ConnectionRefused(t *testing.T) {
	// A server that is immediately closed yields connection failures.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 2
	f := New(NewHTTPClient(server.URL), "test-host", cfg)
	out := f.Fetch(context.Background(), testUnit(catalog.FetchTask{
		Name:             "series",
		EndpointTemplate: "/file/{date}",
		Method:           http.MethodGet,
	}))

	if out.Status != StatusError {
		t.Fatal("Status = success, want error")
	}
	if out.Err.Kind != KindConnection {
		t.Errorf("Err.Kind = %v, want connection", out.Err.Kind)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
}

func TestErrInfo_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrInfo
		want bool
	}{
		{"connection", newConnectionError(fmt.Errorf("refused")), true},
		{"timeout", newTimeoutError("deadline", nil), true},
		{"status 500", newStatusError(500), true},
		{"status 503", newStatusError(503), true},
		{"status 404", newStatusError(404), false},
		{"status 403", newStatusError(403), false},
		{"read incomplete", newReadIncompleteError(5, 100, nil), true},
		{"internal", &ErrInfo{Kind: KindInternal}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
