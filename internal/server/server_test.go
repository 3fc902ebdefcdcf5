package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/generator"
	"github.com/jonathan/site-deployer/internal/notify"
	"github.com/jonathan/site-deployer/internal/observability"
	"github.com/jonathan/site-deployer/internal/pipeline"
	"github.com/jonathan/site-deployer/internal/publish"
	"github.com/jonathan/site-deployer/internal/server/ratelimit"
	"github.com/jonathan/site-deployer/internal/types"
)

type fakeFulfiller struct {
	submitResp *pipeline.Response
	submitErr  error
	reportErr  error
	panicMsg   string
	lastBody   []byte
}

func (f *fakeFulfiller) Submit(_ context.Context, raw []byte) (*pipeline.Response, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.lastBody = raw
	return f.submitResp, f.submitErr
}

func (f *fakeFulfiller) Report(_ context.Context, raw []byte) (*pipeline.Ack, error) {
	f.lastBody = raw
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return &pipeline.Ack{OK: true, Message: "Repo recorded"}, nil
}

func newTestServer(f Fulfiller, cfg Config) *Server {
	if cfg.RateLimit == nil {
		cfg.RateLimit = ratelimit.NewConfig(false, 0, 0, "")
	}
	return New(cfg, f, nil, nil, observability.Discard())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeFulfiller{}, Config{})

	w := do(t, s.Handler(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestSubmit_Success(t *testing.T) {
	repo := "https://github.com/o/r"
	f := &fakeFulfiller{submitResp: &pipeline.Response{OK: true, Message: "Accepted", RepoURL: &repo}}
	s := newTestServer(f, Config{})

	w := do(t, s.Handler(), http.MethodPost, "/api-endpoint", `{"email":"e"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"message":"Accepted","repo_url":"https://github.com/o/r","pages_url":null}`, w.Body.String())
	assert.Equal(t, `{"email":"e"}`, string(f.lastBody))
}

func TestErrorMapping(t *testing.T) {
	key := types.CorrelationKey{Email: "e", Task: "t", Round: 1, Nonce: "n"}
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing fields", &pipeline.MissingFieldsError{Fields: []string{"email"}}, http.StatusBadRequest, CodeMissingFields},
		{"secret mismatch", &pipeline.SecretMismatchError{Key: key}, http.StatusUnauthorized, CodeSecretMismatch},
		{"invalid payload", &pipeline.InvalidPayloadError{Err: errors.New("not an object")}, http.StatusBadRequest, CodeInvalidJSON},
		{"step failure", &pipeline.StepError{Step: "generate", Err: errors.New("boom")}, http.StatusInternalServerError, CodeInternal},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeFulfiller{submitErr: tt.err}, Config{})

			w := do(t, s.Handler(), http.MethodPost, "/api-endpoint", `{}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeBody(t, w)["error"])
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestErrorMapping_InternalHasDetail(t *testing.T) {
	s := newTestServer(&fakeFulfiller{submitErr: &pipeline.StepError{Step: "record_publication", Err: errors.New("disk full")}}, Config{})

	w := do(t, s.Handler(), http.MethodPost, "/api-endpoint", `{}`)

	body := decodeBody(t, w)
	assert.Equal(t, "record_publication: disk full", body["detail"])
}

func TestErrorMapping_MissingFieldsListed(t *testing.T) {
	s := newTestServer(&fakeFulfiller{submitErr: &pipeline.MissingFieldsError{Fields: []string{"task", "nonce"}}}, Config{})

	w := do(t, s.Handler(), http.MethodPost, "/api-endpoint", `{}`)

	assert.JSONEq(t, `{"error":"missing_fields","missing":["task","nonce"]}`, w.Body.String())
}

func TestReport_NoMatchingTask(t *testing.T) {
	f := &fakeFulfiller{reportErr: &pipeline.NoMatchingTaskError{}}
	s := newTestServer(f, Config{})

	w := do(t, s.Handler(), http.MethodPost, "/evaluation/notify", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"no_matching_task"}`, w.Body.String())
}

func TestReport_Success(t *testing.T) {
	s := newTestServer(&fakeFulfiller{}, Config{})

	w := do(t, s.Handler(), http.MethodPost, "/evaluation/notify", `{}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"message":"Repo recorded"}`, w.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeFulfiller{}, Config{})

	w := do(t, s.Handler(), http.MethodGet, "/api-endpoint", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(&fakeFulfiller{submitResp: &pipeline.Response{OK: true}}, Config{MaxBodyBytes: 16})

	w := do(t, s.Handler(), http.MethodPost, "/api-endpoint", strings.Repeat("x", 64))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, CodePayloadTooLarge, decodeBody(t, w)["error"])
}

func TestRecovery(t *testing.T) {
	s := newTestServer(&fakeFulfiller{panicMsg: "nil map"}, Config{})

	w := do(t, s.Handler(), http.MethodPost, "/api-endpoint", `{}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, CodeInternal, body["error"])
	assert.Equal(t, "nil map", body["detail"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(&fakeFulfiller{submitResp: &pipeline.Response{OK: true}},
		Config{RateLimit: ratelimit.NewConfig(true, 0.01, 2, "")})
	h := s.Handler()
	t.Cleanup(s.rateLimiter.Stop)

	for i := 0; i < 2; i++ {
		w := do(t, h, http.MethodPost, "/api-endpoint", `{}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := do(t, h, http.MethodPost, "/api-endpoint", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decodeBody(t, w)["error"])

	health := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, health.Code)
}

type recordingDrainer struct {
	drained bool
}

func (d *recordingDrainer) Drain(context.Context) error {
	d.drained = true
	return nil
}

type recordingCloser struct {
	closed bool
}

func (c *recordingCloser) Close() error {
	c.closed = true
	return nil
}

func TestServe_ShutdownDrainsAndCloses(t *testing.T) {
	drainer := &recordingDrainer{}
	closer := &recordingCloser{}
	s := New(Config{RateLimit: ratelimit.NewConfig(false, 0, 0, "")}, &fakeFulfiller{}, drainer, closer, observability.Discard())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, drainer.drained)
	assert.True(t, closer.closed)
}

// blockingFulfiller holds Submit open until released
type blockingFulfiller struct {
	fakeFulfiller
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFulfiller) Submit(context.Context, []byte) (*pipeline.Response, error) {
	close(f.entered)
	<-f.release
	return &pipeline.Response{OK: true, Message: "Accepted"}, nil
}

type orderedCloser struct {
	mu        sync.Mutex
	closed    bool
	submitted *bool
	afterDone bool
}

func (c *orderedCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.afterDone = *c.submitted
	return nil
}

func TestServe_StoreClosedAfterInflightRequests(t *testing.T) {
	fulfiller := &blockingFulfiller{entered: make(chan struct{}), release: make(chan struct{})}
	var submitted bool
	closer := &orderedCloser{submitted: &submitted}
	s := New(Config{
		ShutdownTimeout: 10 * time.Millisecond,
		DrainTimeout:    5 * time.Second,
		RateLimit:       ratelimit.NewConfig(false, 0, 0, ""),
	}, fulfiller, nil, closer, observability.Discard())
	// DrainTimeout raises the shutdown budget; pin it low to force the slow path
	s.shutdown = 10 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	respDone := make(chan struct{})
	go func() {
		defer close(respDone)
		resp, err := http.Post("http://"+ln.Addr().String()+"/api-endpoint", "application/json", strings.NewReader(`{}`))
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-fulfiller.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}
	cancel()

	time.Sleep(100 * time.Millisecond)
	closer.mu.Lock()
	assert.False(t, closer.closed, "store closed while a request was running")
	closer.mu.Unlock()

	closer.mu.Lock()
	submitted = true
	closer.mu.Unlock()
	close(fulfiller.release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	<-respDone
	closer.mu.Lock()
	defer closer.mu.Unlock()
	assert.True(t, closer.closed)
	assert.True(t, closer.afterDone)
}

func TestNew_ShutdownTimeoutCoversDrain(t *testing.T) {
	limits := ratelimit.NewConfig(false, 0, 0, "")
	s := New(Config{DrainTimeout: time.Minute, RateLimit: limits}, &fakeFulfiller{}, nil, nil, observability.Discard())
	assert.Equal(t, time.Minute, s.shutdown)

	s = New(Config{RateLimit: limits}, &fakeFulfiller{}, nil, nil, observability.Discard())
	assert.Equal(t, defaultShutdownTimeout, s.shutdown)
}

// TestEndToEnd drives a real pipeline over HTTP: SQLite store, embedded
// template, dry-run target, and a local evaluation receiver.
func TestEndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		received []types.EvaluationPayload
	)
	evaluator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p types.EvaluationPayload
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &p)
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer evaluator.Close()

	ctx := context.Background()
	store, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "deploy.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	target, err := publish.NewDryRun(t.TempDir())
	require.NoError(t, err)

	logger := observability.Discard()
	background := pipeline.NewBackground(logger)
	p := pipeline.New(store, generator.Default(logger), target, notify.New(logger), background,
		pipeline.Options{SharedSecret: "s3cret", NotifyMaxAttempts: 3}, logger)
	s := newTestServer(p, Config{MaxBodyBytes: 1 << 20})
	h := s.Handler()

	request := `{"email":"e@x.io","secret":"s3cret","task":"demo","round":1,"nonce":"n1",
		"brief":"Show the brief","checks":[],"evaluation_url":"` + evaluator.URL + `","attachments":[]}`

	w := do(t, h, http.MethodPost, "/api-endpoint", request)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.True(t, strings.HasPrefix(body["repo_url"].(string), "file://"))

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, background.Drain(drainCtx))

	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, "demo", received[0].Task)
	assert.Equal(t, body["repo_url"], *received[0].RepoURL)
	mu.Unlock()

	bad := strings.Replace(request, `"secret":"s3cret"`, `"secret":"nope"`, 1)
	w = do(t, h, http.MethodPost, "/api-endpoint", bad)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/evaluation/notify",
		`{"email":"e@x.io","task":"demo","round":1,"nonce":"n1","repo_url":"https://github.com/o/r","commit_sha":"abc","pages_url":null}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/evaluation/notify", `{"email":"e@x.io","task":"demo","round":9,"nonce":"n1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	pubs, err := store.ListPublications(ctx)
	require.NoError(t, err)
	assert.Len(t, pubs, 2)
}
