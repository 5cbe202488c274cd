package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/repothread/internal/backend"
	"github.com/JakeFAU/repothread/internal/config"
	"github.com/JakeFAU/repothread/internal/repothread"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Analyze(ctx context.Context, repoURL string) (repothread.Submission, error) {
	args := m.Called(ctx, repoURL)
	return args.Get(0).(repothread.Submission), args.Error(1)
}

func (m *mockBackend) Convert(ctx context.Context, blog string, numTweets int) (repothread.Submission, error) {
	args := m.Called(ctx, blog, numTweets)
	return args.Get(0).(repothread.Submission), args.Error(1)
}

func (m *mockBackend) JobStatus(ctx context.Context, jobID string) (repothread.Job, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(repothread.Job), args.Error(1)
}

func (m *mockBackend) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeIDGen struct{}

func (fakeIDGen) NewID() (string, error) { return "req-1", nil }

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30},
		Backend: config.BackendConfig{
			BaseURL:               "http://localhost:8000",
			AnalyzeTimeoutSeconds: 290,
			ConvertTimeoutSeconds: 290,
			StatusTimeoutSeconds:  30,
			AnalyzeMode:           "async",
			ConvertMode:           "async",
		},
		Convert: config.ConvertConfig{DefaultTweets: repothread.DefaultNumTweets},
		Poller:  config.PollerConfig{IntervalSeconds: 5},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

func serve(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope checks that a response is exactly one of the success or
// error shapes and returns its body.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	if rec.Code >= 200 && rec.Code < 300 {
		require.Equal(t, true, body["success"])
		require.NotContains(t, body, "error")
	} else {
		require.NotContains(t, body, "success")
		msg, ok := body["error"].(string)
		require.True(t, ok, "error envelope must carry a string message")
		require.NotEmpty(t, msg)
	}
	return body
}

func TestServer_SubmitAnalyze_ReturnsJobID(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("Analyze", mock.Anything, "https://github.com/acme/widgets").
		Return(repothread.Submission{JobID: "abc123"}, nil).Once()
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/api/analyze", `{"repoUrl":" https://github.com/acme/widgets "}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeEnvelope(t, rec)
	require.Equal(t, "abc123", body["job_id"])
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	be.AssertExpectations(t)
}

func TestServer_SubmitAnalyze_ValidationBeforeOutboundCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
		code int
	}{
		{"missing field", `{}`, "Repository URL is required", http.StatusBadRequest},
		{"empty body", "", "Repository URL is required", http.StatusBadRequest},
		{"empty field", `{"repoUrl":""}`, "Repository URL is required", http.StatusBadRequest},
		{"blank field", `{"repoUrl":"   "}`, "Repository URL is required", http.StatusBadRequest},
		{"invalid json", `{invalid`, "invalid JSON", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			be := &mockBackend{}
			srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

			rec := serve(t, srv, http.MethodPost, "/api/analyze", tt.body)

			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, tt.want, decodeEnvelope(t, rec)["error"])
			be.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
		})
	}
}

func TestServer_SubmitConvert_DefaultsTweetCount(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("Convert", mock.Anything, "# Blog", repothread.DefaultNumTweets).
		Return(repothread.Submission{JobID: "thread-1"}, nil).Once()
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/api/convert-thread", `{"blog":"# Blog"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "thread-1", decodeEnvelope(t, rec)["job_id"])
	be.AssertExpectations(t)
}

func TestServer_SubmitConvert_ExplicitTweetCount(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("Convert", mock.Anything, "# Blog", 6).
		Return(repothread.Submission{JobID: "thread-2"}, nil).Once()
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/api/convert-thread", `{"blog":"# Blog","numTweets":6}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	be.AssertExpectations(t)
}

func TestServer_SubmitConvert_RejectsNonPositiveTweetCount(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/api/convert-thread", `{"blog":"# Blog","numTweets":0}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "numTweets must be positive", decodeEnvelope(t, rec)["error"])
	be.AssertNotCalled(t, "Convert", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_SubmitConvert_EmptyBlogMakesNoOutboundCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"job_id":"should-not-happen"}`))
	}))
	defer upstream.Close()
	srv := newIntegrationServer(t, upstream, nil)

	for _, body := range []string{`{"blog":""}`, `{}`, ""} {
		rec := serve(t, srv, http.MethodPost, "/api/convert-thread", body)

		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		require.Equal(t, "Blog content is required", decodeEnvelope(t, rec)["error"], "body %q", body)
	}
	require.Zero(t, calls.Load())
}

func TestServer_SubmitSyncModeReturnsResultField(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("Convert", mock.Anything, "# Blog", 14).
		Return(repothread.Submission{Result: "1/ first tweet"}, nil).Once()
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/api/convert-thread", `{"blog":"# Blog"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	require.Equal(t, "1/ first tweet", body["thread"])
	require.NotContains(t, body, "job_id")
}

func TestServer_SubmitAnalyze_NormalizesBackendErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"upstream", repothread.UpstreamError("LLM quota exceeded", errors.New("status 500")), http.StatusInternalServerError, "LLM quota exceeded"},
		{"timeout", repothread.TimeoutError("Request timed out.", context.DeadlineExceeded), http.StatusGatewayTimeout, "Request timed out."},
		{"network", repothread.NetworkError("Failed to reach analysis service", errors.New("dial tcp")), http.StatusInternalServerError, "Failed to reach analysis service"},
		{"raw", errors.New("Traceback: something exploded"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			be := &mockBackend{}
			be.On("Analyze", mock.Anything, mock.Anything).Return(repothread.Submission{}, tt.err).Once()
			srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

			rec := serve(t, srv, http.MethodPost, "/api/analyze", `{"repoUrl":"https://github.com/acme/widgets"}`)

			require.Equal(t, tt.code, rec.Code)
			require.Equal(t, tt.msg, decodeEnvelope(t, rec)["error"])
		})
	}
}

func TestServer_ConvertTimeoutEndToEnd(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()
	srv := newIntegrationServer(t, upstream, func(c *backend.Config) { c.ConvertTimeout = 50 * time.Millisecond })

	rec := serve(t, srv, http.MethodPost, "/api/convert-thread", `{"blog":"# Blog","numTweets":14}`)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	msg := decodeEnvelope(t, rec)["error"].(string)
	require.Contains(t, msg, "timed out")
}

func TestServer_JobStatus_RequiresJobID(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	for _, target := range []string{"/api/analyze", "/api/convert-thread?jobId="} {
		rec := serve(t, srv, http.MethodGet, target, "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "jobId is required", decodeEnvelope(t, rec)["error"])
	}
	be.AssertNotCalled(t, "JobStatus", mock.Anything, mock.Anything)
}

func TestServer_JobStatus_PassesThroughAndIsIdempotent(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("JobStatus", mock.Anything, "abc123").
		Return(repothread.Job{ID: "abc123", Status: repothread.JobStatusCompleted, Result: "# Blog"}, nil)
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	first := serve(t, srv, http.MethodGet, "/api/analyze?jobId=abc123", "")
	second := serve(t, srv, http.MethodGet, "/api/analyze?jobId=abc123", "")

	require.Equal(t, http.StatusOK, first.Code)
	body := decodeEnvelope(t, first)
	require.Equal(t, "completed", body["status"])
	require.Equal(t, "# Blog", body["result"])
	require.Equal(t, first.Body.String(), second.Body.String())
	be.AssertNumberOfCalls(t, "JobStatus", 2)
}

func TestServer_JobStatus_PendingOmitsResult(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("JobStatus", mock.Anything, "t-1").
		Return(repothread.Job{ID: "t-1", Status: repothread.JobStatusPending}, nil).Once()
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodGet, "/api/convert-thread?jobId=t-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	require.Equal(t, "pending", body["status"])
	require.NotContains(t, body, "result")
}

func TestServer_JobStatus_NotFound(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("JobStatus", mock.Anything, "gone").Return(repothread.Job{}, repothread.NotFoundError("Job not found")).Once()
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodGet, "/api/analyze?jobId=gone", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Job not found", decodeEnvelope(t, rec)["error"])
}

func TestServer_AuthEnabled(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("Analyze", mock.Anything, mock.Anything).Return(repothread.Submission{JobID: "j"}, nil)
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	srv := NewServer(be, fakeIDGen{}, cfg, zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/api/analyze", `{"repoUrl":"https://github.com/acme/widgets"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	decodeEnvelope(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewBufferString(`{"repoUrl":"https://github.com/acme/widgets"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimitCreationEndpoints(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("Analyze", mock.Anything, mock.Anything).Return(repothread.Submission{JobID: "j"}, nil).Once()
	be.On("JobStatus", mock.Anything, "j").Return(repothread.Job{ID: "j", Status: repothread.JobStatusPending}, nil)
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	srv := NewServer(be, fakeIDGen{}, cfg, zap.NewNop())

	first := serve(t, srv, http.MethodPost, "/api/analyze", `{"repoUrl":"https://github.com/acme/widgets"}`)
	second := serve(t, srv, http.MethodPost, "/api/analyze", `{"repoUrl":"https://github.com/acme/widgets"}`)
	status := serve(t, srv, http.MethodGet, "/api/analyze?jobId=j", "")

	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	decodeEnvelope(t, second)
	require.Equal(t, http.StatusOK, status.Code)
	be.AssertExpectations(t)
}

func TestServer_UnknownRouteAndMethod(t *testing.T) {
	t.Parallel()

	srv := NewServer(&mockBackend{}, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodGet, "/api/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	decodeEnvelope(t, rec)

	rec = serve(t, srv, http.MethodPut, "/api/analyze", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	decodeEnvelope(t, rec)
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	be.On("Analyze", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())

	rec := serve(t, srv, http.MethodPost, "/api/analyze", `{"repoUrl":"https://github.com/acme/widgets"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal server error", decodeEnvelope(t, rec)["error"])
}

// scrapeCounter reads one sample from the /metrics exposition.
func scrapeCounter(t *testing.T, srv *Server, sample string) float64 {
	t.Helper()
	rec := serve(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if value, ok := strings.CutPrefix(line, sample+" "); ok {
			v, err := strconv.ParseFloat(value, 64)
			require.NoError(t, err)
			return v
		}
	}
	return 0
}

// Not parallel: reads a process-wide counter.
func TestServer_RecoveredPanicIsCounted(t *testing.T) {
	be := &mockBackend{}
	be.On("Analyze", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())
	const sample = `http_requests_total{code="500",method="POST"}`
	before := scrapeCounter(t, srv, sample)

	rec := serve(t, srv, http.MethodPost, "/api/analyze", `{"repoUrl":"https://github.com/acme/widgets"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, before+1, scrapeCounter(t, srv, sample))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	be := &mockBackend{}
	srv := NewServer(be, fakeIDGen{}, testConfig(), zap.NewNop())
	require.Equal(t, http.StatusOK, serve(t, srv, http.MethodGet, "/readyz", "").Code)
	be.AssertNotCalled(t, "Ping", mock.Anything)

	failing := &mockBackend{}
	failing.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()
	cfg := testConfig()
	cfg.Backend.ReadyCheck = true
	srv = NewServer(failing, fakeIDGen{}, cfg, zap.NewNop())

	rec := serve(t, srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "backend unavailable", decodeEnvelope(t, rec)["error"])
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	srv := NewServer(&mockBackend{}, fakeIDGen{}, testConfig(), zap.NewNop())
	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(&mockBackend{}, fakeIDGen{}, testConfig(), zap.NewNop())
	serve(t, srv, http.MethodGet, "/healthz", "")

	rec := serve(t, srv, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func newIntegrationServer(t *testing.T, upstream *httptest.Server, mutate func(*backend.Config)) *Server {
	t.Helper()
	cfg := backend.Config{
		BaseURL:        upstream.URL,
		AnalyzeTimeout: 5 * time.Second,
		ConvertTimeout: 5 * time.Second,
		StatusTimeout:  5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := backend.New(cfg, zap.NewNop())
	require.NoError(t, err)
	return NewServer(client, fakeIDGen{}, testConfig(), zap.NewNop())
}
