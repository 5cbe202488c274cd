// Package backend implements the HTTP client for the external analysis service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repothread/internal/logging"
	"github.com/JakeFAU/repothread/internal/metrics"
	"github.com/JakeFAU/repothread/internal/repothread"
)

const maxResponseBytes = 10 << 20

// Config controls Client behavior.
type Config struct {
	BaseURL        string
	AnalyzeTimeout time.Duration
	ConvertTimeout time.Duration
	StatusTimeout  time.Duration
	AnalyzeMode    repothread.Mode
	ConvertMode    repothread.Mode
	HTTPClient     *http.Client
}

// Client forwards operations to the analysis service. It holds no per-request
// state and is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	cfg     Config
	http    *http.Client
	logger  *zap.Logger
}

var _ repothread.Backend = (*Client)(nil)

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http(s), got %q", cfg.BaseURL)
	}
	if cfg.AnalyzeMode == "" {
		cfg.AnalyzeMode = repothread.ModeAsync
	}
	if cfg.ConvertMode == "" {
		cfg.ConvertMode = repothread.ModeAsync
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: base,
		cfg:     cfg,
		http:    httpClient,
		logger:  logger,
	}, nil
}

type analyzePayload struct {
	RepoURL string `json:"repo_url"`
}

type convertPayload struct {
	BlogContent string `json:"blog_content"`
	NumTweets   int    `json:"num_tweets"`
}

// Analyze submits a repository URL.
func (c *Client) Analyze(ctx context.Context, repoURL string) (repothread.Submission, error) {
	return c.submit(ctx, analyzeCall, c.cfg.AnalyzeTimeout, c.cfg.AnalyzeMode, analyzePayload{RepoURL: repoURL})
}

// Convert submits blog text for thread generation.
func (c *Client) Convert(ctx context.Context, blog string, numTweets int) (repothread.Submission, error) {
	payload := convertPayload{BlogContent: blog, NumTweets: numTweets}
	return c.submit(ctx, convertCall, c.cfg.ConvertTimeout, c.cfg.ConvertMode, payload)
}

// JobStatus looks up a job. Repeated lookups do not mutate backend state.
func (c *Client) JobStatus(ctx context.Context, jobID string) (repothread.Job, error) {
	req, err := http.NewRequest(http.MethodGet, c.endpoint("/jobs/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return repothread.Job{}, fmt.Errorf("build status request: %w", err)
	}
	body, err := c.do(ctx, statusCall, c.cfg.StatusTimeout, req)
	if err != nil {
		return repothread.Job{}, err
	}
	var job repothread.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return repothread.Job{}, repothread.UpstreamError(statusCall.generic, fmt.Errorf("decode job status: %w", err))
	}
	if job.Status == "" {
		return repothread.Job{}, repothread.UpstreamError(statusCall.generic, errors.New("job status missing from response"))
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// Ping checks that the backend answers at all. Any non-5xx response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequest(http.MethodGet, c.endpoint("/"), nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping backend: %w", err)
	}
	defer closeBody(resp.Body, c.logger)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("ping backend: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) submit(
	ctx context.Context,
	call call,
	timeout time.Duration,
	mode repothread.Mode,
	payload any,
) (repothread.Submission, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return repothread.Submission{}, fmt.Errorf("encode %s payload: %w", call.name, err)
	}
	req, err := http.NewRequest(http.MethodPost, c.endpoint(call.path), bytes.NewReader(data))
	if err != nil {
		return repothread.Submission{}, fmt.Errorf("build %s request: %w", call.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(ctx, call, timeout, req)
	if err != nil {
		return repothread.Submission{}, err
	}
	if mode == repothread.ModeSync {
		return decodeSyncResult(call, body)
	}
	return decodeJobCreated(call, body)
}

// do executes req under its own deadline. The deadline's timer is released on
// every return path.
func (c *Client) do(ctx context.Context, call call, timeout time.Duration, req *http.Request) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger := logging.Operation(c.logger, call.name).With(zap.String("url", req.URL.String()))
	start := time.Now()

	body, err := c.roundTrip(ctx, call, req)
	metrics.ObserveUpstream(call.name, outcomeOf(err), time.Since(start))
	if err != nil {
		logger.Warn("backend call failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, err
	}
	logger.Debug("backend call succeeded", zap.Duration("elapsed", time.Since(start)))
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, call call, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classifyTransport(ctx, call, err)
	}
	defer closeBody(resp.Body, c.logger)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(ctx, call, err)
	}
	if resp.StatusCode == http.StatusNotFound && call.notFound != "" {
		return nil, repothread.NotFoundError(call.notFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := extractDetail(body)
		if msg == "" {
			msg = call.generic
		}
		return nil, repothread.UpstreamError(msg, fmt.Errorf("backend responded with status %d", resp.StatusCode))
	}
	return body, nil
}

// endpoint joins an already-escaped path onto the base URL.
func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.baseURL.String(), "/") + path
}

func classifyTransport(ctx context.Context, call call, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return repothread.TimeoutError(call.timeout, err)
	}
	return repothread.NetworkError(call.unreachable, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, repothread.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, repothread.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, repothread.ErrNetwork):
		return metrics.OutcomeNetwork
	default:
		return metrics.OutcomeUpstream
	}
}

func closeBody(body io.Closer, logger *zap.Logger) {
	if err := body.Close(); err != nil {
		logger.Debug("close backend response body", zap.Error(err))
	}
}
