// Package client submits jobs to the gateway and queries their status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repothread/internal/repothread"
)

const (
	defaultTimeout = 300 * time.Second
	maxBodyBytes   = 10 << 20
)

// Config controls how the Client reaches the gateway.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	DefaultTweets int
	HTTPClient    *http.Client
}

// Client is the job submitter used by the CLI.
type Client struct {
	baseURL       string
	apiKey        string
	defaultTweets int
	http          *http.Client
	logger        *zap.Logger
}

// SubmissionError reports a rejected creation request.
type SubmissionError struct {
	Kind    repothread.OperationKind
	Status  int
	Message string
}

func (e *SubmissionError) Error() string {
	return e.Message
}

// StatusError reports a failed status query.
type StatusError struct {
	Kind    repothread.OperationKind
	JobID   string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

type envelope struct {
	Error       string               `json:"error"`
	JobID       string               `json:"job_id"`
	Status      repothread.JobStatus `json:"status"`
	Result      string               `json:"result"`
	ErrorDetail string               `json:"error_detail"`
	Blog        string               `json:"blog"`
	Thread      string               `json:"thread"`
}

// New validates cfg and returns a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url %q must use http or https", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	tweets := cfg.DefaultTweets
	if tweets <= 0 {
		tweets = repothread.DefaultNumTweets
	}
	return &Client{
		baseURL:       strings.TrimRight(u.String(), "/"),
		apiKey:        cfg.APIKey,
		defaultTweets: tweets,
		http:          httpClient,
		logger:        logger.Named("client"),
	}, nil
}

// SubmitAnalyze asks the gateway to analyze repoURL.
func (c *Client) SubmitAnalyze(ctx context.Context, repoURL string) (repothread.Submission, error) {
	return c.submit(ctx, repothread.KindAnalyze, repothread.AnalyzeRequest{RepoURL: repoURL})
}

// SubmitConvert asks the gateway to turn blog into a thread. A non-positive
// numTweets sends the default count.
func (c *Client) SubmitConvert(ctx context.Context, blog string, numTweets int) (repothread.Submission, error) {
	if numTweets <= 0 {
		numTweets = c.defaultTweets
	}
	return c.submit(ctx, repothread.KindConvert, repothread.ConvertRequest{Blog: blog, NumTweets: &numTweets})
}

// Status fetches the current state of jobID.
func (c *Client) Status(ctx context.Context, kind repothread.OperationKind, jobID string) (repothread.Job, error) {
	target := c.baseURL + kind.GatewayPath() + "?" + url.Values{"jobId": {jobID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return repothread.Job{}, fmt.Errorf("build status request: %w", err)
	}
	status, env, err := c.do(req)
	if err != nil {
		return repothread.Job{}, err
	}
	if status < 200 || status >= 300 {
		return repothread.Job{}, &StatusError{
			Kind:    kind,
			JobID:   jobID,
			Status:  status,
			Message: messageOr(env.Error, fmt.Sprintf("Failed to fetch %s job status", kind)),
		}
	}
	if env.Status == "" {
		return repothread.Job{}, &StatusError{
			Kind:    kind,
			JobID:   jobID,
			Status:  status,
			Message: "status response missing job status",
		}
	}
	id := env.JobID
	if id == "" {
		id = jobID
	}
	return repothread.Job{
		ID:     id,
		Kind:   kind,
		Status: env.Status,
		Result: env.Result,
		Error:  env.ErrorDetail,
	}, nil
}

func (c *Client) submit(ctx context.Context, kind repothread.OperationKind, payload any) (repothread.Submission, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return repothread.Submission{}, fmt.Errorf("encode %s request: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+kind.GatewayPath(), bytes.NewReader(body))
	if err != nil {
		return repothread.Submission{}, fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, env, err := c.do(req)
	if err != nil {
		return repothread.Submission{}, err
	}
	fallback := fmt.Sprintf("Failed to start %s job", kind)
	if status < 200 || status >= 300 {
		return repothread.Submission{}, &SubmissionError{Kind: kind, Status: status, Message: messageOr(env.Error, fallback)}
	}
	if env.JobID != "" {
		c.logger.Debug("job created", zap.String("operation", string(kind)), zap.String("job_id", env.JobID))
		return repothread.Submission{JobID: env.JobID}, nil
	}
	result := env.Blog
	if kind == repothread.KindConvert {
		result = env.Thread
	}
	if result == "" {
		return repothread.Submission{}, &SubmissionError{Kind: kind, Status: status, Message: fallback}
	}
	return repothread.Submission{Result: result}, nil
}

// do sends req and decodes the envelope. A body that is not JSON yields an
// empty envelope so the caller falls back to its generic message.
func (c *Client) do(req *http.Request) (int, envelope, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, envelope{}, ctxErr
		}
		return 0, envelope{}, repothread.NetworkError("Failed to reach gateway", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body failed", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, envelope{}, repothread.NetworkError("Failed to read gateway response", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("unexpected gateway body", zap.Int("status", resp.StatusCode), zap.Error(err))
		env = envelope{}
	}
	return resp.StatusCode, env, nil
}

func messageOr(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}
