package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/repothread/internal/repothread"
)

// call describes one backend endpoint and the client-facing messages used when
// it fails.
type call struct {
	name        string
	path        string
	resultField string
	generic     string
	timeout     string
	unreachable string
	notFound    string
}

var (
	analyzeCall = call{
		name:        string(repothread.KindAnalyze),
		path:        "/analyze",
		resultField: repothread.KindAnalyze.ResultField(),
		generic:     "Failed to analyze repository",
		timeout:     "Request timed out. Repository analysis is taking longer than expected; please try again.",
		unreachable: "Failed to reach analysis service",
	}
	convertCall = call{
		name:        string(repothread.KindConvert),
		path:        "/convert",
		resultField: repothread.KindConvert.ResultField(),
		generic:     "Failed to convert blog to thread",
		timeout:     "Request timed out. Thread generation is taking longer than expected; please try again.",
		unreachable: "Failed to reach thread service",
	}
	statusCall = call{
		name:        "status",
		path:        "/jobs",
		generic:     "Failed to fetch job status",
		timeout:     "Request timed out while checking job status.",
		unreachable: "Failed to reach job status service",
		notFound:    "Job not found",
	}
)

type jobCreated struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func decodeJobCreated(c call, body []byte) (repothread.Submission, error) {
	var created jobCreated
	if err := json.Unmarshal(body, &created); err != nil {
		return repothread.Submission{}, repothread.UpstreamError(c.generic, fmt.Errorf("decode %s response: %w", c.name, err))
	}
	if created.JobID == "" {
		return repothread.Submission{}, repothread.UpstreamError(c.generic, errors.New("job_id missing from response"))
	}
	return repothread.Submission{JobID: created.JobID}, nil
}

func decodeSyncResult(c call, body []byte) (repothread.Submission, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return repothread.Submission{}, repothread.UpstreamError(c.generic, fmt.Errorf("decode %s response: %w", c.name, err))
	}
	if raw, ok := fields["success"]; ok {
		var success bool
		if err := json.Unmarshal(raw, &success); err == nil && !success {
			msg := extractDetail(body)
			if msg == "" {
				msg = c.generic
			}
			return repothread.Submission{}, repothread.UpstreamError(msg, errors.New("backend reported success=false"))
		}
	}
	var text string
	if raw, ok := fields[c.resultField]; ok {
		if err := json.Unmarshal(raw, &text); err != nil {
			return repothread.Submission{}, repothread.UpstreamError(c.generic, fmt.Errorf("decode %s field: %w", c.resultField, err))
		}
	}
	text = StripFences(text)
	if text == "" {
		return repothread.Submission{}, repothread.UpstreamError(c.generic, fmt.Errorf("%s missing from response", c.resultField))
	}
	return repothread.Submission{Result: text}, nil
}

// StripFences removes markdown code fence markers that language models wrap
// around generated documents, then trims surrounding whitespace.
func StripFences(text string) string {
	text = strings.ReplaceAll(text, "```markdown", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// extractDetail pulls a human-readable message out of a backend error body.
// It understands {"detail": "..."}, {"detail": [{"msg": "..."}]}, and
// {"error": "..."}. It returns "" when none are present.
func extractDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
			return detail
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	return strings.TrimSpace(payload.Error)
}
