package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/repothread/internal/logging"
	"github.com/JakeFAU/repothread/internal/metrics"
	"github.com/JakeFAU/repothread/internal/repothread"
)

const maxRequestBytes = 5 << 20

type jobCreatedResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

type jobStatusResponse struct {
	Success bool                 `json:"success"`
	JobID   string               `json:"job_id"`
	Status  repothread.JobStatus `json:"status"`
	Result  string               `json:"result,omitempty"`
	Error   string               `json:"error_detail,omitempty"`
}

func (s *Server) submitAnalyze(w http.ResponseWriter, r *http.Request) {
	kind := repothread.KindAnalyze
	var req repothread.AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, kind, err)
		return
	}
	repoURL := strings.TrimSpace(req.RepoURL)
	if repoURL == "" {
		s.fail(w, r, kind, repothread.ValidationError("Repository URL is required"))
		return
	}
	sub, err := s.backend.Analyze(r.Context(), repoURL)
	if err != nil {
		s.fail(w, r, kind, err)
		return
	}
	s.respondSubmission(w, r, kind, sub)
}

func (s *Server) submitConvert(w http.ResponseWriter, r *http.Request) {
	kind := repothread.KindConvert
	var req repothread.ConvertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, kind, err)
		return
	}
	if strings.TrimSpace(req.Blog) == "" {
		s.fail(w, r, kind, repothread.ValidationError("Blog content is required"))
		return
	}
	numTweets := s.cfg.Convert.DefaultTweets
	if req.NumTweets != nil {
		numTweets = *req.NumTweets
	}
	if numTweets <= 0 {
		s.fail(w, r, kind, repothread.ValidationError("numTweets must be positive"))
		return
	}
	sub, err := s.backend.Convert(r.Context(), req.Blog, numTweets)
	if err != nil {
		s.fail(w, r, kind, err)
		return
	}
	s.respondSubmission(w, r, kind, sub)
}

// jobStatus serves the status-query endpoint for kind. The backend's status
// and result are passed through unchanged.
func (s *Server) jobStatus(kind repothread.OperationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
		if jobID == "" {
			s.fail(w, r, kind, repothread.ValidationError("jobId is required"))
			return
		}
		job, err := s.backend.JobStatus(r.Context(), jobID)
		if err != nil {
			s.fail(w, r, kind, err)
			return
		}
		writeJSON(w, http.StatusOK, jobStatusResponse{
			Success: true,
			JobID:   job.ID,
			Status:  job.Status,
			Result:  job.Result,
			Error:   job.Error,
		})
	}
}

func (s *Server) respondSubmission(
	w http.ResponseWriter,
	r *http.Request,
	kind repothread.OperationKind,
	sub repothread.Submission,
) {
	if sub.JobID != "" {
		s.logger.Info("job submitted",
			zap.String("operation", string(kind)),
			zap.String("job_id", sub.JobID),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
		writeJSON(w, http.StatusAccepted, jobCreatedResponse{Success: true, JobID: sub.JobID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		kind.ResultField(): sub.Result,
	})
}

// fail normalizes err into the error envelope. Causes are logged, never sent.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, kind repothread.OperationKind, err error) {
	status, msg := repothread.StatusFor(err)
	log := logging.Operation(s.logger, string(kind))
	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, repothread.ErrValidation):
		metrics.ObserveValidationRejection(string(kind))
		log.Debug("request rejected", fields...)
	case status >= http.StatusInternalServerError:
		log.Error("request failed", fields...)
	default:
		log.Warn("request failed", fields...)
	}
	writeError(w, status, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		// An empty body decodes as an empty object.
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &repothread.GatewayError{
				Kind:    repothread.ErrValidation,
				Status:  http.StatusRequestEntityTooLarge,
				Message: "request body too large",
				Err:     err,
			}
		}
		return &repothread.GatewayError{
			Kind:    repothread.ErrValidation,
			Status:  http.StatusBadRequest,
			Message: "invalid JSON",
			Err:     err,
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
