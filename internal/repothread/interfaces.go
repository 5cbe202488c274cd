package repothread

import (
	"context"
	"time"
)

// Backend is the external analysis service.
type Backend interface {
	Analyze(ctx context.Context, repoURL string) (Submission, error)
	Convert(ctx context.Context, blog string, numTweets int) (Submission, error)
	JobStatus(ctx context.Context, jobID string) (Job, error)
	Ping(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// AdmissionPolicy decides whether a client may create another job now.
type AdmissionPolicy interface {
	Allow(key string) bool
}

// IDGenerator produces request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
