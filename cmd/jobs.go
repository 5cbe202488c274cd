package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/repothread/internal/poller"
	"github.com/JakeFAU/repothread/internal/repothread"
)

// runJob drives one submit-then-poll chain and returns the job's text.
// Progress labels go to progress; the result is left to the caller.
func runJob(
	ctx context.Context,
	session *poller.Session,
	kind repothread.OperationKind,
	submit poller.SubmitFunc,
) (string, error) {
	final, ok := <-session.Start(ctx, kind, submit)
	if !ok {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s job was superseded", kind)
	}
	switch final.Kind {
	case poller.PhaseSucceeded:
		return strings.TrimSpace(final.Result), nil
	case poller.PhaseTimedOut:
		return "", fmt.Errorf("%s: %w", final.Message, poller.ErrTimedOut)
	default:
		return "", errors.New(final.Message)
	}
}

// reportProgress prints each new progress label to w.
func reportProgress(session *poller.Session, w io.Writer) {
	session.Subscribe(func(p poller.Phase) {
		switch p.Kind {
		case poller.PhaseSubmitting:
			fmt.Fprintf(w, "Submitting %s job...\n", p.Op)
		case poller.PhasePolling:
			if p.Progress != "" {
				fmt.Fprintln(w, p.Progress)
			} else {
				fmt.Fprintf(w, "Job %s accepted\n", p.JobID)
			}
		}
	})
}
