package poller

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/JakeFAU/repothread/internal/repothread"
)

// PhaseKind tags the variant held by a Phase.
type PhaseKind string

// Phase variants.
const (
	PhaseIdle       PhaseKind = "idle"
	PhaseSubmitting PhaseKind = "submitting"
	PhasePolling    PhaseKind = "polling"
	PhaseSucceeded  PhaseKind = "succeeded"
	PhaseFailed     PhaseKind = "failed"
	PhaseTimedOut   PhaseKind = "timed_out"
)

// Phase is a snapshot of a Session. Only the fields of the current variant
// are set: JobID, Op and Progress while polling, Result on success, Message on
// failure or timeout.
type Phase struct {
	Kind       PhaseKind
	Generation uint64
	Op         repothread.OperationKind
	JobID      string
	Progress   string
	Result     string
	Message    string
}

// Terminal reports whether the phase ends a chain.
func (p Phase) Terminal() bool {
	switch p.Kind {
	case PhaseSucceeded, PhaseFailed, PhaseTimedOut:
		return true
	default:
		return false
	}
}

// SubmitFunc starts a job and returns its submission.
type SubmitFunc func(ctx context.Context) (repothread.Submission, error)

// Session runs one submit-then-poll chain at a time. Starting a new chain
// cancels the previous one, and transitions from a superseded chain are
// dropped.
type Session struct {
	poller *Poller

	notifyMu sync.Mutex

	mu     sync.Mutex
	phase  Phase
	gen    uint64
	cancel context.CancelFunc
	subs   []func(Phase)
}

// NewSession returns an idle Session driven by p.
func NewSession(p *Poller) *Session {
	return &Session{poller: p, phase: Phase{Kind: PhaseIdle}}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Subscribe registers fn to receive every applied transition. fn runs on the
// chain's goroutine and must not call Start or Stop.
func (s *Session) Subscribe(fn func(Phase)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Start cancels any running chain and begins a new one for kind. The returned
// channel receives the terminal phase of this chain, or is closed empty if the
// chain is superseded or ctx ends first.
func (s *Session) Start(ctx context.Context, kind repothread.OperationKind, submit SubmitFunc) <-chan Phase {
	chainCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	done := make(chan Phase, 1)
	s.apply(gen, Phase{Kind: PhaseSubmitting, Op: kind})

	go func() {
		defer close(done)
		defer cancel()
		final, ok := s.run(chainCtx, gen, kind, submit)
		if ok {
			done <- final
		}
	}()
	return done
}

// Stop cancels the running chain and returns the session to idle.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.apply(gen, Phase{Kind: PhaseIdle})
}

func (s *Session) run(ctx context.Context, gen uint64, kind repothread.OperationKind, submit SubmitFunc) (Phase, bool) {
	sub, err := submit(ctx)
	if err != nil {
		return s.finish(ctx, gen, kind, "", err)
	}
	if sub.JobID == "" {
		return s.finish(ctx, gen, kind, sub.Result, nil)
	}
	if !s.apply(gen, Phase{Kind: PhasePolling, Op: kind, JobID: sub.JobID}) {
		return Phase{}, false
	}
	result, err := s.poller.Poll(ctx, kind, sub.JobID, func(label string) {
		s.apply(gen, Phase{Kind: PhasePolling, Op: kind, JobID: sub.JobID, Progress: label})
	})
	return s.finish(ctx, gen, kind, result, err)
}

func (s *Session) finish(ctx context.Context, gen uint64, kind repothread.OperationKind, result string, err error) (Phase, bool) {
	var next Phase
	switch {
	case err == nil:
		next = Phase{Kind: PhaseSucceeded, Op: kind, Result: result}
	case ctx.Err() != nil:
		s.apply(gen, Phase{Kind: PhaseIdle})
		return Phase{}, false
	case errors.Is(err, ErrTimedOut):
		next = Phase{Kind: PhaseTimedOut, Op: kind, Message: messageFor(err)}
	default:
		next = Phase{Kind: PhaseFailed, Op: kind, Message: messageFor(err)}
	}
	if !s.apply(gen, next) {
		return Phase{}, false
	}
	next.Generation = gen
	return next, true
}

// apply installs next if gen is still current and notifies subscribers.
func (s *Session) apply(gen uint64, next Phase) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	next.Generation = gen
	s.phase = next
	subs := slices.Clone(s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return true
}

// messageFor extracts the user-facing text from err.
func messageFor(err error) string {
	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return messageFor(queryErr.Err)
	}
	var failed *JobFailedError
	if errors.As(err, &failed) {
		return failed.Error()
	}
	var gwErr *repothread.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return err.Error()
}
