package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"babybaton/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("action not allowed in the current pipeline state")
	ErrBusy              = errors.New("another capture is already in progress")
	ErrNothingToCommit   = errors.New("there are no parsed activities to commit")
	ErrStaleAttempt      = errors.New("attempt was superseded")
	ErrCancelled         = errors.New("attempt was cancelled")
)

// ReconciliationStore is the single source of truth for the pipeline state
// and the interpretation result under review. Every asynchronous step holds a
// ticket; a step may only settle while its ticket is current.
type ReconciliationStore struct {
	mu sync.Mutex

	state    domain.PipelineState
	starting bool
	stopping bool

	attempt uuid.UUID
	ticket  uuid.UUID
	cancel  context.CancelFunc

	result  *domain.InterpretationResult
	failure *domain.Failure
}

func NewReconciliationStore() *ReconciliationStore {
	return &ReconciliationStore{state: domain.PipelineStateIdle}
}

// State returns the current pipeline state.
func (s *ReconciliationStore) State() domain.PipelineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the state, attempt, result and last failure.
func (s *ReconciliationStore) Snapshot() domain.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ReconciliationStore) snapshotLocked() domain.Review {
	review := domain.Review{State: s.state, Failure: s.failure}
	if s.attempt != uuid.Nil {
		review.Attempt = s.attempt.String()
	}
	if s.result != nil {
		clone := s.result.Clone()
		review.Result = &clone
	}
	return review
}

// reserveStart claims the microphone for a new attempt. Any previous result
// is discarded first. With rerecord the current review or in-flight
// interpretation is superseded instead of requiring Idle.
func (s *ReconciliationStore) reserveStart(rerecord bool) (uuid.UUID, uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.starting || s.state == domain.PipelineStateRecording || s.state == domain.PipelineStateCancelled {
		return uuid.Nil, uuid.Nil, ErrBusy
	}
	switch s.state {
	case domain.PipelineStateIdle:
	case domain.PipelineStateAwaitingConfirmation, domain.PipelineStateUploading, domain.PipelineStateInterpreting:
		if !rerecord {
			return uuid.Nil, uuid.Nil, ErrInvalidTransition
		}
	default:
		return uuid.Nil, uuid.Nil, ErrInvalidTransition
	}

	s.invalidateLocked()
	s.state = domain.PipelineStateIdle
	s.starting = true
	s.result = nil
	s.failure = nil
	s.attempt = uuid.New()
	return s.attempt, s.ticket, nil
}

// reserveText moves an idle pipeline straight to Uploading for a transcript.
func (s *ReconciliationStore) reserveText() (uuid.UUID, uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.starting || s.state.Busy() {
		return uuid.Nil, uuid.Nil, ErrBusy
	}
	if s.state != domain.PipelineStateIdle {
		return uuid.Nil, uuid.Nil, ErrInvalidTransition
	}
	s.invalidateLocked()
	s.state = domain.PipelineStateUploading
	s.result = nil
	s.failure = nil
	s.attempt = uuid.New()
	return s.attempt, s.ticket, nil
}

// bind attaches the cancel func of the step holding ticket. It returns false,
// and leaves cancel to the caller, when the ticket is no longer current.
func (s *ReconciliationStore) bind(ticket uuid.UUID, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.ticket {
		return false
	}
	s.cancel = cancel
	return true
}

func (s *ReconciliationStore) commitStart(ticket uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.ticket || !s.starting {
		return false
	}
	s.starting = false
	s.state = domain.PipelineStateRecording
	return true
}

func (s *ReconciliationStore) beginStop() (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.PipelineStateRecording {
		return uuid.Nil, ErrInvalidTransition
	}
	if s.stopping {
		return uuid.Nil, ErrBusy
	}
	s.stopping = true
	return s.ticket, nil
}

// advance moves from one state to the next on behalf of ticket.
func (s *ReconciliationStore) advance(ticket uuid.UUID, from, to domain.PipelineState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.ticket || s.state != from {
		return false
	}
	if from == domain.PipelineStateRecording {
		s.stopping = false
	}
	s.state = to
	return true
}

// settleInterpretation stores result for review. A result is stored even when
// it is unsuccessful or empty; Confirm gates on it instead.
func (s *ReconciliationStore) settleInterpretation(ticket uuid.UUID, result domain.InterpretationResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.ticket {
		return false
	}
	if s.state != domain.PipelineStateUploading && s.state != domain.PipelineStateInterpreting {
		return false
	}
	clone := result.Clone()
	s.result = &clone
	s.failure = nil
	s.cancel = nil
	s.state = domain.PipelineStateAwaitingConfirmation
	return true
}

// fail moves the attempt held by ticket to Error. Any partial result is dropped.
func (s *ReconciliationStore) fail(ticket uuid.UUID, failure *domain.Failure) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket != s.ticket {
		return false
	}
	s.starting = false
	s.stopping = false
	s.cancel = nil
	s.result = nil
	s.failure = failure
	s.state = domain.PipelineStateError
	return true
}

// beginCommit moves a confirmable review to Committing under a fresh ticket.
// The returned result is the stored pointer, used to recognise the same
// review when a cancelled commit still succeeds.
func (s *ReconciliationStore) beginCommit() (uuid.UUID, *domain.InterpretationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.PipelineStateAwaitingConfirmation:
	case domain.PipelineStateCommitting:
		return uuid.Nil, nil, ErrBusy
	default:
		return uuid.Nil, nil, ErrInvalidTransition
	}
	if s.result == nil || !s.result.Committable() {
		return uuid.Nil, nil, ErrNothingToCommit
	}
	s.invalidateLocked()
	s.failure = nil
	s.state = domain.PipelineStateCommitting
	return s.ticket, s.result, nil
}

type commitOutcome int

const (
	commitApplied commitOutcome = iota
	commitFailed
	commitLateSuccess
	commitDropped
)

// settleCommit applies the outcome of the commit holding ticket.
func (s *ReconciliationStore) settleCommit(ticket uuid.UUID, committed *domain.InterpretationResult, failure *domain.Failure) commitOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket == s.ticket && s.state == domain.PipelineStateCommitting {
		s.cancel = nil
		if failure != nil {
			s.failure = failure
			s.state = domain.PipelineStateAwaitingConfirmation
			return commitFailed
		}
		s.result = nil
		s.failure = nil
		s.attempt = uuid.Nil
		s.state = domain.PipelineStateIdle
		return commitApplied
	}

	// The commit was cancelled but the backend accepted it anyway. The same
	// review must not be offered for a second commit.
	if failure == nil && s.result == committed {
		if s.state == domain.PipelineStateCommitting {
			s.invalidateLocked()
		}
		if s.state == domain.PipelineStateAwaitingConfirmation || s.state == domain.PipelineStateCommitting {
			s.result = nil
			s.failure = nil
			s.attempt = uuid.Nil
			s.state = domain.PipelineStateIdle
			return commitLateSuccess
		}
	}
	return commitDropped
}

type abortKind int

const (
	abortNoop abortKind = iota
	abortCommit
	abortTeardown
)

// abort supersedes whatever is in flight. A commit returns to review; every
// other non-idle state enters Cancelled until finishAbort.
func (s *ReconciliationStore) abort() (abortKind, domain.PipelineState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	switch {
	case s.state == domain.PipelineStateIdle && !s.starting:
		return abortNoop, prev
	case s.state == domain.PipelineStateCancelled:
		return abortNoop, prev
	case s.state == domain.PipelineStateCommitting:
		s.invalidateLocked()
		s.state = domain.PipelineStateAwaitingConfirmation
		return abortCommit, prev
	}

	s.invalidateLocked()
	s.starting = false
	s.stopping = false
	s.state = domain.PipelineStateCancelled
	return abortTeardown, prev
}

func (s *ReconciliationStore) finishAbort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.PipelineStateCancelled {
		return false
	}
	s.result = nil
	s.failure = nil
	s.attempt = uuid.Nil
	s.state = domain.PipelineStateIdle
	return true
}

func (s *ReconciliationStore) acknowledge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.PipelineStateError {
		return ErrInvalidTransition
	}
	s.failure = nil
	s.attempt = uuid.Nil
	s.state = domain.PipelineStateIdle
	return nil
}

// invalidateLocked cancels the in-flight step and issues a new ticket.
func (s *ReconciliationStore) invalidateLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.ticket = uuid.New()
}
