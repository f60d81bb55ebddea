package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"babybaton/internal/domain"
	"babybaton/internal/observe"
	"babybaton/internal/ports"
)

// InterpretMode selects what a finished capture is sent as.
type InterpretMode string

const (
	// InterpretModeAudio uploads the recording itself.
	InterpretModeAudio InterpretMode = "audio"
	// InterpretModeTranscript sends the live caption transcript as text.
	InterpretModeTranscript InterpretMode = "transcript"
)

// Config controls capture and pipeline behavior.
type Config struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	MinDuration    time.Duration
	Mode           InterpretMode
	RefreshTimeout time.Duration
}

// Dependencies are the collaborators of a Pipeline. Captions may be nil.
type Dependencies struct {
	Permission  ports.MicrophonePermission
	Audio       ports.AudioCapture
	Encoder     ports.ArtifactEncoder
	Captions    ports.TranscriptionProvider
	Interpreter *InterpretationClient
	Committer   *ActivityCommitClient
	Refresher   ports.SessionRefresher
	Events      ports.EventSink
}

// Pipeline orchestrates capture, interpretation, review and commit of one
// voice log at a time.
type Pipeline struct {
	deps   Dependencies
	cfg    Config
	store  *ReconciliationStore
	logger *slog.Logger

	recMu sync.Mutex
	rec   *recording
}

func NewPipeline(deps Dependencies, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.Mode == "" {
		cfg.Mode = InterpretModeAudio
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		store:  NewReconciliationStore(),
		logger: logger,
	}
}

// Start opens the microphone for a new attempt. Only valid when idle.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.start(ctx, false)
}

// ReRecord discards the review (or the in-flight interpretation) and starts
// a new capture.
func (p *Pipeline) ReRecord(ctx context.Context) error {
	return p.start(ctx, true)
}

func (p *Pipeline) start(ctx context.Context, rerecord bool) error {
	attempt, ticket, err := p.store.reserveStart(rerecord)
	if err != nil {
		return err
	}
	logger := p.logger.With("attempt", attempt.String())

	captureCtx, cancel := context.WithCancel(ctx)
	if !p.store.bind(ticket, cancel) {
		cancel()
		return ErrCancelled
	}

	granted, err := p.deps.Permission.Request(captureCtx)
	if err != nil || !granted {
		cancel()
		if err != nil {
			logger.Warn("microphone permission request failed", "err", err)
		}
		return p.failAttempt(ticket, domain.NewFailure(domain.ErrorCodePermissionDenied,
			"Microphone access is needed for voice logging. Allow it and try again.", err), domain.ReasonPermissionDenied)
	}

	if p.cfg.Mode == InterpretModeTranscript && p.deps.Captions == nil {
		cancel()
		return p.failAttempt(ticket, domain.NewFailure(domain.ErrorCodeStartup,
			"transcript mode needs a live transcription provider", nil), domain.ReasonCaptureFailed)
	}

	var stream ports.StreamingSession
	if p.deps.Captions != nil {
		stream, err = p.deps.Captions.StartStreaming(captureCtx, p.cfg.Streaming)
		if err != nil {
			if p.cfg.Mode == InterpretModeTranscript {
				cancel()
				return p.failAttempt(ticket, domain.NewFailure(domain.ErrorCodeTransport, "", err), domain.ReasonTransportFailed)
			}
			logger.Warn("live captions unavailable", "err", err)
			stream = nil
		}
	}

	session, err := p.deps.Audio.Start(captureCtx, p.cfg.Audio)
	if err != nil {
		if stream != nil {
			_ = stream.Close()
		}
		cancel()
		return p.failAttempt(ticket, domain.NewFailure(domain.ErrorCodeDevice, "", err), domain.ReasonCaptureFailed)
	}

	rec := newRecording(cancel, session, stream)
	rec.run(p.cfg.ChunkSize, p.deps.Events, logger)
	p.putRecording(rec)

	if !p.store.commitStart(ticket) {
		if taken := p.takeRecording(); taken != nil {
			taken.discard()
		}
		logger.Debug("capture superseded while opening the microphone")
		return ErrCancelled
	}

	reason := domain.ReasonRecordingStarted
	if rerecord {
		reason = domain.ReasonRecordingRestarted
	}
	logger.Info("recording started")
	p.emitState(domain.PipelineStateRecording, reason)
	return nil
}

// Stop finalizes the recording and interprets it. The returned review is the
// pipeline snapshot once the attempt has settled.
func (p *Pipeline) Stop(ctx context.Context) (domain.Review, error) {
	ticket, err := p.store.beginStop()
	if err != nil {
		return p.store.Snapshot(), err
	}
	rec := p.takeRecording()
	if rec == nil {
		return p.store.Snapshot(), ErrCancelled
	}

	pcm, transcript, readErr := rec.finish(ctx, p.cfg.StreamingGrace, p.logger)
	payload, failure := p.buildPayload(pcm, transcript, readErr)
	if failure != nil {
		err := p.failAttempt(ticket, failure, domain.ReasonNoRecording)
		return p.store.Snapshot(), err
	}

	if !p.store.advance(ticket, domain.PipelineStateRecording, domain.PipelineStateUploading) {
		return p.store.Snapshot(), ErrCancelled
	}
	p.emitState(domain.PipelineStateUploading, domain.ReasonUploading)
	return p.interpret(ctx, ticket, payload)
}

func (p *Pipeline) buildPayload(pcm []byte, transcript string, readErr error) (domain.InterpretPayload, *domain.Failure) {
	if p.cfg.Mode == InterpretModeTranscript {
		if strings.TrimSpace(transcript) == "" {
			return domain.InterpretPayload{}, domain.NewFailure(domain.ErrorCodeNoRecording, "No speech was recognized. Try again.", readErr)
		}
		return domain.InterpretPayload{Text: transcript}, nil
	}

	minBytes := int(p.cfg.MinDuration.Seconds() * float64(p.cfg.Audio.BytesPerSecond()))
	if len(pcm) == 0 || len(pcm) < minBytes {
		return domain.InterpretPayload{}, domain.NewFailure(domain.ErrorCodeNoRecording, "The recording was too short. Hold the button while speaking.", readErr)
	}
	artifact, err := p.deps.Encoder.Encode(pcm, p.cfg.Audio)
	if err != nil {
		return domain.InterpretPayload{}, domain.NewFailure(domain.ErrorCodeNoRecording, "", err)
	}
	if artifact.Empty() {
		return domain.InterpretPayload{}, domain.NewFailure(domain.ErrorCodeNoRecording, "The recording could not be saved.", readErr)
	}
	return domain.InterpretPayload{Artifact: &artifact}, nil
}

// SubmitText interprets a typed or dictated transcript without recording.
func (p *Pipeline) SubmitText(ctx context.Context, text string) (domain.Review, error) {
	if strings.TrimSpace(text) == "" {
		return p.store.Snapshot(), domain.NewFailure(domain.ErrorCodeNoRecording, "Say or type what happened first.", nil)
	}
	_, ticket, err := p.store.reserveText()
	if err != nil {
		return p.store.Snapshot(), err
	}
	p.emitState(domain.PipelineStateUploading, domain.ReasonUploading)
	return p.interpret(ctx, ticket, domain.InterpretPayload{Text: text})
}

func (p *Pipeline) interpret(ctx context.Context, ticket uuid.UUID, payload domain.InterpretPayload) (domain.Review, error) {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !p.store.bind(ticket, cancel) {
		return p.store.Snapshot(), ErrStaleAttempt
	}

	payload.OnSent = func() {
		if p.store.advance(ticket, domain.PipelineStateUploading, domain.PipelineStateInterpreting) {
			p.emitState(domain.PipelineStateInterpreting, domain.ReasonInterpreting)
		}
	}

	result, err := p.deps.Interpreter.Interpret(stepCtx, payload)
	if err != nil {
		failure, ok := domain.AsFailure(err)
		if !ok {
			failure = domain.NewFailure(domain.ErrorCodeTransport, "", err)
		}
		if ferr := p.failAttempt(ticket, failure, domain.ReasonTransportFailed); errors.Is(ferr, ErrStaleAttempt) {
			p.dropStale("interpret", err)
			return p.store.Snapshot(), ErrStaleAttempt
		}
		return p.store.Snapshot(), failure
	}

	if !p.store.settleInterpretation(ticket, result) {
		p.dropStale("interpret", nil)
		return p.store.Snapshot(), ErrStaleAttempt
	}

	p.emitState(domain.PipelineStateAwaitingConfirmation, result.Reason())
	review := p.store.Snapshot()
	p.deps.Events.ReviewReady(review)
	return review, nil
}

// Confirm commits the reviewed activities. An empty review is rejected
// without any call and without changing state.
func (p *Pipeline) Confirm(ctx context.Context) (domain.CommitResult, error) {
	ticket, reviewed, err := p.store.beginCommit()
	if err != nil {
		if errors.Is(err, ErrNothingToCommit) {
			p.deps.Events.PipelineError(domain.ErrorCodeNothingToCommit, "There is nothing to save. Record again or cancel.")
		}
		return domain.CommitResult{}, err
	}
	p.emitState(domain.PipelineStateCommitting, domain.ReasonCommitting)

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !p.store.bind(ticket, cancel) {
		return domain.CommitResult{}, ErrStaleAttempt
	}

	result, err := p.deps.Committer.Commit(stepCtx, reviewed.ParsedActivities)
	var failure *domain.Failure
	if err != nil {
		var ok bool
		if failure, ok = domain.AsFailure(err); !ok {
			failure = domain.NewFailure(domain.ErrorCodeTransport, "", err)
		}
	}

	switch p.store.settleCommit(ticket, reviewed, failure) {
	case commitApplied:
		p.emitState(domain.PipelineStateIdle, domain.ReasonCommitted)
		p.refreshSessions(ctx)
		return result, nil
	case commitLateSuccess:
		p.logger.Info("cancelled commit was accepted by the backend", "session", result.SessionID)
		p.emitState(domain.PipelineStateIdle, domain.ReasonCommitted)
		p.refreshSessions(ctx)
		return result, nil
	case commitFailed:
		p.logger.Warn("commit failed, review kept", "code", failure.Code, "err", err)
		observe.RecordFailure(string(failure.Code))
		p.emitState(domain.PipelineStateAwaitingConfirmation, domain.ReasonCommitFailed)
		p.deps.Events.PipelineError(failure.Code, failure.Message)
		p.deps.Events.ReviewReady(p.store.Snapshot())
		return domain.CommitResult{}, failure
	default:
		p.dropStale("commit", err)
		return domain.CommitResult{}, ErrStaleAttempt
	}
}

// refreshSessions re-fetches the current and recent session views together.
// A refresh failure is reported but does not undo the commit.
func (p *Pipeline) refreshSessions(ctx context.Context) {
	if p.deps.Refresher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RefreshTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "sessions.refresh")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.deps.Refresher.RefreshCurrentSession(gctx) })
	g.Go(func() error { return p.deps.Refresher.RefreshRecentSessions(gctx) })
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		p.logger.Warn("session refresh failed", "err", err)
		p.deps.Events.PipelineError(domain.ErrorCodeSessionRefresh, fmt.Sprintf("saved, but the session view could not be refreshed: %v", err))
	}
}

// Abort cancels whatever is in flight. It is safe in every state: idle is a
// no-op, a commit returns to review, anything else is torn down to idle.
func (p *Pipeline) Abort() {
	kind, prev := p.store.abort()
	switch kind {
	case abortNoop:
		return
	case abortCommit:
		p.logger.Info("commit cancelled, review kept")
		p.emitState(domain.PipelineStateAwaitingConfirmation, domain.ReasonCommitCancelled)
		p.deps.Events.ReviewReady(p.store.Snapshot())
		return
	}

	p.emitState(domain.PipelineStateCancelled, domain.ReasonRecordingDiscarded)
	if rec := p.takeRecording(); rec != nil {
		rec.discard()
	}
	if !p.store.finishAbort() {
		return
	}

	reason := domain.ReasonReviewDiscarded
	if prev == domain.PipelineStateIdle || prev == domain.PipelineStateRecording {
		reason = domain.ReasonRecordingDiscarded
	}
	p.emitState(domain.PipelineStateIdle, reason)
}

// Cancel discards the current review. It behaves exactly like Abort.
func (p *Pipeline) Cancel() {
	p.Abort()
}

// Acknowledge clears a failure and returns to idle.
func (p *Pipeline) Acknowledge() error {
	if err := p.store.acknowledge(); err != nil {
		return err
	}
	p.emitState(domain.PipelineStateIdle, domain.ReasonAcknowledged)
	return nil
}

// Snapshot returns the current review state.
func (p *Pipeline) Snapshot() domain.Review {
	return p.store.Snapshot()
}

// Status returns the current runtime status.
func (p *Pipeline) Status() domain.Status {
	review := p.store.Snapshot()
	status := domain.Status{State: review.State, Active: review.State != domain.PipelineStateIdle}
	if review.Failure != nil {
		status.Message = review.Failure.Message
	}
	return status
}

func (p *Pipeline) failAttempt(ticket uuid.UUID, failure *domain.Failure, reason domain.StateReason) error {
	if !p.store.fail(ticket, failure) {
		return ErrStaleAttempt
	}
	p.logger.Warn("attempt failed", "code", failure.Code, "err", failure)
	observe.RecordFailure(string(failure.Code))
	p.emitState(domain.PipelineStateError, reason)
	p.deps.Events.PipelineError(failure.Code, failure.Message)
	return failure
}

func (p *Pipeline) dropStale(step string, err error) {
	observe.RecordStaleResult(step)
	p.logger.Debug("dropping result of superseded attempt", "step", step, "err", err)
}

func (p *Pipeline) emitState(state domain.PipelineState, reason domain.StateReason) {
	observe.RecordTransition(string(state), string(reason))
	p.deps.Events.PipelineStateChanged(state, reason)
}

func (p *Pipeline) putRecording(rec *recording) {
	p.recMu.Lock()
	defer p.recMu.Unlock()
	p.rec = rec
}

func (p *Pipeline) takeRecording() *recording {
	p.recMu.Lock()
	defer p.recMu.Unlock()
	rec := p.rec
	p.rec = nil
	return rec
}
