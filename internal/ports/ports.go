package ports

import (
	"context"
	"io"

	"babybaton/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// BytesPerSecond is the PCM byte rate of s16le audio in this configuration.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * 2
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// MicrophonePermission asks the platform (or the caregiver) for recording
// access. Implementations cache a grant.
type MicrophonePermission interface {
	Request(ctx context.Context) (bool, error)
}

// ArtifactEncoder packages captured PCM into an uploadable recording.
type ArtifactEncoder interface {
	Encode(pcm []byte, cfg AudioConfig) (domain.CaptureArtifact, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	Keywords       []string
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// IdentityProvider supplies the tenancy headers of the signed-in caregiver.
type IdentityProvider interface {
	Headers(ctx context.Context) (domain.TenancyHeaders, error)
}

// Interpreter exchanges one recording or transcript for proposed activities.
type Interpreter interface {
	Interpret(ctx context.Context, headers domain.TenancyHeaders, payload domain.InterpretPayload) (domain.InterpretationResult, error)
}

// ActivityCommitter writes a batch of approved activities.
type ActivityCommitter interface {
	CommitActivities(ctx context.Context, headers domain.TenancyHeaders, activities []domain.ActivityInput) (domain.CommitResult, error)
}

// SessionReader is the backend read API for care sessions.
type SessionReader interface {
	CurrentSession(ctx context.Context, headers domain.TenancyHeaders) (*domain.CareSession, error)
	RecentSessions(ctx context.Context, headers domain.TenancyHeaders, limit int) ([]domain.CareSession, error)
}

// SessionRefresher re-fetches the session views after a commit.
type SessionRefresher interface {
	RefreshCurrentSession(ctx context.Context) error
	RefreshRecentSessions(ctx context.Context) error
}

// TextNormalizer rewrites transcripts before interpretation.
type TextNormalizer interface {
	Apply(text string) (string, error)
}

// EventSink emits pipeline state/events to the UI.
type EventSink interface {
	PipelineStateChanged(state domain.PipelineState, reason domain.StateReason)
	PartialTranscript(text string)
	ReviewReady(review domain.Review)
	PipelineError(code domain.ErrorCode, detail string)
}

// SessionViewSink receives refreshed session views.
type SessionViewSink interface {
	SessionsRefreshed(snapshot domain.SessionSnapshot)
}
