package domain

// PipelineState models the lifecycle of one capture attempt.
type PipelineState string

const (
	PipelineStateIdle                 PipelineState = "idle"
	PipelineStateRecording            PipelineState = "recording"
	PipelineStateUploading            PipelineState = "uploading"
	PipelineStateInterpreting         PipelineState = "interpreting"
	PipelineStateAwaitingConfirmation PipelineState = "awaiting_confirmation"
	PipelineStateCommitting           PipelineState = "committing"
	PipelineStateError                PipelineState = "error"
	PipelineStateCancelled            PipelineState = "cancelled"
)

// Busy reports whether a capture, interpretation or commit is in flight.
func (s PipelineState) Busy() bool {
	switch s {
	case PipelineStateRecording, PipelineStateUploading, PipelineStateInterpreting, PipelineStateCommitting, PipelineStateCancelled:
		return true
	default:
		return false
	}
}

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonMicCold                    StateReason = "mic_cold"
	ReasonRecordingStarted           StateReason = "recording_started"
	ReasonRecordingRestarted         StateReason = "recording_restarted"
	ReasonUploading                  StateReason = "uploading"
	ReasonInterpreting               StateReason = "interpreting"
	ReasonActivitiesParsed           StateReason = "activities_parsed"
	ReasonNothingRecognized          StateReason = "nothing_recognized"
	ReasonInterpretationUnsuccessful StateReason = "interpretation_unsuccessful"
	ReasonCommitting                 StateReason = "committing"
	ReasonCommitted                  StateReason = "committed"
	ReasonCommitFailed               StateReason = "commit_failed"
	ReasonCommitCancelled            StateReason = "commit_cancelled"
	ReasonRecordingDiscarded         StateReason = "recording_discarded"
	ReasonReviewDiscarded            StateReason = "review_discarded"
	ReasonPermissionDenied           StateReason = "permission_denied"
	ReasonCaptureFailed              StateReason = "capture_failed"
	ReasonNoRecording                StateReason = "no_recording"
	ReasonTransportFailed            StateReason = "transport_failed"
	ReasonAcknowledged               StateReason = "acknowledged"
)

// ErrorCode identifies caregiver-visible failures.
type ErrorCode string

const (
	ErrorCodeStartup          ErrorCode = "startup"
	ErrorCodePermissionDenied ErrorCode = "permission_denied"
	ErrorCodeDevice           ErrorCode = "device_error"
	ErrorCodeNoRecording      ErrorCode = "no_recording_produced"
	ErrorCodeTransport        ErrorCode = "transport_error"
	ErrorCodeCommitRejected   ErrorCode = "commit_rejected"
	ErrorCodeUnauthenticated  ErrorCode = "unauthenticated"
	ErrorCodeNothingToCommit  ErrorCode = "nothing_to_commit"
	ErrorCodeAudioStream      ErrorCode = "audio_stream"
	ErrorCodeSessionRefresh   ErrorCode = "session_refresh"
)

// TranscriptKind identifies whether a caption event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is incremental caption output from a streaming provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   PipelineState `json:"state"`
	Active  bool          `json:"active"`
	Message string        `json:"message,omitempty"`
}
