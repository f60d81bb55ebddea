package domain

import "slices"

// CaptureArtifact is a finished recording ready for upload. It is used for
// exactly one interpretation call and then dropped.
type CaptureArtifact struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Empty reports whether the artifact carries no audio.
func (a CaptureArtifact) Empty() bool {
	return len(a.Data) == 0
}

// InterpretPayload is the input of one interpretation call: either an audio
// artifact or a literal transcript.
type InterpretPayload struct {
	Artifact *CaptureArtifact
	Text     string

	// OnSent, when set, is invoked once the request body has been handed to
	// the transport in full.
	OnSent func()
}

// IsText reports whether the payload uses the text variant.
func (p InterpretPayload) IsText() bool {
	return p.Artifact == nil
}

// InterpretationResult is the backend's reading of one capture.
type InterpretationResult struct {
	Success          bool             `json:"success"`
	RawText          string           `json:"rawText"`
	ParsedActivities []ParsedActivity `json:"-"`
	Warnings         []string         `json:"warnings"`
}

// Committable reports whether the result may be confirmed. An empty activity
// list is never committable, whatever the success flag says.
func (r InterpretationResult) Committable() bool {
	return len(r.ParsedActivities) > 0
}

// Clone returns a copy whose slices do not alias r.
func (r InterpretationResult) Clone() InterpretationResult {
	r.ParsedActivities = slices.Clone(r.ParsedActivities)
	r.Warnings = slices.Clone(r.Warnings)
	return r
}

// Reason classifies the result for the caregiver-facing state reason.
func (r InterpretationResult) Reason() StateReason {
	switch {
	case !r.Success:
		return ReasonInterpretationUnsuccessful
	case len(r.ParsedActivities) == 0:
		return ReasonNothingRecognized
	default:
		return ReasonActivitiesParsed
	}
}

// Review is a snapshot of the pipeline for the confirmation UI.
type Review struct {
	State   PipelineState         `json:"state"`
	Attempt string                `json:"attempt,omitempty"`
	Result  *InterpretationResult `json:"result,omitempty"`
	Failure *Failure              `json:"failure,omitempty"`
}

// CanConfirm reports whether the confirm action is enabled.
func (r Review) CanConfirm() bool {
	return r.State == PipelineStateAwaitingConfirmation && r.Result != nil && r.Result.Committable()
}
