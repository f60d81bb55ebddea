package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/wailsapp/wails/v2/pkg/runtime"
	"golang.org/x/sync/errgroup"

	"babybaton/internal/backend"
	"babybaton/internal/bootstrap"
	"babybaton/internal/domain"
)

const (
	eventState    = "babybaton:state"
	eventPartial  = "babybaton:partial"
	eventReview   = "babybaton:review"
	eventError    = "babybaton:error"
	eventSessions = "babybaton:sessions"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	bootErr  error

	// emit is runtime.EventsEmit outside tests.
	emit func(ctx context.Context, name string, data ...any)
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, bootstrap.Options{
		Events:       a,
		SessionViews: a,
		Permission:   &dialogPermission{ctx: ctx},
	})
	if err != nil {
		a.bootErr = err
		a.PipelineError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.PipelineStateChanged(domain.PipelineStateIdle, domain.ReasonMicCold)
	if snapshot, err := services.Sessions.Snapshot(ctx); err == nil {
		a.SessionsRefreshed(snapshot)
	}
}

func (a *App) shutdown(_ context.Context) {
	if a.services.Pipeline != nil {
		a.services.Pipeline.Abort()
	}
	if err := a.services.Close(); err != nil && a.services.Logger != nil {
		a.services.Logger.Warn("closing store failed", "err", err)
	}
}

// StartCapture opens the microphone for a new voice log.
func (a *App) StartCapture() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Pipeline.Start(a.ctx); err != nil {
		return a.services.Pipeline.Status(), err
	}
	return a.services.Pipeline.Status(), nil
}

// StopCapture finishes the recording and returns the review once the
// backend has interpreted it.
func (a *App) StopCapture() (ReviewView, error) {
	if err := a.requireReady(); err != nil {
		return ReviewView{}, err
	}
	review, err := a.services.Pipeline.Stop(a.ctx)
	return a.reviewView(review), err
}

// SubmitText interprets typed text instead of a recording.
func (a *App) SubmitText(text string) (ReviewView, error) {
	if err := a.requireReady(); err != nil {
		return ReviewView{}, err
	}
	review, err := a.services.Pipeline.SubmitText(a.ctx, text)
	return a.reviewView(review), err
}

// ReRecord drops the current review and records again.
func (a *App) ReRecord() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Pipeline.ReRecord(a.ctx); err != nil {
		return a.services.Pipeline.Status(), err
	}
	return a.services.Pipeline.Status(), nil
}

// Confirm saves the reviewed activities.
func (a *App) Confirm() (domain.CommitResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.CommitResult{}, err
	}
	return a.services.Pipeline.Confirm(a.ctx)
}

// AbortCapture cancels whatever is in flight. Never fails once started.
func (a *App) AbortCapture() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Pipeline.Abort()
	return nil
}

// CancelReview discards the review without saving.
func (a *App) CancelReview() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Pipeline.Cancel()
	return nil
}

// AcknowledgeError dismisses a failure.
func (a *App) AcknowledgeError() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Pipeline.Acknowledge()
}

// GetStatus returns the current pipeline status.
func (a *App) GetStatus() domain.Status {
	if a.services.Pipeline == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.PipelineStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.PipelineStateIdle, Active: false}
	}
	return a.services.Pipeline.Status()
}

// GetReview returns the review currently on screen.
func (a *App) GetReview() ReviewView {
	if a.services.Pipeline == nil {
		return ReviewView{Review: domain.Review{State: domain.PipelineStateIdle}}
	}
	return a.reviewView(a.services.Pipeline.Snapshot())
}

// GetSessions returns the cached session views.
func (a *App) GetSessions() (domain.SessionSnapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionSnapshot{}, err
	}
	return a.services.Sessions.Snapshot(a.ctx)
}

// RefreshSessions re-fetches both session views.
func (a *App) RefreshSessions() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(a.ctx)
	g.Go(func() error { return a.services.Sessions.RefreshCurrentSession(ctx) })
	g.Go(func() error { return a.services.Sessions.RefreshRecentSessions(ctx) })
	return g.Wait()
}

// Login joins an existing family on this device.
func (a *App) Login(familyName, password, caregiverName string) (IdentityView, error) {
	if err := a.requireReady(); err != nil {
		return IdentityView{}, err
	}
	deviceID, err := a.services.Identity.DeviceID(a.ctx)
	if err != nil {
		return IdentityView{}, err
	}
	hostname, _ := os.Hostname()

	identity, err := a.services.Backend.JoinFamily(a.ctx, a.services.Identity.Timezone(), backend.JoinRequest{
		FamilyName:    strings.TrimSpace(familyName),
		Password:      password,
		CaregiverName: strings.TrimSpace(caregiverName),
		DeviceID:      deviceID,
		DeviceName:    hostname,
	})
	return a.signIn(identity, err)
}

// CreateFamily registers a new family with this device as its first caregiver.
func (a *App) CreateFamily(familyName, babyName, password, caregiverName string) (IdentityView, error) {
	if err := a.requireReady(); err != nil {
		return IdentityView{}, err
	}
	deviceID, err := a.services.Identity.DeviceID(a.ctx)
	if err != nil {
		return IdentityView{}, err
	}
	hostname, _ := os.Hostname()

	identity, err := a.services.Backend.CreateFamily(a.ctx, a.services.Identity.Timezone(), backend.CreateRequest{
		FamilyName:    familyName,
		BabyName:      babyName,
		Password:      password,
		CaregiverName: caregiverName,
		DeviceID:      deviceID,
		DeviceName:    hostname,
	})
	return a.signIn(identity, err)
}

func (a *App) signIn(identity domain.Identity, err error) (IdentityView, error) {
	if err != nil {
		return IdentityView{}, err
	}
	if err := a.services.Identity.Login(a.ctx, identity); err != nil {
		return IdentityView{}, err
	}
	go func() { _ = a.RefreshSessions() }()
	return identityView(&identity), nil
}

// Logout signs the device out.
func (a *App) Logout() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Pipeline.Abort()
	if err := a.services.Identity.Logout(a.ctx); err != nil {
		return err
	}
	a.SessionsRefreshed(domain.SessionSnapshot{Recent: []domain.CareSession{}})
	return nil
}

// GetIdentity returns the signed-in caregiver, SignedIn=false otherwise.
func (a *App) GetIdentity() (IdentityView, error) {
	if err := a.requireReady(); err != nil {
		return IdentityView{}, err
	}
	identity, err := a.services.Identity.Current(a.ctx)
	if err != nil {
		return IdentityView{}, err
	}
	return identityView(identity), nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	cfg := a.services.Config
	captions := "off"
	if cfg.Deepgram.APIKey != "" {
		captions = "Deepgram " + cfg.Deepgram.Model
	}
	return map[string]string{
		"backend":          cfg.Backend.URL,
		"interpretMode":    cfg.Interpret.Mode,
		"captions":         captions,
		"timezone":         a.services.Identity.Timezone(),
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"vocabularyFile":   cfg.Vocabulary.File,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Pipeline == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ReviewView is the review plus display lines for the confirmation screen.
type ReviewView struct {
	domain.Review
	Lines      []string `json:"lines"`
	CanConfirm bool     `json:"canConfirm"`
}

func (a *App) reviewView(review domain.Review) ReviewView {
	view := ReviewView{Review: review, Lines: []string{}, CanConfirm: review.CanConfirm()}
	if review.Result != nil {
		loc := a.location()
		view.Lines = lo.Map(review.Result.ParsedActivities, func(activity domain.ParsedActivity, _ int) string {
			return domain.Describe(activity, loc)
		})
	}
	return view
}

func (a *App) location() *time.Location {
	if a.services.Identity == nil {
		return time.Local
	}
	loc, err := time.LoadLocation(a.services.Identity.Timezone())
	if err != nil {
		return time.Local
	}
	return loc
}

// IdentityView is what the UI shows about the signed-in caregiver.
type IdentityView struct {
	SignedIn      bool   `json:"signedIn"`
	CaregiverName string `json:"caregiverName,omitempty"`
	FamilyName    string `json:"familyName,omitempty"`
	BabyName      string `json:"babyName,omitempty"`
}

func identityView(identity *domain.Identity) IdentityView {
	if identity == nil {
		return IdentityView{}
	}
	return IdentityView{
		SignedIn:      true,
		CaregiverName: identity.DisplayName(),
		FamilyName:    identity.FamilyName,
		BabyName:      identity.BabyName,
	}
}

// PipelineStateChanged emits lifecycle updates to the frontend.
func (a *App) PipelineStateChanged(state domain.PipelineState, reason domain.StateReason) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": stateReasonMessage(reason),
	})
}

// PartialTranscript emits live caption text.
func (a *App) PartialTranscript(text string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventPartial, map[string]string{"text": text})
}

// ReviewReady emits the review for confirmation.
func (a *App) ReviewReady(review domain.Review) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventReview, a.reviewView(review))
}

// PipelineError emits failures to the UI.
func (a *App) PipelineError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]any{
		"code":      string(code),
		"message":   errorMessage(code, detail),
		"detail":    detail,
		"retryable": code.Retryable(),
	})
}

// SessionsRefreshed emits the refreshed session views.
func (a *App) SessionsRefreshed(snapshot domain.SessionSnapshot) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventSessions, snapshot)
}

func stateReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonMicCold:
		return "Ready"
	case domain.ReasonRecordingStarted:
		return "Listening..."
	case domain.ReasonRecordingRestarted:
		return "Listening again; previous capture discarded"
	case domain.ReasonUploading:
		return "Sending recording..."
	case domain.ReasonInterpreting:
		return "Working out what happened..."
	case domain.ReasonActivitiesParsed:
		return "Check the entries below"
	case domain.ReasonNothingRecognized:
		return "Nothing to log was recognized"
	case domain.ReasonInterpretationUnsuccessful:
		return "Could not understand that"
	case domain.ReasonCommitting:
		return "Saving..."
	case domain.ReasonCommitted:
		return "Saved"
	case domain.ReasonCommitFailed:
		return "Saving failed; entries kept"
	case domain.ReasonCommitCancelled:
		return "Saving cancelled; entries kept"
	case domain.ReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.ReasonReviewDiscarded:
		return "Entries discarded"
	case domain.ReasonPermissionDenied:
		return "Microphone access denied"
	case domain.ReasonCaptureFailed:
		return "Microphone unavailable"
	case domain.ReasonNoRecording:
		return "No recording captured"
	case domain.ReasonTransportFailed:
		return "Could not reach the server"
	case domain.ReasonAcknowledged:
		return "Ready"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermissionDenied:
		return "Microphone permission denied"
	case domain.ErrorCodeDevice:
		return "Microphone error"
	case domain.ErrorCodeNoRecording:
		return "No recording"
	case domain.ErrorCodeTransport:
		return "Connection problem"
	case domain.ErrorCodeCommitRejected:
		return "Not saved"
	case domain.ErrorCodeUnauthenticated:
		return "Not signed in"
	case domain.ErrorCodeNothingToCommit:
		return "Nothing to save"
	case domain.ErrorCodeAudioStream:
		return "Live captions stopped"
	case domain.ErrorCodeSessionRefresh:
		return "Session view out of date"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// dialogPermission asks once per run with a native dialog and remembers a grant.
type dialogPermission struct {
	ctx context.Context

	mu      sync.Mutex
	granted bool
	ask     func(ctx context.Context, opts runtime.MessageDialogOptions) (string, error)
}

func (p *dialogPermission) Request(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.granted {
		return true, nil
	}

	ask := p.ask
	if ask == nil {
		ask = runtime.MessageDialog
	}
	answer, err := ask(p.ctx, runtime.MessageDialogOptions{
		Type:          runtime.QuestionDialog,
		Title:         "Microphone access",
		Message:       "Baby Baton records a short clip while you hold the button and sends it to your family's log. Allow microphone access?",
		Buttons:       []string{"Allow", "Don't Allow"},
		DefaultButton: "Allow",
		CancelButton:  "Don't Allow",
	})
	if err != nil {
		return false, err
	}
	switch answer {
	case "Allow", "Yes", "Ok", "OK":
		p.granted = true
		return true, nil
	default:
		return false, nil
	}
}
