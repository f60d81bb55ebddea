package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"babybaton/internal/domain"
	"babybaton/internal/observe"
	"babybaton/internal/ports"
)

type fakePermission struct {
	mu      sync.Mutex
	granted bool
	err     error
	calls   int
}

func (f *fakePermission) Request(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.granted, f.err
}

func (f *fakePermission) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[0]
	f.sessions = f.sessions[1:]
	return session, nil
}

func (f *fakeAudioCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
}

func speech() *fakeAudioSession {
	return &fakeAudioSession{chunks: [][]byte{[]byte("pcm-one"), []byte("pcm-two")}}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []byte, _ ports.AudioConfig) (domain.CaptureArtifact, error) {
	return domain.CaptureArtifact{Data: append([]byte(nil), pcm...), Filename: "recording.wav", ContentType: "audio/wav"}, nil
}

type fakeProvider struct {
	sessions []ports.StreamingSession
	err      error
	calls    int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeStreamingSession struct {
	mu         sync.Mutex
	events     chan domain.TranscriptEvent
	sent       int
	waitErr    error
	closeSend  int
	closeCalls int
	closed     bool
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.TranscriptEvent, 16)}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

type fakeIdentity struct {
	headers domain.TenancyHeaders
	err     error
}

func (f fakeIdentity) Headers(_ context.Context) (domain.TenancyHeaders, error) {
	return f.headers, f.err
}

var testHeaders = domain.TenancyHeaders{
	FamilyID:    uuid.MustParse("0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"),
	CaregiverID: uuid.MustParse("11111111-2222-3333-4444-555555555555"),
	Timezone:    "America/Chicago",
}

type interpretFunc func(ctx context.Context, payload domain.InterpretPayload) (domain.InterpretationResult, error)

// fakeInterpreter answers calls in order; the last handler repeats. Uploads
// are reported sent before the handler runs unless handlersSend is set.
type fakeInterpreter struct {
	mu           sync.Mutex
	handlers     []interpretFunc
	payloads     []domain.InterpretPayload
	headers      []domain.TenancyHeaders
	handlersSend bool
}

func (f *fakeInterpreter) Interpret(ctx context.Context, headers domain.TenancyHeaders, payload domain.InterpretPayload) (domain.InterpretationResult, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.headers = append(f.headers, headers)
	handler := f.handlers[min(len(f.payloads), len(f.handlers))-1]
	handlersSend := f.handlersSend
	f.mu.Unlock()

	if payload.OnSent != nil && !payload.IsText() && !handlersSend {
		payload.OnSent()
	}
	return handler(ctx, payload)
}

func (f *fakeInterpreter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func returns(result domain.InterpretationResult, err error) interpretFunc {
	return func(context.Context, domain.InterpretPayload) (domain.InterpretationResult, error) {
		return result, err
	}
}

type commitFunc func(ctx context.Context, activities []domain.ActivityInput) (domain.CommitResult, error)

type fakeCommitter struct {
	mu       sync.Mutex
	handlers []commitFunc
	batches  [][]domain.ActivityInput
}

func (f *fakeCommitter) CommitActivities(ctx context.Context, _ domain.TenancyHeaders, activities []domain.ActivityInput) (domain.CommitResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, activities)
	handler := f.handlers[min(len(f.batches), len(f.handlers))-1]
	f.mu.Unlock()
	return handler(ctx, activities)
}

func (f *fakeCommitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func commits(result domain.CommitResult, err error) commitFunc {
	return func(context.Context, []domain.ActivityInput) (domain.CommitResult, error) {
		return result, err
	}
}

type fakeRefresher struct {
	mu      sync.Mutex
	current int
	recent  int
	err     error
}

func (f *fakeRefresher) RefreshCurrentSession(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current++
	return f.err
}

func (f *fakeRefresher) RefreshRecentSessions(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent++
	return nil
}

func (f *fakeRefresher) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.recent
}

type fakeNormalizer struct {
	replace map[string]string
}

func (f fakeNormalizer) Apply(text string) (string, error) {
	if out, ok := f.replace[text]; ok {
		return out, nil
	}
	return text, nil
}

type fakeEventSink struct {
	mu sync.Mutex

	states   []stateEvent
	partials []string
	reviews  []domain.Review
	errors   []errEvent
}

type stateEvent struct {
	state  domain.PipelineState
	reason domain.StateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) PipelineStateChanged(state domain.PipelineState, reason domain.StateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) ReviewReady(review domain.Review) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, review)
}

func (f *fakeEventSink) PipelineError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) stateSequence() []domain.PipelineState {
	states := f.snapshotStates()
	out := make([]domain.PipelineState, 0, len(states))
	for _, s := range states {
		out = append(out, s.state)
	}
	return out
}

type harness struct {
	pipeline    *Pipeline
	permission  *fakePermission
	audio       *fakeAudioCapture
	interpreter *fakeInterpreter
	committer   *fakeCommitter
	refresher   *fakeRefresher
	events      *fakeEventSink
}

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	cfg        Config
	captions   ports.TranscriptionProvider
	normalizer ports.TextNormalizer
	sessions   []ports.AudioSession
	identity   ports.IdentityProvider

	commitTimeout time.Duration
}

func withConfig(mutate func(*Config)) harnessOption {
	return func(s *harnessSetup) { mutate(&s.cfg) }
}

func withCaptions(provider ports.TranscriptionProvider) harnessOption {
	return func(s *harnessSetup) { s.captions = provider }
}

func withNormalizer(n ports.TextNormalizer) harnessOption {
	return func(s *harnessSetup) { s.normalizer = n }
}

func withCommitTimeout(d time.Duration) harnessOption {
	return func(s *harnessSetup) { s.commitTimeout = d }
}

func withAudio(sessions ...ports.AudioSession) harnessOption {
	return func(s *harnessSetup) { s.sessions = sessions }
}

func newHarness(t *testing.T, interpret []interpretFunc, commit []commitFunc, opts ...harnessOption) *harness {
	t.Helper()

	setup := harnessSetup{
		cfg: Config{
			Audio:     ports.AudioConfig{SampleRate: 16000, Channels: 1},
			ChunkSize: 512,
		},
		sessions: []ports.AudioSession{speech(), speech()},
		identity: fakeIdentity{headers: testHeaders},

		commitTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&setup)
	}
	if len(commit) == 0 {
		commit = []commitFunc{commits(domain.CommitResult{SessionID: "session-1"}, nil)}
	}

	h := &harness{
		permission:  &fakePermission{granted: true},
		audio:       &fakeAudioCapture{sessions: setup.sessions},
		interpreter: &fakeInterpreter{handlers: interpret},
		committer:   &fakeCommitter{handlers: commit},
		refresher:   &fakeRefresher{},
		events:      &fakeEventSink{},
	}
	logger := observe.Discard()
	h.pipeline = NewPipeline(Dependencies{
		Permission:  h.permission,
		Audio:       h.audio,
		Encoder:     fakeEncoder{},
		Captions:    setup.captions,
		Interpreter: NewInterpretationClient(setup.identity, h.interpreter, setup.normalizer, time.Second, logger),
		Committer:   NewActivityCommitClient(setup.identity, h.committer, setup.commitTimeout, logger),
		Refresher:   h.refresher,
		Events:      h.events,
	}, setup.cfg, logger)
	return h
}
