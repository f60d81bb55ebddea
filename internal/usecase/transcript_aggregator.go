package usecase

import (
	"strings"
	"sync"

	"babybaton/internal/domain"
	"babybaton/internal/ports"
)

// transcriptAggregator joins final caption segments. When the provider never
// finalizes the tail of the utterance the last partial is appended.
type transcriptAggregator struct {
	mu          sync.Mutex
	finals      []string
	lastPartial string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
		a.lastPartial = ""
		return
	}
	a.lastPartial = text
}

func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := append([]string(nil), a.finals...)
	if a.lastPartial != "" {
		parts = append(parts, a.lastPartial)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func consumeCaptions(
	session ports.StreamingSession,
	aggregator *transcriptAggregator,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	for event := range session.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		aggregator.Add(event)
		events.PartialTranscript(aggregator.Raw())
	}
}
