package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"babybaton/internal/domain"
)

func TestTranscriptAggregatorAppendsTrailingPartial(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "fed"})
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "fed 120 ml"})
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "at three"})

	require.Equal(t, "fed 120 ml at three", agg.Raw())

	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "at three pm"})
	require.Equal(t, "fed 120 ml at three pm", agg.Raw())
}

func TestTranscriptAggregatorIgnoresEmpty(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "   "})
	require.Empty(t, agg.Raw())
}
