package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"babybaton/internal/domain"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

func renderReview(review domain.Review, loc *time.Location) string {
	var b strings.Builder
	if review.Result == nil {
		b.WriteString(warnStyle.Render("Nothing to review.") + "\n")
		return b.String()
	}
	result := review.Result
	if raw := strings.TrimSpace(result.RawText); raw != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Heard: %q", raw)) + "\n")
	}
	switch {
	case !result.Success:
		b.WriteString(warnStyle.Render("Could not understand that.") + "\n")
	case len(result.ParsedActivities) == 0:
		b.WriteString(warnStyle.Render("Nothing to log was recognized.") + "\n")
	default:
		b.WriteString(titleStyle.Render("About to save:") + "\n")
		for _, line := range lo.Map(result.ParsedActivities, func(a domain.ParsedActivity, _ int) string {
			return domain.Describe(a, loc)
		}) {
			b.WriteString("  • " + line + "\n")
		}
	}
	for _, msg := range result.Warnings {
		b.WriteString(warnStyle.Render("  ~ "+msg) + "\n")
	}
	return b.String()
}

func renderSessions(snapshot domain.SessionSnapshot, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Current session") + "\n")
	if snapshot.Current == nil {
		b.WriteString(dimStyle.Render("  none in progress") + "\n")
	} else {
		b.WriteString(renderSession(*snapshot.Current, loc))
	}

	b.WriteString(titleStyle.Render("Recent sessions") + "\n")
	if len(snapshot.Recent) == 0 {
		b.WriteString(dimStyle.Render("  none yet") + "\n")
	}
	for _, session := range snapshot.Recent {
		b.WriteString(renderSession(session, loc))
	}
	if !snapshot.RefreshedAt.IsZero() {
		b.WriteString(dimStyle.Render("updated "+domain.FormatClock(snapshot.RefreshedAt, loc)) + "\n")
	}
	return b.String()
}

func renderSession(session domain.CareSession, loc *time.Location) string {
	header := fmt.Sprintf("  %s, started %s", session.Caregiver.Name, domain.FormatClock(session.StartedAt, loc))
	if session.CompletedAt != nil {
		header += ", ended " + domain.FormatClock(*session.CompletedAt, loc)
	}
	if session.Status == domain.CareSessionInProgress {
		header = okStyle.Render(header)
	}

	s := session.Summary
	parts := []string{
		fmt.Sprintf("%d feeds (%dml)", s.TotalFeeds, s.TotalMl),
		fmt.Sprintf("%d diapers", s.TotalDiaperChanges),
	}
	if sleep := domain.FormatDuration(s.TotalSleepMinutes); sleep != "" {
		parts = append(parts, sleep+" asleep")
	}
	if s.LastFeedTime != nil {
		parts = append(parts, "last feed "+domain.FormatClock(*s.LastFeedTime, loc))
	}
	if s.CurrentlyAsleep {
		parts = append(parts, "sleeping now")
	}
	return header + "\n" + dimStyle.Render("    "+strings.Join(parts, ", ")) + "\n"
}

func renderIdentity(identity *domain.Identity, timezone, deviceID string) string {
	var b strings.Builder
	if identity == nil {
		b.WriteString(warnStyle.Render("Not signed in. Run `babybaton login`.") + "\n")
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n", titleStyle.Render("Caregiver:"), identity.DisplayName()))
		b.WriteString(fmt.Sprintf("%s %s\n", titleStyle.Render("Family:   "), identity.FamilyName))
		b.WriteString(fmt.Sprintf("%s %s\n", titleStyle.Render("Baby:     "), identity.BabyName))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("device %s, timezone %s", deviceID, timezone)) + "\n")
	return b.String()
}

func renderError(err error) string {
	if failure, ok := domain.AsFailure(err); ok {
		return errorStyle.Render("error: ") + failure.Message
	}
	return errorStyle.Render("error: ") + err.Error()
}

// terminalSink prints pipeline progress as it happens.
type terminalSink struct {
	mu  sync.Mutex
	out io.Writer

	// quietSessions suppresses the refresh notice when the caller renders
	// the sessions itself.
	quietSessions bool
	lastPartial   string
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{out: out}
}

func (s *terminalSink) PipelineStateChanged(state domain.PipelineState, reason domain.StateReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch reason {
	case domain.ReasonUploading, domain.ReasonInterpreting, domain.ReasonCommitting:
		s.println(dimStyle.Render(progressLine(reason)))
	case domain.ReasonRecordingRestarted:
		s.lastPartial = ""
		s.println(dimStyle.Render("Previous capture discarded."))
	}
}

func (s *terminalSink) PartialTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text = strings.TrimSpace(text)
	if text == "" || text == s.lastPartial {
		return
	}
	s.lastPartial = text
	s.println(dimStyle.Render("… " + text))
}

// ReviewReady is a no-op: the commands render the review they get back.
func (s *terminalSink) ReviewReady(domain.Review) {}

func (s *terminalSink) PipelineError(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := string(code)
	if detail != "" {
		line += ": " + detail
	}
	s.println(errorStyle.Render(line))
}

func (s *terminalSink) SessionsRefreshed(snapshot domain.SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quietSessions {
		return
	}
	if snapshot.Current != nil {
		s.println(dimStyle.Render(fmt.Sprintf("Session: %d feeds, %d diapers so far.",
			snapshot.Current.Summary.TotalFeeds, snapshot.Current.Summary.TotalDiaperChanges)))
	}
}

func (s *terminalSink) println(line string) {
	_, _ = fmt.Fprintln(s.out, line)
}

func progressLine(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonUploading:
		return "Sending recording..."
	case domain.ReasonInterpreting:
		return "Working out what happened..."
	default:
		return "Saving..."
	}
}
