// Package cli provides terminal rendering for the surveyd commands: a
// color theme and the session-status views shown by 'surveyd status'.
package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

// Theme defines the color scheme.
type Theme struct {
	Primary lipgloss.Color
	Good    lipgloss.Color
	Bad     lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the default theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Good:    lipgloss.Color("#3fb950"),
	Bad:     lipgloss.Color("#f85149"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Header lipgloss.Style
	Label  lipgloss.Style
	Good   lipgloss.Style
	Bad    lipgloss.Style
	Dim    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Bold(true),
		Good:   lipgloss.NewStyle().Foreground(t.Good),
		Bad:    lipgloss.NewStyle().Foreground(t.Bad),
		Dim:    lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// SessionTable renders the session list as an aligned table, newest
// first.
func SessionTable(st Styles, sessions []*survey.Session) string {
	sorted := make([]*survey.Session, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var b strings.Builder
	header := fmt.Sprintf("%-38s %-14s %-26s %-10s %s", "SESSION", "DESTINATION", "PHASE", "QUESTION", "OUTCOME")
	b.WriteString(st.Header.Render(header))
	b.WriteByte('\n')
	for _, s := range sorted {
		outcome := string(s.Outcome)
		if outcome == "" {
			outcome = "-"
		}
		line := fmt.Sprintf("%-38s %-14s %-26s %-10s %s",
			s.ID, s.Destination, s.Phase, questionProgress(s), outcome)
		b.WriteString(styleForPhase(st, s.Phase).Render(line))
		b.WriteByte('\n')
	}
	if len(sorted) == 0 {
		b.WriteString(st.Dim.Render("no sessions"))
		b.WriteByte('\n')
	}
	return b.String()
}

// SessionDetail renders one session with its answers.
func SessionDetail(st Styles, s *survey.Session) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(st.Label.Render(fmt.Sprintf("%-12s", label)))
		b.WriteString(value)
		b.WriteByte('\n')
	}
	row("Session", s.ID)
	row("Destination", s.Destination)
	row("Direction", string(s.Direction))
	row("Phase", styleForPhase(st, s.Phase).Render(string(s.Phase)))
	if s.Outcome != "" {
		row("Outcome", string(s.Outcome))
	}
	row("Question", questionProgress(s))
	row("Created", s.CreatedAt.Format(time.RFC3339))

	for i := range s.Questions {
		q := s.Questions[i]
		b.WriteByte('\n')
		b.WriteString(st.Header.Render(fmt.Sprintf("Q%d: %s", i+1, q.PromptText)))
		b.WriteByte('\n')
		rec := s.Answer(i)
		switch {
		case rec == nil:
			b.WriteString(st.Dim.Render("  (not reached)"))
			b.WriteByte('\n')
		case rec.Empty:
			b.WriteString(st.Dim.Render("  (no answer)"))
			b.WriteByte('\n')
		default:
			if rec.Transcript != "" {
				b.WriteString(fmt.Sprintf("  transcript  %s\n", rec.Transcript))
			}
			if rec.DetectedLanguage != "" {
				b.WriteString(fmt.Sprintf("  language    %s\n", rec.DetectedLanguage))
			}
			if rec.TranslatedTranscript != "" && rec.TranslatedTranscript != rec.Transcript {
				b.WriteString(fmt.Sprintf("  translation %s\n", rec.TranslatedTranscript))
			}
			for _, stage := range survey.StageOrder {
				if rec.StageState(stage) == survey.StageUnavailable {
					b.WriteString(st.Bad.Render(fmt.Sprintf("  %s unavailable", stage)))
					b.WriteByte('\n')
				}
			}
		}
	}
	return b.String()
}

func questionProgress(s *survey.Session) string {
	return fmt.Sprintf("%d/%d", min(s.CurrentQuestion, len(s.Questions)), len(s.Questions))
}

func styleForPhase(st Styles, p survey.Phase) lipgloss.Style {
	switch p {
	case survey.PhaseComplete:
		return st.Good
	case survey.PhaseFailed, survey.PhaseAborted:
		return st.Bad
	default:
		return lipgloss.NewStyle()
	}
}
