// Package export writes survey results out as CSV, one row per answered
// question, for offline analysis.
package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

var header = []string{
	"session_id", "participant_id", "destination", "direction", "outcome",
	"engaged", "created_at", "question", "prompt", "transcript",
	"detected_language", "translation", "recording", "synthesized_audio",
	"empty",
}

// WriteCSV writes the answer records of every terminal session, oldest
// session first, questions in order. Sessions still in flight are
// skipped; a terminal session with no answers still gets one row so the
// attempt shows up in the export.
func WriteCSV(w io.Writer, sessions []*survey.Session) error {
	ordered := make([]*survey.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Phase.Terminal() {
			ordered = append(ordered, s)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range ordered {
		wrote := false
		for i, q := range s.Questions {
			a := s.Answer(i)
			if a == nil {
				continue
			}
			if err := cw.Write(row(s, &q, a)); err != nil {
				return err
			}
			wrote = true
		}
		if !wrote {
			if err := cw.Write(row(s, nil, nil)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(s *survey.Session, q *survey.Question, a *survey.AnswerRecord) []string {
	r := []string{
		s.ID,
		s.ParticipantID,
		s.Destination,
		string(s.Direction),
		string(s.Outcome),
		strconv.FormatBool(s.Engaged),
		s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if q == nil || a == nil {
		return append(r, "", "", "", "", "", "", "", "")
	}
	return append(r,
		strconv.Itoa(q.Index+1),
		prompt(q),
		a.Transcript,
		a.DetectedLanguage,
		a.TranslatedTranscript,
		a.RawRecordingURI,
		a.SynthesizedAudioURI,
		strconv.FormatBool(a.Empty),
	)
}

func prompt(q *survey.Question) string {
	if q.PromptText != "" {
		return q.PromptText
	}
	return q.PromptAudioURI
}
