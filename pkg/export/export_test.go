package export_test

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/export"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

func TestWriteCSV(t *testing.T) {
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	sessions := []*survey.Session{
		{
			ID:          "s-late",
			Destination: "+15550199",
			Direction:   survey.DirectionOutbound,
			Phase:       survey.PhaseComplete,
			Outcome:     survey.OutcomeCompleted,
			Engaged:     true,
			CreatedAt:   base.Add(time.Hour),
			Questions: []survey.Question{
				{Index: 0, PromptText: "How did you sleep?"},
			},
			Answers: map[int]*survey.AnswerRecord{
				0: {
					QuestionIndex:        0,
					RawRecordingURI:      "recordings/s-late/q0.wav",
					Transcript:           "vizuri sana",
					DetectedLanguage:     "sw",
					TranslatedTranscript: "very well",
					SynthesizedAudioURI:  "synthesized/s-late/q0.mp3",
				},
			},
		},
		{
			ID:            "s-early",
			ParticipantID: "p7",
			Destination:   "+15550100",
			Direction:     survey.DirectionOutbound,
			Phase:         survey.PhaseFailed,
			Outcome:       survey.OutcomeNoAnswer,
			CreatedAt:     base,
			Questions:     []survey.Question{{Index: 0, PromptText: "Q?"}},
		},
		{
			// Still in flight: must not appear.
			ID:        "s-live",
			Phase:     survey.PhaseAwaitingRecording,
			CreatedAt: base.Add(2 * time.Hour),
			Questions: []survey.Question{{Index: 0, PromptText: "Q?"}},
		},
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, sessions); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "session_id" {
		t.Fatalf("header = %v", rows[0])
	}

	// Oldest terminal session first, even with no answers.
	early := rows[1]
	if early[0] != "s-early" || early[1] != "p7" || early[4] != "no-answer" {
		t.Fatalf("row 1 = %v", early)
	}
	if early[7] != "" {
		t.Fatalf("no-answer session has a question column: %v", early)
	}

	late := rows[2]
	if late[0] != "s-late" || late[7] != "1" || late[8] != "How did you sleep?" {
		t.Fatalf("row 2 = %v", late)
	}
	if late[9] != "vizuri sana" || late[10] != "sw" || late[11] != "very well" {
		t.Fatalf("answer columns = %v", late)
	}
	if late[13] != "synthesized/s-late/q0.mp3" || late[14] != "false" {
		t.Fatalf("artifact columns = %v", late)
	}
}

func TestWriteCSVEmptyAnswer(t *testing.T) {
	s := &survey.Session{
		ID:        "s1",
		Phase:     survey.PhaseComplete,
		Outcome:   survey.OutcomeNoEngagement,
		CreatedAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
		Questions: []survey.Question{{Index: 0, PromptText: "Q?"}},
		Answers: map[int]*survey.AnswerRecord{
			0: {QuestionIndex: 0, Empty: true},
		},
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, []*survey.Session{s}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[1][14] != "true" {
		t.Fatalf("empty flag = %q", rows[1][14])
	}
}
