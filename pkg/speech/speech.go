// Package speech defines the four asynchronous audio-processing
// capabilities a recorded answer is driven through: transcription,
// language detection, translation, and synthesis. Each capability is a
// one-method interface with a Func adapter, so production providers and
// test fakes plug in the same way.
//
// Providers are expected to be stateless from the caller's perspective;
// the pipeline applies timeouts, retries, and concurrency caps around
// these calls.
package speech

import (
	"context"
	"fmt"
	"io"
)

// Transcriber converts recorded answer audio into text in its source
// language.
type Transcriber interface {
	// Transcribe reads the audio and returns the transcript. name hints
	// the audio container format (e.g. "q2.wav").
	Transcribe(ctx context.Context, audio io.Reader, name string) (string, error)
}

// LanguageDetector identifies the language of a transcript.
type LanguageDetector interface {
	// DetectLanguage returns the ISO 639-1 code of the text's language.
	DetectLanguage(ctx context.Context, text string) (string, error)
}

// Translator renders a transcript in the target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// Synthesizer renders text as spoken audio and returns the encoded bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// TranscribeFunc adapts a function to the Transcriber interface.
type TranscribeFunc func(ctx context.Context, audio io.Reader, name string) (string, error)

func (f TranscribeFunc) Transcribe(ctx context.Context, audio io.Reader, name string) (string, error) {
	return f(ctx, audio, name)
}

// DetectFunc adapts a function to the LanguageDetector interface.
type DetectFunc func(ctx context.Context, text string) (string, error)

func (f DetectFunc) DetectLanguage(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// TranslateFunc adapts a function to the Translator interface.
type TranslateFunc func(ctx context.Context, text, targetLanguage string) (string, error)

func (f TranslateFunc) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	return f(ctx, text, targetLanguage)
}

// SynthesizeFunc adapts a function to the Synthesizer interface.
type SynthesizeFunc func(ctx context.Context, text, voice string) ([]byte, error)

func (f SynthesizeFunc) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return f(ctx, text, voice)
}

// TranscriptionError wraps a transcription provider failure.
type TranscriptionError struct{ Err error }

func (e *TranscriptionError) Error() string { return fmt.Sprintf("speech: transcribe: %v", e.Err) }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// DetectionError wraps a language-detection provider failure.
type DetectionError struct{ Err error }

func (e *DetectionError) Error() string { return fmt.Sprintf("speech: detect language: %v", e.Err) }
func (e *DetectionError) Unwrap() error { return e.Err }

// TranslationError wraps a translation provider failure.
type TranslationError struct{ Err error }

func (e *TranslationError) Error() string { return fmt.Sprintf("speech: translate: %v", e.Err) }
func (e *TranslationError) Unwrap() error { return e.Err }

// SynthesisError wraps a synthesis provider failure.
type SynthesisError struct{ Err error }

func (e *SynthesisError) Error() string { return fmt.Sprintf("speech: synthesize: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }
