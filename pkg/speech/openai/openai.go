// Package openai implements the speech capability interfaces on the
// OpenAI platform: Whisper for transcription, chat completions for
// language detection and translation, and the speech endpoint for
// synthesis. Any OpenAI-compatible provider works by setting a base URL.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/krishnanand20/audiosurvey-ai/pkg/speech"
)

// Default models per capability.
const (
	DefaultTranscribeModel = openai.AudioModelWhisper1
	DefaultChatModel       = openai.ChatModelGPT4oMini
	DefaultSpeechModel     = openai.SpeechModelTTS1
	DefaultVoice           = "alloy"
)

// Provider implements all four speech capabilities against one OpenAI
// client.
type Provider struct {
	client          *openai.Client
	transcribeModel openai.AudioModel
	chatModel       openai.ChatModel
	speechModel     openai.SpeechModel
}

var (
	_ speech.Transcriber      = (*Provider)(nil)
	_ speech.LanguageDetector = (*Provider)(nil)
	_ speech.Translator       = (*Provider)(nil)
	_ speech.Synthesizer      = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*config)

type config struct {
	baseURL         string
	httpClient      *http.Client
	transcribeModel openai.AudioModel
	chatModel       openai.ChatModel
	speechModel     openai.SpeechModel
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option { return func(c *config) { c.baseURL = u } }

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *config) { c.httpClient = h } }

// WithChatModel overrides the model used for detection and translation.
func WithChatModel(m openai.ChatModel) Option { return func(c *config) { c.chatModel = m } }

// New creates a Provider.
func New(apiKey string, opts ...Option) *Provider {
	cfg := config{
		transcribeModel: DefaultTranscribeModel,
		chatModel:       DefaultChatModel,
		speechModel:     DefaultSpeechModel,
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.httpClient))
	}
	client := openai.NewClient(clientOpts...)

	return &Provider{
		client:          &client,
		transcribeModel: cfg.transcribeModel,
		chatModel:       cfg.chatModel,
		speechModel:     cfg.speechModel,
	}
}

// Transcribe runs Whisper over the answer recording.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, name string) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: p.transcribeModel,
		File:  openai.File(audio, name, "application/octet-stream"),
	})
	if err != nil {
		return "", &speech.TranscriptionError{Err: err}
	}
	return resp.Text, nil
}

// DetectLanguage asks the chat model for the transcript's ISO 639-1 code.
func (p *Provider) DetectLanguage(ctx context.Context, text string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Identify the language of the user's text. Reply with the ISO 639-1 code only, e.g. \"sw\" or \"en\"."),
			openai.UserMessage(clip(text, 500)),
		},
	})
	if err != nil {
		return "", &speech.DetectionError{Err: err}
	}
	code := chatText(resp)
	code = strings.ToLower(strings.Trim(code, " \t\n\".,"))
	if len(code) < 2 || len(code) > 8 {
		return "", &speech.DetectionError{Err: fmt.Errorf("implausible language code %q", code)}
	}
	return code, nil
}

// Translate renders the transcript in the target language, verbatim.
func (p *Provider) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf("Translate the user's text to %s. Output only the translation, no commentary.", targetLanguage)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", &speech.TranslationError{Err: err}
	}
	out := chatText(resp)
	if out == "" {
		return "", &speech.TranslationError{Err: fmt.Errorf("empty translation")}
	}
	return out, nil
}

// Synthesize renders text as MP3 audio.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = DefaultVoice
	}
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          p.speechModel,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, &speech.SynthesisError{Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &speech.SynthesisError{Err: err}
	}
	return b, nil
}

func chatText(resp *openai.ChatCompletion) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
