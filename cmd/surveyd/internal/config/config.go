// Package config loads the surveyd YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/krishnanand20/audiosurvey-ai/pkg/retry"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
)

// Config is the full surveyd configuration.
type Config struct {
	// Listen is the HTTP listen address for webhooks, the admin API,
	// and the dashboard feed.
	Listen string `yaml:"listen"`

	// DataDir holds the badger session database. Empty means in-memory
	// storage (local runs and tests).
	DataDir string `yaml:"data_dir"`

	Media    Media    `yaml:"media"`
	Gateway  Gateway  `yaml:"gateway"`
	Speech   Speech   `yaml:"speech"`
	Engine   Engine   `yaml:"engine"`
	Pipeline Pipeline `yaml:"pipeline"`
	Dialer   Dialer   `yaml:"dialer"`

	// Questions is the survey asked on outbound calls.
	Questions []Question `yaml:"questions"`

	// InboundQuestions, when set, enables inbound surveys.
	InboundQuestions []Question `yaml:"inbound_questions"`
}

// Media selects the artifact storage backend.
type Media struct {
	// Dir stores artifacts on local disk.
	Dir string `yaml:"dir"`

	// S3, when set, stores artifacts in an S3-compatible bucket instead.
	S3 *S3 `yaml:"s3"`
}

// S3 configures object storage. Credentials come from the standard AWS
// environment/credential chain.
type S3 struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// Gateway configures the telephony gateway adapter.
type Gateway struct {
	// Simulated runs against the in-memory gateway, for local
	// development.
	Simulated bool `yaml:"simulated"`

	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Speech configures the speech provider.
type Speech struct {
	// APIKey falls back to $OPENAI_API_KEY.
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	ChatModel string `yaml:"chat_model"`
	Voice     string `yaml:"voice"`

	// TargetLanguage is the translation target, default "en".
	TargetLanguage string `yaml:"target_language"`
}

// Engine configures the orchestration engine.
type Engine struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	SilenceWindow time.Duration `yaml:"silence_window"`
	ClosingText   string        `yaml:"closing_text"`

	// CASRetry tunes optimistic-concurrency retries on the session store.
	CASRetry Retry `yaml:"cas_retry"`

	// GatewayRetry tunes gateway instruction delivery.
	GatewayRetry Retry `yaml:"gateway_retry"`
}

// Pipeline configures the audio processing pipeline.
type Pipeline struct {
	StageTimeout  time.Duration `yaml:"stage_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`

	// MinWords is the transcript word count that counts as engagement.
	MinWords int `yaml:"min_words"`

	// Retry tunes per-stage attempts and backoff.
	Retry Retry `yaml:"retry"`

	// CASRetry tunes stage-result commit retries.
	CASRetry Retry `yaml:"cas_retry"`
}

// Retry tunes one backoff budget. Unset fields keep the built-in
// default for that budget.
type Retry struct {
	Attempts   int           `yaml:"attempts"`
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// Policy overlays the set fields onto def.
func (r Retry) Policy(def retry.Policy) retry.Policy {
	if r.Attempts > 0 {
		def.MaxAttempts = r.Attempts
	}
	if r.Initial > 0 {
		def.Initial = r.Initial
	}
	if r.Max > 0 {
		def.Max = r.Max
	}
	if r.Multiplier > 0 {
		def.Multiplier = r.Multiplier
	}
	return def
}

// Dialer configures the contacts batch dialer.
type Dialer struct {
	// ContactsFile is the calling-list CSV. Empty disables the dialer.
	ContactsFile string `yaml:"contacts_file"`

	MaxAttempts int           `yaml:"max_attempts"`
	RetryGap    time.Duration `yaml:"retry_gap"`
	Pace        time.Duration `yaml:"pace"`
	Interval    time.Duration `yaml:"interval"`
}

// Question is one survey prompt.
type Question struct {
	Text  string `yaml:"text"`
	Audio string `yaml:"audio"`
	Kind  string `yaml:"kind"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Gateway: Gateway{
			Simulated: true,
		},
		Dialer: Dialer{
			MaxAttempts: 3,
			RetryGap:    time.Hour,
			Interval:    10 * time.Minute,
		},
	}
}

// Load reads and validates a configuration file. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if !c.Gateway.Simulated && c.Gateway.BaseURL == "" {
		return errors.New("config: gateway.base_url is required unless gateway.simulated")
	}
	if c.Media.S3 != nil {
		if c.Media.Dir != "" {
			return errors.New("config: media.dir and media.s3 are mutually exclusive")
		}
		if c.Media.S3.Bucket == "" {
			return errors.New("config: media.s3.bucket is required")
		}
	}
	for i, q := range c.Questions {
		if q.Text == "" && q.Audio == "" {
			return fmt.Errorf("config: questions[%d] has neither text nor audio", i)
		}
	}
	for i, q := range c.InboundQuestions {
		if q.Text == "" && q.Audio == "" {
			return fmt.Errorf("config: inbound_questions[%d] has neither text nor audio", i)
		}
	}
	return nil
}

// SurveyQuestions converts configured questions to the domain type.
func SurveyQuestions(qs []Question) []survey.Question {
	out := make([]survey.Question, len(qs))
	for i, q := range qs {
		kind := survey.AnswerKind(q.Kind)
		if kind == "" {
			kind = survey.AnswerFreeSpeech
		}
		out[i] = survey.Question{
			Index:          i,
			PromptText:     q.Text,
			PromptAudioURI: q.Audio,
			AnswerKind:     kind,
		}
	}
	return out
}
