package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openai/openai-go"
	"github.com/spf13/cobra"

	"github.com/krishnanand20/audiosurvey-ai/cmd/surveyd/internal/config"
	"github.com/krishnanand20/audiosurvey-ai/pkg/api"
	"github.com/krishnanand20/audiosurvey-ai/pkg/contacts"
	"github.com/krishnanand20/audiosurvey-ai/pkg/engine"
	"github.com/krishnanand20/audiosurvey-ai/pkg/feed"
	"github.com/krishnanand20/audiosurvey-ai/pkg/gateway"
	"github.com/krishnanand20/audiosurvey-ai/pkg/kv"
	"github.com/krishnanand20/audiosurvey-ai/pkg/media"
	"github.com/krishnanand20/audiosurvey-ai/pkg/pipeline"
	"github.com/krishnanand20/audiosurvey-ai/pkg/retry"
	openaispeech "github.com/krishnanand20/audiosurvey-ai/pkg/speech/openai"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey"
	"github.com/krishnanand20/audiosurvey-ai/pkg/survey/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the survey daemon",
	Long: `Run the survey daemon: the gateway webhook endpoints, the admin
API, the dashboard WebSocket feed, and the orchestration engine.

Webhook endpoints for the telephony gateway:
  POST /webhooks/call-status
  POST /webhooks/recording-status

Operator surface:
  /api/sessions  admin API (see 'surveyd call', 'surveyd status')
  /ws            dashboard session feed`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	kvs, err := openKV(cfg, logger)
	if err != nil {
		return err
	}
	defer kvs.Close()
	sessions := store.New(kvs)

	mediaStore, err := openMedia(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	gw, err := openGateway(cfg)
	if err != nil {
		return err
	}

	var fetcher *media.Fetcher
	if !cfg.Gateway.Simulated {
		fetcher = &media.Fetcher{Username: cfg.Gateway.Username, Password: cfg.Gateway.Password}
	}

	caps := speechCapabilities(cfg)
	hub := feed.NewHub(logger)
	defer hub.Close()

	book := contacts.NewBook(kvs)
	if cfg.Dialer.MaxAttempts > 0 {
		book.MaxAttempts = cfg.Dialer.MaxAttempts
	}
	if cfg.Dialer.RetryGap > 0 {
		book.RetryGap = cfg.Dialer.RetryGap
	}
	trackOutcome := contacts.Track(book, logger)

	eng := engine.New(sessions, gw, mediaStore, fetcher, caps, engine.Config{
		Workers:       cfg.Engine.Workers,
		QueueSize:     cfg.Engine.QueueSize,
		SilenceWindow: cfg.Engine.SilenceWindow,
		CASRetry:      cfg.Engine.CASRetry.Policy(retry.Conflict),
		GatewayRetry:  cfg.Engine.GatewayRetry.Policy(retry.Default),
		Pipeline: pipeline.Config{
			StageTimeout:       cfg.Pipeline.StageTimeout,
			MaxConcurrent:      cfg.Pipeline.MaxConcurrent,
			TargetLanguage:     cfg.Speech.TargetLanguage,
			Voice:              cfg.Speech.Voice,
			EngagementMinWords: cfg.Pipeline.MinWords,
			Retry:              cfg.Pipeline.Retry.Policy(retry.Default),
			CASRetry:           cfg.Pipeline.CASRetry.Policy(retry.Conflict),
		},
		InboundQuestions: config.SurveyQuestions(cfg.InboundQuestions),
		ClosingText:      cfg.Engine.ClosingText,
		OnUpdate: func(s *survey.Session) {
			hub.Publish(s)
			trackOutcome(s)
		},
	}, logger)
	defer eng.Close()

	webhook := &gateway.Webhook{
		Logger: logger,
		Submit: func(ev survey.Event, form url.Values) {
			eng.HandleCallback(ev, gateway.IsInbound(form), gateway.Caller(form))
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/call-status", webhook.CallStatus)
	mux.HandleFunc("POST /webhooks/recording-status", webhook.RecordingStatus)
	mux.Handle("/ws", hub)
	api.NewHandler(eng, config.SurveyQuestions(cfg.Questions), logger).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Dialer.ContactsFile != "" {
		go runDialer(ctx, cfg, eng, book, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("surveyd listening", "addr", cfg.Listen, "gateway", gatewayKind(cfg))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("surveyd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runDialer(ctx context.Context, cfg *config.Config, eng *engine.Engine, book *contacts.Book, logger *slog.Logger) {
	f, err := os.Open(cfg.Dialer.ContactsFile)
	if err != nil {
		logger.Error("dialer: open contacts file", "err", err)
		return
	}
	list, err := contacts.LoadCSV(f)
	f.Close()
	if err != nil {
		logger.Error("dialer: load contacts", "err", err)
		return
	}

	d := &contacts.Dialer{
		Caller:    eng,
		Book:      book,
		Questions: config.SurveyQuestions(cfg.Questions),
		Pace:      cfg.Dialer.Pace,
		Logger:    logger,
	}
	interval := cfg.Dialer.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if err := d.Run(ctx, list, interval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dialer stopped", "err", err)
	}
}

func openKV(cfg *config.Config, logger *slog.Logger) (kv.Store, error) {
	if cfg.DataDir == "" {
		logger.Warn("no data_dir configured, sessions are not persisted")
		return kv.NewMemory(), nil
	}
	return kv.NewBadger(kv.BadgerOptions{
		Dir: filepath.Join(cfg.DataDir, "sessions"),
	})
}

func openMedia(ctx context.Context, cfg *config.Config) (media.Store, error) {
	if cfg.Media.S3 != nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Media.S3.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return media.NewS3(s3.NewFromConfig(awsCfg), cfg.Media.S3.Bucket, cfg.Media.S3.Prefix), nil
	}
	dir := cfg.Media.Dir
	if dir == "" {
		if cfg.DataDir != "" {
			dir = filepath.Join(cfg.DataDir, "media")
		} else {
			dir = filepath.Join(os.TempDir(), "surveyd-media")
		}
	}
	return media.NewLocal(dir)
}

func openGateway(cfg *config.Config) (gateway.Gateway, error) {
	if cfg.Gateway.Simulated {
		return gateway.NewSimulated(), nil
	}
	return gateway.NewREST(cfg.Gateway.BaseURL,
		gateway.WithBasicAuth(cfg.Gateway.Username, cfg.Gateway.Password)), nil
}

func gatewayKind(cfg *config.Config) string {
	if cfg.Gateway.Simulated {
		return "simulated"
	}
	return cfg.Gateway.BaseURL
}

func speechCapabilities(cfg *config.Config) pipeline.Capabilities {
	apiKey := cfg.Speech.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	var opts []openaispeech.Option
	if cfg.Speech.BaseURL != "" {
		opts = append(opts, openaispeech.WithBaseURL(cfg.Speech.BaseURL))
	}
	if cfg.Speech.ChatModel != "" {
		opts = append(opts, openaispeech.WithChatModel(openai.ChatModel(cfg.Speech.ChatModel)))
	}
	p := openaispeech.New(apiKey, opts...)
	return pipeline.Capabilities{
		Transcriber: p,
		Detector:    p,
		Translator:  p,
		Synthesizer: p,
	}
}
