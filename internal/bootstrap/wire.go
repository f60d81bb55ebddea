package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"babybaton/internal/audio"
	"babybaton/internal/backend"
	"babybaton/internal/config"
	"babybaton/internal/identity"
	"babybaton/internal/observe"
	"babybaton/internal/ports"
	"babybaton/internal/providers/deepgram"
	"babybaton/internal/sessions"
	"babybaton/internal/store"
	"babybaton/internal/usecase"
	"babybaton/internal/vocab"
)

// Services is the assembled runtime graph.
type Services struct {
	Pipeline *usecase.Pipeline
	Identity *identity.Provider
	Backend  *backend.Client
	Sessions *sessions.Refresher
	Store    *store.Store
	Config   config.Config
	Logger   *slog.Logger

	shutdownTracing func(context.Context) error
}

// Close flushes pending spans and releases the local database.
func (s Services) Close() error {
	var errs []error
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.shutdownTracing(ctx))
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}

// Options are the platform pieces the caller provides.
type Options struct {
	Events       ports.EventSink
	SessionViews ports.SessionViewSink
	Permission   ports.MicrophonePermission
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Config skips config.Load when set.
	Config *config.Config
}

// Build wires all dependencies for the current runtime.
func Build(ctx context.Context, opts Options) (Services, error) {
	if opts.Events == nil || opts.Permission == nil {
		return Services{}, errors.New("bootstrap: event sink and microphone permission are required")
	}

	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load()
		if err != nil {
			return Services{}, err
		}
		cfg = loaded
	}

	logOutput := opts.LogOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	logger := observe.NewLogger(logOutput, cfg.Log.Level, cfg.Log.Format)

	normalizer, keywords, err := buildVocabulary(cfg.Vocabulary)
	if err != nil {
		return Services{}, err
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.Tracing.LogSpans {
		spanExporter = observe.NewLogExporter(logger.With("component", "trace"))
	}
	shutdownTracing, err := observe.InitProvider(ctx, observe.ProviderConfig{TraceExporter: spanExporter})
	if err != nil {
		return Services{}, fmt.Errorf("tracing: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		_ = shutdownTracing(context.WithoutCancel(ctx))
		return Services{}, err
	}

	ident := identity.NewProvider(db, cfg.Identity.Timezone)
	client := backend.New(cfg.Backend.URL, backend.WithLogger(logger.With("component", "backend")))
	refresher := sessions.NewRefresher(client, ident, db, opts.SessionViews, cfg.Session.RecentLimit, logger.With("component", "sessions"))

	var captions ports.TranscriptionProvider
	if strings.TrimSpace(cfg.Deepgram.APIKey) != "" {
		captions = deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}, logger.With("component", "deepgram"))
	}

	mode := usecase.InterpretModeAudio
	if cfg.Interpret.Mode == config.ModeTranscript {
		mode = usecase.InterpretModeTranscript
	}

	pipeline := usecase.NewPipeline(
		usecase.Dependencies{
			Permission:  opts.Permission,
			Audio:       audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
			Encoder:     audio.WAVEncoder{},
			Captions:    captions,
			Interpreter: usecase.NewInterpretationClient(ident, client, normalizer, cfg.Backend.InterpretTimeout, logger),
			Committer:   usecase.NewActivityCommitClient(ident, client, cfg.Backend.CommitTimeout, logger),
			Refresher:   refresher,
			Events:      opts.Events,
		},
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
				Keywords:       keywords,
			},
			ChunkSize:      cfg.Session.ChunkSize,
			StreamingGrace: cfg.Session.StreamingGrace,
			MinDuration:    cfg.Audio.MinDuration,
			Mode:           mode,
			RefreshTimeout: cfg.Session.RefreshTimeout,
		},
		logger.With("component", "pipeline"),
	)

	observe.MetricsServer(ctx, cfg.Metrics.ListenAddr, logger)
	logger.Debug("services built", "backend", cfg.Backend.URL, "mode", mode, "captions", captions != nil, "vocabulary", normalizer != nil)

	return Services{
		Pipeline: pipeline,
		Identity: ident,
		Backend:  client,
		Sessions: refresher,
		Store:    db,
		Config:   cfg,
		Logger:   logger,

		shutdownTracing: shutdownTracing,
	}, nil
}

// buildVocabulary merges the vocabulary file with inline substitutions. The
// replacement words of literal substitutions double as caption keywords.
func buildVocabulary(cfg config.VocabularyConfig) (ports.TextNormalizer, []string, error) {
	fromFile, err := vocab.LoadFile(cfg.File)
	if err != nil {
		return nil, nil, err
	}
	subs := append(fromFile, cfg.Substitutions...)
	if len(subs) == 0 {
		return nil, nil, nil
	}

	substituter, err := vocab.New(subs, cfg.IterationLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("vocabulary: %w", err)
	}
	keywords := lo.Uniq(lo.FilterMap(subs, func(sub vocab.Substitution, _ int) (string, bool) {
		word := strings.TrimSpace(sub.Replace)
		return word, !sub.Regex && word != "" && !strings.ContainsAny(word, " \t")
	}))
	return substituter, keywords, nil
}
