package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"babybaton/internal/audio"
	"babybaton/internal/store"
	"babybaton/internal/vocab"
)

// Config is the runtime configuration of the desktop app and the CLI.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Audio      AudioConfig      `yaml:"audio"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	Interpret  InterpretConfig  `yaml:"interpret"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Session    SessionConfig    `yaml:"session"`
	Identity   IdentityConfig   `yaml:"identity"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type BackendConfig struct {
	URL              string        `yaml:"url"`
	InterpretTimeout time.Duration `yaml:"interpret_timeout"`
	CommitTimeout    time.Duration `yaml:"commit_timeout"`
}

type AudioConfig struct {
	RecorderCommand string        `yaml:"ffmpeg"`
	InputFormat     string        `yaml:"format"`
	InputDevice     string        `yaml:"device"`
	SampleRate      int           `yaml:"sample_rate"`
	Channels        int           `yaml:"channels"`
	MinDuration     time.Duration `yaml:"min_duration"`
}

type DeepgramConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

// InterpretConfig selects what is sent for interpretation: the recording
// ("audio") or the live caption transcript ("transcript").
type InterpretConfig struct {
	Mode string `yaml:"mode"`
}

type VocabularyConfig struct {
	File           string               `yaml:"file"`
	IterationLimit int                  `yaml:"iteration_limit"`
	Substitutions  []vocab.Substitution `yaml:"substitutions"`
}

type SessionConfig struct {
	ChunkSize      int           `yaml:"chunk_size"`
	StreamingGrace time.Duration `yaml:"streaming_grace"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	RecentLimit    int           `yaml:"recent_limit"`
}

type IdentityConfig struct {
	// Timezone overrides the device zone sent with every backend call.
	Timezone string `yaml:"timezone"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// TracingConfig controls span export. Spans are always recorded so trace ids
// reach logs and backend requests.
type TracingConfig struct {
	// LogSpans writes every finished span to the log at debug level.
	LogSpans bool `yaml:"log_spans"`
}

const (
	ModeAudio      = "audio"
	ModeTranscript = "transcript"
)

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	format := audio.DefaultInputFormat()
	return Config{
		Backend: BackendConfig{
			URL:              "http://localhost:8080/query",
			InterpretTimeout: 60 * time.Second,
			CommitTimeout:    20 * time.Second,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     format,
			InputDevice:     audio.DefaultInputDevice(format),
			SampleRate:      16000,
			Channels:        1,
			MinDuration:     500 * time.Millisecond,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Interpret:  InterpretConfig{Mode: ModeAudio},
		Vocabulary: VocabularyConfig{IterationLimit: 30},
		Session: SessionConfig{
			ChunkSize:      4096,
			StreamingGrace: time.Second,
			RefreshTimeout: 15 * time.Second,
			RecentLimit:    10,
		},
		Store: StoreConfig{Path: store.DefaultPath()},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns BABYBATON_CONFIG or ~/.config/babybaton/config.yaml.
func DefaultPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("BABYBATON_CONFIG")); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "babybaton", "config.yaml"), nil
}

// Load resolves configuration from the default file, environment variables
// and defaults, in that order of precedence from last to first.
func Load() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return LoadPath(path)
}

// LoadPath is Load with an explicit file. A missing file is not an error.
func LoadPath(path string) (Config, error) {
	cfg := Defaults()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}

	applyEnv(&cfg)
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults without consulting the
// environment. Useful in tests.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Defaults()
	if err := decode(r, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.URL = envOrDefault("BABYBATON_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.InterpretTimeout = envOrDefaultDuration("BABYBATON_INTERPRET_TIMEOUT", cfg.Backend.InterpretTimeout)
	cfg.Backend.CommitTimeout = envOrDefaultDuration("BABYBATON_COMMIT_TIMEOUT", cfg.Backend.CommitTimeout)

	cfg.Audio.RecorderCommand = envOrDefault("BABYBATON_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("BABYBATON_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("BABYBATON_AUDIO_INPUT_DEVICE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("BABYBATON_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("BABYBATON_CHANNELS", cfg.Audio.Channels)
	if ms := envOrDefaultInt("BABYBATON_MIN_DURATION_MS", -1); ms >= 0 {
		cfg.Audio.MinDuration = time.Duration(ms) * time.Millisecond
	}

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Interpret.Mode = strings.ToLower(envOrDefault("BABYBATON_INTERPRET_MODE", cfg.Interpret.Mode))

	cfg.Vocabulary.File = envOrDefault("BABYBATON_VOCABULARY_FILE", cfg.Vocabulary.File)
	cfg.Vocabulary.IterationLimit = envOrDefaultInt("BABYBATON_VOCABULARY_ITERATION_LIMIT", cfg.Vocabulary.IterationLimit)

	cfg.Session.ChunkSize = envOrDefaultInt("BABYBATON_AUDIO_CHUNK_SIZE", cfg.Session.ChunkSize)
	if ms := envOrDefaultInt("BABYBATON_STREAMING_GRACE_MS", -1); ms >= 0 {
		cfg.Session.StreamingGrace = time.Duration(ms) * time.Millisecond
	}

	cfg.Identity.Timezone = envOrDefault("BABYBATON_TIMEZONE", cfg.Identity.Timezone)
	cfg.Store.Path = envOrDefault("BABYBATON_DB_PATH", cfg.Store.Path)
	cfg.Log.Level = envOrDefault("BABYBATON_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("BABYBATON_LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics.ListenAddr = envOrDefault("BABYBATON_METRICS_ADDR", cfg.Metrics.ListenAddr)
	cfg.Tracing.LogSpans = envOrDefaultBool("BABYBATON_TRACE_LOG_SPANS", cfg.Tracing.LogSpans)
}

// normalize replaces out-of-range tuning values with defaults.
func normalize(cfg *Config) {
	defaults := Defaults()
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaults.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = defaults.Audio.Channels
	}
	if cfg.Vocabulary.IterationLimit <= 0 {
		cfg.Vocabulary.IterationLimit = defaults.Vocabulary.IterationLimit
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = defaults.Session.ChunkSize
	}
	if cfg.Session.StreamingGrace < 0 {
		cfg.Session.StreamingGrace = defaults.Session.StreamingGrace
	}
	if cfg.Session.RefreshTimeout <= 0 {
		cfg.Session.RefreshTimeout = defaults.Session.RefreshTimeout
	}
	if cfg.Session.RecentLimit <= 0 {
		cfg.Session.RecentLimit = defaults.Session.RecentLimit
	}
	if cfg.Audio.MinDuration < 0 {
		cfg.Audio.MinDuration = 0
	}
	cfg.Interpret.Mode = strings.ToLower(strings.TrimSpace(cfg.Interpret.Mode))
	if cfg.Interpret.Mode == "" {
		cfg.Interpret.Mode = ModeAudio
	}
}

// Validate returns a joined error listing every problem found.
func Validate(cfg Config) error {
	var errs []error

	if u, err := url.Parse(cfg.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url %q must be an absolute http(s) URL", cfg.Backend.URL))
	}
	if cfg.Backend.InterpretTimeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.interpret_timeout must be positive, got %s", cfg.Backend.InterpretTimeout))
	}
	if cfg.Backend.CommitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.commit_timeout must be positive, got %s", cfg.Backend.CommitTimeout))
	}
	if strings.TrimSpace(cfg.Audio.RecorderCommand) == "" {
		errs = append(errs, errors.New("audio.ffmpeg is required"))
	}

	switch cfg.Interpret.Mode {
	case ModeAudio:
	case ModeTranscript:
		if cfg.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("interpret.mode transcript needs deepgram.api_key (or DEEPGRAM_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("interpret.mode %q is invalid; valid values: audio, transcript", cfg.Interpret.Mode))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	if tz := strings.TrimSpace(cfg.Identity.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("identity.timezone %q: %w", tz, err))
		}
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
