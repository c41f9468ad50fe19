// Package config provides the configuration schema, loader, hot-reload
// watcher, and speech-to-text backend registry for scrumscribe.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/scrumscribe/internal/match"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Discord  DiscordConfig    `yaml:"discord"`
	STT      STTConfig        `yaml:"stt"`
	Matching match.Thresholds `yaml:"matching"`
	Session  SessionConfig    `yaml:"session"`
	Tracker  TrackerConfig    `yaml:"tracker"`
	Storage  StorageConfig    `yaml:"storage"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the ingest API, health and metrics
	// endpoints (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown, including finalizing an
	// active session.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TraceSampleRatio is the fraction of new traces recorded, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// DiscordConfig configures the bot. An empty token disables Discord.
type DiscordConfig struct {
	Token           string `yaml:"token"`
	GuildID         string `yaml:"guild_id"`
	ModeratorRoleID string `yaml:"moderator_role_id"`

	// SilenceGap ends a speaker's utterance.
	SilenceGap time.Duration `yaml:"silence_gap"`

	// MaxUtterance force-flushes a speaker who talks without pause.
	MaxUtterance time.Duration `yaml:"max_utterance"`
}

// Enabled reports whether the bot should be started.
func (d DiscordConfig) Enabled() bool { return d.Token != "" }

// STTConfig configures the speech-to-text chain.
type STTConfig struct {
	// Tiers names the backends in fallback order. Each must be registered
	// in the [Registry].
	Tiers []string `yaml:"tiers"`

	Language string `yaml:"language"`

	// UploadSampleRate and UploadChannels describe the WAV sent to
	// backends. Zero keeps the captured format.
	UploadSampleRate int `yaml:"upload_sample_rate"`
	UploadChannels   int `yaml:"upload_channels"`

	// MinAudioBytes skips shorter segments.
	MinAudioBytes int `yaml:"min_audio_bytes"`

	Remote         RemoteConfig         `yaml:"remote"`
	Local          LocalConfig          `yaml:"local"`
	Deepgram       DeepgramConfig       `yaml:"deepgram"`
	Whisper        WhisperConfig        `yaml:"whisper"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RemoteConfig configures the HTTP transcription service.
type RemoteConfig struct {
	URL           string        `yaml:"url"`
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// TimeoutSteps scale the request deadline with the upload size, sorted
	// by BelowBytes ascending. MaxTimeout applies beyond the last step.
	// Both empty keep the built-in steps.
	TimeoutSteps []TimeoutStep `yaml:"timeout_steps"`
	MaxTimeout   time.Duration `yaml:"max_timeout"`
}

// TimeoutStep gives uploads smaller than BelowBytes the deadline Timeout.
type TimeoutStep struct {
	BelowBytes int           `yaml:"below_bytes"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LocalConfig configures the subprocess transcriber.
type LocalConfig struct {
	Python  string `yaml:"python"`
	Script  string `yaml:"script"`
	TempDir string `yaml:"temp_dir"`

	// Timeout bounds one script run.
	Timeout time.Duration `yaml:"timeout"`
}

// DeepgramConfig configures the Deepgram streaming tier.
type DeepgramConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// WhisperConfig configures the whisper.cpp server tier.
type WhisperConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig is the per-tier retry policy: exponential from Initial,
// capped at Max.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
}

// CircuitBreakerConfig tunes the per-tier circuit breakers.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// SessionConfig tunes finalization.
type SessionConfig struct {
	// SpeakerDelay separates consecutive speakers while posting matches.
	SpeakerDelay time.Duration `yaml:"speaker_delay"`

	// DrainPoll is the fallback poll interval while waiting for pending
	// transcriptions.
	DrainPoll time.Duration `yaml:"drain_poll"`
}

// TrackerConfig configures ClickUp. An empty token disables task matching.
type TrackerConfig struct {
	APIToken string `yaml:"api_token"`
	TeamID   string `yaml:"team_id"`

	// BaseURL overrides the public API root.
	BaseURL string `yaml:"base_url"`
}

// Enabled reports whether a tracker is configured.
func (t TrackerConfig) Enabled() bool { return t.APIToken != "" }

// StorageConfig holds file locations.
type StorageConfig struct {
	TranscriptFile string `yaml:"transcript_file"`
	ChannelFile    string `yaml:"channel_file"`
	SpeakersFile   string `yaml:"speakers_file"`
}

// Default returns the configuration used for every field the YAML file and
// the environment leave unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8080",
			LogLevel:         LogInfo,
			ShutdownTimeout:  2 * time.Minute,
			TraceSampleRatio: 1,
		},
		Discord: DiscordConfig{
			SilenceGap:   time.Second,
			MaxUtterance: 60 * time.Second,
		},
		STT: STTConfig{
			Tiers:            []string{"remote", "local"},
			Language:         "th",
			UploadSampleRate: 16000,
			UploadChannels:   1,
			MinAudioBytes:    1024,
			Remote:           RemoteConfig{HealthTimeout: 10 * time.Second},
			Local:            LocalConfig{Python: "python3", Script: "whisper_transcribe.py", Timeout: 5 * time.Minute},
			Deepgram:         DeepgramConfig{Model: "nova-3"},
			Retry:            RetryConfig{MaxAttempts: 3, Initial: time.Second, Max: 10 * time.Second},
			CircuitBreaker:   CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 3},
		},
		Matching: match.DefaultThresholds(),
		Session: SessionConfig{
			SpeakerDelay: time.Second,
			DrainPoll:    time.Second,
		},
		Storage: StorageConfig{
			TranscriptFile: "recordings/transcripts.txt",
			ChannelFile:    "recordings/saved_channel.txt",
			SpeakersFile:   "speakers.yaml",
		},
	}
}
