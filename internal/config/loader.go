package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override. Variables that existed
// before scrumscribe, such as DISCORD_TOKEN, are also read unprefixed.
const EnvPrefix = "SCRUMSCRIBE"

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment without overriding variables that are
// already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. An empty path skips the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of [Default], applies
// environment overrides, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides lists every variable that may override the file. Unset
// variables leave the field untouched.
type envOverrides struct {
	ListenAddr string `envconfig:"LISTEN_ADDR"`
	LogLevel   string `envconfig:"LOG_LEVEL"`

	DiscordToken    string `envconfig:"DISCORD_TOKEN"`
	DiscordGuildID  string `envconfig:"DISCORD_GUILD_ID"`
	ModeratorRoleID string `envconfig:"DISCORD_MODERATOR_ROLE_ID"`

	RemoteURL   string   `envconfig:"COLAB_API_URL"`
	Language    string   `envconfig:"STT_LANGUAGE"`
	Tiers       []string `envconfig:"STT_TIERS"`
	Python      string   `envconfig:"STT_PYTHON"`
	Script      string   `envconfig:"STT_SCRIPT"`
	DeepgramKey string   `envconfig:"DEEPGRAM_API_KEY"`
	WhisperURL  string   `envconfig:"WHISPER_SERVER_URL"`

	TrackerToken  string `envconfig:"CLICKUP_API_TOKEN"`
	TrackerTeamID string `envconfig:"CLICKUP_TEAM_ID"`

	SpeakerDelay *time.Duration `envconfig:"SPEAKER_DELAY"`
}

// ApplyEnv overlays environment variables onto cfg. Each variable is read
// as SCRUMSCRIBE_<NAME> first and then as <NAME>.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.ListenAddr, o.ListenAddr)
	if o.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(o.LogLevel))
	}
	set(&cfg.Discord.Token, o.DiscordToken)
	set(&cfg.Discord.GuildID, o.DiscordGuildID)
	set(&cfg.Discord.ModeratorRoleID, o.ModeratorRoleID)
	set(&cfg.STT.Remote.URL, o.RemoteURL)
	set(&cfg.STT.Language, o.Language)
	set(&cfg.STT.Local.Python, o.Python)
	set(&cfg.STT.Local.Script, o.Script)
	set(&cfg.STT.Deepgram.APIKey, o.DeepgramKey)
	set(&cfg.STT.Whisper.URL, o.WhisperURL)
	if len(o.Tiers) > 0 {
		cfg.STT.Tiers = o.Tiers
	}
	set(&cfg.Tracker.APIToken, o.TrackerToken)
	set(&cfg.Tracker.TeamID, o.TrackerTeamID)
	if o.SpeakerDelay != nil {
		cfg.Session.SpeakerDelay = *o.SpeakerDelay
	}
	return nil
}

// KnownTiers lists the backend names [Validate] accepts without warning.
var KnownTiers = []string{"remote", "local", "deepgram", "whisper"}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}

	if cfg.Discord.Enabled() && cfg.Discord.GuildID == "" {
		errs = append(errs, fmt.Errorf("discord.guild_id is required when discord.token is set"))
	}
	if cfg.Discord.SilenceGap <= 0 {
		errs = append(errs, fmt.Errorf("discord.silence_gap must be positive"))
	}

	if len(cfg.STT.Tiers) == 0 {
		errs = append(errs, fmt.Errorf("stt.tiers must name at least one backend"))
	}
	seen := make(map[string]bool, len(cfg.STT.Tiers))
	for i, name := range cfg.STT.Tiers {
		if seen[name] {
			errs = append(errs, fmt.Errorf("stt.tiers[%d] %q is listed twice", i, name))
		}
		seen[name] = true
		if !slices.Contains(KnownTiers, name) {
			slog.Warn("unknown stt tier; it must be registered by the caller", "name", name, "known", KnownTiers)
		}
	}
	if seen["remote"] && cfg.STT.Remote.URL == "" {
		errs = append(errs, fmt.Errorf("stt.remote.url is required when the remote tier is enabled (or set COLAB_API_URL)"))
	}
	for i, step := range cfg.STT.Remote.TimeoutSteps {
		if step.BelowBytes <= 0 || step.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("stt.remote.timeout_steps[%d] needs a positive below_bytes and timeout", i))
		}
		if i > 0 && step.BelowBytes <= cfg.STT.Remote.TimeoutSteps[i-1].BelowBytes {
			errs = append(errs, fmt.Errorf("stt.remote.timeout_steps[%d] must be sorted by below_bytes ascending", i))
		}
	}
	if cfg.STT.Remote.MaxTimeout < 0 {
		errs = append(errs, fmt.Errorf("stt.remote.max_timeout must not be negative"))
	}
	if seen["local"] && cfg.STT.Local.Script == "" {
		errs = append(errs, fmt.Errorf("stt.local.script is required when the local tier is enabled"))
	}
	if cfg.STT.Local.Timeout < 0 {
		errs = append(errs, fmt.Errorf("stt.local.timeout must not be negative"))
	}
	if seen["deepgram"] && cfg.STT.Deepgram.APIKey == "" {
		errs = append(errs, fmt.Errorf("stt.deepgram.api_key is required when the deepgram tier is enabled (or set DEEPGRAM_API_KEY)"))
	}
	if seen["whisper"] && cfg.STT.Whisper.URL == "" {
		errs = append(errs, fmt.Errorf("stt.whisper.url is required when the whisper tier is enabled"))
	}
	if (cfg.STT.UploadSampleRate == 0) != (cfg.STT.UploadChannels == 0) {
		errs = append(errs, fmt.Errorf("stt.upload_sample_rate and stt.upload_channels must be set together"))
	}
	if cfg.STT.UploadSampleRate < 0 || cfg.STT.UploadChannels < 0 || cfg.STT.MinAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("stt upload format and min_audio_bytes must not be negative"))
	}
	if cfg.STT.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("stt.retry.max_attempts must be at least 1"))
	}
	if cfg.STT.Retry.Max < cfg.STT.Retry.Initial {
		errs = append(errs, fmt.Errorf("stt.retry.max (%v) must not be below stt.retry.initial (%v)", cfg.STT.Retry.Max, cfg.STT.Retry.Initial))
	}

	if err := cfg.Matching.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching: %w", err))
	}

	if cfg.Session.SpeakerDelay < 0 {
		errs = append(errs, fmt.Errorf("session.speaker_delay must not be negative"))
	}

	if cfg.Tracker.Enabled() && cfg.Tracker.TeamID == "" {
		errs = append(errs, fmt.Errorf("tracker.team_id is required when tracker.api_token is set (or set CLICKUP_TEAM_ID)"))
	}
	if !cfg.Tracker.Enabled() {
		slog.Warn("tracker.api_token is empty; sessions will be summarised without task matching")
	}

	if cfg.Storage.TranscriptFile == "" {
		errs = append(errs, fmt.Errorf("storage.transcript_file is required"))
	}

	return errors.Join(errs...)
}
