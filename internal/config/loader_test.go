package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scrumscribe/internal/config"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  shutdown_timeout: 30s

discord:
  token: bot-token
  guild_id: "123"
  moderator_role_id: "456"
  silence_gap: 1500ms

stt:
  tiers: [remote, local]
  language: en
  remote:
    url: https://colab.example.com
    timeout_steps:
      - below_bytes: 2097152
        timeout: 45s
    max_timeout: 4m
  local:
    python: /usr/bin/python3
    script: scripts/whisper_transcribe.py
    timeout: 90s
  retry:
    max_attempts: 4

matching:
  inclusion: 0.4
  max_results: 3

session:
  speaker_delay: 2s

tracker:
  api_token: pk_abc
  team_id: "9001"

storage:
  transcript_file: /var/lib/scrumscribe/transcripts.txt
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown_timeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Discord.SilenceGap != 1500*time.Millisecond {
		t.Errorf("silence_gap = %v, want 1.5s", cfg.Discord.SilenceGap)
	}
	if cfg.Discord.MaxUtterance != 60*time.Second {
		t.Errorf("max_utterance = %v, want default 60s", cfg.Discord.MaxUtterance)
	}
	if cfg.STT.Language != "en" || cfg.STT.Remote.URL != "https://colab.example.com" {
		t.Errorf("stt = %+v", cfg.STT)
	}
	if steps := cfg.STT.Remote.TimeoutSteps; len(steps) != 1 || steps[0].BelowBytes != 2<<20 || steps[0].Timeout != 45*time.Second {
		t.Errorf("timeout_steps = %+v", steps)
	}
	if cfg.STT.Remote.MaxTimeout != 4*time.Minute || cfg.STT.Local.Timeout != 90*time.Second {
		t.Errorf("max_timeout = %v, local timeout = %v", cfg.STT.Remote.MaxTimeout, cfg.STT.Local.Timeout)
	}
	if cfg.STT.Retry.MaxAttempts != 4 || cfg.STT.Retry.Initial != time.Second {
		t.Errorf("retry = %+v, want attempts from file and initial from defaults", cfg.STT.Retry)
	}
	if cfg.Matching.Inclusion != 0.4 || cfg.Matching.MaxResults != 3 {
		t.Errorf("matching = %+v", cfg.Matching)
	}
	if cfg.Matching.High != 0.8 {
		t.Errorf("matching.high = %v, want default 0.8", cfg.Matching.High)
	}
	if cfg.Session.SpeakerDelay != 2*time.Second {
		t.Errorf("speaker_delay = %v", cfg.Session.SpeakerDelay)
	}
	if !cfg.Tracker.Enabled() || cfg.Tracker.TeamID != "9001" {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if cfg.Storage.SpeakersFile != "speakers.yaml" {
		t.Errorf("speakers_file = %q, want default", cfg.Storage.SpeakersFile)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("stt:\n  tiers: [local]\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want default", cfg.Server.ListenAddr)
	}
	if len(cfg.STT.Tiers) != 1 || cfg.STT.Tiers[0] != "local" {
		t.Errorf("tiers = %v, want [local]", cfg.STT.Tiers)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestLoadFromReader_InvalidYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: [unclosed"))
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scrumscribe.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.GuildID != "123" {
		t.Errorf("guild_id = %q", cfg.Discord.GuildID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "absent.yaml") {
		t.Errorf("error %q should name the path", err)
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("SCRUMSCRIBE_COLAB_API_URL", "https://env.example.com")
	t.Setenv("SCRUMSCRIBE_LOG_LEVEL", "WARN")
	t.Setenv("SCRUMSCRIBE_STT_TIERS", "local,remote")
	t.Setenv("SCRUMSCRIBE_SPEAKER_DELAY", "250ms")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.STT.Remote.URL != "https://env.example.com" {
		t.Errorf("remote url = %q", cfg.STT.Remote.URL)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level = %q, want warn", cfg.Server.LogLevel)
	}
	if got := strings.Join(cfg.STT.Tiers, ","); got != "local,remote" {
		t.Errorf("tiers = %q", got)
	}
	if cfg.Session.SpeakerDelay != 250*time.Millisecond {
		t.Errorf("speaker_delay = %v", cfg.Session.SpeakerDelay)
	}
}

func TestApplyEnv_UnprefixedNames(t *testing.T) {
	t.Setenv("CLICKUP_API_TOKEN", "pk_env")
	t.Setenv("CLICKUP_TEAM_ID", "77")
	t.Setenv("SCRUMSCRIBE_STT_LANGUAGE", "en")
	t.Setenv("STT_LANGUAGE", "de")

	cfg := config.Default()
	if err := config.ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Tracker.APIToken != "pk_env" || cfg.Tracker.TeamID != "77" {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if cfg.STT.Language != "en" {
		t.Errorf("language = %q, want the prefixed value", cfg.STT.Language)
	}
}

func TestApplyEnv_FileValueWinsWhenUnset(t *testing.T) {
	t.Setenv("SCRUMSCRIBE_DISCORD_TOKEN", "")

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "bot-token" {
		t.Errorf("token = %q, want file value", cfg.Discord.Token)
	}
}

func TestApplyEnv_BadDuration(t *testing.T) {
	t.Setenv("SCRUMSCRIBE_SPEAKER_DELAY", "soon")
	if err := config.ApplyEnv(config.Default()); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SCRUMSCRIBE_DOTENV_PROBE"
	t.Setenv(key, "")
	os.Unsetenv(key)

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}
}

func TestLoadDotEnv_KeepsExisting(t *testing.T) {
	const key = "SCRUMSCRIBE_DOTENV_KEEP"
	t.Setenv(key, "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-env" {
		t.Errorf("%s = %q, want from-env", key, got)
	}
}
