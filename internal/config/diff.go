package config

import (
	"slices"
	"time"

	"github.com/MrWong99/scrumscribe/internal/match"
)

// ConfigDiff describes what changed between two configs. Only the log
// level, the matching thresholds, and the inter-speaker delay are applied
// without a restart; every other changed section is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MatchingChanged bool
	NewMatching     match.Thresholds

	SpeakerDelayChanged bool
	NewSpeakerDelay     time.Duration

	// RestartRequired names changed sections that only take effect on the
	// next start (e.g. "discord", "stt").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MatchingChanged && !d.SpeakerDelayChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Matching != new.Matching {
		d.MatchingChanged = true
		d.NewMatching = new.Matching
	}
	if old.Session.SpeakerDelay != new.Session.SpeakerDelay {
		d.SpeakerDelayChanged = true
		d.NewSpeakerDelay = new.Session.SpeakerDelay
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.ShutdownTimeout != new.Server.ShutdownTimeout {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if !sttEqual(old.STT, new.STT) {
		d.RestartRequired = append(d.RestartRequired, "stt")
	}
	if old.Session.DrainPoll != new.Session.DrainPoll {
		d.RestartRequired = append(d.RestartRequired, "session.drain_poll")
	}
	if old.Tracker != new.Tracker {
		d.RestartRequired = append(d.RestartRequired, "tracker")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}

	return d
}

func sttEqual(a, b STTConfig) bool {
	return slices.Equal(a.Tiers, b.Tiers) &&
		a.Language == b.Language &&
		a.UploadSampleRate == b.UploadSampleRate &&
		a.UploadChannels == b.UploadChannels &&
		a.MinAudioBytes == b.MinAudioBytes &&
		remoteEqual(a.Remote, b.Remote) &&
		a.Local == b.Local &&
		a.Deepgram == b.Deepgram &&
		a.Whisper == b.Whisper &&
		a.Retry == b.Retry &&
		a.CircuitBreaker == b.CircuitBreaker
}

func remoteEqual(a, b RemoteConfig) bool {
	return a.URL == b.URL &&
		a.HealthTimeout == b.HealthTimeout &&
		a.MaxTimeout == b.MaxTimeout &&
		slices.Equal(a.TimeoutSteps, b.TimeoutSteps)
}
