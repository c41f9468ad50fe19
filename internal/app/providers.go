package app

import (
	"time"

	"github.com/MrWong99/scrumscribe/internal/config"
	"github.com/MrWong99/scrumscribe/internal/resilience"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt/local"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt/remote"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt/whisper"
)

// localRetryStep is the linear backoff unit of the local tier.
const localRetryStep = time.Second

// DefaultRegistry returns a registry with the built-in backends: "remote",
// "local", "deepgram", and "whisper".
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("remote", func(cfg config.STTConfig) (stt.Backend, error) {
		opts := []remote.Option{remote.WithLanguage(cfg.Language)}
		if cfg.Remote.HealthTimeout > 0 {
			opts = append(opts, remote.WithHealthTimeout(cfg.Remote.HealthTimeout))
		}
		if len(cfg.Remote.TimeoutSteps) > 0 || cfg.Remote.MaxTimeout > 0 {
			opts = append(opts, remote.WithTimeoutSteps(timeoutSteps(cfg.Remote)))
		}
		return remote.New(cfg.Remote.URL, opts...)
	})
	reg.RegisterSTT("local", func(cfg config.STTConfig) (stt.Backend, error) {
		opts := []local.Option{local.WithLanguage(cfg.Language)}
		if cfg.Local.Python != "" {
			opts = append(opts, local.WithPython(cfg.Local.Python))
		}
		if cfg.Local.TempDir != "" {
			opts = append(opts, local.WithTempDir(cfg.Local.TempDir))
		}
		if cfg.Local.Timeout > 0 {
			opts = append(opts, local.WithTimeout(cfg.Local.Timeout))
		}
		return local.New(cfg.Local.Script, opts...)
	})
	reg.RegisterSTT("deepgram", func(cfg config.STTConfig) (stt.Backend, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(cfg.Language)}
		if cfg.Deepgram.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Deepgram.Model))
		}
		return deepgram.New(cfg.Deepgram.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(cfg config.STTConfig) (stt.Backend, error) {
		opts := []whisper.Option{whisper.WithLanguage(cfg.Language)}
		if cfg.Whisper.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(cfg.Whisper.Timeout))
		}
		return whisper.New(cfg.Whisper.URL, opts...)
	})
	return reg
}

// timeoutSteps converts the configured deadlines, filling whichever half is
// unset from the remote defaults.
func timeoutSteps(cfg config.RemoteConfig) ([]remote.TimeoutStep, time.Duration) {
	steps := remote.DefaultTimeoutSteps()
	if len(cfg.TimeoutSteps) > 0 {
		steps = make([]remote.TimeoutStep, len(cfg.TimeoutSteps))
		for i, s := range cfg.TimeoutSteps {
			steps[i] = remote.TimeoutStep{Below: s.BelowBytes, Timeout: s.Timeout}
		}
	}
	ceiling := cfg.MaxTimeout
	if ceiling == 0 {
		ceiling = remote.DefaultMaxTimeout
	}
	return steps, ceiling
}

// tierPolicy is the retry policy of one tier: linear for the local
// subprocess, exponential otherwise.
func tierPolicy(name string, r config.RetryConfig) resilience.Policy {
	if name == "local" {
		return resilience.Linear(localRetryStep, r.MaxAttempts)
	}
	return resilience.Exponential(r.Initial, r.Max, r.MaxAttempts)
}

func breakerConfig(cb config.CircuitBreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		HalfOpenMax:  cb.HalfOpenMax,
	}
}
