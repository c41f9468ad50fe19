// Package app wires all scrumscribe subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown finalizes an
// active stand-up and tears everything down in order.
//
// For testing, inject doubles via functional options (WithSTTBackend,
// WithTaskSource, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scrumscribe/internal/config"
	"github.com/MrWong99/scrumscribe/internal/discord"
	"github.com/MrWong99/scrumscribe/internal/discord/commands"
	"github.com/MrWong99/scrumscribe/internal/health"
	"github.com/MrWong99/scrumscribe/internal/identity"
	"github.com/MrWong99/scrumscribe/internal/ingest"
	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/observe"
	"github.com/MrWong99/scrumscribe/internal/session"
	"github.com/MrWong99/scrumscribe/internal/tracker"
	"github.com/MrWong99/scrumscribe/internal/tracker/clickup"
	"github.com/MrWong99/scrumscribe/internal/transcribe"
	"github.com/MrWong99/scrumscribe/internal/transcriptlog"
	"github.com/MrWong99/scrumscribe/pkg/audio"
	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	level    *slog.LevelVar
	metrics  *observe.Metrics
	registry *config.Registry

	configPath    string
	watchInterval time.Duration

	identities  *identity.Store
	transcripts *transcriptlog.Log
	channels    *discord.ChannelStore
	clickup     *clickup.Client
	tasks       tracker.Source
	backends    []stt.Backend
	backend     stt.Backend
	orch        *transcribe.Orchestrator
	sessions    *session.Manager
	presenter   session.Presenter
	platform    audio.Platform
	standup     *Standup
	bot         *discord.Bot
	health      *health.Handler
	handler     http.Handler
	server      *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLevelVar lets hot reload change the log level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry replaces [DefaultRegistry] for building the stt tiers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithSTTBackend injects the transcription backend instead of building the
// tier chain from config.
func WithSTTBackend(b stt.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithTaskSource injects the task catalog instead of a ClickUp client.
func WithTaskSource(s tracker.Source) Option {
	return func(a *App) { a.tasks = s }
}

// WithPresenter injects the session presenter.
func WithPresenter(p session.Presenter) Option {
	return func(a *App) { a.presenter = p }
}

// WithPlatform injects a voice platform, e.g. when Discord is disabled.
func WithPlatform(p audio.Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithConfigWatch reloads path every interval while Run is active.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}

	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	if err := a.initTracker(); err != nil {
		return nil, fmt.Errorf("app: init tracker: %w", err)
	}
	if err := a.initTranscription(); err != nil {
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}
	if err := a.initDiscord(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init discord: %w", err)
	}
	a.initSessions()
	a.initCommands()
	a.initHTTP()

	slog.Info("app initialised",
		"stt", a.backend.Name(),
		"tracker", a.cfg.Tracker.Enabled(),
		"discord", a.bot != nil,
		"listen_addr", a.cfg.Server.ListenAddr,
	)
	return a, nil
}

func (a *App) initStorage() error {
	var err error
	if a.identities, err = identity.Open(a.cfg.Storage.SpeakersFile); err != nil {
		return err
	}
	if a.transcripts, err = transcriptlog.Open(a.cfg.Storage.TranscriptFile); err != nil {
		return err
	}
	channelFile := a.cfg.Storage.ChannelFile
	if channelFile == "" {
		channelFile = discord.DefaultChannelFile
	}
	if a.channels, err = discord.OpenChannelStore(channelFile); err != nil {
		return err
	}
	return nil
}

func (a *App) initTracker() error {
	if a.tasks != nil || !a.cfg.Tracker.Enabled() {
		return nil
	}
	opts := []clickup.Option{clickup.WithMetrics(a.metrics)}
	if a.cfg.Tracker.BaseURL != "" {
		opts = append(opts, clickup.WithBaseURL(a.cfg.Tracker.BaseURL))
	}
	c, err := clickup.New(a.cfg.Tracker.APIToken, a.cfg.Tracker.TeamID, opts...)
	if err != nil {
		return err
	}
	a.clickup = c
	a.tasks = c
	return nil
}

func (a *App) initTranscription() error {
	sc := a.cfg.STT
	if a.backend == nil {
		backends, err := a.registry.CreateSTTTiers(sc)
		if err != nil {
			return err
		}
		tiers := make([]transcribe.Tier, len(backends))
		for i, b := range backends {
			tiers[i] = transcribe.Tier{Backend: b, Retry: tierPolicy(sc.Tiers[i], sc.Retry)}
		}
		chain, err := transcribe.NewChain(breakerConfig(sc.CircuitBreaker), a.metrics, tiers...)
		if err != nil {
			return err
		}
		a.backends = backends
		a.backend = chain
	}

	opts := []transcribe.Option{
		transcribe.WithLanguage(sc.Language),
		transcribe.WithMinAudioBytes(sc.MinAudioBytes),
		transcribe.WithTranscriptLog(a.transcripts),
		transcribe.WithMetrics(a.metrics),
	}
	if sc.UploadSampleRate > 0 {
		opts = append(opts, transcribe.WithUploadFormat(audio.Format{
			SampleRate: sc.UploadSampleRate,
			Channels:   sc.UploadChannels,
		}))
	}
	a.orch = transcribe.New(a.backend, opts...)
	a.closers = append(a.closers, func() error {
		a.orch.Wait()
		return nil
	})
	return nil
}

func (a *App) initDiscord(ctx context.Context) error {
	if !a.cfg.Discord.Enabled() {
		return nil
	}
	bot, err := discord.New(ctx, discord.Config{
		Token:           a.cfg.Discord.Token,
		GuildID:         a.cfg.Discord.GuildID,
		ModeratorRoleID: a.cfg.Discord.ModeratorRoleID,
		Segmenter: []audio.SegmenterOption{
			audio.WithSilenceGap(a.cfg.Discord.SilenceGap),
			audio.WithMaxUtterance(a.cfg.Discord.MaxUtterance),
		},
	})
	if err != nil {
		return err
	}
	a.bot = bot
	a.closers = append(a.closers, bot.Close)
	if a.platform == nil {
		a.platform = bot.Platform()
	}
	if a.presenter == nil {
		a.presenter = discord.NewPresenter(bot.Session(), a.channels, discord.WithNames(a.speakerName))
	}
	return nil
}

func (a *App) initSessions() {
	if a.presenter == nil {
		a.presenter = session.LogPresenter{}
	}

	deps := session.Deps{
		Presenter:    a.presenter,
		Directory:    a.identities,
		Tasks:        a.tasks,
		Matcher:      match.NewMatcher(match.WithThresholds(a.cfg.Matching)),
		SpeakerDelay: a.cfg.Session.SpeakerDelay,
		Metrics:      a.metrics,
	}
	if a.tasks == nil {
		// Without a tracker every speaker is summarised but none is matched.
		deps.Directory = noTracker{}
		deps.Tasks = noTracker{}
	}

	var opts []session.Option
	if a.cfg.Session.DrainPoll > 0 {
		opts = append(opts, session.WithDrainPoll(a.cfg.Session.DrainPoll))
	}
	a.sessions = session.NewManager(deps, opts...)
	a.standup = NewStandup(StandupConfig{
		Sessions:     a.sessions,
		Orchestrator: a.orch,
		Platform:     a.platform,
		Tasks:        a.tasks,
		Metrics:      a.metrics,
	})
}

func (a *App) initCommands() {
	if a.bot == nil {
		return
	}
	deps := commands.Deps{
		Standup:        a.standup,
		Transcripts:    a.transcripts,
		Identities:     a.identities,
		Channels:       a.channels,
		Perms:          a.bot.Permissions(),
		VoiceChannelOf: a.bot.VoiceChannelOf,
		Names:          a.speakerName,
	}
	if a.clickup != nil {
		deps.Members = a.clickup
	}
	commands.New(deps).Register(a.bot.Router())
}

func (a *App) initHTTP() {
	a.health = health.New(a.checkers()...)

	mux := http.NewServeMux()
	ingest.New(a.standup).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.handler = observe.Middleware(a.metrics)(mux)

	if a.cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              a.cfg.Server.ListenAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
}

// checkers builds the readiness checks. Every tier is optional because the
// chain falls through; the tracker is optional because recording works
// without it.
func (a *App) checkers() []health.Checker {
	var out []health.Checker
	for _, b := range a.backends {
		hc, ok := b.(stt.HealthChecker)
		if !ok {
			continue
		}
		out = append(out, health.Checker{
			Name:     "stt_" + b.Name(),
			Optional: true,
			Check: func(ctx context.Context) error {
				h, err := hc.Health(ctx)
				if err != nil {
					return err
				}
				if !h.Ready {
					return errors.New("not ready")
				}
				return nil
			},
		})
	}
	if a.clickup != nil {
		out = append(out, health.Checker{Name: "tracker", Optional: true, Check: a.clickup.Ping})
	}
	return out
}

// speakerName renders a speaker by their linked tracker name, falling back
// to a mention.
func (a *App) speakerName(id string) string {
	if ident, ok := a.identities.Lookup(id); ok && ident.Name != "" {
		return ident.Name
	}
	return discord.Mention(id)
}

// Handler returns the HTTP handler serving the ingest API, health, and
// metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Standup returns the session control.
func (a *App) Standup() *Standup { return a.standup }

// Run serves until ctx is cancelled. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	if a.bot != nil {
		g.Go(func() error {
			if err := a.bot.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			a.ApplyDiff(d)
		}, config.WithInterval(a.watchInterval))
		if err != nil {
			slog.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error {
				w.Run(gctx)
				return nil
			})
		}
	}

	slog.Info("app running")
	<-gctx.Done()
	return g.Wait()
}

// ApplyDiff applies the hot-reloadable part of a config change.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MatchingChanged {
		a.sessions.SetMatcher(match.NewMatcher(match.WithThresholds(d.NewMatching)))
		slog.Info("matching thresholds changed", "thresholds", d.NewMatching)
	}
	if d.SpeakerDelayChanged {
		a.sessions.SetSpeakerDelay(d.NewSpeakerDelay)
		slog.Info("speaker delay changed", "delay", d.NewSpeakerDelay)
	}
}

// Shutdown finalizes an active stand-up, then tears down all subsystems. It
// respects the context deadline: if ctx expires, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.standup.Active() != nil {
			if _, err := a.standup.Stop(ctx); err != nil {
				slog.Warn("shutdown: finalize active stand-up", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}

// noTracker stands in for the directory and the catalog when no tracker is
// configured.
type noTracker struct{}

func (noTracker) Lookup(string) (identity.Identity, bool) { return identity.Identity{}, false }

func (noTracker) OpenTasks(context.Context, string) ([]tracker.Task, error) { return nil, nil }
