// Package discord provides the Discord bot layer for scrumscribe. It owns
// the discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, checks the optional moderator role, and posts
// session progress to the saved notification channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrumscribe/internal/resilience"
	"github.com/MrWong99/scrumscribe/pkg/audio"
	discordaudio "github.com/MrWong99/scrumscribe/pkg/audio/discord"
)

// intents covers slash commands, the voice state cache used to find the
// caller's channel, and notification posts.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild whose voice channels are recorded.
	GuildID string

	// ModeratorRoleID restricts start, stop, clear, and setchannel to
	// members with this role. Empty allows everyone.
	ModeratorRoleID string

	// Segmenter options for the voice capture.
	Segmenter []audio.SegmenterOption

	// Connect is the retry policy for opening the gateway. Zero uses
	// three attempts with exponential wait.
	Connect resilience.Policy
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	session  *discordgo.Session
	platform *discordaudio.Platform
	router   *CommandRouter
	perms    *PermissionChecker
	guildID  string

	mu        sync.Mutex
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot and opens the gateway, retrying transient failures.
// REST rejections such as a bad token are not retried.
func New(ctx context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = intents

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session, cfg.GuildID, cfg.Segmenter...),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.ModeratorRoleID),
		guildID:  cfg.GuildID,
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	policy := cfg.Connect
	if policy.MaxAttempts == 0 {
		policy = resilience.Exponential(time.Second, 10*time.Second, 3)
	}
	if err := resilience.Retry(ctx, policy, "discord.open", func(context.Context) error {
		return session.Open()
	}, retryableOpen); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// retryableOpen rejects errors that a second attempt cannot fix.
func retryableOpen(err error) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode >= 500 || rest.Response.StatusCode == 429
	}
	return true
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform { return b.platform }

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session { return b.session }

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter { return b.router }

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker { return b.perms }

// VoiceChannelOf reports the voice channel userID is connected to in the
// bot's guild, from the gateway state cache.
func (b *Bot) VoiceChannelOf(userID string) (string, bool) {
	vs, err := b.session.State.VoiceState(b.guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// Run registers the router's slash commands in the guild and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if cmds := b.router.ApplicationCommands(); len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close removes the registered commands and disconnects. Only the first
// call has an effect.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		registered := b.commands
		b.commands = nil
		b.mu.Unlock()

		appID := ""
		if b.session.State.User != nil {
			appID = b.session.State.User.ID
		}
		for _, cmd := range registered {
			if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
				slog.Warn("discord: delete command", "name", cmd.Name, "err", err)
			}
		}
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
