package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrumscribe/internal/session"
)

// MessageSender is the subset of *discordgo.Session used to post embeds.
type MessageSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ MessageSender = (*discordgo.Session)(nil)

// ChannelSource yields the notification channel. *ChannelStore
// implements it.
type ChannelSource interface {
	Get() string
}

// Presenter posts session progress as embeds to the saved text channel.
// Without a saved channel it falls back to logging.
type Presenter struct {
	sender   MessageSender
	channels ChannelSource
	names    NameFunc
	fallback session.Presenter
}

var _ session.Presenter = (*Presenter)(nil)

// PresenterOption configures a [Presenter].
type PresenterOption func(*Presenter)

// WithNames sets how speakers are rendered. Default: user mentions.
func WithNames(fn NameFunc) PresenterOption {
	return func(p *Presenter) { p.names = fn }
}

// WithFallback replaces the presenter used when no channel is saved.
func WithFallback(fb session.Presenter) PresenterOption {
	return func(p *Presenter) { p.fallback = fb }
}

// NewPresenter creates a Presenter.
func NewPresenter(sender MessageSender, channels ChannelSource, opts ...PresenterOption) *Presenter {
	p := &Presenter{
		sender:   sender,
		channels: channels,
		names:    Mention,
		fallback: session.LogPresenter{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Presenter) send(embed *discordgo.MessageEmbed) (bool, error) {
	ch := p.channels.Get()
	if ch == "" {
		return false, nil
	}
	if _, err := p.sender.ChannelMessageSendEmbed(ch, embed); err != nil {
		return true, fmt.Errorf("discord: send %q to %s: %w", embed.Title, ch, err)
	}
	return true, nil
}

func (p *Presenter) SessionStarted(ctx context.Context, s *session.Session) error {
	if sent, err := p.send(StartedEmbed(s)); sent {
		return err
	}
	return p.fallback.SessionStarted(ctx, s)
}

func (p *Presenter) SessionSummary(ctx context.Context, sum session.Summary) error {
	if sent, err := p.send(SummaryEmbed(sum, p.names)); sent {
		return err
	}
	return p.fallback.SessionSummary(ctx, sum)
}

func (p *Presenter) SpeakerMatches(ctx context.Context, m session.SpeakerMatches) error {
	if sent, err := p.send(MatchesEmbed(m, p.names)); sent {
		return err
	}
	return p.fallback.SpeakerMatches(ctx, m)
}

func (p *Presenter) SessionEnded(ctx context.Context, r session.Report) error {
	if sent, err := p.send(EndedEmbed(r)); sent {
		return err
	}
	return p.fallback.SessionEnded(ctx, r)
}
