// Package discord provides an [audio.Platform] that captures Discord voice
// channels via bwmarrin/discordgo. The bot joins muted and only listens;
// decoded audio is split into per-user utterances.
//
// The platform borrows the *discordgo.Session owned by the bot layer and is
// bound to one guild.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrumscribe/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using a discordgo voice connection.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
	segOpts []audio.SegmenterOption
}

// New creates a Platform for the given session and guild. opts configure the
// segmenter of every connection.
func New(session *discordgo.Session, guildID string, opts ...audio.SegmenterOption) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
		segOpts: opts,
	}
}

// Connect joins channelID muted and starts capturing.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.session, p.guildID, p.segOpts...), nil
}
