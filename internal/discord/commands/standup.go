// Package commands implements the /standup slash command group.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrumscribe/internal/discord"
	"github.com/MrWong99/scrumscribe/internal/identity"
	"github.com/MrWong99/scrumscribe/internal/session"
	"github.com/MrWong99/scrumscribe/internal/tracker/clickup"
	"github.com/MrWong99/scrumscribe/internal/transcriptlog"
)

const (
	startTimeout = 30 * time.Second
	// stopTimeout covers draining every pending transcription, which may
	// include a slow local backend.
	stopTimeout = 10 * time.Minute
	linkTimeout = 15 * time.Second
)

// Standup controls the recording session. *app.Standup implements it.
type Standup interface {
	Start(ctx context.Context, channelID, startedBy string) (*session.Session, error)
	Stop(ctx context.Context) (*session.Report, error)
	Active() *session.Session
	Speakers() []string
}

// Transcripts is the transcript log. *transcriptlog.Log implements it.
type Transcripts interface {
	Latest() ([]transcriptlog.Line, error)
	Clear() error
}

// Identities maps speakers to tracker members. *identity.Store implements it.
type Identities interface {
	Lookup(speakerID string) (identity.Identity, bool)
	Set(speakerID string, ident identity.Identity) error
}

// Members resolves tracker accounts. *clickup.Client implements it.
type Members interface {
	FindMember(ctx context.Context, emailOrUsername string) (*clickup.Member, error)
}

// Channels holds the notification channel. *discord.ChannelStore
// implements it.
type Channels interface {
	Get() string
	Set(id string) error
}

// Deps are the collaborators of [StandupCommands]. Standup, Transcripts,
// Channels, Perms, and VoiceChannelOf are required.
type Deps struct {
	Standup     Standup
	Transcripts Transcripts
	Identities  Identities
	Members     Members
	Channels    Channels
	Perms       *discord.PermissionChecker

	// VoiceChannelOf finds the caller's voice channel.
	VoiceChannelOf func(userID string) (string, bool)

	// Names renders speaker ids. Default: mentions.
	Names discord.NameFunc
}

// StandupCommands holds the handlers for /standup.
type StandupCommands struct {
	deps Deps
}

// New creates the command group.
func New(deps Deps) *StandupCommands {
	if deps.Names == nil {
		deps.Names = discord.Mention
	}
	return &StandupCommands{deps: deps}
}

// Register registers the /standup command group with the router.
func (sc *StandupCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("standup", sc.Definition(), func(s discord.Responder, i *discordgo.InteractionCreate) {
		sc.handleHelp(s, i)
	})
	router.RegisterHandler("standup/start", sc.handleStart)
	router.RegisterHandler("standup/stop", sc.handleStop)
	router.RegisterHandler("standup/status", sc.handleStatus)
	router.RegisterHandler("standup/transcript", sc.handleTranscript)
	router.RegisterHandler("standup/clear", sc.handleClear)
	router.RegisterHandler("standup/setchannel", sc.handleSetChannel)
	router.RegisterHandler("standup/link", sc.handleLink)
	router.RegisterHandler("standup/help", sc.handleHelp)
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *StandupCommands) Definition() *discordgo.ApplicationCommand {
	sub := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        name,
			Description: desc,
			Options:     opts,
		}
	}
	return &discordgo.ApplicationCommand{
		Name:        "standup",
		Description: "Record stand-ups and match updates to tasks",
		Options: []*discordgo.ApplicationCommandOption{
			sub("start", "Start recording your current voice channel"),
			sub("stop", "Stop recording, post the summary and task matches"),
			sub("status", "Show the recorder status"),
			sub("transcript", "Show the latest transcript line of each speaker"),
			sub("clear", "Delete the saved transcripts"),
			sub("setchannel", "Send stand-up notifications to this channel"),
			sub("link", "Link your Discord account to your task tracker account",
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "account",
					Description: "Tracker email or username",
					Required:    true,
				}),
			sub("help", "List the stand-up commands"),
		},
	}
}

func (sc *StandupCommands) handleStart(s discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.deps.Perms.IsModerator(i) {
		discord.RespondEphemeral(s, i, "You need the moderator role to start recording.")
		return
	}

	userID := discord.InteractionUserID(i)
	channelID, ok := sc.deps.VoiceChannelOf(userID)
	if !ok {
		discord.RespondEphemeral(s, i, "❌ Join a voice channel first.")
		return
	}
	if sc.deps.Standup.Active() != nil {
		discord.RespondEphemeral(s, i, "⚠️ Already recording.")
		return
	}

	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	sess, err := sc.deps.Standup.Start(ctx, channelID, userID)
	if errors.Is(err, session.ErrSessionActive) {
		discord.FollowUp(s, i, "⚠️ Already recording.")
		return
	}
	if err != nil {
		discord.FollowUp(s, i, fmt.Sprintf("Failed to start recording: %v", err))
		return
	}

	msg := fmt.Sprintf("📼 Recording <#%s>.\n**Session ID:** `%s`", sess.ChannelID, sess.ID)
	if sc.deps.Channels.Get() == "" {
		msg += "\nTip: run `/standup setchannel` in a text channel to receive the summary there."
	}
	discord.FollowUp(s, i, msg)
}

func (sc *StandupCommands) handleStop(s discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.deps.Perms.IsModerator(i) {
		discord.RespondEphemeral(s, i, "You need the moderator role to stop recording.")
		return
	}
	if sc.deps.Standup.Active() == nil {
		discord.RespondEphemeral(s, i, "❌ Not recording.")
		return
	}

	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	report, err := sc.deps.Standup.Stop(ctx)
	if errors.Is(err, session.ErrNoSession) {
		discord.FollowUp(s, i, "❌ Not recording.")
		return
	}
	if err != nil {
		discord.FollowUp(s, i, fmt.Sprintf("Recording stopped, but finalizing failed: %v", err))
		return
	}
	discord.FollowUp(s, i, fmt.Sprintf("👋 Recording stopped. %d entries from %d speakers, %d matched to tasks.",
		report.Summary.TotalEntries, len(report.Summary.Speakers), len(report.Matches)))
}

func (sc *StandupCommands) handleStatus(s discord.Responder, i *discordgo.InteractionCreate) {
	discord.RespondEmbed(s, i, sc.statusEmbed())
}

func (sc *StandupCommands) statusEmbed() *discordgo.MessageEmbed {
	recording := "🔴 Stopped"
	entries, pending := 0, int64(0)
	if sess := sc.deps.Standup.Active(); sess != nil {
		recording = "🟢 Recording <#" + sess.ChannelID + ">"
		entries = sess.Len()
		pending = sess.Pending()
	}
	channel := "❌ Not set"
	if ch := sc.deps.Channels.Get(); ch != "" {
		channel = "<#" + ch + ">"
	}
	speakers := sc.deps.Standup.Speakers()
	heard := "-"
	if len(speakers) > 0 {
		names := make([]string, len(speakers))
		for k, id := range speakers {
			names[k] = sc.deps.Names(id)
		}
		heard = strings.Join(names, ", ")
	}

	inline := func(name, value string) *discordgo.MessageEmbedField {
		return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true}
	}
	return &discordgo.MessageEmbed{
		Title: "📊 Recorder status",
		Color: 0x0099ff,
		Fields: []*discordgo.MessageEmbedField{
			inline("🎙️ Recording", recording),
			inline("📤 Notification channel", channel),
			inline("📝 Session entries", fmt.Sprintf("%d", entries)),
			inline("⏳ Pending transcriptions", fmt.Sprintf("%d", pending)),
			{Name: "👥 Speakers heard", Value: heard},
		},
	}
}

func (sc *StandupCommands) handleTranscript(s discord.Responder, i *discordgo.InteractionCreate) {
	lines, err := sc.deps.Transcripts.Latest()
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	if len(lines) == 0 {
		discord.RespondEphemeral(s, i, "📄 No transcripts saved yet.")
		return
	}
	discord.RespondEmbed(s, i, transcriptEmbed(lines, sc.deps.Names))
}

func transcriptEmbed(lines []transcriptlog.Line, names discord.NameFunc) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "📝 Voice transcripts",
		Description: "Latest line of each speaker",
		Color:       0x00ff00,
	}
	for k, l := range lines {
		if k == session.SummaryFieldCap {
			e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
				Name:  "📝 More speakers",
				Value: fmt.Sprintf("and %d more...", len(lines)-k),
			})
			break
		}
		text := l.Text
		if r := []rune(text); len(r) > 900 {
			text = string(r[:899]) + "…"
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("🎤 %s • %s", names(l.Speaker), l.Timestamp.UTC().Format("2006-01-02 15:04")),
			Value: fmt.Sprintf("%q\n*accuracy: %.1f%%*", text, l.Confidence*100),
		})
	}
	return e
}

func (sc *StandupCommands) handleClear(s discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.deps.Perms.IsModerator(i) {
		discord.RespondEphemeral(s, i, "You need the moderator role to clear transcripts.")
		return
	}
	if err := sc.deps.Transcripts.Clear(); err != nil {
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, "🗑️ Transcripts cleared.")
}

func (sc *StandupCommands) handleSetChannel(s discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.deps.Perms.IsModerator(i) {
		discord.RespondEphemeral(s, i, "You need the moderator role to change the notification channel.")
		return
	}
	if i.ChannelID == "" {
		discord.RespondEphemeral(s, i, "❌ Run this command in a text channel.")
		return
	}
	if err := sc.deps.Channels.Set(i.ChannelID); err != nil {
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf("✅ <#%s> will receive stand-up notifications.", i.ChannelID))
}

func (sc *StandupCommands) handleLink(s discord.Responder, i *discordgo.InteractionCreate) {
	if sc.deps.Members == nil || sc.deps.Identities == nil {
		discord.RespondEphemeral(s, i, "The task tracker is not configured.")
		return
	}
	account := linkAccount(i)
	if account == "" {
		discord.RespondEphemeral(s, i, "Provide your tracker email or username.")
		return
	}

	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), linkTimeout)
	defer cancel()

	m, err := sc.deps.Members.FindMember(ctx, account)
	if errors.Is(err, clickup.ErrMemberNotFound) {
		discord.FollowUp(s, i, fmt.Sprintf("❌ No tracker member matches `%s`.", account))
		return
	}
	if err != nil {
		discord.FollowUp(s, i, fmt.Sprintf("Failed to look up `%s`: %v", account, err))
		return
	}
	userID := discord.InteractionUserID(i)
	if err := sc.deps.Identities.Set(userID, identity.Identity{TrackerID: m.ID, Name: m.Username}); err != nil {
		discord.FollowUp(s, i, fmt.Sprintf("Failed to save the link: %v", err))
		return
	}
	discord.FollowUp(s, i, fmt.Sprintf("🔗 Linked to tracker member **%s**.", m.Username))
}

func linkAccount(i *discordgo.InteractionCreate) string {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return ""
	}
	for _, o := range data.Options[0].Options {
		if o.Name == "account" {
			return strings.TrimSpace(o.StringValue())
		}
	}
	return ""
}

const helpText = "🤖 **Stand-up commands**\n\n" +
	"📼 `/standup start` - record your current voice channel\n" +
	"👋 `/standup stop` - stop recording and post the summary and task matches\n" +
	"📊 `/standup status` - show the recorder status\n" +
	"📝 `/standup transcript` - latest transcript line of each speaker\n" +
	"🗑️ `/standup clear` - delete the saved transcripts\n" +
	"📤 `/standup setchannel` - send notifications to this channel\n" +
	"🔗 `/standup link` - link your account to the task tracker\n" +
	"❓ `/standup help` - this message\n\n" +
	"💡 Run `/standup setchannel` once, join a voice channel, `/standup start`, talk, `/standup stop`."

func (sc *StandupCommands) handleHelp(s discord.Responder, i *discordgo.InteractionCreate) {
	discord.RespondEphemeral(s, i, helpText)
}
