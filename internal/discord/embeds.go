package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrumscribe/internal/match"
	"github.com/MrWong99/scrumscribe/internal/session"
)

const (
	colorRecording = 0x00ff00
	colorStopped   = 0xff0000
	colorInfo      = 0x0099ff

	footerText = "scrumscribe"

	// Discord rejects embed fields longer than these.
	fieldNameLimit  = 256
	fieldValueLimit = 1024

	// maxMatchFields bounds the task fields of one speaker's embed.
	maxMatchFields = 10
)

// NameFunc renders a speaker id for display.
type NameFunc func(speakerID string) string

// Mention renders a speaker as a Discord user mention.
func Mention(speakerID string) string { return "<@" + speakerID + ">" }

func footer() *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{Text: footerText}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "-"
	}
	return &discordgo.MessageEmbedField{
		Name:   truncate(name, fieldNameLimit),
		Value:  truncate(value, fieldValueLimit),
		Inline: inline,
	}
}

// StartedEmbed announces a new recording session.
func StartedEmbed(s *session.Session) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🎙️ Stand-up recording started",
		Description: "<#" + s.ChannelID + ">",
		Color:       colorRecording,
		Timestamp:   s.StartedAt.Format(time.RFC3339),
		Footer:      footer(),
		Fields: []*discordgo.MessageEmbedField{
			field("📊 Status", "🟢 Recording", true),
			field("⏰ Started", fmt.Sprintf("<t:%d:T>", s.StartedAt.Unix()), true),
			field("👤 Started by", Mention(s.StartedBy), true),
		},
	}
}

// SummaryEmbed lists the latest utterance of each speaker, newest first,
// up to [session.SummaryFieldCap] fields plus an overflow note.
func SummaryEmbed(sum session.Summary, name NameFunc) *discordgo.MessageEmbed {
	if name == nil {
		name = Mention
	}
	e := &discordgo.MessageEmbed{
		Title:       "📋 Stand-up summary",
		Description: fmt.Sprintf("**%d** entries recorded", sum.TotalEntries),
		Color:       colorInfo,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      footer(),
	}
	for i, sp := range sum.Speakers {
		if i == session.SummaryFieldCap {
			break
		}
		latest := sp.Latest()
		e.Fields = append(e.Fields, field(
			fmt.Sprintf("🎤 %s • %s", name(sp.SpeakerID), latest.Timestamp.UTC().Format("15:04:05")),
			fmt.Sprintf("%q\n*accuracy: %.1f%%*", latest.Text, latest.Confidence*100),
			false,
		))
	}
	if n := sum.Overflow(session.SummaryFieldCap); n > 0 {
		e.Fields = append(e.Fields, field("📝 More speakers", fmt.Sprintf("and %d more...", n), false))
	}
	return e
}

func tierIcon(t match.Tier) string {
	switch t {
	case match.TierHigh:
		return "🟢"
	case match.TierMedium:
		return "🟡"
	default:
		return "⚪"
	}
}

// MatchesEmbed shows the tasks suggested for one speaker.
func MatchesEmbed(m session.SpeakerMatches, name NameFunc) *discordgo.MessageEmbed {
	if name == nil {
		name = Mention
	}
	who := name(m.SpeakerID)
	if m.Name != "" {
		who = m.Name
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "**Status:** %s", m.Result.Status)
	if len(m.Result.Keywords) > 0 {
		fmt.Fprintf(&desc, "\n**Keywords:** %s", strings.Join(m.Result.Keywords, ", "))
	}
	if len(m.Result.Matches) == 0 {
		desc.WriteString("\nNo matching tasks found.")
	}

	e := &discordgo.MessageEmbed{
		Title:       "🎯 Tasks for " + who,
		Description: truncate(desc.String(), 4096),
		Color:       colorInfo,
		Footer:      footer(),
	}
	for i, tm := range m.Result.Matches {
		if i == maxMatchFields {
			break
		}
		value := fmt.Sprintf("score %.0f%%", tm.Score*100)
		if tm.URL != "" {
			value += " • " + tm.URL
		}
		e.Fields = append(e.Fields, field(tierIcon(tm.Tier)+" "+tm.Title, value, false))
	}
	return e
}

// EndedEmbed closes a recording session.
func EndedEmbed(r session.Report) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "⏹️ Stand-up recording finished",
		Description: "The recording has ended.",
		Color:       colorStopped,
		Timestamp:   r.EndedAt.Format(time.RFC3339),
		Footer:      footer(),
		Fields: []*discordgo.MessageEmbedField{
			field("📊 Status", "🔴 Stopped", true),
			field("📝 Entries", fmt.Sprintf("%d entries", r.Summary.TotalEntries), true),
			field("🎯 Matched speakers", fmt.Sprint(len(r.Matches)), true),
		},
	}
	if len(r.Unmapped) > 0 {
		mentions := make([]string, len(r.Unmapped))
		for i, id := range r.Unmapped {
			mentions[i] = Mention(id)
		}
		e.Fields = append(e.Fields, field("🔗 Not linked",
			strings.Join(mentions, " ")+"\nUse `/standup link` to connect a tracker account.", false))
	}
	return e
}
