package discord

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scrumscribe/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

// Connection captures a Discord voice channel. Incoming Opus packets are
// decoded per SSRC, attributed to a user through speaking updates, and fed to
// an [audio.Segmenter] that closes each user's utterance after a silence gap.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	guildID string
	seg     *audio.Segmenter

	mu       sync.RWMutex
	ssrcUser map[uint32]string
	heard    map[string]bool

	changeCb func(audio.Event)
	changeMu sync.Mutex

	done      chan struct{}
	recvDone  chan struct{}
	closeOnce sync.Once

	removeHandler func()

	// disconnectVC tears down the voice connection; overridden in tests.
	disconnectVC func() error
}

func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string, opts ...audio.SegmenterOption) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		seg:          audio.NewSegmenter(audio.DiscordFormat, opts...),
		ssrcUser:     make(map[uint32]string),
		heard:        make(map[string]bool),
		done:         make(chan struct{}),
		recvDone:     make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	vc.AddHandler(c.handleSpeaking)
	if session != nil {
		c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	}
	go c.recvLoop()
	return c
}

// Segments returns completed utterances keyed by Discord user id.
func (c *Connection) Segments() <-chan audio.Segment { return c.seg.Segments() }

// OnParticipantChange registers cb, replacing any previous callback.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect leaves the voice channel, flushes every open utterance, and
// closes Segments. Subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.recvDone
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		c.seg.Close()
	})
	return err
}

// UserFor returns the user id speaking on ssrc, or the SSRC in decimal when
// no speaking update has been seen yet.
func (c *Connection) UserFor(ssrc uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.ssrcUser[ssrc]; ok {
		return id
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

func (c *Connection) recvLoop() {
	defer close(c.recvDone)
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Sequence, pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "seq", pkt.Sequence, "err", err)
			}
			if len(pcm) == 0 {
				continue
			}

			user := c.UserFor(pkt.SSRC)
			if c.markHeard(user) {
				c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: user})
			}
			c.seg.Push(user, pcm)
		}
	}
}

// markHeard reports whether user is heard for the first time.
func (c *Connection) markHeard(user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heard[user] {
		return false
	}
	c.heard[user] = true
	return true
}

// handleSpeaking records the SSRC of a user; Discord sends it before that
// user's first audio packet.
func (c *Connection) handleSpeaking(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" || vs.SSRC <= 0 {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.mu.Unlock()
}

// handleVoiceStateUpdate reports users leaving this connection's channel.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}
	channelID := c.vc.ChannelID
	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID {
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID})
	}
}

func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
