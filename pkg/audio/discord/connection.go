package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	subscriberBuffer    = 64
	outputChannelBuffer = 64
)

type subscription struct {
	ch chan audio.AudioFrame
}

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are attributed to users
// through the SSRCs announced in speaking updates, decoded per SSRC and fanned
// out to that user's subscribers. Outgoing PCM frames are encoded to Opus.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string

	mu       sync.RWMutex
	ssrcUser map[uint32]string
	subs     map[string]map[*subscription]struct{}
	closed   bool

	output chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive and send loops.
func newConnection(vc *discordgo.VoiceConnection, guildID, channelID string) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		channelID:    channelID,
		ssrcUser:     make(map[uint32]string),
		subs:         make(map[string]map[*subscription]struct{}),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	go c.sendLoop()
	return c
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string { return c.channelID }

// Subscribe implements [audio.Connection]. Subscribing after Disconnect
// returns an already closed channel.
func (c *Connection) Subscribe(userID string) (<-chan audio.AudioFrame, func()) {
	sub := &subscription{ch: make(chan audio.AudioFrame, subscriberBuffer)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	set, ok := c.subs[userID]
	if !ok {
		set = make(map[*subscription]struct{})
		c.subs[userID] = set
	}
	set[sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { c.unsubscribe(userID, sub) })
	}
}

func (c *Connection) unsubscribe(userID string, sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.subs[userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(c.subs, userID)
	}
	close(sub.ch)
}

// OutputStream returns the write-only channel for outgoing audio.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// Disconnect cleanly tears down the voice connection and stops all background
// goroutines. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.mu.Lock()
		c.closed = true
		for userID, set := range c.subs {
			for sub := range set {
				close(sub.ch)
			}
			delete(c.subs, userID)
		}
		c.mu.Unlock()
	})
	return err
}

// handleSpeakingUpdate records which user owns an SSRC. Discord announces
// the mapping before (or shortly after) the first packet of a speaker.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
}

// userFor returns the user owning ssrc and whether anybody listens to them.
func (c *Connection) userFor(ssrc uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID, ok := c.ssrcUser[ssrc]
	if !ok {
		return "", false
	}
	return userID, len(c.subs[userID]) > 0
}

// deliver fans frame out to every subscriber of userID without blocking.
func (c *Connection) deliver(userID string, frame audio.AudioFrame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for sub := range c.subs[userID] {
		select {
		case sub.ch <- frame:
		default:
			// Subscriber full, drop rather than stall the receive path.
		}
	}
}

// recvLoop reads Opus packets from the Discord voice connection, decodes the
// packets of subscribed users and delivers them as PCM frames. An SSRC that
// changes owner starts over with a fresh decoder.
func (c *Connection) recvLoop() {
	pool := newDecoderPool()
	owners := make(map[uint32]string)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			userID, wanted := c.userFor(pkt.SSRC)
			if !wanted {
				continue
			}
			if prev, seen := owners[pkt.SSRC]; seen && prev != userID {
				pool.forget(pkt.SSRC)
			}
			owners[pkt.SSRC] = userID

			pcm, err := pool.decode(pkt.SSRC, pkt.Opus)
			if err != nil {
				slog.Warn("discord: dropping packet", "user_id", userID, "error", err)
				continue
			}

			c.deliver(userID, audio.AudioFrame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			})
		}
	}
}

// sendLoop converts outgoing frames to 48 kHz stereo, packetizes them and
// sends the packets. The speaking flag is raised on the first frame and
// lowered once the output has been idle for speakingIdle.
func (c *Connection) sendLoop() {
	pk, err := newPacketizer()
	if err != nil {
		slog.Error("discord: send loop disabled", "error", err)
		return
	}
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}

	idle := time.NewTimer(speakingIdle)
	idle.Stop()
	speaking := false
	setSpeaking := func(on bool) {
		if speaking != on {
			c.setSpeaking(on)
			speaking = on
		}
	}

	for {
		select {
		case <-c.done:
			setSpeaking(false)
			return
		case <-idle.C:
			setSpeaking(false)
			pk.reset()
		case frame, ok := <-c.output:
			if !ok {
				return
			}
			setSpeaking(true)
			idle.Reset(speakingIdle)

			packets, err := pk.push(conv.Convert(frame).Data)
			if err != nil {
				slog.Warn("discord: encode failed", "error", err)
			}
			for _, packet := range packets {
				select {
				case c.vc.OpusSend <- packet:
				case <-c.done:
					return
				}
			}
		}
	}
}

// speakingIdle is how long the output may stay empty before the speaking
// flag is lowered.
const speakingIdle = 250 * time.Millisecond

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
