package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// newTestConnection creates a Connection suitable for unit testing without
// a real Discord voice connection. It wires up fake OpusSend/OpusRecv channels.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:           vc,
		guildID:      "guild-test",
		channelID:    "chan-test",
		ssrcUser:     make(map[uint32]string),
		subs:         make(map[string]map[*subscription]struct{}),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil },
	}
	go c.recvLoop()
	go c.sendLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// silenceOpus is an Opus silence frame.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

func receiveFrame(t *testing.T, ch <-chan audio.AudioFrame) audio.AudioFrame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return audio.AudioFrame{}
}

// ─── Platform tests ──────────────────────────────────────────────────────────

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s)
	if p.session != s {
		t.Error("session not stored correctly")
	}
}

func TestPlatform_ConnectCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(&discordgo.Session{}).Connect(ctx, "g", "c"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_IDs(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	if c.GuildID() != "guild-test" || c.ChannelID() != "chan-test" {
		t.Errorf("ids = %q/%q", c.GuildID(), c.ChannelID())
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

func TestConnection_SubscribeDeliversMappedUser(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	alice, cancelAlice := c.Subscribe("alice")
	defer cancelAlice()
	bob, cancelBob := c.Subscribe("bob")
	defer cancelBob()

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 100, Speaking: true})
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bob", SSRC: 200, Speaking: true})

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus, Timestamp: 960}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	f := receiveFrame(t, alice)
	if f.SampleRate != opusSampleRate || f.Channels != opusChannels {
		t.Errorf("format = %d Hz/%d ch, want %d/%d", f.SampleRate, f.Channels, opusSampleRate, opusChannels)
	}
	if len(f.Data) == 0 {
		t.Error("frame data is empty")
	}
	if f.Timestamp != 20*time.Millisecond {
		t.Errorf("Timestamp = %v, want 20ms", f.Timestamp)
	}
	receiveFrame(t, bob)

	select {
	case extra := <-alice:
		t.Errorf("alice received bob's audio: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_UnknownSSRCDropped(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	ch, cancel := c.Subscribe("alice")
	defer cancel()

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 999, Opus: silenceOpus}

	select {
	case f := <-ch:
		t.Errorf("unexpected frame from unmapped ssrc: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnection_CancelClosesSubscription(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	ch, cancel := c.Subscribe("alice")
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	c.mu.RLock()
	n := len(c.subs)
	c.mu.RUnlock()
	if n != 0 {
		t.Errorf("subs = %d, want 0", n)
	}
}

func TestConnection_DisconnectClosesSubscriptions(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	ch, cancel := c.Subscribe("alice")
	if err := c.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Disconnect")
	}
	cancel()

	late, _ := c.Subscribe("bob")
	if _, ok := <-late; ok {
		t.Fatal("subscription after Disconnect should be closed")
	}
}

func TestConnection_SendEncodes(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	// 20 ms of 48 kHz stereo: 960 samples * 2 channels * 2 bytes.
	pcm := make([]byte, opusFrameSize*opusChannels*2)
	c.OutputStream() <- audio.AudioFrame{
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	}

	select {
	case opus := <-c.vc.OpusSend:
		if len(opus) == 0 {
			t.Error("OpusSend: received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet on OpusSend")
	}
}

func TestConnection_SendConvertsMono(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	// 20 ms of 24 kHz mono becomes exactly one 48 kHz stereo Opus frame.
	c.OutputStream() <- audio.AudioFrame{
		Data:       make([]byte, 480*2),
		SampleRate: 24000,
		Channels:   1,
	}

	select {
	case <-c.vc.OpusSend:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for converted frame")
	}
}

func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}
