// Package voice manages the bot's voice channel presence and spoken output.
//
// A [Manager] owns at most one [audio.Connection] per guild. Spoken answers
// and local music tracks are converted to Discord's 48 kHz stereo format and
// queued on a per-guild [mixer.Queue] so that they play one after another.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/mixer"
	"github.com/MrWong99/murmur/pkg/audio/wav"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// ErrNotConnected is returned when the bot has no voice connection in the
// guild.
var ErrNotConnected = errors.New("voice: not connected")

// frameMs is the duration of each frame pushed to the connection.
const frameMs = 20

// outFormat is Discord's wire format.
var outFormat = audio.Format{SampleRate: 48000, Channels: 2}

// JoinResult tells the caller what [Manager.Join] did.
type JoinResult int

const (
	// Joined means a new connection was opened.
	Joined JoinResult = iota

	// Moved means the existing connection moved to another channel.
	Moved

	// AlreadyThere means the bot was already in the requested channel.
	AlreadyThere
)

// Option configures a [Manager].
type Option func(*Manager)

// WithVoice selects the TTS voice used by Speak.
func WithVoice(v tts.VoiceProfile) Option {
	return func(m *Manager) { m.voice = v }
}

// WithQueueOptions forwards options to every per-guild answer queue.
func WithQueueOptions(opts ...mixer.Option) Option {
	return func(m *Manager) { m.queueOpts = append(m.queueOpts, opts...) }
}

// WithMetrics records connections and TTS calls on m under the given provider
// name.
func WithMetrics(m *observe.Metrics, ttsName string) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
		mgr.ttsName = ttsName
	}
}

// session is the live state for one guild.
type session struct {
	conn  audio.Connection
	queue *mixer.Queue
	done  chan struct{}
}

// Manager joins, moves and leaves voice channels and speaks into them.
//
// All methods are safe for concurrent use.
type Manager struct {
	platform  audio.Platform
	tts       tts.Provider
	voice     tts.VoiceProfile
	queueOpts []mixer.Option
	metrics   *observe.Metrics
	ttsName   string

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a Manager. provider may be nil, in which case Speak
// always fails.
func NewManager(platform audio.Platform, provider tts.Provider, opts ...Option) *Manager {
	m := &Manager{
		platform: platform,
		tts:      provider,
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Join connects to channelID in guildID. If the bot is already connected in
// that guild on another channel, the old connection is closed first.
func (m *Manager) Join(ctx context.Context, guildID, channelID string) (JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := Joined
	if s, ok := m.sessions[guildID]; ok {
		if s.conn.ChannelID() == channelID {
			return AlreadyThere, nil
		}
		if err := m.closeLocked(ctx, guildID, s); err != nil {
			observe.Logger(ctx).Warn("voice: disconnect before move failed", "guild_id", guildID, "error", err)
		}
		result = Moved
	}

	conn, err := m.platform.Connect(ctx, guildID, channelID)
	if err != nil {
		return result, fmt.Errorf("voice: connect: %w", err)
	}

	s := &session{conn: conn, done: make(chan struct{})}
	out := conn.OutputStream()
	s.queue = mixer.New(func(f audio.AudioFrame) {
		select {
		case out <- f:
		case <-s.done:
		}
	}, m.queueOpts...)
	m.sessions[guildID] = s

	if m.metrics != nil {
		m.metrics.ActiveVoiceConnections.Add(ctx, 1)
	}
	observe.Logger(ctx).Info("voice: connected", "guild_id", guildID, "channel_id", channelID, "moved", result == Moved)
	return result, nil
}

// Leave disconnects from guildID. It reports false if there was nothing to
// leave.
func (m *Manager) Leave(ctx context.Context, guildID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[guildID]
	if !ok {
		return false, nil
	}
	return true, m.closeLocked(ctx, guildID, s)
}

// closeLocked stops playback and disconnects. Must be called with m.mu held.
func (m *Manager) closeLocked(ctx context.Context, guildID string, s *session) error {
	delete(m.sessions, guildID)
	if n := s.queue.Flush(); n > 0 {
		observe.Logger(ctx).Debug("voice: dropped queued answers", "guild_id", guildID, "count", n)
	}
	close(s.done)
	_ = s.queue.Close()
	if m.metrics != nil {
		m.metrics.ActiveVoiceConnections.Add(context.WithoutCancel(ctx), -1)
	}
	if err := s.conn.Disconnect(); err != nil {
		return fmt.Errorf("voice: disconnect: %w", err)
	}
	return nil
}

// Connection returns the live connection of guildID.
func (m *Manager) Connection(guildID string) (audio.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

// Connected reports whether the bot is in a voice channel of guildID.
func (m *Manager) Connected(guildID string) bool {
	_, ok := m.Connection(guildID)
	return ok
}

// Speak synthesises text and queues it for playback in guildID. It returns
// once the audio is queued, not when playback ends.
func (m *Manager) Speak(ctx context.Context, guildID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.ErrEmptyText
	}
	if m.tts == nil {
		return errors.New("voice: no TTS provider configured")
	}

	s, err := m.session(guildID)
	if err != nil {
		return err
	}

	ctx, span := observe.StartSpan(ctx, "voice.Speak")
	defer span.End()

	start := time.Now()
	w, err := m.tts.Synthesize(ctx, text, m.voice)
	if m.metrics != nil {
		m.metrics.RecordProviderCall(ctx, m.ttsName, "tts", time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("voice: synthesize: %w", err)
	}
	if w.SampleWidth != 2 {
		return fmt.Errorf("voice: unsupported sample width %d", w.SampleWidth)
	}

	n, err := s.enqueue(guildID, "", audio.AudioFrame{Data: w.Data, SampleRate: w.SampleRate, Channels: w.Channels})
	if err != nil {
		return fmt.Errorf("voice: queue answer: %w", err)
	}

	observe.Logger(ctx).Debug("voice: answer queued", "guild_id", guildID, "frames", n)
	return nil
}

// PlayFile decodes the 16-bit WAVE file at path and queues it in guildID as
// a music track named title. It reports whether the track starts right away
// rather than waiting behind other clips.
func (m *Manager) PlayFile(ctx context.Context, guildID, path, title string) (bool, error) {
	s, err := m.session(guildID)
	if err != nil {
		return false, err
	}

	w, err := wav.Read(path)
	if err != nil {
		return false, fmt.Errorf("voice: %w", err)
	}
	if w.SampleWidth != 2 {
		return false, fmt.Errorf("voice: %s: unsupported sample width %d", title, w.SampleWidth)
	}

	first := s.queue.Pending() == 0
	n, err := s.enqueue(guildID, title, audio.AudioFrame{Data: w.Data, SampleRate: w.SampleRate, Channels: w.Channels})
	if err != nil {
		return false, fmt.Errorf("voice: queue track: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("voice: %s: no audio", title)
	}

	observe.Logger(ctx).Info("voice: track queued", "guild_id", guildID, "title", title, "frames", n, "duration_s", w.Duration())
	return first, nil
}

// Skip stops the clip playing in guildID. The next one starts after the
// usual gap. It reports whether anything was playing.
func (m *Manager) Skip(guildID string) (bool, error) {
	s, err := m.session(guildID)
	if err != nil {
		return false, err
	}
	return s.queue.Skip(), nil
}

// Stop stops playback in guildID and drops every waiting clip. It returns
// the number of clips dropped, the interrupted one included.
func (m *Manager) Stop(guildID string) (int, error) {
	s, err := m.session(guildID)
	if err != nil {
		return 0, err
	}
	return s.queue.Flush(), nil
}

// Playlist lists the clip playing in guildID followed by the waiting ones.
func (m *Manager) Playlist(guildID string) ([]mixer.Entry, error) {
	s, err := m.session(guildID)
	if err != nil {
		return nil, err
	}
	return s.queue.List(), nil
}

// Drain waits until every guild has played what it queued, or ctx ends.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	queues := make([]*mixer.Queue, 0, len(m.sessions))
	for _, s := range m.sessions {
		queues = append(queues, s.queue)
	}
	m.mu.Unlock()

	for _, q := range queues {
		if err := q.Wait(ctx); err != nil {
			return fmt.Errorf("voice: drain: %w", err)
		}
	}
	return nil
}

func (m *Manager) session(guildID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		return nil, ErrNotConnected
	}
	return s, nil
}

// enqueue converts pcm to Discord's format and queues it as one clip. It
// returns the number of frames queued.
func (s *session) enqueue(guildID, title string, pcm audio.AudioFrame) (int, error) {
	conv := audio.FormatConverter{Target: outFormat}
	out := conv.Convert(pcm)
	frames := audio.Split(out.Data, outFormat, frameMs)
	if len(frames) == 0 {
		return 0, nil
	}

	clip := mixer.Clip{Source: guildID, Title: title, Format: outFormat, Frames: make([][]byte, len(frames))}
	for i, f := range frames {
		clip.Frames[i] = f.Data
	}
	if err := s.queue.Enqueue(clip); err != nil {
		return 0, err
	}
	return len(frames), nil
}

// Close leaves every guild.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for guildID, s := range m.sessions {
		if err := m.closeLocked(ctx, guildID, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
