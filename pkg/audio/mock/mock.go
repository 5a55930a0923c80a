// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{
//	    Script: map[string][]audio.AudioFrame{"user-1": frames},
//	    CloseAfterScript: true,
//	}
//	platform := &mock.Platform{ConnectResult: conn}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// outputBuffer is the capacity of the lazily created output channel.
const outputBuffer = 4096

// Connection is a mock implementation of [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// Guild and Channel are returned by GuildID and ChannelID.
	Guild   string
	Channel string

	// Script holds frames delivered to every new subscriber of a user, in
	// order, right after Subscribe.
	Script map[string][]audio.AudioFrame

	// CloseAfterScript closes a subscription once its scripted frames are
	// queued, as if the user's stream had ended.
	CloseAfterScript bool

	// Output is returned by OutputStream. When nil a buffered channel is
	// created on first use.
	Output chan audio.AudioFrame

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// SubscribeCalls records the userID of every Subscribe call.
	SubscribeCalls []string

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	subs         map[string][]chan audio.AudioFrame
	disconnected bool
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Guild
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// Subscribe implements [audio.Connection].
func (c *Connection) Subscribe(userID string) (<-chan audio.AudioFrame, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls = append(c.SubscribeCalls, userID)

	script := c.Script[userID]
	ch := make(chan audio.AudioFrame, len(script)+16)
	for _, f := range script {
		ch <- f
	}
	if c.disconnected || c.CloseAfterScript {
		close(ch)
		return ch, func() {}
	}

	if c.subs == nil {
		c.subs = make(map[string][]chan audio.AudioFrame)
	}
	c.subs[userID] = append(c.subs[userID], ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() { c.remove(userID, ch) })
	}
}

func (c *Connection) remove(userID string, ch chan audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.subs[userID]
	for i, s := range list {
		if s == ch {
			c.subs[userID] = append(list[:i], list[i+1:]...)
			close(ch)
			return
		}
	}
}

// Emit delivers frames to every live subscriber of userID. Frames that do not
// fit a subscriber's buffer are dropped, like a real connection would.
func (c *Connection) Emit(userID string, frames ...audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs[userID] {
		for _, f := range frames {
			select {
			case ch <- f:
			default:
			}
		}
	}
}

// Subscribers returns the number of live subscriptions for userID.
func (c *Connection) Subscribers(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[userID])
}

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Output == nil {
		c.Output = make(chan audio.AudioFrame, outputBuffer)
	}
	return c.Output
}

// Written drains and returns every frame written to the output stream so far.
func (c *Connection) Written() []audio.AudioFrame {
	c.mu.Lock()
	out := c.Output
	c.mu.Unlock()
	if out == nil {
		return nil
	}
	var frames []audio.AudioFrame
	for {
		select {
		case f := <-out:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

// Disconnect implements [audio.Connection]. Returns DisconnectError and closes
// every live subscription.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if !c.disconnected {
		c.disconnected = true
		for userID, list := range c.subs {
			for _, ch := range list {
				close(ch)
			}
			delete(c.subs, userID)
		}
	}
	return c.DisconnectError
}

// Disconnected reports whether Disconnect was called.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult, when set, is returned by every Connect call. Otherwise
	// Connect returns a fresh [Connection] for the requested channel.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections holds the connections created by Connect, in order.
	Connections []*Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	c := &Connection{Guild: guildID, Channel: channelID}
	p.Connections = append(p.Connections, c)
	return c, nil
}

// Last returns the most recently created connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}
