// Package audio defines the voice connection abstraction used by murmur and
// the PCM helpers shared by capture, segmentation and playback.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] is a live session on that channel. Callers subscribe to the
//     decoded audio of a single participant and write PCM to one output stream.
//
// Implementations live in platform adapter packages such as audio/discord.
package audio

import (
	"context"
)

// Connection represents an active session on a voice channel.
//
// A Connection is obtained from [Platform.Connect] and stays valid until
// [Connection.Disconnect] is called. Subscription channels are closed when the
// connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// GuildID identifies the server the connection belongs to.
	GuildID() string

	// ChannelID identifies the voice channel the connection is on.
	ChannelID() string

	// Subscribe returns a channel delivering the audio of userID as it arrives,
	// decoded to 48 kHz stereo PCM. Frames are dropped rather than blocking the
	// receive path when the subscriber falls behind. The returned cancel func
	// removes the subscription and closes the channel; it is safe to call more
	// than once.
	Subscribe(userID string) (<-chan AudioFrame, func())

	// OutputStream returns the write-only channel for outgoing PCM. Frames of
	// any format are converted to the platform's wire format before sending.
	//
	// The platform does NOT close this channel on Disconnect. Frames written
	// after Disconnect are dropped.
	OutputStream() chan<- AudioFrame

	// Disconnect tears down the connection and closes all subscriptions. It is
	// safe to call more than once; later calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID in guildID. ctx bounds the connection attempt
	// only; the returned Connection lives until it is disconnected.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
