// Package discord carries murmur's PCM frames over Discord voice channels.
//
// [Platform] borrows the bot's *discordgo.Session. Each [Platform.Connect]
// joins one channel and returns a [Connection]: received Opus is decoded per
// speaker and fanned out to subscribers, outgoing PCM is packetised and sent.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/murmur/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New wraps session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect joins channelID unmuted and undeafened, since the bot both listens
// and speaks. discordgo's join cannot be cancelled, so when ctx ends first
// Connect returns at once and a join that completes later is undone.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan joinResult, 1)
	go func() {
		vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, false)
		done <- joinResult{vc, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, res.err)
		}
		return newConnection(res.vc, guildID, channelID), nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				_ = res.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
}
