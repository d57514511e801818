package frontend

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fpt/chatbridge/pkg/wire"
)

// discordMessageLimit is the platform cap on message length.
const discordMessageLimit = 2000

// Deliver renders a reply envelope back into the platform. Replies whose id
// has no correlation entry are dropped silently; a backend may send several
// envelopes per request id, and each one renders independently.
func (a *DiscordAdapter) Deliver(env wire.Envelope) {
	switch env.Message.Type {
	case wire.TypeClear, wire.TypeSetTZOffset:
		// Session-level types carry no correlation requirement.
		return
	}

	handle, ok := a.store.Resolve(env.Message.ID)
	if !ok {
		a.logger.Debug("Orphaned reply, dropping", "message_id", env.Message.ID, "type", env.Message.Type)
		return
	}

	switch env.Message.Type {
	case wire.TypeText, wire.TypeMarkdown, wire.TypeNotification:
		a.renderText(handle, env.Message.Content)
	case wire.TypeImage:
		a.renderFile(handle, env, "image.png", "image/png")
	case wire.TypeVoice:
		name := fmt.Sprintf("voice-%s.mp3", time.Now().Format("20060102-150405"))
		a.renderFile(handle, env, name, "audio/mpeg")
	case wire.TypeEnd:
		// End of turn: nothing visible, the request id is finished.
		if a.onTurnEnd != nil {
			a.onTurnEnd(env.Message.ID)
		}
		a.store.Evict(env.Message.ID)
	default:
		// Unknown types are a forward-compatible no-op.
		a.logger.Debug("Ignoring reply of unhandled type", "type", env.Message.Type)
	}
}

// renderText sends plain reply content, splitting at the platform limit. The
// first chunk threads onto the originating message; follow-up chunks are
// plain sends.
func (a *DiscordAdapter) renderText(handle ReplyHandle, content string) {
	if content == "" {
		return
	}
	for i, chunk := range splitMessage(content, discordMessageLimit) {
		var err error
		if i == 0 {
			ref := &discordgo.MessageReference{
				MessageID: handle.MessageID,
				ChannelID: handle.ChannelID,
				GuildID:   handle.GuildID,
			}
			_, err = a.sender.ChannelMessageSendReply(handle.ChannelID, chunk, ref)
		} else {
			_, err = a.sender.ChannelMessageSend(handle.ChannelID, chunk)
		}
		if err != nil {
			a.logger.Warn("Failed to send reply", "channel", handle.ChannelID, "error", err)
			return
		}
	}
}

// renderFile decodes the portable payload encoding and attaches the bytes as
// a file. Encoded strings never travel past this boundary.
func (a *DiscordAdapter) renderFile(handle ReplyHandle, env wire.Envelope, filename, contentType string) {
	data, err := wire.DecodePayload(env.Message.Content)
	if err != nil {
		a.logger.Warn("Failed to decode binary payload", "message_id", env.Message.ID, "error", err)
		return
	}

	_, err = a.sender.ChannelMessageSendComplex(handle.ChannelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: contentType,
			Reader:      bytes.NewReader(data),
		}},
		Reference: &discordgo.MessageReference{
			MessageID: handle.MessageID,
			ChannelID: handle.ChannelID,
			GuildID:   handle.GuildID,
		},
	})
	if err != nil {
		a.logger.Warn("Failed to send attachment", "channel", handle.ChannelID, "error", err)
	}
}

// splitMessage splits text into chunks at newline boundaries, respecting maxLen.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Find last newline within limit
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > 0 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
