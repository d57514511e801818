// Package frontend adapts Discord into the bridge: it decides which inbound
// events are addressed to the service, normalizes them into wire envelopes,
// and renders reply envelopes back through Discord primitives.
package frontend

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/fpt/chatbridge/internal/config"
	"github.com/fpt/chatbridge/internal/correlate"
	pkgLogger "github.com/fpt/chatbridge/pkg/logger"
	"github.com/fpt/chatbridge/pkg/wire"
)

const resetCommandName = "reset"

// ReplyHandle is the platform capability needed to deliver a reply into the
// originating conversational context.
type ReplyHandle struct {
	ChannelID string
	MessageID string
	GuildID   string
}

// platformSender is the slice of discordgo.Session the adapter sends through.
// Narrow so tests can substitute a fake.
type platformSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// DiscordAdapter implements the front-end side of the bridge.
type DiscordAdapter struct {
	session  *discordgo.Session
	sender   platformSender
	store    *correlate.Store[ReplyHandle]
	prefs    *correlate.Prefs
	requests chan<- wire.Envelope
	logger   *pkgLogger.Logger

	botUserID   string
	allowGuilds map[string]bool
	allowChans  map[string]bool
	allowUsers  map[string]bool

	// onTurnEnd, when set, fires for each end reply. Used by harnesses that
	// pace scripted input on turn completion.
	onTurnEnd func(messageID string)

	mu       sync.Mutex
	lastSeen map[string]string // channel id -> last handled platform message id
}

// NewDiscordAdapter creates a Discord adapter. Requests emitted by the
// adapter are pushed onto the requests channel.
func NewDiscordAdapter(requests chan<- wire.Envelope, store *correlate.Store[ReplyHandle], prefs *correlate.Prefs, cfg config.DiscordConfig, logger *pkgLogger.Logger) (*DiscordAdapter, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}

	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	a := &DiscordAdapter{
		session:     dg,
		sender:      dg,
		store:       store,
		prefs:       prefs,
		requests:    requests,
		logger:      logger.WithComponent("discord"),
		allowGuilds: toSet(cfg.AllowedGuildIDs),
		allowChans:  toSet(cfg.AllowedChannelIDs),
		allowUsers:  toSet(cfg.AllowedUserIDs),
		lastSeen:    make(map[string]string),
	}

	dg.AddHandler(a.handleReady)
	dg.AddHandler(a.handleMessage)
	dg.AddHandler(a.handleInteraction)

	return a, nil
}

// Start connects to Discord and blocks until ctx is cancelled.
func (a *DiscordAdapter) Start(ctx context.Context) error {
	a.logger.Info("Starting Discord adapter")

	if err := a.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord connection")
	}

	<-ctx.Done()
	return a.session.Close()
}

// Stop closes the Discord connection.
func (a *DiscordAdapter) Stop() error {
	return a.session.Close()
}

// SetTurnListener registers a callback fired once per end reply.
func (a *DiscordAdapter) SetTurnListener(fn func(messageID string)) {
	a.onTurnEnd = fn
}

// SetVoicePreference toggles voice-rendered replies for a chat context. Not
// wired to a command; exposed for out-of-band toggles.
func (a *DiscordAdapter) SetVoicePreference(chatID string, on bool) {
	a.prefs.SetVoice(chatID, on)
}

func (a *DiscordAdapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.botUserID = r.User.ID
	a.logger.Info("Discord bot connected", "user", r.User.Username)

	_, err := s.ApplicationCommandCreate(r.User.ID, "", &discordgo.ApplicationCommand{
		Name:        resetCommandName,
		Description: "Forget the conversation so far and start fresh",
	})
	if err != nil {
		a.logger.Warn("Failed to register reset command", "error", err)
	}
}

func (a *DiscordAdapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	a.processMessage(m)
}

// processMessage applies the addressing rules and, for qualifying events,
// registers a correlation entry and emits a text request envelope.
func (a *DiscordAdapter) processMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	// Anti-echo: never react to our own or other bots' messages
	if m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}

	if len(a.allowUsers) > 0 && !a.allowUsers[m.Author.ID] {
		return
	}
	if m.GuildID != "" && len(a.allowGuilds) > 0 && !a.allowGuilds[m.GuildID] {
		return
	}
	if len(a.allowChans) > 0 && !a.allowChans[m.ChannelID] {
		return
	}

	// In guild channels the bot must be explicitly addressed, and broadcast
	// mentions are never treated as addressing the bot.
	if m.GuildID != "" {
		if !isUserMentioned(m.Mentions, a.botUserID) || m.MentionEveryone {
			return
		}
	}

	// Discord redelivers recent messages on gateway reconnect; drop repeats.
	a.mu.Lock()
	if a.lastSeen[m.ChannelID] == m.ID {
		a.mu.Unlock()
		a.logger.Debug("Duplicate platform message, discarding", "message", m.ID)
		return
	}
	a.lastSeen[m.ChannelID] = m.ID
	a.mu.Unlock()

	content := normalizeContent(m.Content, a.botUserID)
	if content == "" {
		return
	}

	env := wire.NewRequest(m.Author.ID, m.ChannelID, content, a.prefs.Voice(m.ChannelID))
	a.store.Register(env.Message.ID, ReplyHandle{
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		GuildID:   m.GuildID,
	})

	_ = a.sender.ChannelTyping(m.ChannelID)

	select {
	case a.requests <- env:
		a.logger.Debug("Request forwarded", "message_id", env.Message.ID, "chat", m.ChannelID)
	default:
		// Best-effort delivery only; the entry stays registered and ages out.
		a.logger.Warn("Request queue full, dropping message", "message_id", env.Message.ID)
	}
}

// handleInteraction serves the structural /reset command: acknowledge
// synchronously, then emit a fire-and-forget clear envelope.
func (a *DiscordAdapter) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != resetCommandName {
		return
	}

	// The ack is local and does not depend on the backend; clear has no
	// reply path.
	err := a.sender.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: "Done"},
	})
	if err != nil {
		a.logger.Warn("Failed to acknowledge reset", "error", err)
	}

	userID := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	env := wire.NewClear(userID, i.ChannelID)
	select {
	case a.requests <- env:
		a.logger.Info("Conversation reset requested", "chat", i.ChannelID, "user", userID)
	default:
		a.logger.Warn("Request queue full, dropping reset", "chat", i.ChannelID)
	}
}

// normalizeContent strips self-mention markup and broadcast tokens, then
// trims surrounding whitespace.
func normalizeContent(content, botID string) string {
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	content = strings.ReplaceAll(content, "@everyone", "")
	content = strings.ReplaceAll(content, "@here", "")
	return strings.TrimSpace(content)
}

func isUserMentioned(mentions []*discordgo.User, userID string) bool {
	for _, u := range mentions {
		if u.ID == userID {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
