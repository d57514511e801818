package frontend

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fpt/chatbridge/internal/config"
	"github.com/fpt/chatbridge/internal/correlate"
	pkgLogger "github.com/fpt/chatbridge/pkg/logger"
	"github.com/fpt/chatbridge/pkg/wire"
)

const testBotID = "bot-1"

type sentText struct {
	ChannelID string
	Content   string
	Replied   bool
}

type fakeSender struct {
	texts     []sentText
	complex   []*discordgo.MessageSend
	channels  []string
	typing    []string
	responses []string
}

func (f *fakeSender) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.texts = append(f.texts, sentText{ChannelID: channelID, Content: content})
	return &discordgo.Message{}, nil
}

func (f *fakeSender) ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.texts = append(f.texts, sentText{ChannelID: channelID, Content: content, Replied: true})
	return &discordgo.Message{}, nil
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channels = append(f.channels, channelID)
	f.complex = append(f.complex, data)
	return &discordgo.Message{}, nil
}

func (f *fakeSender) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	f.typing = append(f.typing, channelID)
	return nil
}

func (f *fakeSender) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp.Data.Content)
	return nil
}

func (f *fakeSender) callCount() int {
	return len(f.texts) + len(f.complex)
}

func newTestAdapter(t *testing.T, cfg config.DiscordConfig) (*DiscordAdapter, *fakeSender, chan wire.Envelope) {
	t.Helper()
	requests := make(chan wire.Envelope, 8)
	sender := &fakeSender{}
	a := &DiscordAdapter{
		sender:      sender,
		store:       correlate.NewStore[ReplyHandle](time.Minute),
		prefs:       correlate.NewPrefs(),
		requests:    requests,
		logger:      pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.LogLevelError, io.Discard),
		botUserID:   testBotID,
		allowGuilds: toSet(cfg.AllowedGuildIDs),
		allowChans:  toSet(cfg.AllowedChannelIDs),
		allowUsers:  toSet(cfg.AllowedUserIDs),
		lastSeen:    make(map[string]string),
	}
	return a, sender, requests
}

func inboundMessage(id, channelID, guildID, authorID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        id,
			ChannelID: channelID,
			GuildID:   guildID,
			Content:   content,
			Author:    &discordgo.User{ID: authorID},
		},
	}
}

func drainOne(t *testing.T, requests chan wire.Envelope) wire.Envelope {
	t.Helper()
	select {
	case env := <-requests:
		return env
	default:
		t.Fatal("Expected a request envelope to be emitted")
		return wire.Envelope{}
	}
}

func expectNone(t *testing.T, requests chan wire.Envelope) {
	t.Helper()
	select {
	case env := <-requests:
		t.Fatalf("Expected no request envelope, got %+v", env)
	default:
	}
}

func TestDirectMessageEmitsRequest(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	a.processMessage(inboundMessage("m1", "dm-1", "", "user-1", "  hello  "))

	env := drainOne(t, requests)
	if env.Message.Type != wire.TypeText {
		t.Errorf("Expected text request, got '%s'", env.Message.Type)
	}
	if env.Message.Content != "hello" {
		t.Errorf("Expected trimmed content 'hello', got '%s'", env.Message.Content)
	}
	if env.User.ID != "user-1" || env.Chat.ID != "dm-1" {
		t.Errorf("Unexpected identities: %+v", env)
	}
	if env.Message.ID == "" {
		t.Error("Expected a fresh message id")
	}

	// The correlation entry exists immediately after normalization.
	handle, ok := a.store.Resolve(env.Message.ID)
	if !ok {
		t.Fatal("Expected a correlation entry for the emitted request")
	}
	if handle.ChannelID != "dm-1" || handle.MessageID != "m1" {
		t.Errorf("Unexpected handle: %+v", handle)
	}
}

func TestOwnMessagesAreIgnored(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	a.processMessage(inboundMessage("m1", "dm-1", "", testBotID, "echo"))

	expectNone(t, requests)
	if a.store.Len() != 0 {
		t.Error("Expected no correlation entry for own message")
	}
}

func TestBotAuthorsAreIgnored(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	m := inboundMessage("m1", "dm-1", "", "other-bot", "beep")
	m.Author.Bot = true
	a.processMessage(m)

	expectNone(t, requests)
}

func TestGuildMessageRequiresMention(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	a.processMessage(inboundMessage("m1", "chan-1", "guild-1", "user-1", "hello"))

	expectNone(t, requests)
	if a.store.Len() != 0 {
		t.Error("Expected no correlation entry without a mention")
	}
}

func TestGuildMessageWithMentionEmitsStrippedContent(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	m := inboundMessage("m1", "chan-1", "guild-1", "user-1", "<@"+testBotID+"> hello")
	m.Mentions = []*discordgo.User{{ID: testBotID}}
	a.processMessage(m)

	env := drainOne(t, requests)
	if env.Message.Content != "hello" {
		t.Errorf("Expected mention token stripped, got '%s'", env.Message.Content)
	}
}

func TestGuildMessageWithBroadcastMentionIsFiltered(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	m := inboundMessage("m1", "chan-1", "guild-1", "user-1", "<@"+testBotID+"> hello @everyone")
	m.Mentions = []*discordgo.User{{ID: testBotID}}
	m.MentionEveryone = true
	a.processMessage(m)

	expectNone(t, requests)
	if a.store.Len() != 0 {
		t.Error("Expected no correlation entry for broadcast mention")
	}
}

func TestNicknameMentionMarkupIsStripped(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	m := inboundMessage("m1", "chan-1", "guild-1", "user-1", "<@!"+testBotID+">  what time is it?")
	m.Mentions = []*discordgo.User{{ID: testBotID}}
	a.processMessage(m)

	env := drainOne(t, requests)
	if env.Message.Content != "what time is it?" {
		t.Errorf("Expected nickname markup stripped, got '%s'", env.Message.Content)
	}
}

func TestMentionOnlyContentIsIgnored(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	m := inboundMessage("m1", "chan-1", "guild-1", "user-1", "<@"+testBotID+">")
	m.Mentions = []*discordgo.User{{ID: testBotID}}
	a.processMessage(m)

	expectNone(t, requests)
}

func TestAllowListsFilter(t *testing.T) {
	cfg := config.DiscordConfig{AllowedUserIDs: []string{"vip"}}
	a, _, requests := newTestAdapter(t, cfg)

	a.processMessage(inboundMessage("m1", "dm-1", "", "user-1", "hi"))
	expectNone(t, requests)

	a.processMessage(inboundMessage("m2", "dm-1", "", "vip", "hi"))
	drainOne(t, requests)
}

func TestDuplicatePlatformMessageIsDropped(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	m := inboundMessage("m1", "dm-1", "", "user-1", "hello")
	a.processMessage(m)
	drainOne(t, requests)

	a.processMessage(m)
	expectNone(t, requests)
}

func TestVoicePreferenceAttachedToRequest(t *testing.T) {
	a, _, requests := newTestAdapter(t, config.DiscordConfig{})

	a.SetVoicePreference("dm-1", true)
	a.processMessage(inboundMessage("m1", "dm-1", "", "user-1", "talk to me"))

	env := drainOne(t, requests)
	if env.Options == nil || !env.Options.Voice {
		t.Error("Expected voice option on the request")
	}

	a.SetVoicePreference("dm-1", false)
	a.processMessage(inboundMessage("m2", "dm-1", "", "user-1", "text is fine"))

	env = drainOne(t, requests)
	if env.Options != nil {
		t.Error("Expected no voice option after toggle off")
	}
}

func TestResetCommandAcksAndEmitsClear(t *testing.T) {
	a, sender, requests := newTestAdapter(t, config.DiscordConfig{})

	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: "chat-C",
			Data:      discordgo.ApplicationCommandInteractionData{Name: "reset"},
			User:      &discordgo.User{ID: "user-U"},
		},
	}
	a.handleInteraction(nil, i)

	if len(sender.responses) != 1 || sender.responses[0] != "Done" {
		t.Fatalf("Expected synchronous 'Done' ack, got %v", sender.responses)
	}

	env := drainOne(t, requests)
	if env.Message.Type != wire.TypeClear {
		t.Errorf("Expected clear envelope, got '%s'", env.Message.Type)
	}
	if env.User.ID != "user-U" || env.Chat.ID != "chat-C" {
		t.Errorf("Unexpected identities: %+v", env)
	}
	if env.Message.Content != "" {
		t.Errorf("Expected empty content, got '%s'", env.Message.Content)
	}
	if a.store.Len() != 0 {
		t.Error("Expected no correlation entry for clear")
	}
}

func TestUnrelatedInteractionIsIgnored(t *testing.T) {
	a, sender, requests := newTestAdapter(t, config.DiscordConfig{})

	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: "chat-C",
			Data:      discordgo.ApplicationCommandInteractionData{Name: "ping"},
			User:      &discordgo.User{ID: "user-U"},
		},
	}
	a.handleInteraction(nil, i)

	if len(sender.responses) != 0 {
		t.Errorf("Expected no ack, got %v", sender.responses)
	}
	expectNone(t, requests)
}

func registeredReply(t *testing.T, a *DiscordAdapter, typ wire.MessageType, content string) wire.Envelope {
	t.Helper()
	a.store.Register("req-1", ReplyHandle{ChannelID: "dm-1", MessageID: "m1"})
	return wire.Envelope{
		User:    wire.User{ID: "user-1"},
		Chat:    wire.Chat{ID: "dm-1"},
		Message: wire.Message{ID: "req-1", Type: typ, Content: content},
	}
}

func TestDeliverTextRepliesToHandle(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})

	a.Deliver(registeredReply(t, a, wire.TypeText, "the answer"))

	if len(sender.texts) != 1 {
		t.Fatalf("Expected exactly one platform call, got %d", len(sender.texts))
	}
	if sender.texts[0].ChannelID != "dm-1" || sender.texts[0].Content != "the answer" {
		t.Errorf("Unexpected send: %+v", sender.texts[0])
	}
	if !sender.texts[0].Replied {
		t.Error("Expected the first chunk to thread onto the original message")
	}
}

func TestDeliverOrphanedReplyIsSilent(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})

	env := wire.Envelope{
		User:    wire.User{ID: "u"},
		Chat:    wire.Chat{ID: "c"},
		Message: wire.Message{ID: "never-registered", Type: wire.TypeText, Content: "late"},
	}

	// Twice: orphan handling is idempotent with zero visible side effects.
	a.Deliver(env)
	a.Deliver(env)

	if sender.callCount() != 0 {
		t.Errorf("Expected no platform calls, got %d", sender.callCount())
	}
}

func TestDeliverStreamedFragmentsAllRender(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})
	a.store.Register("req-1", ReplyHandle{ChannelID: "dm-1", MessageID: "m1"})

	ends := 0
	a.SetTurnListener(func(messageID string) {
		if messageID == "req-1" {
			ends++
		}
	})

	for _, content := range []string{"part one", "part two"} {
		a.Deliver(wire.Envelope{
			Chat:    wire.Chat{ID: "dm-1"},
			Message: wire.Message{ID: "req-1", Type: wire.TypeMarkdown, Content: content},
		})
	}
	a.Deliver(wire.Envelope{
		Chat:    wire.Chat{ID: "dm-1"},
		Message: wire.Message{ID: "req-1", Type: wire.TypeEnd},
	})

	if len(sender.texts) != 2 {
		t.Errorf("Expected two rendered fragments, got %d", len(sender.texts))
	}
	for _, s := range sender.texts {
		if s.ChannelID != "dm-1" {
			t.Errorf("Expected all fragments at the same handle, got %+v", s)
		}
	}
	if ends != 1 {
		t.Errorf("Expected one turn-end notification, got %d", ends)
	}

	// End evicted the entry; a late duplicate end is an orphaned no-op.
	a.Deliver(wire.Envelope{
		Chat:    wire.Chat{ID: "dm-1"},
		Message: wire.Message{ID: "req-1", Type: wire.TypeEnd},
	})
	if ends != 1 {
		t.Errorf("Expected duplicate end to be dropped, got %d notifications", ends)
	}
}

func TestDeliverImageAttachesDecodedBytes(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})

	original := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x01, 0x02}
	a.Deliver(registeredReply(t, a, wire.TypeImage, wire.EncodePayload(original)))

	if len(sender.complex) != 1 {
		t.Fatalf("Expected exactly one attachment send, got %d", len(sender.complex))
	}
	files := sender.complex[0].Files
	if len(files) != 1 {
		t.Fatalf("Expected one file, got %d", len(files))
	}
	if files[0].ContentType != "image/png" {
		t.Errorf("Expected image/png, got '%s'", files[0].ContentType)
	}

	decoded, err := io.ReadAll(files[0].Reader)
	if err != nil {
		t.Fatalf("Failed to read attachment: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Errorf("Attachment bytes corrupted: got %v, want %v", decoded, original)
	}
}

func TestDeliverVoiceAttachesAudioFile(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})

	a.Deliver(registeredReply(t, a, wire.TypeVoice, wire.EncodePayload([]byte("fake audio"))))

	if len(sender.complex) != 1 {
		t.Fatalf("Expected one attachment send, got %d", len(sender.complex))
	}
	f := sender.complex[0].Files[0]
	if f.ContentType != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got '%s'", f.ContentType)
	}
	if !strings.HasPrefix(f.Name, "voice-") {
		t.Errorf("Expected generated voice filename, got '%s'", f.Name)
	}
}

func TestDeliverInvalidPayloadIsDropped(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})

	a.Deliver(registeredReply(t, a, wire.TypeImage, "%%not base64%%"))

	if sender.callCount() != 0 {
		t.Errorf("Expected no platform calls for a bad payload, got %d", sender.callCount())
	}
}

func TestDeliverSessionTypesSkipCorrelation(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})

	for _, typ := range []wire.MessageType{wire.TypeClear, wire.TypeSetTZOffset} {
		a.Deliver(wire.Envelope{
			Chat:    wire.Chat{ID: "dm-1"},
			Message: wire.Message{ID: "whatever", Type: typ},
		})
	}

	if sender.callCount() != 0 {
		t.Errorf("Expected no platform calls, got %d", sender.callCount())
	}
}

func TestRenderTextSplitsLongMessages(t *testing.T) {
	a, sender, _ := newTestAdapter(t, config.DiscordConfig{})

	var sb []byte
	for i := 0; i < 250; i++ {
		sb = append(sb, []byte("0123456789\n")...)
	}
	a.Deliver(registeredReply(t, a, wire.TypeText, string(sb)))

	if len(sender.texts) < 2 {
		t.Fatalf("Expected long reply to split, got %d sends", len(sender.texts))
	}
	if !sender.texts[0].Replied {
		t.Error("Expected first chunk to be a threaded reply")
	}
	for _, s := range sender.texts[1:] {
		if s.Replied {
			t.Error("Expected follow-up chunks to be plain sends")
		}
	}
	for _, s := range sender.texts {
		if len(s.Content) > discordMessageLimit {
			t.Errorf("Chunk exceeds platform limit: %d bytes", len(s.Content))
		}
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   int
	}{
		{"short stays whole", "hello", 2000, 1},
		{"exact limit stays whole", "aaaa", 4, 1},
		{"splits at newline", "aaa\nbbb\nccc", 8, 2},
		{"hard split without newline", "aaaaaaaaaa", 4, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := splitMessage(tt.text, tt.maxLen)
			if len(chunks) != tt.want {
				t.Errorf("Expected %d chunks, got %d: %q", tt.want, len(chunks), chunks)
			}
			var total string
			for _, c := range chunks {
				if len(c) > tt.maxLen {
					t.Errorf("Chunk over limit: %q", c)
				}
				total += c
			}
			if total != tt.text {
				t.Errorf("Chunks do not reassemble: %q != %q", total, tt.text)
			}
		})
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", "hello", "hello"},
		{"self mention", "<@bot-1> hello", "hello"},
		{"nickname mention", "<@!bot-1> hello", "hello"},
		{"broadcast tokens", "hello @everyone @here", "hello"},
		{"whitespace", "  hello  ", "hello"},
		{"other mentions survive", "<@other> hi", "<@other> hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeContent(tt.content, testBotID); got != tt.want {
				t.Errorf("normalizeContent(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}
