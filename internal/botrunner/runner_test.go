package botrunner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/internal/telegramapi"
	"github.com/M4ss1ck/tg-ai-chatbot/llm"
	"github.com/M4ss1ck/tg-ai-chatbot/processor"
	"github.com/M4ss1ck/tg-ai-chatbot/session"
)

const adminID = "111"

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   telegramapi.SendOptions
}

type editedMessage struct {
	ChatID    int64
	MessageID int64
	Text      string
	Markup    *telegramapi.InlineKeyboardMarkup
}

type fakeAPI struct {
	mu        sync.Mutex
	sent      []sentMessage
	edits     []editedMessage
	answers   []string
	reactions []string
}

func (f *fakeAPI) GetMe(ctx context.Context) (*telegramapi.User, error) {
	return &telegramapi.User{ID: 999, IsBot: true, Username: "relay_bot"}, nil
}

func (f *fakeAPI) GetUpdates(ctx context.Context, offset int64, timeout time.Duration, allowed []string) ([]telegramapi.Update, int64, error) {
	return nil, offset, context.Canceled
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID int64, text string, opts telegramapi.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (f *fakeAPI) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *telegramapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editedMessage{ChatID: chatID, MessageID: messageID, Text: text, Markup: markup})
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackID+":"+text)
	return nil
}

func (f *fakeAPI) SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, emoji)
	return nil
}

type fakeSessions struct {
	reg   catalog.Registry
	data  map[int64]*session.Session
	saves int
}

func (f *fakeSessions) Load(ctx context.Context, chatID int64) *session.Session {
	if s, ok := f.data[chatID]; ok {
		return s
	}
	s := session.New(f.reg)
	f.data[chatID] = s
	return s
}

func (f *fakeSessions) Save(ctx context.Context, chatID int64, s *session.Session) {
	f.saves++
	f.data[chatID] = s
}

type fakePremium struct {
	members map[string]bool
	err     error
}

func (f *fakePremium) Add(ctx context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.members[id] {
		return false, nil
	}
	f.members[id] = true
	return true, nil
}

func (f *fakePremium) Remove(ctx context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if !f.members[id] {
		return false, nil
	}
	delete(f.members, id)
	return true, nil
}

func (f *fakePremium) Contains(ctx context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[id], nil
}

func (f *fakePremium) ListAll(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for id := range f.members {
		out = append(out, id)
	}
	return out, nil
}

type fakeLLM struct {
	mu   sync.Mutex
	reqs []llm.Request
	text string
	err  error
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.Request) (llm.Completion, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.text}, nil
}

type fakeFiles struct{}

func (fakeFiles) FetchFileBytes(ctx context.Context, fileID string) ([]byte, error) {
	return []byte("img"), nil
}

func testRegistry() catalog.Registry {
	return catalog.Registry{
		Models: []catalog.Model{
			{ID: "free/a", DisplayName: "Free A", Provider: catalog.ProviderOpenRouter},
			{ID: "paid/b", DisplayName: "Paid B", IsPremium: true, Provider: catalog.ProviderOpenRouter},
		},
		Prompts: []catalog.Prompt{
			{Name: "Assistant", Text: "You are a helpful assistant."},
			{Name: "Pirate", Text: "You are a pirate."},
		},
	}
}

type harness struct {
	api      *fakeAPI
	sessions *fakeSessions
	members  *fakePremium
	llm      *fakeLLM
	runner   *Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := testRegistry()
	h := &harness{
		api:      &fakeAPI{},
		sessions: &fakeSessions{reg: reg, data: map[int64]*session.Session{}},
		members:  &fakePremium{members: map[string]bool{}},
		llm:      &fakeLLM{text: "the answer"},
	}
	checker := processor.NewChecker(adminID, h.members, time.Second)
	disp := processor.NewDispatcher(map[catalog.Provider]llm.Client{
		catalog.ProviderOpenRouter: h.llm,
	}, time.Second)
	proc := processor.New(reg, checker, disp, fakeFiles{}, nil)
	h.runner = New(h.api, h.sessions, h.members, proc, reg, Config{AdminID: adminID}, nil)
	h.runner.botUsername = "relay_bot"
	return h
}

func privateMessage(chatID int64, fromID int64, text string) telegramapi.Update {
	return telegramapi.Update{
		UpdateID: 1,
		Message: &telegramapi.Message{
			MessageID: 10,
			Chat:      &telegramapi.Chat{ID: chatID, Type: "private"},
			From:      &telegramapi.User{ID: fromID},
			Text:      text,
		},
	}
}

func TestStartCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.runner.HandleUpdate(context.Background(), privateMessage(1, 222, "/start"))
	if len(h.api.sent) != 1 || !strings.Contains(h.api.sent[0].Text, "¡Hola!") {
		t.Fatalf("sent = %+v", h.api.sent)
	}
}

func TestModelCommandKeyboardFreeFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.runner.HandleUpdate(context.Background(), privateMessage(1, 222, "/model"))
	if len(h.api.sent) != 1 {
		t.Fatalf("sent = %+v", h.api.sent)
	}
	kb := h.api.sent[0].Opts.ReplyMarkup
	if kb == nil || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("keyboard = %+v", kb)
	}
	first := kb.InlineKeyboard[0][0]
	second := kb.InlineKeyboard[1][0]
	if first.CallbackData != "set_model_0" || strings.Contains(first.Text, "Premium") {
		t.Fatalf("first button = %+v, want the free model", first)
	}
	if second.CallbackData != "set_model_1" || !strings.Contains(second.Text, "🔒") {
		t.Fatalf("second button = %+v, want the locked premium model", second)
	}
	if !strings.Contains(h.api.sent[0].Text, "Premium models") {
		t.Fatalf("non-premium user should see the premium explainer: %q", h.api.sent[0].Text)
	}
}

func TestSetModelCallbackThenInfo(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.runner.HandleUpdate(ctx, telegramapi.Update{
		UpdateID: 2,
		CallbackQuery: &telegramapi.CallbackQuery{
			ID:      "cb1",
			From:    &telegramapi.User{ID: 222},
			Data:    "set_model_1",
			Message: &telegramapi.Message{MessageID: 5, Chat: &telegramapi.Chat{ID: 1, Type: "private"}},
		},
	})
	if got := h.sessions.data[1].Model.ID; got != "paid/b" {
		t.Fatalf("session model = %q, want paid/b", got)
	}
	if len(h.api.answers) != 1 {
		t.Fatalf("callback not answered: %v", h.api.answers)
	}

	h.api.sent = nil
	h.runner.HandleUpdate(ctx, privateMessage(1, 222, "/info"))
	if len(h.api.sent) != 1 || !strings.Contains(h.api.sent[0].Text, "paid/b") {
		t.Fatalf("info = %+v, want the selected model id", h.api.sent)
	}
}

func TestSetPromptCallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.runner.HandleUpdate(context.Background(), telegramapi.Update{
		UpdateID: 3,
		CallbackQuery: &telegramapi.CallbackQuery{
			ID:      "cb2",
			From:    &telegramapi.User{ID: 222},
			Data:    "set_prompt_1",
			Message: &telegramapi.Message{MessageID: 5, Chat: &telegramapi.Chat{ID: 1, Type: "private"}},
		},
	})
	sess := h.sessions.data[1]
	if sess.SystemPrompt.Text != "You are a pirate." {
		t.Fatalf("prompt = %q", sess.SystemPrompt.Text)
	}
	if len(sess.History) != 1 {
		t.Fatalf("history not reset: %d entries", len(sess.History))
	}
}

func TestFreeTextPrivateChatRunsAsk(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.runner.HandleUpdate(context.Background(), privateMessage(1, 222, "what is go"))

	if len(h.api.reactions) != 1 || h.api.reactions[0] != "👀" {
		t.Fatalf("reactions = %v", h.api.reactions)
	}
	if len(h.api.sent) != 1 {
		t.Fatalf("sent = %+v", h.api.sent)
	}
	got := h.api.sent[0]
	if got.Text != "the answer" {
		t.Fatalf("reply = %q", got.Text)
	}
	if !got.Opts.DisableLinkPreview || got.Opts.ReplyToMessageID != 10 {
		t.Fatalf("reply opts = %+v, want threaded with preview disabled", got.Opts)
	}
	if h.sessions.saves == 0 {
		t.Fatal("session never saved")
	}
}

func TestEmptyPrivateMessageIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.runner.HandleUpdate(ctx, privateMessage(1, 222, ""))

	if len(h.api.reactions) != 0 {
		t.Fatalf("reacted to an empty message: %v", h.api.reactions)
	}
	if len(h.api.sent) != 0 {
		t.Fatalf("answered an empty message: %+v", h.api.sent)
	}
	if len(h.llm.reqs) != 0 {
		t.Fatalf("provider called for an empty message: %d calls", len(h.llm.reqs))
	}
}

func TestPhotoWithoutCaptionStillAsks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	upd := privateMessage(1, 222, "")
	upd.Message.Photo = []telegramapi.PhotoSize{{FileID: "p1", Width: 640}}
	h.runner.HandleUpdate(context.Background(), upd)

	if len(h.api.sent) != 1 || h.api.sent[0].Text != "the answer" {
		t.Fatalf("photo-only message not answered: %+v", h.api.sent)
	}
}

func TestFreeTextGroupIgnoredUnlessReplyToBot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	group := privateMessage(2, 222, "hello everyone")
	group.Message.Chat.Type = "supergroup"
	h.runner.HandleUpdate(ctx, group)
	if len(h.api.sent) != 0 {
		t.Fatalf("group chatter answered: %+v", h.api.sent)
	}

	replied := privateMessage(2, 222, "and you?")
	replied.Message.Chat.Type = "supergroup"
	replied.Message.ReplyTo = &telegramapi.Message{
		MessageID: 4,
		From:      &telegramapi.User{ID: 999, IsBot: true, Username: "relay_bot"},
		Text:      "previous bot reply",
	}
	h.runner.HandleUpdate(ctx, replied)
	if len(h.api.sent) != 1 || h.api.sent[0].Text != "the answer" {
		t.Fatalf("reply-to-bot not answered: %+v", h.api.sent)
	}
}

// The bot's own replied-to message is already part of the persisted history,
// so the payload carries only the user's new text.
func TestReplyToBotContentExcludedFromPayload(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	upd := privateMessage(1, 222, "and you?")
	upd.Message.ReplyTo = &telegramapi.Message{
		MessageID: 4,
		From:      &telegramapi.User{ID: 999, IsBot: true, Username: "relay_bot"},
		Text:      "previous bot reply",
	}
	h.runner.HandleUpdate(context.Background(), upd)

	if len(h.llm.reqs) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(h.llm.reqs))
	}
	msgs := h.llm.reqs[0].Messages
	last := msgs[len(msgs)-1]
	if got := last.PlainText(); got != "and you?" {
		t.Fatalf("user turn = %q, want the new text only", got)
	}
}

func TestLongReplyChunked(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.llm.text = strings.Repeat("a", processor.MaxMessageLen) + "b"
	h.runner.HandleUpdate(context.Background(), privateMessage(1, 222, "long one"))

	if len(h.api.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(h.api.sent))
	}
	if len(h.api.sent[0].Text) != processor.MaxMessageLen || h.api.sent[1].Text != "b" {
		t.Fatalf("chunks = %d and %q", len(h.api.sent[0].Text), h.api.sent[1].Text)
	}
}

func TestAskErrorSingleCategorizedReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.llm.err = llm.Errorf(llm.KindRateLimited, "429")
	h.runner.HandleUpdate(context.Background(), privateMessage(1, 222, "/ask hi"))

	if len(h.api.sent) != 1 {
		t.Fatalf("sent %d messages, want exactly one error reply", len(h.api.sent))
	}
	if !strings.Contains(h.api.sent[0].Text, "Rate limit") {
		t.Fatalf("error reply = %q", h.api.sent[0].Text)
	}
}

func TestPartyReaction(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.runner.HandleUpdate(context.Background(), telegramapi.Update{
		UpdateID: 4,
		MessageReaction: &telegramapi.MessageReactionUpdated{
			Chat:        &telegramapi.Chat{ID: 1},
			MessageID:   7,
			NewReaction: []telegramapi.ReactionType{{Type: "emoji", Emoji: "🎉"}},
		},
	})
	if len(h.api.sent) != 1 || h.api.sent[0].Text != "Party time!" {
		t.Fatalf("sent = %+v", h.api.sent)
	}
}

func TestAdminCommandsRejectNonAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.runner.HandleUpdate(context.Background(), privateMessage(1, 222, "/addpremium 333"))
	if len(h.api.sent) != 1 || !strings.Contains(h.api.sent[0].Text, "restricted") {
		t.Fatalf("sent = %+v", h.api.sent)
	}
	if h.members.members["333"] {
		t.Fatal("non-admin added a premium user")
	}
}

func TestAddPremiumByReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	upd := privateMessage(1, 111, "/addpremium")
	upd.Message.ReplyTo = &telegramapi.Message{
		MessageID: 3,
		From:      &telegramapi.User{ID: 333},
	}
	h.runner.HandleUpdate(context.Background(), upd)
	if !h.members.members["333"] {
		t.Fatal("reply target not added")
	}
	if len(h.api.sent) != 1 || !strings.Contains(h.api.sent[0].Text, "333") {
		t.Fatalf("sent = %+v", h.api.sent)
	}
}

func TestListPremiumKeyboard(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.members.members["333"] = true
	h.runner.HandleUpdate(context.Background(), privateMessage(1, 111, "/listpremium"))

	if len(h.api.sent) != 1 {
		t.Fatalf("sent = %+v", h.api.sent)
	}
	kb := h.api.sent[0].Opts.ReplyMarkup
	if kb == nil || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("keyboard = %+v, want one user row plus the add row", kb)
	}
	if kb.InlineKeyboard[0][0].CallbackData != "premium_remove_333" {
		t.Fatalf("remove button = %+v", kb.InlineKeyboard[0][0])
	}
	if kb.InlineKeyboard[1][0].CallbackData != callbackPremiumAdd {
		t.Fatalf("add button = %+v", kb.InlineKeyboard[1][0])
	}
}

func TestPremiumRemoveCallbackEditsList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.members.members["333"] = true
	h.runner.HandleUpdate(context.Background(), telegramapi.Update{
		UpdateID: 5,
		CallbackQuery: &telegramapi.CallbackQuery{
			ID:      "cb3",
			From:    &telegramapi.User{ID: 111},
			Data:    "premium_remove_333",
			Message: &telegramapi.Message{MessageID: 8, Chat: &telegramapi.Chat{ID: 1}},
		},
	})
	if h.members.members["333"] {
		t.Fatal("user not removed")
	}
	if len(h.api.edits) != 1 || h.api.edits[0].MessageID != 8 {
		t.Fatalf("edits = %+v, want the list refreshed in place", h.api.edits)
	}
}

func TestPremiumRemoveCallbackNonAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.members.members["333"] = true
	h.runner.HandleUpdate(context.Background(), telegramapi.Update{
		UpdateID: 6,
		CallbackQuery: &telegramapi.CallbackQuery{
			ID:      "cb4",
			From:    &telegramapi.User{ID: 222},
			Data:    "premium_remove_333",
			Message: &telegramapi.Message{MessageID: 8, Chat: &telegramapi.Chat{ID: 1}},
		},
	})
	if !h.members.members["333"] {
		t.Fatal("non-admin removed a premium user")
	}
}

func TestPremiumHintRefreshedPerUpdate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.runner.HandleUpdate(ctx, privateMessage(1, 222, "/info"))
	if h.sessions.data[1].IsPremiumCached {
		t.Fatal("hint true for a non-member")
	}

	h.members.members["222"] = true
	h.runner.HandleUpdate(ctx, privateMessage(1, 222, "/info"))
	if !h.sessions.data[1].IsPremiumCached {
		t.Fatal("hint not refreshed after membership change")
	}

	h.members.err = errors.New("store down")
	h.runner.HandleUpdate(ctx, privateMessage(1, 222, "/info"))
	if h.sessions.data[1].IsPremiumCached {
		t.Fatal("hint must degrade to false when the store errors")
	}
}

func TestCommandAddressedToOtherBotIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	group := privateMessage(1, 222, "/start@some_other_bot")
	group.Message.Chat.Type = "supergroup"
	h.runner.HandleUpdate(ctx, group)

	// In a private chat the stray command must not leak into the ask flow.
	h.runner.HandleUpdate(ctx, privateMessage(1, 222, "/ask@some_other_bot hi"))

	if len(h.api.sent) != 0 {
		t.Fatalf("answered a command addressed to another bot: %+v", h.api.sent)
	}
	if len(h.llm.reqs) != 0 {
		t.Fatalf("provider called for another bot's command: %d calls", len(h.llm.reqs))
	}
}
