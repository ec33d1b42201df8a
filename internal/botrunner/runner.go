// Package botrunner drives the Telegram long-poll loop and routes updates to
// commands, callbacks, and the ask pipeline.
package botrunner

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/internal/telegramapi"
	"github.com/M4ss1ck/tg-ai-chatbot/processor"
	"github.com/M4ss1ck/tg-ai-chatbot/session"
)

// API is the slice of the Telegram client the runner calls.
// *telegramapi.Client satisfies it.
type API interface {
	GetMe(ctx context.Context) (*telegramapi.User, error)
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration, allowedUpdates []string) ([]telegramapi.Update, int64, error)
	SendMessage(ctx context.Context, chatID int64, text string, opts telegramapi.SendOptions) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *telegramapi.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error
}

// SessionStore loads and persists per-chat sessions. *session.Store
// satisfies it.
type SessionStore interface {
	Load(ctx context.Context, chatID int64) *session.Session
	Save(ctx context.Context, chatID int64, s *session.Session)
}

// PremiumService is the membership surface the admin commands use.
// *premium.Service satisfies it.
type PremiumService interface {
	Add(ctx context.Context, userID string) (bool, error)
	Remove(ctx context.Context, userID string) (bool, error)
	Contains(ctx context.Context, userID string) (bool, error)
	ListAll(ctx context.Context) ([]string, error)
}

const defaultPollTimeout = 30 * time.Second

var allowedUpdates = []string{"message", "edited_message", "callback_query", "message_reaction"}

type Runner struct {
	api         API
	sessions    SessionStore
	members     PremiumService
	proc        *processor.Processor
	reg         catalog.Registry
	adminID     string
	pollTimeout time.Duration
	logger      *slog.Logger

	botUsername string
}

type Config struct {
	AdminID     string
	PollTimeout time.Duration
}

func New(api API, sessions SessionStore, members PremiumService, proc *processor.Processor, reg catalog.Registry, cfg Config, logger *slog.Logger) *Runner {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		api:         api,
		sessions:    sessions,
		members:     members,
		proc:        proc,
		reg:         reg,
		adminID:     cfg.AdminID,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}
}

// Run polls for updates until ctx is canceled. Each update is handled in its
// own goroutine; sessions are last-write-wins across concurrent updates for
// the same chat.
func (r *Runner) Run(ctx context.Context) error {
	me, err := r.api.GetMe(ctx)
	if err != nil {
		return err
	}
	r.botUsername = me.Username
	r.logger.Info("telegram_start", "bot_username", me.Username, "bot_id", me.ID)

	var offset int64
	for {
		updates, nextOffset, err := r.api.GetUpdates(ctx, offset, r.pollTimeout, allowedUpdates)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				r.logger.Info("telegram_stop", "reason", "context_canceled")
				return nil
			}
			if telegramapi.IsPollTimeoutError(err) {
				r.logger.Debug("telegram_get_updates_timeout", "error", err.Error())
			} else {
				r.logger.Warn("telegram_get_updates_error", "error", err.Error())
			}
			time.Sleep(1 * time.Second)
			continue
		}
		offset = nextOffset

		for _, u := range updates {
			u := u
			go r.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate routes one update. Exported so the poll loop and tests share
// the same path.
func (r *Runner) HandleUpdate(ctx context.Context, u telegramapi.Update) {
	logger := r.logger.With("correlation_id", uuid.NewString(), "update_id", u.UpdateID)

	switch {
	case u.MessageReaction != nil:
		r.handleReaction(ctx, logger, u.MessageReaction)
	case u.CallbackQuery != nil:
		r.handleCallback(ctx, logger, u.CallbackQuery)
	default:
		msg := u.Message
		if msg == nil {
			msg = u.EditedMessage
		}
		if msg == nil || msg.Chat == nil {
			return
		}
		if msg.From != nil && msg.From.IsBot {
			return
		}
		r.handleMessage(ctx, logger, msg)
	}
}

func (r *Runner) handleReaction(ctx context.Context, logger *slog.Logger, ru *telegramapi.MessageReactionUpdated) {
	if ru.Chat == nil {
		return
	}
	for _, reaction := range ru.NewReaction {
		if reaction.Emoji == "🎉" {
			logger.Info("party_reaction", "chat_id", ru.Chat.ID)
			r.send(ctx, logger, ru.Chat.ID, "Party time!", telegramapi.SendOptions{})
			return
		}
	}
}

func (r *Runner) handleMessage(ctx context.Context, logger *slog.Logger, msg *telegramapi.Message) {
	chatID := msg.Chat.ID
	logger = logger.With("chat_id", chatID)

	sess := r.sessions.Load(ctx, chatID)
	r.refreshPremiumHint(ctx, sess, msg.From)
	defer r.sessions.Save(ctx, chatID, sess)

	text := strings.TrimSpace(msg.TextOrCaption())
	if strings.HasPrefix(text, "/") {
		// Commands addressed to another bot are ignored, never asked.
		if cmd, args, ok := r.parseCommand(text); ok {
			r.handleCommand(ctx, logger, sess, msg, cmd, args)
		}
		return
	}

	// Messages with nothing to ask (stickers, voice notes, service
	// messages) never reach the pipeline.
	if text == "" && len(msg.Photo) == 0 {
		return
	}

	// Free text runs the ask flow in private chats and when the user
	// replies to one of the bot's own messages.
	if msg.Chat.Type == "private" || r.isReplyToBot(msg) {
		r.runAsk(ctx, logger, sess, msg, text)
	}
}

// refreshPremiumHint updates the session's display-only premium flag once per
// update. Failures degrade to false; authorization never reads this flag.
func (r *Runner) refreshPremiumHint(ctx context.Context, sess *session.Session, from *telegramapi.User) {
	if from == nil {
		sess.IsPremiumCached = false
		return
	}
	userID := strconv.FormatInt(from.ID, 10)
	if r.adminID != "" && userID == r.adminID {
		sess.IsPremiumCached = true
		return
	}
	ok, err := r.members.Contains(ctx, userID)
	sess.IsPremiumCached = err == nil && ok
}

// parseCommand splits "/cmd@bot args" into its command and argument string.
func (r *Runner) parseCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, args, _ := strings.Cut(text, " ")
	cmd := strings.TrimPrefix(head, "/")
	if name, target, found := strings.Cut(cmd, "@"); found {
		if r.botUsername != "" && !strings.EqualFold(target, r.botUsername) {
			return "", "", false
		}
		cmd = name
	}
	return strings.ToLower(cmd), strings.TrimSpace(args), true
}

func (r *Runner) isReplyToBot(msg *telegramapi.Message) bool {
	return msg.ReplyTo != nil && msg.ReplyTo.From != nil &&
		msg.ReplyTo.From.IsBot &&
		strings.EqualFold(msg.ReplyTo.From.Username, r.botUsername)
}

func (r *Runner) send(ctx context.Context, logger *slog.Logger, chatID int64, text string, opts telegramapi.SendOptions) {
	if err := r.api.SendMessage(ctx, chatID, text, opts); err != nil {
		logger.Warn("telegram_send_error", "chat_id", chatID, "error", err.Error())
	}
}

func userIDOf(u *telegramapi.User) string {
	if u == nil {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}
