package botrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/M4ss1ck/tg-ai-chatbot/internal/telegramapi"
	"github.com/M4ss1ck/tg-ai-chatbot/premium"
	"github.com/M4ss1ck/tg-ai-chatbot/processor"
	"github.com/M4ss1ck/tg-ai-chatbot/session"
)

const helpText = `Commands:
/model - choose the AI model
/info - show the current model
/ask <question> - ask the AI
/prompt - choose or set the system prompt
/reset - reset the conversation

In private chats you can just send a message. In groups, reply to one of my messages.`

func (r *Runner) handleCommand(ctx context.Context, logger *slog.Logger, sess *session.Session, msg *telegramapi.Message, cmd, args string) {
	logger = logger.With("command", cmd)
	chatID := msg.Chat.ID
	reply := telegramapi.SendOptions{ReplyToMessageID: msg.MessageID}

	switch cmd {
	case "start":
		r.send(ctx, logger, chatID, "¡Hola! Send me a message or use /help to see what I can do.", reply)
	case "help":
		r.send(ctx, logger, chatID, helpText, reply)
	case "model":
		text := "Choose a model:"
		if !sess.IsPremiumCached {
			text += "\n🔒 Premium models require premium access."
		}
		r.send(ctx, logger, chatID, text, telegramapi.SendOptions{
			ReplyToMessageID: msg.MessageID,
			ReplyMarkup:      modelKeyboard(r.reg),
		})
	case "info":
		r.send(ctx, logger, chatID, fmt.Sprintf("Current model: %s (%s)", sess.Model.DisplayName, sess.Model.ID), reply)
	case "reset":
		sess.Reset()
		r.send(ctx, logger, chatID, "Conversation reset.", reply)
	case "prompt":
		if args == "" {
			r.send(ctx, logger, chatID, "Choose a system prompt, or send /prompt <text> to set your own:", telegramapi.SendOptions{
				ReplyToMessageID: msg.MessageID,
				ReplyMarkup:      promptKeyboard(r.reg),
			})
			return
		}
		sess.SetSystemPrompt(args)
		r.send(ctx, logger, chatID, "System prompt updated. Conversation reset.", reply)
	case "ask":
		if args == "" && len(msg.Photo) == 0 && msg.ReplyTo == nil {
			r.send(ctx, logger, chatID, "Usage: /ask <question>", reply)
			return
		}
		r.runAsk(ctx, logger, sess, msg, args)
	case "addpremium":
		r.handleAddPremium(ctx, logger, msg, args)
	case "removepremium":
		r.handleRemovePremium(ctx, logger, msg, args)
	case "listpremium":
		r.handleListPremium(ctx, logger, msg)
	default:
		logger.Debug("unknown_command")
	}
}

// runAsk reacts 👀 on the triggering message, runs the pipeline, and delivers
// the reply in order, one 4096-char window at a time.
func (r *Runner) runAsk(ctx context.Context, logger *slog.Logger, sess *session.Session, msg *telegramapi.Message, text string) {
	chatID := msg.Chat.ID
	if err := r.api.SetMessageReaction(ctx, chatID, msg.MessageID, "👀"); err != nil {
		logger.Debug("react_error", "error", err.Error())
	}

	req := processor.Request{
		UserID: userIDOf(msg.From),
		Text:   text,
		Notify: func(ctx context.Context, note string) error {
			return r.api.SendMessage(ctx, chatID, note, telegramapi.SendOptions{ReplyToMessageID: msg.MessageID})
		},
	}
	if photo, ok := telegramapi.LargestPhoto(msg.Photo); ok {
		req.PhotoFileID = photo.FileID
	}
	if msg.ReplyTo != nil && !r.isReplyToBot(msg) {
		req.ReplyText = msg.ReplyTo.TextOrCaption()
		if photo, ok := telegramapi.LargestPhoto(msg.ReplyTo.Photo); ok {
			req.ReplyPhotoFileID = photo.FileID
		}
	}

	answer, err := r.proc.Ask(ctx, sess, req)
	if err != nil {
		logger.Warn("ask_error", "error", err.Error())
		r.send(ctx, logger, chatID, processor.UserMessage(err), telegramapi.SendOptions{ReplyToMessageID: msg.MessageID})
		return
	}
	for _, chunk := range processor.SplitReply(answer) {
		r.send(ctx, logger, chatID, chunk, telegramapi.SendOptions{
			ReplyToMessageID:   msg.MessageID,
			DisableLinkPreview: true,
		})
	}
}

// premiumTarget resolves the admin command's subject: an explicit argument or
// the sender of the replied-to message.
func premiumTarget(msg *telegramapi.Message, args string) string {
	if args != "" {
		return args
	}
	if msg.ReplyTo != nil && msg.ReplyTo.From != nil {
		return userIDOf(msg.ReplyTo.From)
	}
	return ""
}

func (r *Runner) requireAdmin(ctx context.Context, logger *slog.Logger, msg *telegramapi.Message) bool {
	if r.adminID != "" && userIDOf(msg.From) == r.adminID {
		return true
	}
	r.send(ctx, logger, msg.Chat.ID, "This command is restricted to the administrator.",
		telegramapi.SendOptions{ReplyToMessageID: msg.MessageID})
	return false
}

func premiumErrorMessage(err error) string {
	switch {
	case errors.Is(err, premium.ErrInvalidUserID):
		return "Invalid user id. Use a numeric Telegram user id."
	case errors.Is(err, premium.ErrUnavailable):
		return "The premium service is unavailable right now. Please try again later."
	default:
		return "Something went wrong: " + err.Error()
	}
}

func (r *Runner) handleAddPremium(ctx context.Context, logger *slog.Logger, msg *telegramapi.Message, args string) {
	if !r.requireAdmin(ctx, logger, msg) {
		return
	}
	reply := telegramapi.SendOptions{ReplyToMessageID: msg.MessageID}
	target := premiumTarget(msg, args)
	if target == "" {
		r.send(ctx, logger, msg.Chat.ID, "Usage: /addpremium <user id>, or reply to a message from the user.", reply)
		return
	}
	added, err := r.members.Add(ctx, target)
	if err != nil {
		logger.Warn("premium_add_error", "target", target, "error", err.Error())
		r.send(ctx, logger, msg.Chat.ID, premiumErrorMessage(err), reply)
		return
	}
	if !added {
		r.send(ctx, logger, msg.Chat.ID, fmt.Sprintf("User %s is already premium.", target), reply)
		return
	}
	logger.Info("premium_added", "target", target)
	r.send(ctx, logger, msg.Chat.ID, fmt.Sprintf("User %s is now premium.", target), reply)
}

func (r *Runner) handleRemovePremium(ctx context.Context, logger *slog.Logger, msg *telegramapi.Message, args string) {
	if !r.requireAdmin(ctx, logger, msg) {
		return
	}
	reply := telegramapi.SendOptions{ReplyToMessageID: msg.MessageID}
	target := premiumTarget(msg, args)
	if target == "" {
		r.send(ctx, logger, msg.Chat.ID, "Usage: /removepremium <user id>, or reply to a message from the user.", reply)
		return
	}
	removed, err := r.members.Remove(ctx, target)
	if err != nil {
		logger.Warn("premium_remove_error", "target", target, "error", err.Error())
		r.send(ctx, logger, msg.Chat.ID, premiumErrorMessage(err), reply)
		return
	}
	if !removed {
		r.send(ctx, logger, msg.Chat.ID, fmt.Sprintf("User %s was not premium.", target), reply)
		return
	}
	logger.Info("premium_removed", "target", target)
	r.send(ctx, logger, msg.Chat.ID, fmt.Sprintf("User %s is no longer premium.", target), reply)
}

func (r *Runner) handleListPremium(ctx context.Context, logger *slog.Logger, msg *telegramapi.Message) {
	if !r.requireAdmin(ctx, logger, msg) {
		return
	}
	reply := telegramapi.SendOptions{ReplyToMessageID: msg.MessageID}
	ids, err := r.members.ListAll(ctx)
	if err != nil {
		logger.Warn("premium_list_error", "error", err.Error())
		r.send(ctx, logger, msg.Chat.ID, premiumErrorMessage(err), reply)
		return
	}
	r.send(ctx, logger, msg.Chat.ID, premiumListText(ids), telegramapi.SendOptions{
		ReplyToMessageID: msg.MessageID,
		ReplyMarkup:      premiumListKeyboard(ids),
	})
}

func premiumListText(ids []string) string {
	if len(ids) == 0 {
		return "No premium users yet. Tap the button below to add one."
	}
	return fmt.Sprintf("Premium users (%d). Tap a user to remove them:", len(ids))
}
