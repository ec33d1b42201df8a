package botrunner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/M4ss1ck/tg-ai-chatbot/internal/telegramapi"
)

const (
	prefixSetModel      = "set_model_"
	prefixSetPrompt     = "set_prompt_"
	prefixPremiumRemove = "premium_remove_"
	callbackPremiumAdd  = "premium_add_prompt"
)

func callbackSetModel(i int) string      { return prefixSetModel + strconv.Itoa(i) }
func callbackSetPrompt(i int) string     { return prefixSetPrompt + strconv.Itoa(i) }
func callbackPremiumRemove(id string) string { return prefixPremiumRemove + id }

func (r *Runner) handleCallback(ctx context.Context, logger *slog.Logger, cb *telegramapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		r.answerCallback(ctx, logger, cb.ID, "")
		return
	}
	chatID := cb.Message.Chat.ID
	logger = logger.With("chat_id", chatID, "callback_data", cb.Data)

	switch {
	case strings.HasPrefix(cb.Data, prefixSetModel):
		r.handleSetModel(ctx, logger, cb, chatID)
	case strings.HasPrefix(cb.Data, prefixSetPrompt):
		r.handleSetPrompt(ctx, logger, cb, chatID)
	case strings.HasPrefix(cb.Data, prefixPremiumRemove):
		r.handlePremiumRemoveCallback(ctx, logger, cb, chatID)
	case cb.Data == callbackPremiumAdd:
		r.answerCallback(ctx, logger, cb.ID, "")
		r.send(ctx, logger, chatID, "Send /addpremium <user id>, or reply to a message from the user with /addpremium.", telegramapi.SendOptions{})
	default:
		logger.Debug("unknown_callback")
		r.answerCallback(ctx, logger, cb.ID, "")
	}
}

func (r *Runner) handleSetModel(ctx context.Context, logger *slog.Logger, cb *telegramapi.CallbackQuery, chatID int64) {
	idx, err := strconv.Atoi(strings.TrimPrefix(cb.Data, prefixSetModel))
	if err != nil {
		r.answerCallback(ctx, logger, cb.ID, "Unknown model.")
		return
	}
	model, ok := r.reg.At(idx)
	if !ok {
		r.answerCallback(ctx, logger, cb.ID, "Unknown model.")
		return
	}
	sess := r.sessions.Load(ctx, chatID)
	sess.SetModel(model)
	r.sessions.Save(ctx, chatID, sess)
	logger.Info("model_selected", "model", model.ID)
	r.answerCallback(ctx, logger, cb.ID, "Model set")
	r.send(ctx, logger, chatID, fmt.Sprintf("Model set to %s.", model.DisplayName), telegramapi.SendOptions{})
}

func (r *Runner) handleSetPrompt(ctx context.Context, logger *slog.Logger, cb *telegramapi.CallbackQuery, chatID int64) {
	idx, err := strconv.Atoi(strings.TrimPrefix(cb.Data, prefixSetPrompt))
	if err != nil {
		r.answerCallback(ctx, logger, cb.ID, "Unknown prompt.")
		return
	}
	prompt, ok := r.reg.PromptAt(idx)
	if !ok {
		r.answerCallback(ctx, logger, cb.ID, "Unknown prompt.")
		return
	}
	sess := r.sessions.Load(ctx, chatID)
	sess.SetSystemPrompt(prompt.Text)
	r.sessions.Save(ctx, chatID, sess)
	logger.Info("prompt_selected", "prompt", prompt.Name)
	r.answerCallback(ctx, logger, cb.ID, "Prompt set")
	r.send(ctx, logger, chatID, fmt.Sprintf("System prompt set to %q. Conversation reset.", prompt.Name), telegramapi.SendOptions{})
}

// handlePremiumRemoveCallback removes the tapped user and refreshes the list
// message in place.
func (r *Runner) handlePremiumRemoveCallback(ctx context.Context, logger *slog.Logger, cb *telegramapi.CallbackQuery, chatID int64) {
	if r.adminID == "" || userIDOf(cb.From) != r.adminID {
		r.answerCallback(ctx, logger, cb.ID, "Not authorized.")
		return
	}
	target := strings.TrimPrefix(cb.Data, prefixPremiumRemove)
	if _, err := r.members.Remove(ctx, target); err != nil {
		logger.Warn("premium_remove_error", "target", target, "error", err.Error())
		r.answerCallback(ctx, logger, cb.ID, "Removal failed.")
		return
	}
	logger.Info("premium_removed", "target", target)
	r.answerCallback(ctx, logger, cb.ID, "Removed "+target)

	ids, err := r.members.ListAll(ctx)
	if err != nil {
		logger.Warn("premium_list_error", "error", err.Error())
		return
	}
	if err := r.api.EditMessageText(ctx, chatID, cb.Message.MessageID, premiumListText(ids), premiumListKeyboard(ids)); err != nil {
		logger.Warn("premium_list_edit_error", "error", err.Error())
	}
}

func (r *Runner) answerCallback(ctx context.Context, logger *slog.Logger, callbackID, text string) {
	if err := r.api.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		logger.Debug("answer_callback_error", "error", err.Error())
	}
}
