// Package processor is the premium-access-aware request pipeline: entitlement
// gating, payload assembly, two-provider dispatch, and the single free-model
// fallback retry.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/llm"
	"github.com/M4ss1ck/tg-ai-chatbot/session"
)

// Request is one inbound ask: the question text plus optional context from a
// replied-to message. Notify, when set, delivers intermediate user-facing
// messages (model switches) before the final reply.
type Request struct {
	UserID           string
	Text             string
	ReplyText        string
	PhotoFileID      string
	ReplyPhotoFileID string
	Notify           func(ctx context.Context, text string) error
}

// Processor runs the ask pipeline against a caller-owned session. It holds no
// per-request state; the caller loads and persists the session around each
// call.
type Processor struct {
	reg        catalog.Registry
	checker    *Checker
	dispatcher *Dispatcher
	files      FileFetcher
	logger     *slog.Logger
}

func New(reg catalog.Registry, checker *Checker, dispatcher *Dispatcher, files FileFetcher, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{reg: reg, checker: checker, dispatcher: dispatcher, files: files, logger: logger}
}

// Ask runs the full pipeline and returns the assistant's reply text. The
// session is mutated in place (model swaps, history append); the caller
// persists it afterwards, including on error, so entitlement downgrades and
// image substitutions stick.
func (p *Processor) Ask(ctx context.Context, sess *session.Session, req Request) (string, error) {
	if err := p.gate(ctx, sess, req); err != nil {
		return "", err
	}

	userMsg, hasImage, err := p.buildPayload(ctx, sess, req)
	if err != nil {
		return "", err
	}

	sess.EnsureHistory()
	messages := make([]llm.Message, 0, len(sess.History)+1)
	messages = append(messages, sess.History...)
	messages = append(messages, userMsg)

	comp, err := p.completeWithFallback(ctx, sess, messages, hasImage, req.Notify)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(comp.Text) == "" {
		return "", llm.Errorf(llm.KindEmptyResponse, "model %s returned no content", sess.Model.ID)
	}

	sess.Append(userMsg)
	sess.Append(llm.TextMessage(llm.RoleAssistant, comp.Text))
	p.logger.Info("ask_completed",
		"model", sess.Model.ID,
		"input_tokens", comp.Usage.InputTokens,
		"output_tokens", comp.Usage.OutputTokens,
		"duration_ms", comp.Duration.Milliseconds())
	return comp.Text, nil
}

// gate applies the primary entitlement check to the session's selected model.
// A definitive denial swaps the session to the first free model and notifies
// the user; identity and store failures abort the request.
func (p *Processor) gate(ctx context.Context, sess *session.Session, req Request) error {
	verdict, err := p.checker.Check(ctx, req.UserID, sess.Model)
	switch verdict {
	case VerdictAllowed:
		return nil
	case VerdictDeniedNoIdentity:
		return llm.Errorf(llm.KindIdentityMissing, "no user id on update")
	case VerdictUnknown:
		return llm.WrapError(llm.KindEntitlementUnknown, "premium lookup failed", err)
	}
	free, ok := p.reg.FirstFree(false)
	if !ok {
		return llm.Errorf(llm.KindNoFallback, "no free model to downgrade to")
	}
	p.logger.Info("premium_denied_downgrade", "from", sess.Model.ID, "to", free.ID, "user_id", req.UserID)
	prev := sess.Model
	sess.SetModel(free)
	p.notify(ctx, req.Notify, fmt.Sprintf(
		"%s is a premium model. Switched you to %s.", prev.DisplayName, free.DisplayName))
	return nil
}

// completeWithFallback dispatches the call and, when a premium model fails,
// retries exactly once against the first free model compatible with the
// request's image requirement.
func (p *Processor) completeWithFallback(ctx context.Context, sess *session.Session, messages []llm.Message, hasImage bool, notify func(context.Context, string) error) (llm.Completion, error) {
	primary := sess.Model
	comp, err := p.dispatcher.Dispatch(ctx, primary, messages)
	if err == nil {
		return comp, nil
	}
	if !primary.IsPremium {
		return llm.Completion{}, err
	}
	p.logger.Warn("premium_dispatch_failed", "model", primary.ID, "error", err.Error())

	fallback, ok := p.reg.FirstFree(hasImage)
	if !ok {
		return llm.Completion{}, llm.WrapError(llm.KindNoFallback,
			fmt.Sprintf("model %s failed and no compatible free model exists", primary.ID), err)
	}
	sess.SetModel(fallback)
	comp, retryErr := p.dispatcher.Dispatch(ctx, fallback, messages)
	if retryErr != nil {
		return llm.Completion{}, llm.WrapError(llm.KindFallbackExhausted,
			fmt.Sprintf("both %s and fallback %s failed", primary.ID, fallback.ID), retryErr)
	}
	p.logger.Info("fallback_retry_succeeded", "from", primary.ID, "to", fallback.ID)
	p.notify(ctx, notify, fmt.Sprintf(
		"%s is unavailable right now. Switched you to %s.", primary.DisplayName, fallback.DisplayName))
	return comp, nil
}

func (p *Processor) notify(ctx context.Context, fn func(context.Context, string) error, text string) {
	if fn == nil {
		return
	}
	if err := fn(ctx, text); err != nil {
		p.logger.Warn("notify_failed", "error", err.Error())
	}
}
