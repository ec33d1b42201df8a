package processor

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/M4ss1ck/tg-ai-chatbot/llm"
	"github.com/M4ss1ck/tg-ai-chatbot/session"
)

// FileFetcher retrieves the raw bytes of a chat attachment.
type FileFetcher interface {
	FetchFileBytes(ctx context.Context, fileID string) ([]byte, error)
}

// buildPayload assembles the outbound user turn: a leading text part (the
// message text joined with any replied-to text by a newline), followed by an
// image part per attached photo. Fetch errors propagate; no partial content
// is emitted.
//
// When an image part is appended while the selected model cannot serve
// images, the session's model is substituted with an image-capable one the
// user is entitled to, and the substitution sticks for future requests. On
// this opportunistic path an unanswerable entitlement check counts as a
// denial so image handling never blocks on the membership store.
func (p *Processor) buildPayload(ctx context.Context, sess *session.Session, req Request) (llm.Message, bool, error) {
	text := req.Text
	if req.ReplyText != "" {
		if text != "" {
			text += "\n"
		}
		text += req.ReplyText
	}
	parts := []llm.ContentPart{llm.TextPart(text)}

	for _, fileID := range []string{req.PhotoFileID, req.ReplyPhotoFileID} {
		if fileID == "" {
			continue
		}
		raw, err := p.files.FetchFileBytes(ctx, fileID)
		if err != nil {
			return llm.Message{}, false, fmt.Errorf("fetch photo %s: %w", fileID, err)
		}
		encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
		parts = append(parts, llm.ImagePart(encoded))
	}

	hasImage := len(parts) > 1
	if hasImage && !sess.Model.SupportsImages {
		p.substituteImageModel(ctx, sess, req.UserID)
	}
	if !hasImage {
		return llm.TextMessage(llm.RoleUser, text), false, nil
	}
	return llm.PartsMessage(llm.RoleUser, parts), true, nil
}

func (p *Processor) substituteImageModel(ctx context.Context, sess *session.Session, userID string) {
	next, ok := p.reg.FirstImageCapable(true)
	if ok && next.IsPremium {
		verdict, _ := p.checker.Check(ctx, userID, next)
		if verdict != VerdictAllowed {
			next, ok = p.reg.FirstImageCapable(false)
		}
	}
	if !ok {
		next = p.reg.First()
	}
	p.logger.Info("image_model_substituted",
		"from", sess.Model.ID, "to", next.ID)
	sess.SetModel(next)
}
