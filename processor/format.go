package processor

import (
	"fmt"

	"github.com/M4ss1ck/tg-ai-chatbot/llm"
)

// MaxMessageLen is the chat platform's hard per-message character limit.
const MaxMessageLen = 4096

// SplitReply cuts text into consecutive windows of at most MaxMessageLen
// characters. Text at or under the limit comes back as a single element. The
// split is by rune so a multi-byte character never straddles two messages.
func SplitReply(text string) []string {
	runes := []rune(text)
	if len(runes) <= MaxMessageLen {
		return []string{text}
	}
	var out []string
	for start := 0; start < len(runes); start += MaxMessageLen {
		end := start + MaxMessageLen
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// UserMessage maps a pipeline error to the single user-facing reply for it.
// Unrecognized errors fall through to a generic message carrying the raw
// error text.
func UserMessage(err error) string {
	switch llm.KindOf(err) {
	case llm.KindIdentityMissing:
		return "Unable to verify your identity. Please try again."
	case llm.KindEntitlementUnknown:
		return "Unable to verify premium access right now. Please try again later."
	case llm.KindMisconfigured:
		return "The AI provider is not configured. Please contact the administrator."
	case llm.KindTimeout:
		return "The request timed out. Please try again."
	case llm.KindConnection:
		return "Could not reach the AI provider. Please try again later."
	case llm.KindAuth:
		return "Authentication with the AI provider failed. Please contact the administrator."
	case llm.KindRateLimited:
		return "Rate limit reached. Please wait a moment and try again."
	case llm.KindServer:
		return "The AI provider returned a server error. Please try again later."
	case llm.KindEmptyResponse:
		return "The model returned no response. Please try again."
	case llm.KindNoFallback:
		return "The premium model is unavailable and no fallback model could serve your request."
	case llm.KindFallbackExhausted:
		return "The model and its fallback are both unavailable right now. Please try again later."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
