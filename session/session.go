// Package session keeps the per-chat conversation state: selected model,
// rolling history, system prompt, and a cached premium hint.
package session

import (
	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/llm"
)

// Session is one chat's state. Only the JSON-tagged fields persist; the
// resolved model and the registry snapshot are rebound on every load.
//
// IsPremiumCached is a display hint refreshed once per update by the runner.
// It is never consulted for authorization; premium gating always re-derives
// entitlement from the membership store.
type Session struct {
	SelectedModelID string        `json:"selected_model_id"`
	History         []llm.Message `json:"history"`
	SystemPrompt    llm.Message   `json:"system_prompt"`
	IsPremiumCached bool          `json:"is_premium_cached"`

	Model     catalog.Model    `json:"-"`
	Available catalog.Registry `json:"-"`
}

// New returns a fresh session: first registry entry, first prompt template,
// empty history.
func New(reg catalog.Registry) *Session {
	s := &Session{
		Available:    reg,
		SystemPrompt: llm.TextMessage(llm.RoleSystem, reg.FirstPrompt().Text),
	}
	s.SetModel(reg.First())
	return s
}

// Bind re-resolves the persisted model id against the registry. A stale or
// unknown id falls back to the registry's first entry, keeping the invariant
// that the selected model is always a registry member.
func (s *Session) Bind(reg catalog.Registry) {
	s.Available = reg
	if m, ok := reg.ByID(s.SelectedModelID); ok {
		s.Model = m
		return
	}
	s.SetModel(reg.First())
}

// SetModel switches the selected model.
func (s *Session) SetModel(m catalog.Model) {
	s.Model = m
	s.SelectedModelID = m.ID
}

// SetSystemPrompt installs a new system prompt. A prompt change clears the
// history; the old prompt is never retroactively replaced in place.
func (s *Session) SetSystemPrompt(text string) {
	s.SystemPrompt = llm.TextMessage(llm.RoleSystem, text)
	s.History = []llm.Message{s.SystemPrompt}
}

// Reset restores the default prompt template and leaves history as exactly
// [systemPrompt]. Calling it twice is idempotent.
func (s *Session) Reset() {
	s.SystemPrompt = llm.TextMessage(llm.RoleSystem, s.Available.FirstPrompt().Text)
	s.History = []llm.Message{s.SystemPrompt}
}

// EnsureHistory seeds the history with the current system prompt when empty.
func (s *Session) EnsureHistory() {
	if len(s.History) == 0 {
		s.History = []llm.Message{s.SystemPrompt}
	}
}

// Append adds a message to the history.
func (s *Session) Append(msg llm.Message) {
	s.EnsureHistory()
	s.History = append(s.History, msg)
}
