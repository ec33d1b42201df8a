package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/llm"
)

const (
	keyPrefix  = "session:"
	DefaultTTL = 7 * 24 * time.Hour
	historyCap = 64
)

// KV is the slice of Redis the store needs. *redis.Client satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Store persists sessions as JSON blobs keyed by chat id, best effort with
// last-write-wins semantics. A missing or unreachable store always yields a
// fresh session.
type Store struct {
	kv     KV
	reg    catalog.Registry
	ttl    time.Duration
	logger *slog.Logger
}

func NewStore(kv KV, reg catalog.Registry, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, reg: reg, ttl: ttl, logger: logger}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, chatID)
}

// Load returns the chat's session, or a fresh one when the store has no
// entry, is unreachable, or holds a blob that no longer decodes.
func (st *Store) Load(ctx context.Context, chatID int64) *Session {
	raw, err := st.kv.Get(ctx, sessionKey(chatID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			st.logger.Warn("session_load_error", "chat_id", chatID, "error", err.Error())
		}
		return New(st.reg)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		st.logger.Warn("session_decode_error", "chat_id", chatID, "error", err.Error())
		return New(st.reg)
	}
	if s.SystemPrompt.Role == "" {
		s.SystemPrompt = New(st.reg).SystemPrompt
	}
	s.Bind(st.reg)
	return &s
}

// Save writes the session back, capping the persisted history and keeping the
// leading system prompt. Failures are logged and swallowed; persistence is
// best effort.
func (st *Store) Save(ctx context.Context, chatID int64, s *Session) {
	capped := *s
	capped.History = capHistory(s.History, historyCap)
	raw, err := json.Marshal(&capped)
	if err != nil {
		st.logger.Warn("session_encode_error", "chat_id", chatID, "error", err.Error())
		return
	}
	if err := st.kv.Set(ctx, sessionKey(chatID), raw, st.ttl).Err(); err != nil {
		st.logger.Warn("session_save_error", "chat_id", chatID, "error", err.Error())
	}
}

// capHistory bounds the persisted history. The leading system prompt is
// always kept; beyond that the newest entries win.
func capHistory(h []llm.Message, max int) []llm.Message {
	if len(h) <= max {
		return h
	}
	out := make([]llm.Message, 0, max)
	out = append(out, h[0])
	out = append(out, h[len(h)-(max-1):]...)
	return out
}
