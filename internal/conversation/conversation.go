// Package conversation implements the C6 Conversation Store (§4.6, §3.3):
// bounded per-session turn history with LLM-based summarisation of old
// turns, serialised per session and mirrored to a TTL cache. Grounded on
// the teacher's per-session chat persistence (internal/persistence,
// internal/persistence/databases), generalised from a durable chat UI
// backend to the Pipeline's ephemeral, bounded, summarising history.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
	"taskpilot/internal/persistence"
)

// Turn roles (§3.3).
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSummary   = "summary"
)

// §3.3 capacity and summarisation constants (defaults).
const (
	MaxMsg             = 10
	SummarizeThreshold = 8
	KeepRecent         = 3
	SessionTTL         = 30 * time.Minute
)

// Turn is one entry in a session's history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store is the C6 component.
type Store struct {
	chat     persistence.ChatStore
	cache    cacheStore
	provider llm.Provider
	locks    sync.Map // sessionID -> *sync.Mutex
}

// cacheStore is the narrow slice of *cache.Store the Conversation Store
// needs, kept as an interface so tests can substitute an in-memory fake
// without pulling in Redis.
type cacheStore interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration)
}

// New constructs a Store. provider is used only for summarisation; a nil
// or failing provider degrades to plain head-truncation (§4.6
// idempotence: "if the LLM fails, fall back to plain head-truncation").
func New(chat persistence.ChatStore, cache cacheStore, provider llm.Provider) *Store {
	return &Store{chat: chat, cache: cache, provider: provider}
}

// NewSessionID generates a fresh session identifier.
func (s *Store) NewSessionID() string { return uuid.NewString() }

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func cacheKey(sessionID string) string { return "session:" + sessionID }

// Get returns the current bounded history for sessionID (possibly empty).
func (s *Store) Get(ctx context.Context, sessionID string) ([]Turn, error) {
	return s.loadTurns(ctx, sessionID)
}

func (s *Store) loadTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	var turns []Turn
	if s.cache != nil && s.cache.GetJSON(ctx, cacheKey(sessionID), &turns) {
		return turns, nil
	}
	if s.chat == nil {
		return nil, nil
	}
	if _, err := s.chat.EnsureSession(ctx, nil, sessionID, "session"); err != nil {
		return nil, err
	}
	msgs, err := s.chat.ListMessages(ctx, nil, sessionID, 0)
	if err != nil {
		return nil, err
	}
	return fromMessages(msgs), nil
}

// Append appends one turn, running summarisation and capacity truncation
// per §4.6's fixed order, then mirrors the resulting history to the cache.
// Concurrent Appends for the same sessionID are serialised (§5); Appends
// across sessions proceed independently.
func (s *Store) Append(ctx context.Context, sessionID, role, content string) error {
	mu := s.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if s.chat != nil {
		if _, err := s.chat.EnsureSession(ctx, nil, sessionID, "session"); err != nil {
			return err
		}
	}

	turns, err := s.loadTurns(ctx, sessionID)
	if err != nil {
		turns = nil
	}
	turns = append(turns, Turn{Role: role, Content: content})

	if len(turns) >= SummarizeThreshold {
		turns = s.summarize(ctx, turns)
	}
	turns = truncateToCapacity(turns)

	return s.persist(ctx, sessionID, turns)
}

func (s *Store) persist(ctx context.Context, sessionID string, turns []Turn) error {
	if s.chat != nil {
		if err := s.chat.ReplaceMessages(ctx, nil, sessionID, toMessages(sessionID, turns), preview(turns), ""); err != nil {
			return err
		}
	}
	if s.cache != nil {
		s.cache.SetJSON(ctx, cacheKey(sessionID), turns, SessionTTL)
	}
	return nil
}

// truncateToCapacity enforces §3.3's "at most MAX_MSG turns, plus at most
// one leading summary turn" (P4), keeping the most recent turns.
func truncateToCapacity(turns []Turn) []Turn {
	if len(turns) == 0 {
		return turns
	}
	if turns[0].Role == RoleSummary {
		rest := turns[1:]
		if len(rest) > MaxMsg {
			rest = rest[len(rest)-MaxMsg:]
		}
		out := make([]Turn, 0, 1+len(rest))
		out = append(out, turns[0])
		out = append(out, rest...)
		return out
	}
	if len(turns) > MaxMsg {
		return turns[len(turns)-MaxMsg:]
	}
	return turns
}

// summarize implements §4.6: fold all but the most recent KEEP_RECENT
// non-summary turns into a new leading summary turn. Safe to re-enter
// (L1-style idempotence): it always recomputes old/recent from the
// current turns.
func (s *Store) summarize(ctx context.Context, turns []Turn) []Turn {
	priorSummary := ""
	rest := turns
	if len(turns) > 0 && turns[0].Role == RoleSummary {
		priorSummary = turns[0].Content
		rest = turns[1:]
	}
	if len(rest) <= KeepRecent {
		return turns
	}
	old := rest[:len(rest)-KeepRecent]
	recent := rest[len(rest)-KeepRecent:]
	if len(old) < 3 {
		return turns
	}
	if s.provider == nil {
		return turns
	}
	summaryText, err := s.callSummaryLLM(ctx, priorSummary, old)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("conversation_summarize_failed_fallback_truncate")
		return turns
	}
	out := make([]Turn, 0, 1+len(recent))
	out = append(out, Turn{Role: RoleSummary, Content: summaryText})
	out = append(out, recent...)
	return out
}

func (s *Store) callSummaryLLM(ctx context.Context, priorSummary string, old []Turn) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarise this conversation excerpt in at most a few sentences, preserving names, ids, and decisions.\n")
	if priorSummary != "" {
		fmt.Fprintf(&sb, "Prior summary: %s\n", priorSummary)
	}
	sb.WriteString("Turns:\n")
	for _, t := range old {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	sb.WriteString("Summary:")
	out, err := s.provider.Complete(ctx, sb.String(), llm.CompleteOptions{Temperature: 0.3, MaxTokens: 300})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func preview(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != RoleSummary {
			t := turns[i].Content
			if len(t) > 120 {
				t = t[:120]
			}
			return t
		}
	}
	return ""
}

func toMessages(sessionID string, turns []Turn) []persistence.ChatMessage {
	out := make([]persistence.ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, persistence.ChatMessage{SessionID: sessionID, Role: t.Role, Content: t.Content})
	}
	return out
}

func fromMessages(msgs []persistence.ChatMessage) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Turn{Role: m.Role, Content: m.Content})
	}
	return out
}
