// Package persistence defines the storage-agnostic shapes the conversation
// store (C6) persists through, mirroring the teacher's own thin
// persistence layer (a package of interfaces implemented by concrete
// backends under internal/persistence/databases).
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or message lookup misses.
var ErrNotFound = errors.New("persistence: not found")

// ErrForbidden is returned when a caller without ownership of a session
// attempts to read or mutate it. The Pipeline itself never sets a userID
// (it performs no authorization, per spec §1 Non-goals); this exists so
// the underlying store can also serve an authenticated surface without a
// second implementation.
var ErrForbidden = errors.New("persistence: forbidden")

// ChatSession is one conversation (§3.3: a bounded ordered sequence of
// turns). Summary/SummarizedCount carry the single leading summary turn
// folded by the Conversation Store's summarisation step.
type ChatSession struct {
	ID                  string
	Name                string
	UserID              *int64
	Summary             string
	SummarizedCount     int
	LastMessagePreview  string
	Model               string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ChatMessage is one turn. Role is "user", "assistant", or "summary"
// (§3.3); the Conversation Store enforces ordering and capacity, this
// layer just stores what it is given.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ChatStore persists sessions and their messages. Implementations must
// serialize writes per session (§5); the in-memory implementation does so
// with one mutex per store instance, the Conversation Store
// adds per-session serialisation on top (sync.Map of sync.Mutex).
type ChatStore interface {
	Init(ctx context.Context) error
	EnsureSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name string) (ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error
	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error
	UpdateSummary(ctx context.Context, userID *int64, sessionID string, summary string, summarizedCount int) error

	// ReplaceMessages overwrites a session's entire message list, used by
	// the Conversation Store (C6) after summarisation folds old turns into
	// a single leading summary turn (§4.6).
	ReplaceMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error
}
