package conversation

import (
	"context"
	"fmt"
	"testing"

	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/testhelpers"
)

func newStore(provider *testhelpers.FakeProvider) *Store {
	chat := databases.NewMemoryChatStore()
	return New(chat, nil, provider)
}

func TestAppendOrderingWithinSession(t *testing.T) {
	s := newStore(&testhelpers.FakeProvider{Resp: "summary"})
	ctx := context.Background()
	sessionID := s.NewSessionID()

	if err := s.Append(ctx, sessionID, RoleUser, "hello"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, sessionID, RoleAssistant, "hi there"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	turns, err := s.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("unexpected order: %+v", turns)
	}
}

func TestHistoryBoundAndSummaryFirst(t *testing.T) {
	s := newStore(&testhelpers.FakeProvider{Resp: "folded summary"})
	ctx := context.Background()
	sessionID := s.NewSessionID()

	for i := 0; i < 9; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(ctx, sessionID, role, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	turns, err := s.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(turns) > MaxMsg+1 {
		t.Fatalf("history exceeds bound: %d turns", len(turns))
	}
	summaryCount := 0
	for i, tn := range turns {
		if tn.Role == RoleSummary {
			summaryCount++
			if i != 0 {
				t.Fatalf("summary turn not first: index %d", i)
			}
		}
	}
	if summaryCount > 1 {
		t.Fatalf("more than one summary turn: %d", summaryCount)
	}
	if turns[0].Role != RoleSummary {
		t.Fatalf("expected summary to be present and first after 9 appends, got %+v", turns)
	}
}

func TestSummarizeFallsBackOnLLMFailure(t *testing.T) {
	s := newStore(&testhelpers.FakeProvider{Err: fmt.Errorf("boom")})
	ctx := context.Background()
	sessionID := s.NewSessionID()

	for i := 0; i < 8; i++ {
		if err := s.Append(ctx, sessionID, RoleUser, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	turns, err := s.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, tn := range turns {
		if tn.Role == RoleSummary {
			t.Fatalf("expected no summary turn on LLM failure, got %+v", turns)
		}
	}
	if len(turns) > MaxMsg {
		t.Fatalf("expected head-truncation fallback to respect MaxMsg, got %d turns", len(turns))
	}
}
