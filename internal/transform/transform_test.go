package transform

import (
	"strings"
	"testing"
	"time"
)

func TestDeadlinePhraseBoundaries(t *testing.T) {
	cases := map[int]string{
		-2: "Overdue by 2 days",
		0:  "Due today",
		3:  "Due in 3 days (urgent)",
		4:  "Due in 4 days",
	}
	for days, want := range cases {
		if got := DeadlinePhrase(days); got != want {
			t.Fatalf("days=%d: want %q, got %q", days, want, got)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	cases := map[string]string{
		"todo":        "To Do",
		"to_do":       "To Do",
		"in_progress": "In Progress",
		"inprogress":  "In Progress",
		"done":        "Done",
		"completed":   "Done",
	}
	for in, want := range cases {
		if got := StatusLabel(in); got != want {
			t.Fatalf("status=%q: want %q, got %q", in, want, got)
		}
	}
}

func TestTaskSanitizesSecrets(t *testing.T) {
	doc := Task("t1", "rotate api_key: secret123", "token=abc123 description", "todo", "", "", "", time.Time{}, time.Now())
	if strings.Contains(doc.Text, "abc123") || strings.Contains(doc.Text, "secret123") {
		t.Fatalf("expected secrets redacted, got: %s", doc.Text)
	}
	if !strings.Contains(doc.Text, "[REDACTED]") {
		t.Fatalf("expected redaction marker, got: %s", doc.Text)
	}
}

func TestTaskMetadataDerivedFlags(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	overdue := Task("t1", "fix bug", "", "in_progress", "Alice", "Core", "Platform", now.AddDate(0, 0, -2), now)
	if overdue.Metadata["is_overdue"] != true {
		t.Fatalf("expected is_overdue true, got %+v", overdue.Metadata)
	}
	urgent := Task("t2", "ship", "", "todo", "Bob", "", "", now.AddDate(0, 0, 2), now)
	if urgent.Metadata["is_urgent"] != true {
		t.Fatalf("expected is_urgent true, got %+v", urgent.Metadata)
	}
}

func TestRelationLineTruncatesWithCount(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	line := relationLine("Member", names, 5)
	if !strings.Contains(line, "plus 2 more (7 total members)") {
		t.Fatalf("expected truncation summary, got: %s", line)
	}
}

func TestUserAggregatesStatusCounts(t *testing.T) {
	doc := User("u1", "Alice", "alice@example.com", "member", "Core", []TaskRef{
		{Title: "a", Status: "todo"},
		{Title: "b", Status: "todo"},
		{Title: "c", Status: "done"},
	})
	if doc.Metadata["tasks_count"] != 3 {
		t.Fatalf("unexpected tasks_count: %+v", doc.Metadata)
	}
	if !strings.Contains(doc.Text, "2 To Do") || !strings.Contains(doc.Text, "1 Done") {
		t.Fatalf("expected status breakdown in text, got: %s", doc.Text)
	}
}
