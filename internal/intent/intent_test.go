package intent

import (
	"context"
	"testing"

	"taskpilot/internal/conversation"
	"taskpilot/internal/testhelpers"
)

func TestQuickIntentRegexShortCircuitsBeforeLLM(t *testing.T) {
	provider := &testhelpers.FakeProvider{Err: errBoom}
	if got := QuickIntent(context.Background(), provider, "hey there"); got != "greeting" {
		t.Fatalf("got %q, want greeting", got)
	}
	if got := QuickIntent(context.Background(), provider, "thanks a lot"); got != "thank" {
		t.Fatalf("got %q, want thank", got)
	}
	if got := QuickIntent(context.Background(), provider, "bye for now"); got != "goodbye" {
		t.Fatalf("got %q, want goodbye", got)
	}
}

func TestQuickIntentSkipsLLMForCRUDVerbs(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "greeting"}
	if got := QuickIntent(context.Background(), provider, "create a task for Sam"); got != "none" {
		t.Fatalf("got %q, want none (CRUD verb should short-circuit before LLM)", got)
	}
}

func TestQuickIntentLongQuerySkipsLLM(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "greeting"}
	long := "this is a long query about something entirely unrelated to greetings at all really"
	if got := QuickIntent(context.Background(), provider, long); got != "none" {
		t.Fatalf("got %q, want none for long query", got)
	}
}

func TestClassifyParsesJSONAndFiltersInvalidEntities(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: `noise {"type":"update","entities":["task","bogus","User"]} trailing}`}
	got := Classify(context.Background(), provider, "mark this done", nil)
	if got.Type != "update" {
		t.Fatalf("type = %q, want update", got.Type)
	}
	if len(got.Entities) != 2 || got.Entities[0] != "task" || got.Entities[1] != "user" {
		t.Fatalf("entities = %v", got.Entities)
	}
}

func TestClassifyFallsBackToQuestionOnBadJSON(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "not json at all"}
	got := Classify(context.Background(), provider, "what is this", nil)
	if got.Type != "question" || got.Entities != nil {
		t.Fatalf("got %+v, want fallback", got)
	}
}

func TestClassifyFallsBackOnInvalidType(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: `{"type":"nonsense","entities":["task"]}`}
	got := Classify(context.Background(), provider, "whatever", nil)
	if got.Type != "question" {
		t.Fatalf("got %+v, want fallback to question", got)
	}
}

func TestDeriveIntentIsPureAndDeterministic(t *testing.T) {
	cases := []struct {
		classType string
		entities  []string
		want      string
	}{
		{"create", []string{"task"}, "task_management"},
		{"update", []string{"user"}, "user_management"},
		{"question", []string{"project"}, "project_info"},
		{"statistics", []string{"team"}, "team_info"},
		{"create", nil, "general"},
		{"help", nil, "general"},
	}
	for _, tc := range cases {
		got := DeriveIntent(tc.classType, tc.entities)
		if got != tc.want {
			t.Fatalf("DeriveIntent(%q, %v) = %q, want %q", tc.classType, tc.entities, got, tc.want)
		}
		// L3: re-invocation with identical inputs yields an identical result.
		if again := DeriveIntent(tc.classType, tc.entities); again != got {
			t.Fatalf("DeriveIntent not idempotent: %q vs %q", got, again)
		}
	}
}

func TestReformulateSkipsLLMForShortQueries(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "should not be used"}
	got := Reformulate(context.Background(), provider, "short q", nil)
	if len(got) != 1 || got[0] != "short q" {
		t.Fatalf("got %v, want [short q]", got)
	}
}

func TestReformulateParsesVariantLines(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "1. overdue tasks for Sam\n- tasks assigned to Sam that are late\nshort q\n"}
	query := "what overdue tasks does Sam have"
	got := Reformulate(context.Background(), provider, query, []conversation.Turn{{Role: "user", Content: "hi"}})
	if len(got) < 2 || got[0] != query {
		t.Fatalf("got %v, want original first plus variants", got)
	}
	for _, v := range got[1:] {
		if v == query {
			t.Fatalf("variant equal to original query leaked through: %v", got)
		}
	}
}

func TestExtractFiltersStatisticsAndHelp(t *testing.T) {
	stats := ExtractFilters("statistics", nil, "how many tasks are overdue")
	if len(stats.EntityTypes) != 1 || stats.EntityTypes[0] != "statistics" {
		t.Fatalf("got %+v, want statistics filter", stats)
	}
	help := ExtractFilters("help", nil, "what can you do")
	if len(help.EntityTypes) != 1 || help.EntityTypes[0] != "system_info" {
		t.Fatalf("got %+v, want system_info filter", help)
	}
}

func TestExtractFiltersSingleVsMultiEntity(t *testing.T) {
	single := ExtractFilters("question", []string{"task"}, "show my tasks")
	f := single.ToFilter()
	if len(f.Must) != 1 || f.Must[0].Field != "entity_type" || f.Must[0].Value != "task" {
		t.Fatalf("single-entity filter = %+v", f)
	}

	multi := ExtractFilters("question", []string{"project", "task"}, "show my tasks and projects")
	mf := multi.ToFilter()
	if len(mf.Should) != 2 {
		t.Fatalf("multi-entity filter should have 2 Should conditions, got %+v", mf)
	}
}

func TestExtractFiltersLexicalTerms(t *testing.T) {
	spec := ExtractFilters("question", []string{"task"}, "show overdue and urgent tasks that are in progress")
	f := spec.ToFilter()
	fields := map[string]bool{}
	for _, c := range f.Must {
		fields[c.Field] = true
	}
	for _, want := range []string{"is_overdue", "is_urgent", "task_status"} {
		if !fields[want] {
			t.Fatalf("missing condition %q in %+v", want, f)
		}
	}
}

// L4: ExtractFilters/ToFilter results are stable regardless of entity order.
func TestExtractFiltersEntityOrderCommutative(t *testing.T) {
	a := ExtractFilters("question", []string{"task", "project"}, "q").ToFilter()
	b := ExtractFilters("question", []string{"project", "task"}, "q").ToFilter()
	if len(a.Should) != len(b.Should) {
		t.Fatalf("mismatched Should lengths: %+v vs %+v", a, b)
	}
	for i := range a.Should {
		if a.Should[i].Value != b.Should[i].Value {
			t.Fatalf("Should order differs: %+v vs %+v", a.Should, b.Should)
		}
	}
}

var errBoom = testErr("boom")

type testErr string

func (e testErr) Error() string { return string(e) }
