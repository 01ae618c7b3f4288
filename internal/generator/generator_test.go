package generator

import (
	"context"
	"strings"
	"testing"

	"taskpilot/internal/errs"
	"taskpilot/internal/rag/retrieve"
	"taskpilot/internal/testhelpers"
)

func TestGenerateStatisticsTrimsOutput(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "  3 tasks are overdue  "}
	g := New(provider)
	out, err := g.Generate(context.Background(), "how many overdue", "[1] TASK: x", nil, "statistics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "3 tasks are overdue" {
		t.Fatalf("expected trimmed output, got %q", out)
	}
}

// P8: grounding is true iff overlap strictly exceeds 0.30 of answer tokens.
func TestCheckGroundingThreshold(t *testing.T) {
	docs := []retrieve.RetrievedDoc{{Text: "deploy the release pipeline tonight"}}

	grounded := CheckGrounding("deploy the release pipeline", docs) // 4/4 overlap
	if !grounded {
		t.Fatalf("expected grounded for high overlap")
	}

	notGrounded := CheckGrounding("grocery shopping list for weekend trip", docs) // 0 overlap
	if notGrounded {
		t.Fatalf("expected not grounded for zero overlap")
	}
}

func TestCheckGroundingEmptyAnswerIsNotGrounded(t *testing.T) {
	if CheckGrounding("", []retrieve.RetrievedDoc{{Text: "x"}}) {
		t.Fatalf("expected empty answer to be ungrounded")
	}
}

func TestConfidenceZeroWithNoDocs(t *testing.T) {
	if Confidence(nil, true) != 0 {
		t.Fatalf("expected zero confidence with no docs")
	}
}

func TestConfidenceMeanPlusGroundingBonusCapped(t *testing.T) {
	docs := []retrieve.RetrievedDoc{{Score: 0.95}, {Score: 0.95}}
	got := Confidence(docs, true)
	if got != 1.0 {
		t.Fatalf("expected confidence capped at 1.0, got %v", got)
	}

	docsLow := []retrieve.RetrievedDoc{{Score: 0.5}}
	gotLow := Confidence(docsLow, false)
	if gotLow != 0.5 {
		t.Fatalf("expected mean score with no bonus, got %v", gotLow)
	}
}

func TestRenderErrorNotFoundUsesCanonicalTemplate(t *testing.T) {
	g := New(&testhelpers.FakeProvider{Resp: "should not be used"})
	msg := g.RenderError(context.Background(), errs.NewNotFound("task x"), nil)
	if msg != notFoundTemplate {
		t.Fatalf("got %q, want canonical template", msg)
	}
}

func TestRenderErrorUpstreamUsesLLMRephrase(t *testing.T) {
	g := New(&testhelpers.FakeProvider{Resp: "The task service is temporarily unavailable."})
	msg := g.RenderError(context.Background(), errs.NewUpstream("crud service 503", nil), nil)
	if msg != "The task service is temporarily unavailable." {
		t.Fatalf("got %q", msg)
	}
}

func TestRenderErrorEchoesExtractedParamsVerbatim(t *testing.T) {
	g := New(&testhelpers.FakeProvider{Resp: "unused"})
	msg := g.RenderError(context.Background(), errs.NewNotFound("user x"), map[string]any{"title": "Ship it", "assignedTo": "Sam"})
	if !strings.Contains(msg, `assignedTo="Sam"`) || !strings.Contains(msg, `title="Ship it"`) {
		t.Fatalf("expected extracted params echoed verbatim, got %q", msg)
	}
}
