package retrieve

import "testing"

func TestRRFAccumulatesAcrossLists(t *testing.T) {
	listA := []RetrievedDoc{{ID: "x"}, {ID: "y"}}
	listB := []RetrievedDoc{{ID: "y"}, {ID: "x"}}
	out := RRF([][]RetrievedDoc{listA, listB}, 60)
	if len(out) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(out))
	}
	if out[0].Score != out[1].Score {
		t.Fatalf("expected tied scores for symmetric ranks, got %v vs %v", out[0].Score, out[1].Score)
	}
}

func TestRRFPrefersHigherRankedAcrossAllLists(t *testing.T) {
	listA := []RetrievedDoc{{ID: "top"}, {ID: "mid"}, {ID: "low"}}
	listB := []RetrievedDoc{{ID: "top"}, {ID: "mid"}, {ID: "low"}}
	out := RRF([][]RetrievedDoc{listA, listB}, 60)
	if out[0].ID != "top" {
		t.Fatalf("expected 'top' to rank first, got %q", out[0].ID)
	}
	if out[len(out)-1].ID != "low" {
		t.Fatalf("expected 'low' to rank last, got %q", out[len(out)-1].ID)
	}
}

func TestRRFDefaultsK(t *testing.T) {
	out := RRF([][]RetrievedDoc{{{ID: "a"}}}, 0)
	if len(out) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(out))
	}
	want := 1.0 / float64(DefaultK+1)
	if out[0].Score != want {
		t.Fatalf("expected score %v, got %v", want, out[0].Score)
	}
}

func TestRRFPreservesMetadataFromFirstOccurrence(t *testing.T) {
	listA := []RetrievedDoc{{ID: "a", Text: "hello", EntityType: "task"}}
	listB := []RetrievedDoc{{ID: "a", Text: "ignored"}}
	out := RRF([][]RetrievedDoc{listA, listB}, 60)
	if out[0].Text != "hello" || out[0].EntityType != "task" {
		t.Fatalf("expected first-occurrence metadata preserved, got %+v", out[0])
	}
}
