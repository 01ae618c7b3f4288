package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskpilot/internal/entities"
)

func newRegistry(t *testing.T, users, tasks []map[string]any) *entities.Registry {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"data": users, "total": len(users)})
		case r.URL.Path == "/tasks" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"data": tasks, "total": len(tasks)})
		case r.Method == http.MethodGet:
			id := r.URL.Path[len(r.URL.Path)-len("11111111-1111-1111-1111-111111111111"):]
			for _, u := range append(append([]map[string]any{}, users...), tasks...) {
				if u["id"] == id {
					json.NewEncoder(w).Encode(u)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return entities.NewRegistry(srv.URL, srv.Client())
}

func TestResolveExactMatchByName(t *testing.T) {
	reg := newRegistry(t, nil, []map[string]any{
		{"id": "t1", "title": "Write tests"},
		{"id": "t2", "title": "Deploy release"},
	})
	r := New(reg)
	id, ok := r.Resolve(context.Background(), entities.Task, "deploy release", false)
	if !ok || id != "t2" {
		t.Fatalf("got (%q, %v), want (t2, true)", id, ok)
	}
}

func TestResolveUUIDShapeVerifiesExistence(t *testing.T) {
	uuidID := "11111111-1111-1111-1111-111111111111"
	reg := newRegistry(t, []map[string]any{{"id": uuidID, "name": "Sam"}}, nil)
	r := New(reg)
	id, ok := r.Resolve(context.Background(), entities.User, uuidID, false)
	if !ok || id != uuidID {
		t.Fatalf("got (%q, %v), want (%q, true)", id, ok, uuidID)
	}
}

func TestResolveFuzzyFallbackForUsersOnly(t *testing.T) {
	reg := newRegistry(t, []map[string]any{{"id": "u1", "name": "Samantha Lee", "email": "sam.lee@example.com"}}, nil)
	r := New(reg)

	id, ok := r.ResolveByType(context.Background(), entities.User, "sam")
	if !ok || id != "u1" {
		t.Fatalf("expected fuzzy prefix match for user, got (%q, %v)", id, ok)
	}
}

func TestResolveStrictNoFuzzyForNonUserKinds(t *testing.T) {
	reg := newRegistry(t, nil, []map[string]any{{"id": "t1", "title": "Write tests"}})
	r := New(reg)

	_, ok := r.ResolveByType(context.Background(), entities.Task, "write")
	if ok {
		t.Fatalf("expected strict (no fuzzy) match to fail for partial task title")
	}
}

func TestResolveUpstreamErrorsAreSwallowedAsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	reg := entities.NewRegistry(srv.URL, srv.Client())
	r := New(reg)

	_, ok := r.Resolve(context.Background(), entities.User, "anyone", true)
	if ok {
		t.Fatalf("expected upstream error to resolve as not-found")
	}
}

func TestResolveMultipleRunsInParallel(t *testing.T) {
	reg := newRegistry(t,
		[]map[string]any{{"id": "u1", "name": "Sam"}},
		[]map[string]any{{"id": "t1", "title": "Write tests"}},
	)
	r := New(reg)

	results := r.ResolveMultiple(context.Background(), map[string]entities.Kind{
		"Sam":          entities.User,
		"Write tests":  entities.Task,
		"nonexistent":  entities.Task,
	})
	if results["Sam"] != "u1" {
		t.Fatalf("expected Sam -> u1, got %+v", results)
	}
	if results["Write tests"] != "t1" {
		t.Fatalf("expected Write tests -> t1, got %+v", results)
	}
	if _, ok := results["nonexistent"]; ok {
		t.Fatalf("expected no entry for unresolved key, got %+v", results)
	}
}
