// Package resolver implements the C10 Entity Resolver (§4.10): resolving a
// name-or-id string to a canonical entity id, used by the Action Executor
// to turn LLM-extracted parameters into real ids. Grounded on the
// teacher's pattern of treating upstream read failures as soft ("not
// found" rather than propagated errors) in its own lookup helpers.
package resolver

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"taskpilot/internal/entities"
)

var uuidShapeRe = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

const listPageSize = 1000

// Resolver is the C10 component.
type Resolver struct {
	registry *entities.Registry
}

// New constructs a Resolver over a Registry of CRUD clients.
func New(registry *entities.Registry) *Resolver {
	return &Resolver{registry: registry}
}

func canonicalField(kind entities.Kind) string {
	if kind == entities.Task {
		return "title"
	}
	return "name"
}

func fieldString(entity map[string]any, field string) string {
	v, _ := entity[field].(string)
	return v
}

// idString reads the "id" field of an entity payload, handling both string
// ids and JSON-numeric ids (decoded as float64 by encoding/json).
func idString(entity map[string]any) string {
	switch v := entity["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// Resolve implements §4.10's per-kind procedure: UUID-shape input is
// verified by direct read; otherwise all entities of the kind are listed
// and matched case-insensitively against the canonical name field. fuzzy
// enables the extended prefix/substring/email-prefix fallback chain, used
// only for entities.User per spec.
func (r *Resolver) Resolve(ctx context.Context, kind entities.Kind, nameOrID string, fuzzy bool) (string, bool) {
	client := r.registry.For(kind)
	if client == nil {
		return "", false
	}
	if uuidShapeRe.MatchString(nameOrID) {
		entity, err := client.FindOne(ctx, nameOrID)
		if err != nil || entity == nil {
			return "", false
		}
		return idString(entity), true
	}

	page, err := client.FindAll(ctx, 1, listPageSize, "")
	if err != nil {
		return "", false
	}
	field := canonicalField(kind)
	target := strings.ToLower(strings.TrimSpace(nameOrID))

	for _, e := range page.Data {
		if strings.ToLower(fieldString(e, field)) == target {
			return idString(e), true
		}
	}
	if !fuzzy {
		return "", false
	}
	for _, e := range page.Data {
		if strings.HasPrefix(strings.ToLower(fieldString(e, field)), target) {
			return idString(e), true
		}
	}
	for _, e := range page.Data {
		if strings.Contains(strings.ToLower(fieldString(e, field)), target) {
			return idString(e), true
		}
	}
	for _, e := range page.Data {
		email, _ := e["email"].(string)
		local, _, ok := strings.Cut(email, "@")
		if ok && strings.Contains(strings.ToLower(local), target) {
			return idString(e), true
		}
	}
	return "", false
}

// ResolveByType dispatches to Resolve, enabling fuzzy matching only for
// entities.User (§4.10 step 3).
func (r *Resolver) ResolveByType(ctx context.Context, kind entities.Kind, nameOrID string) (string, bool) {
	return r.Resolve(ctx, kind, nameOrID, kind == entities.User)
}

// ResolveMultiple resolves several (kind, nameOrID) pairs in parallel,
// returning a map from the original nameOrID input to its resolved id
// (absent if unresolved) (§4.10, §5).
func (r *Resolver) ResolveMultiple(ctx context.Context, queries map[string]entities.Kind) map[string]string {
	results := make(map[string]string, len(queries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for nameOrID, kind := range queries {
		nameOrID, kind := nameOrID, kind
		g.Go(func() error {
			id, ok := r.ResolveByType(gctx, kind, nameOrID)
			if ok {
				mu.Lock()
				results[nameOrID] = id
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
