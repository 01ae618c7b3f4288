// Package indexer implements the C5 Indexer (§4.5): keeps the vector store
// in sync with the four relational entity kinds, one document per
// (kind, id), via the C4 Document Transformer and C1 Embedding Client.
package indexer

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"taskpilot/internal/embedding"
	"taskpilot/internal/entities"
	"taskpilot/internal/errs"
	"taskpilot/internal/observability"
	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/transform"
)

// Stats is IndexAll's result record (§4.5).
type Stats struct {
	UsersIndexed    int      `json:"usersIndexed"`
	TeamsIndexed    int      `json:"teamsIndexed"`
	ProjectsIndexed int      `json:"projectsIndexed"`
	TasksIndexed    int      `json:"tasksIndexed"`
	DurationMs      int64    `json:"durationMs"`
	Errors          []string `json:"errors"`
}

// Indexer is the C5 component.
type Indexer struct {
	vector    databases.VectorStore
	embedder  *embedding.Client
	registry  *entities.Registry
	clock     func() time.Time
}

// New constructs an Indexer.
func New(vector databases.VectorStore, embedder *embedding.Client, registry *entities.Registry) *Indexer {
	return &Indexer{vector: vector, embedder: embedder, registry: registry, clock: time.Now}
}

// PointID derives the deterministic §4.5 point id: the first 4 bytes
// (big-endian) of the SHA-1 digest of a namespaced "kind-id" string,
// carried in a uint64 as Qdrant's unsigned point id form requires, adapted
// from the teacher's own name-derived-UUID technique in qdrant_vector.go.
func PointID(kind, id string) uint64 {
	name := kind + "-" + id
	h := sha1.Sum(append([]byte("taskpilot-oid-namespace:"), name...))
	return uint64(binary.BigEndian.Uint32(h[:4]))
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func parseTime(m map[string]any, key string) time.Time {
	s := str(m, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// upsert writes a single (kind, id) document. relationships carries the
// cross-entity ids (§4.2's relationships.team_id/project_id/assigned_to
// payload indices); callers supply only the keys that apply to kind, and
// the other two are written as empty so every point carries all three
// fields for filtering.
func (ix *Indexer) upsert(ctx context.Context, kind, id string, doc transform.Document, relationships map[string]string) error {
	vec, err := ix.embedder.Embed(ctx, doc.Text)
	if err != nil {
		return errs.NewUpstream("embed document", err)
	}
	rel := map[string]any{"team_id": "", "project_id": "", "assigned_to": ""}
	for k, v := range relationships {
		rel[k] = v
	}
	payload := map[string]any{
		"entity_type":   kind,
		"entity_id":     id,
		"point_id":      id,
		"text":          doc.Text,
		"created_at":    ix.clock().UTC().Format(time.RFC3339),
		"updated_at":    ix.clock().UTC().Format(time.RFC3339),
		"indexed_at":    ix.clock().UTC().Format(time.RFC3339),
		"metadata":      doc.Metadata,
		"relationships": rel,
	}
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	return ix.vector.Upsert(ctx, []databases.Point{{ID: PointID(kind, id), Vector: vec, Payload: payload}})
}

// IndexUser fetches and (re)indexes a single user.
func (ix *Indexer) IndexUser(ctx context.Context, id string) error {
	u, err := ix.registry.For(entities.User).FindOne(ctx, id)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			observability.LoggerWithTrace(ctx).Warn().Str("id", id).Msg("index_user_missing")
			return nil
		}
		return err
	}
	teamID := str(u, "teamId")
	teamName := ix.teamName(ctx, teamID)
	var tasks []transform.TaskRef
	page, err := ix.registry.For(entities.Task).FindAll(ctx, 1, 1000, "")
	if err == nil {
		for _, t := range page.Data {
			if str(t, "assignedTo") == id {
				tasks = append(tasks, transform.TaskRef{Title: str(t, "title"), Status: str(t, "status")})
			}
		}
	}
	doc := transform.User(id, str(u, "name"), str(u, "email"), str(u, "role"), teamName, tasks)
	return ix.upsert(ctx, "user", id, doc, map[string]string{"team_id": teamID})
}

func (ix *Indexer) teamName(ctx context.Context, teamID string) string {
	if teamID == "" {
		return ""
	}
	t, err := ix.registry.For(entities.Team).FindOne(ctx, teamID)
	if err != nil {
		return ""
	}
	return str(t, "name")
}

func (ix *Indexer) userName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	u, err := ix.registry.For(entities.User).FindOne(ctx, userID)
	if err != nil {
		return ""
	}
	return str(u, "name")
}

func (ix *Indexer) projectName(ctx context.Context, projectID string) string {
	if projectID == "" {
		return ""
	}
	p, err := ix.registry.For(entities.Project).FindOne(ctx, projectID)
	if err != nil {
		return ""
	}
	return str(p, "name")
}

// IndexTeam fetches and (re)indexes a single team.
func (ix *Indexer) IndexTeam(ctx context.Context, id string) error {
	t, err := ix.registry.For(entities.Team).FindOne(ctx, id)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	projectID := str(t, "projectId")
	ownerName := ix.userName(ctx, str(t, "ownerId"))
	projectName := ix.projectName(ctx, projectID)
	var memberNames []string
	page, err := ix.registry.For(entities.User).FindAll(ctx, 1, 1000, "")
	if err == nil {
		for _, u := range page.Data {
			if str(u, "teamId") == id {
				memberNames = append(memberNames, str(u, "name"))
			}
		}
	}
	doc := transform.Team(id, str(t, "name"), ownerName, projectName, memberNames)
	return ix.upsert(ctx, "team", id, doc, map[string]string{"project_id": projectID, "team_id": id})
}

// IndexProject fetches and (re)indexes a single project.
func (ix *Indexer) IndexProject(ctx context.Context, id string) error {
	p, err := ix.registry.For(entities.Project).FindOne(ctx, id)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	var teamNames []string
	totalMembers := 0
	page, err := ix.registry.For(entities.Team).FindAll(ctx, 1, 1000, "")
	if err == nil {
		for _, t := range page.Data {
			if str(t, "projectId") == id {
				teamNames = append(teamNames, str(t, "name"))
			}
		}
	}
	userPage, err := ix.registry.For(entities.User).FindAll(ctx, 1, 1000, "")
	if err == nil {
		totalMembers = len(userPage.Data)
	}
	doc := transform.Project(id, str(p, "name"), str(p, "description"), teamNames, totalMembers)
	return ix.upsert(ctx, "project", id, doc, map[string]string{"project_id": id})
}

// IndexTask fetches and (re)indexes a single task.
func (ix *Indexer) IndexTask(ctx context.Context, id string) error {
	t, err := ix.registry.For(entities.Task).FindOne(ctx, id)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}
	assigneeID := str(t, "assignedTo")
	assigneeName := ix.userName(ctx, assigneeID)
	teamID := ""
	teamName := ""
	projectID := ""
	projectName := ""
	if assigneeID != "" {
		if u, err := ix.registry.For(entities.User).FindOne(ctx, assigneeID); err == nil {
			teamID = str(u, "teamId")
			teamName = ix.teamName(ctx, teamID)
			if teamID != "" {
				if team, err := ix.registry.For(entities.Team).FindOne(ctx, teamID); err == nil {
					projectID = str(team, "projectId")
					projectName = ix.projectName(ctx, projectID)
				}
			}
		}
	}
	doc := transform.Task(id, str(t, "title"), str(t, "description"), str(t, "status"), assigneeName, teamName, projectName, parseTime(t, "deadline"), ix.clock())
	return ix.upsert(ctx, "task", id, doc, map[string]string{"assigned_to": assigneeID, "team_id": teamID, "project_id": projectID})
}

// Delete removes a (kind, id) document.
func (ix *Indexer) Delete(ctx context.Context, kind, id string) error {
	return ix.vector.Delete(ctx, PointID(kind, id))
}

// Reindex deletes then re-indexes a (kind, id) document, tolerant of a
// missing prior document.
func (ix *Indexer) Reindex(ctx context.Context, kind, id string) error {
	_ = ix.Delete(ctx, kind, id)
	return ix.indexOne(ctx, kind, id)
}

func (ix *Indexer) indexOne(ctx context.Context, kind, id string) error {
	switch kind {
	case "user":
		return ix.IndexUser(ctx, id)
	case "team":
		return ix.IndexTeam(ctx, id)
	case "project":
		return ix.IndexProject(ctx, id)
	case "task":
		return ix.IndexTask(ctx, id)
	default:
		return errs.NewValidation("unknown entity kind: " + kind)
	}
}

// IndexAll re-indexes every entity of every kind. Kinds proceed
// independently (one goroutine each, §5); within a kind, entities are
// indexed sequentially since that is a tuning choice, not a correctness
// requirement.
func (ix *Indexer) IndexAll(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats
	var g errgroup.Group
	var userErrs, teamErrs, projectErrs, taskErrs []string

	g.Go(func() error {
		stats.UsersIndexed, userErrs = ix.indexAllOfKind(ctx, entities.User, ix.IndexUser)
		return nil
	})
	g.Go(func() error {
		stats.TeamsIndexed, teamErrs = ix.indexAllOfKind(ctx, entities.Team, ix.IndexTeam)
		return nil
	})
	g.Go(func() error {
		stats.ProjectsIndexed, projectErrs = ix.indexAllOfKind(ctx, entities.Project, ix.IndexProject)
		return nil
	})
	g.Go(func() error {
		stats.TasksIndexed, taskErrs = ix.indexAllOfKind(ctx, entities.Task, ix.IndexTask)
		return nil
	})
	_ = g.Wait()
	for _, l := range [][]string{userErrs, teamErrs, projectErrs, taskErrs} {
		stats.Errors = append(stats.Errors, l...)
	}
	stats.DurationMs = time.Since(start).Milliseconds()
	return stats, nil
}

func (ix *Indexer) indexAllOfKind(ctx context.Context, kind entities.Kind, indexOne func(context.Context, string) error) (int, []string) {
	page, err := ix.registry.For(kind).FindAll(ctx, 1, 1000, "")
	if err != nil {
		return 0, []string{fmt.Sprintf("list %s: %v", kind, err)}
	}
	n := 0
	var errsList []string
	for _, e := range page.Data {
		id := str(e, "id")
		if err := indexOne(ctx, id); err != nil {
			errsList = append(errsList, fmt.Sprintf("%s %s: %v", kind, id, err))
			continue
		}
		n++
	}
	return n, errsList
}

// IndexSystemInfo stores a synthetic document describing required/optional
// fields per entity kind, consulted by the "help"/"requirements" intents.
func (ix *Indexer) IndexSystemInfo(ctx context.Context) error {
	text := "System requirements: User needs name, email, password (min 6 chars), role (admin or member), optional teamId. " +
		"Team needs name, projectId, ownerId. Project needs name, optional description. " +
		"Task needs title, optional description, assignedTo, status (todo, in_progress, done), deadline."
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return errs.NewUpstream("embed system info", err)
	}
	payload := map[string]any{
		"entity_type": "system_info",
		"entity_id":   "system_info",
		"point_id":    "system_info",
		"text":        text,
		"indexed_at":  ix.clock().UTC().Format(time.RFC3339),
		"metadata":    map[string]any{"type": "system_info"},
		"type":        "system_info",
	}
	return ix.vector.Upsert(ctx, []databases.Point{{ID: PointID("system_info", "system_info"), Vector: vec, Payload: payload}})
}

// IndexStatistics stores a synthetic document describing aggregate counts.
func (ix *Indexer) IndexStatistics(ctx context.Context) error {
	usersPage, _ := ix.registry.For(entities.User).FindAll(ctx, 1, 1000, "")
	teamsPage, _ := ix.registry.For(entities.Team).FindAll(ctx, 1, 1000, "")
	projectsPage, _ := ix.registry.For(entities.Project).FindAll(ctx, 1, 1000, "")
	tasksPage, _ := ix.registry.For(entities.Task).FindAll(ctx, 1, 1000, "")

	text := fmt.Sprintf("System statistics: %d users, %d teams, %d projects, %d tasks.",
		len(usersPage.Data), len(teamsPage.Data), len(projectsPage.Data), len(tasksPage.Data))
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return errs.NewUpstream("embed statistics", err)
	}
	payload := map[string]any{
		"entity_type": "statistics",
		"entity_id":   "statistics",
		"point_id":    "statistics",
		"text":        text,
		"indexed_at":  ix.clock().UTC().Format(time.RFC3339),
		"metadata":    map[string]any{"type": "statistics"},
		"type":        "statistics",
	}
	return ix.vector.Upsert(ctx, []databases.Point{{ID: PointID("statistics", "statistics"), Vector: vec, Payload: payload}})
}
