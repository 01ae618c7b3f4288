// Package action implements the C11 Action Executor (§4.11): targeted
// context retrieval, function selection, LLM-driven parameter extraction,
// id resolution, CRUD dispatch, post-commit reindexing, and result
// formatting. JSON-repair follows the teacher's Anthropic streaming
// tool-call buffer technique (toolBuffer.toToolCall), applied here to a
// single non-streaming completion instead of a stream.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"taskpilot/internal/conversation"
	"taskpilot/internal/entities"
	"taskpilot/internal/errs"
	"taskpilot/internal/generator"
	"taskpilot/internal/indexer"
	"taskpilot/internal/jsonutil"
	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/rag/retrieve"
	"taskpilot/internal/resolver"
	"taskpilot/internal/search"
)

// Classification is the minimal shape the executor needs from C7.
type Classification struct {
	Type     string
	Entities []string
}

// Result is Execute's output (§4.11).
type Result struct {
	Answer        string
	Sources       []retrieve.RetrievedDoc
	FunctionCalls []FunctionCall
}

// FunctionCall records the dispatched function for the orchestrator's
// metadata (§4.13's `functionCalls?`).
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// idParamKinds maps ID-bearing parameter names to the entity kind the
// Entity Resolver must resolve them against (§4.11 step 4). assignedTo
// resolves against users (task assignment).
var idParamKinds = map[string]entities.Kind{
	"taskId":     entities.Task,
	"userId":     entities.User,
	"assignedTo": entities.User,
	"teamId":     entities.Team,
	"ownerId":    entities.User,
	"projectId":  entities.Project,
}

// entityForIntent maps a derived intent (from intent.DeriveIntent) to the
// single entity kind the function table keys on (§4.11 step 2).
func entityForIntent(intentName string) string {
	primary, _, _ := strings.Cut(intentName, "_")
	switch primary {
	case "task", "user", "team", "project":
		return primary
	default:
		return "task"
	}
}

// createParams/updateParams/deleteParams record the fixed function table's
// parameter names per (operation, entity) (§4.11). A trailing "?" marks an
// optional parameter, mirroring the table's own notation; paramName strips
// it and requiredParamNames filters by its absence.
var createParams = map[string][]string{
	"task":    {"title", "description?", "assignedTo?", "status?", "deadline?"},
	"user":    {"name", "email", "password", "role?", "teamId?"},
	"team":    {"name", "projectId", "ownerId"},
	"project": {"name", "description?"},
}

var updateParams = map[string][]string{
	"task":    {"taskId", "title?", "description?", "status?", "assignedTo?", "deadline?"},
	"user":    {"userId", "name?", "email?", "password?", "role?", "teamId?"},
	"team":    {"teamId", "name?", "projectId?", "ownerId?"},
	"project": {"projectId", "name?", "description?"},
}

var deleteParams = map[string][]string{
	"task":    {"taskId"},
	"user":    {"userId"},
	"team":    {"teamId"},
	"project": {"projectId"},
}

func paramsFor(action, entity string) ([]string, bool) {
	var table map[string][]string
	switch action {
	case "create":
		table = createParams
	case "update":
		table = updateParams
	case "delete":
		table = deleteParams
	default:
		return nil, false
	}
	params, ok := table[entity]
	return params, ok
}

// paramName strips the optional-marker suffix from a §4.11 table entry.
func paramName(p string) string {
	return strings.TrimSuffix(p, "?")
}

// validateRequired implements §8.3's "Action Executor with missing required
// argument" boundary: every non-"?" parameter in params must be present and
// non-empty in extracted, or the field is named in a Validation error so
// that no dispatch or reindex follows.
func validateRequired(params []string, extracted map[string]any) error {
	for _, p := range params {
		if strings.HasSuffix(p, "?") {
			continue
		}
		v, present := extracted[p]
		if !present || v == nil || v == "" {
			return errs.NewValidation(fmt.Sprintf("missing required field %q", p))
		}
	}
	return nil
}

var statusAliases = map[string]string{
	"todo":        "todo",
	"to_do":       "todo",
	"in_progress": "in_progress",
	"inprogress":  "in_progress",
	"done":        "done",
	"completed":   "done",
}

func normalizeStatus(v string) string {
	if canonical, ok := statusAliases[strings.ToLower(strings.TrimSpace(v))]; ok {
		return canonical
	}
	return v
}

var successTemplates = map[string]string{
	"create_task":    "Created task %q.",
	"update_task":    "Updated task %s.",
	"delete_task":    "Deleted task %s.",
	"create_user":    "Created user %q.",
	"update_user":    "Updated user %s.",
	"delete_user":    "Deleted user %s.",
	"create_team":    "Created team %q.",
	"update_team":    "Updated team %s.",
	"delete_team":    "Deleted team %s.",
	"create_project": "Created project %q.",
	"update_project": "Updated project %s.",
	"delete_project": "Deleted project %s.",
}

func successMessage(functionName string, id string, displayName string) string {
	tmpl, ok := successTemplates[functionName]
	if !ok {
		return "Done."
	}
	if strings.HasPrefix(functionName, "create_") {
		return fmt.Sprintf(tmpl, displayName)
	}
	return fmt.Sprintf(tmpl, id)
}

// Executor is the C11 component.
type Executor struct {
	searcher  *search.Searcher
	resolver  *resolver.Resolver
	registry  *entities.Registry
	indexer   *indexer.Indexer
	provider  llm.Provider
	generator *generator.Generator
	fastModel string
}

// New constructs an Executor. fastModel, if set, is used for parameter
// extraction (§4.11 step 3: "Call LLM at temperature 0.1 with the fast
// model").
func New(searcher *search.Searcher, res *resolver.Resolver, registry *entities.Registry, ix *indexer.Indexer, provider llm.Provider, gen *generator.Generator, fastModel string) *Executor {
	return &Executor{searcher: searcher, resolver: res, registry: registry, indexer: ix, provider: provider, generator: gen, fastModel: fastModel}
}

// Execute implements §4.11 end to end.
func (e *Executor) Execute(ctx context.Context, query string, cls Classification, sessionID string, retrievedDocs []retrieve.RetrievedDoc, derivedIntent string, history []conversation.Turn) Result {
	baseEntity := entityForIntent(derivedIntent)

	if len(retrievedDocs) == 0 {
		retrievedDocs = e.retrieveContext(ctx, query, cls.Type, baseEntity)
	}

	entityForFn := baseEntity
	functionName := fmt.Sprintf("%s_%s", cls.Type, entityForFn)
	params, ok := paramsFor(cls.Type, entityForFn)
	if !ok {
		return Result{Answer: "I don't know how to do that yet.", Sources: retrievedDocs}
	}

	extracted, err := e.extractParams(ctx, query, functionName, params, retrievedDocs, history)
	if err != nil {
		msg := e.generator.RenderError(ctx, err, extracted)
		return Result{Answer: msg, Sources: retrievedDocs}
	}

	if err := validateRequired(params, extracted); err != nil {
		msg := e.generator.RenderError(ctx, err, extracted)
		return Result{Answer: msg, Sources: retrievedDocs}
	}

	resolvedIDErr := e.resolveIDParams(ctx, extracted)
	if resolvedIDErr != nil {
		msg := e.generator.RenderError(ctx, resolvedIDErr, extracted)
		return Result{Answer: msg, Sources: retrievedDocs, FunctionCalls: []FunctionCall{{Name: functionName, Arguments: extracted}}}
	}

	if status, ok := extracted["status"].(string); ok {
		extracted["status"] = normalizeStatus(status)
	}

	answer, dispatchErr := e.dispatch(ctx, cls.Type, entityForFn, functionName, extracted)
	if dispatchErr != nil {
		msg := e.generator.RenderError(ctx, dispatchErr, extracted)
		return Result{Answer: msg, Sources: retrievedDocs, FunctionCalls: []FunctionCall{{Name: functionName, Arguments: extracted}}}
	}

	return Result{
		Answer:        answer,
		Sources:       retrievedDocs,
		FunctionCalls: []FunctionCall{{Name: functionName, Arguments: extracted}},
	}
}

// retrieveContext implements §4.11 step 1: force base entity (+ user for
// create/update), run VectorSearch per forced kind in parallel, keep top 5
// each, concatenate.
func (e *Executor) retrieveContext(ctx context.Context, query, actionType, baseEntity string) []retrieve.RetrievedDoc {
	forced := map[string]struct{}{baseEntity: {}}
	if actionType == "create" || actionType == "update" {
		forced["user"] = struct{}{}
	}

	kinds := make([]string, 0, len(forced))
	for k := range forced {
		kinds = append(kinds, k)
	}

	results := make([][]retrieve.RetrievedDoc, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			docs, err := e.searcher.VectorSearch(gctx, query, databases.Filter{
				Must: []databases.Condition{{Field: "entity_type", Value: kind}},
			})
			if err != nil {
				observability.LoggerWithTrace(gctx).Warn().Err(err).Str("kind", kind).Msg("action_context_retrieval_failed")
				return nil
			}
			if len(docs) > 5 {
				docs = docs[:5]
			}
			results[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	var out []retrieve.RetrievedDoc
	for _, docs := range results {
		out = append(out, docs...)
	}
	return out
}

// historyTurns is the number of trailing history turns folded into the
// parameter-extraction prompt (§4.11 step 3c).
const historyTurns = 4

// extractParams implements §4.11 step 3.
func (e *Executor) extractParams(ctx context.Context, query, functionName string, params []string, docs []retrieve.RetrievedDoc, history []conversation.Turn) (map[string]any, error) {
	prompt := buildExtractionPrompt(functionName, params, docs, compactHistory(history, historyTurns), query)
	out, err := e.provider.Complete(ctx, prompt, llm.CompleteOptions{Temperature: 0.1, Model: e.fastModel})
	if err != nil {
		return nil, errs.NewUpstream("parameter extraction", err)
	}
	raw, ok := jsonutil.ExtractBalancedJSON(out)
	if !ok {
		return nil, errs.NewValidation("could not understand the request")
	}
	var parsed struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, errs.NewValidation("could not parse extracted parameters")
	}
	if parsed.Arguments == nil {
		parsed.Arguments = map[string]any{}
	}
	return parsed.Arguments, nil
}

func buildExtractionPrompt(functionName string, params []string, docs []retrieve.RetrievedDoc, history []conversation.Turn, query string) string {
	var sb strings.Builder
	sig := make([]string, len(params))
	for i, p := range params {
		if strings.HasSuffix(p, "?") {
			sig[i] = paramName(p) + " (optional)"
		} else {
			sig[i] = paramName(p)
		}
	}
	fmt.Fprintf(&sb, "Function: %s(%s)\n", functionName, strings.Join(sig, ", "))
	sb.WriteString("Extract arguments as strict JSON: {\"name\": \"" + functionName + "\", \"arguments\": {...}}\n")
	if len(docs) > 0 {
		sb.WriteString("Known entities:\n")
		for _, d := range docs {
			fmt.Fprintf(&sb, "- %s: id=%s name=%s\n", d.EntityType, d.EntityID, d.Text)
		}
	}
	if len(history) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
	}
	fmt.Fprintf(&sb, "Request: %s\nJSON:", query)
	return sb.String()
}

// resolveIDParams implements §4.11 step 4: every ID-bearing argument is
// resolved by name via the Entity Resolver; unresolved ⇒ NotFound naming
// the missing entity.
func (e *Executor) resolveIDParams(ctx context.Context, args map[string]any) error {
	for param, kind := range idParamKinds {
		raw, present := args[param]
		if !present {
			continue
		}
		nameOrID, ok := raw.(string)
		if !ok || nameOrID == "" {
			continue
		}
		id, found := e.resolver.ResolveByType(ctx, kind, nameOrID)
		if !found {
			return errs.NewNotFound(fmt.Sprintf("could not find %s %q", kind, nameOrID))
		}
		args[param] = id
	}
	return nil
}

// dispatch implements §4.11 steps 5-6: CRUD dispatch followed by a
// best-effort reindex whose failure is logged, not propagated.
func (e *Executor) dispatch(ctx context.Context, action, entityKind, functionName string, args map[string]any) (string, error) {
	client := e.registry.For(entities.Kind(entityKind))
	if client == nil {
		return "", errs.NewValidation("unknown entity kind: " + entityKind)
	}

	idParam := entityKind + "Id"
	if entityKind == "task" {
		idParam = "taskId"
	}

	switch action {
	case "create":
		created, err := client.Create(ctx, args)
		if err != nil {
			return "", err
		}
		id := fmt.Sprint(created["id"])
		if err := e.indexer.Reindex(ctx, entityKind, id); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("post_create_reindex_failed")
		}
		displayName := fmt.Sprint(created["name"])
		if displayName == "<nil>" {
			displayName = fmt.Sprint(created["title"])
		}
		return successMessage(functionName, id, displayName), nil

	case "update":
		id, _ := args[idParam].(string)
		if id == "" {
			return "", errs.NewValidation("missing " + idParam)
		}
		patch := withoutKey(args, idParam)
		if _, err := client.Update(ctx, id, patch); err != nil {
			return "", err
		}
		if err := e.indexer.Reindex(ctx, entityKind, id); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("post_update_reindex_failed")
		}
		return successMessage(functionName, id, ""), nil

	case "delete":
		id, _ := args[idParam].(string)
		if id == "" {
			return "", errs.NewValidation("missing " + idParam)
		}
		if err := client.Remove(ctx, id); err != nil {
			return "", err
		}
		if err := e.indexer.Delete(ctx, entityKind, id); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("post_delete_reindex_failed")
		}
		return successMessage(functionName, id, ""), nil

	default:
		return "", errs.NewValidation("unknown action: " + action)
	}
}

func withoutKey(m map[string]any, key string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// compactHistory renders the last n turns for prompt assembly, matching
// the Generator's own history-trimming convention.
func compactHistory(history []conversation.Turn, n int) []conversation.Turn {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
