// Package pipeline implements the C13 Pipeline Orchestrator (§4.13): the
// composition root wiring C1-C12 into one request/response cycle, plus the
// response cache and the SSE streaming variant. Grounded on the teacher's
// top-level agent-loop orchestration style: explicit component
// constructors wired at start-up, no runtime reflection, narrow
// interfaces between stages.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"taskpilot/internal/action"
	"taskpilot/internal/cache"
	"taskpilot/internal/contextproc"
	"taskpilot/internal/conversation"
	"taskpilot/internal/generator"
	"taskpilot/internal/intent"
	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/rag/retrieve"
	"taskpilot/internal/search"
)

// ResponseCacheTTL is §4.13 step 6's response cache TTL.
const ResponseCacheTTL = 5 * time.Minute

// ShortcutScoreThreshold is §4.13's shortcut-path confidence bar.
const ShortcutScoreThreshold = 0.80

// ReformulateQueryLenThreshold triggers reformulation for long queries
// regardless of classified type (§4.13 step 5 Retrieval branch).
const ReformulateQueryLenThreshold = 50

// Request is the §4.13 request contract.
type Request struct {
	Query     string
	SessionID string
}

// Metadata is the §4.13 response metadata block.
type Metadata struct {
	ProcessingMs        int64          `json:"processingMs"`
	StepsExecuted       []string       `json:"stepsExecuted"`
	RetrievedDocuments  int            `json:"retrievedDocuments"`
	QueryClassification string         `json:"queryClassification"`
	FromCache           bool           `json:"fromCache"`
	FunctionCalls       []action.FunctionCall `json:"functionCalls,omitempty"`
}

// Response is the §4.13 response contract.
type Response struct {
	Answer     string                `json:"answer"`
	Sources    []contextproc.Citation `json:"sources"`
	Confidence float64               `json:"confidence"`
	SessionID  string                `json:"sessionId"`
	Metadata   Metadata              `json:"metadata"`
}

// Orchestrator is the C13 component.
type Orchestrator struct {
	conversation *conversation.Store
	searcher     *search.Searcher
	executor     *action.Executor
	generator    *generator.Generator
	provider     llm.Provider
	cache        *cache.Store
	cacheKeyIncludeSession bool
	maxContextTokens       int
	rand         *rand.Rand
}

// New constructs an Orchestrator.
func New(conv *conversation.Store, searcher *search.Searcher, executor *action.Executor, gen *generator.Generator, provider llm.Provider, respCache *cache.Store, cacheKeyIncludeSession bool) *Orchestrator {
	return &Orchestrator{
		conversation:           conv,
		searcher:               searcher,
		executor:               executor,
		generator:              gen,
		provider:               provider,
		cache:                  respCache,
		cacheKeyIncludeSession: cacheKeyIncludeSession,
		maxContextTokens:       contextproc.DefaultMaxTokens,
		rand:                   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var quickIntentTemplates = map[string][]string{
	"greeting": {"Hi there! How can I help with your tasks today?", "Hello! What would you like to do?"},
	"goodbye":  {"Goodbye! Let me know if you need anything else.", "See you later!"},
	"thank":    {"You're welcome!", "Happy to help."},
}

func (o *Orchestrator) templateFor(kind string) string {
	options := quickIntentTemplates[kind]
	if len(options) == 0 {
		return "Okay."
	}
	return options[o.rand.Intn(len(options))]
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

func (o *Orchestrator) responseCacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprint(h, normalizeQuery(req.Query))
	if o.cacheKeyIncludeSession {
		fmt.Fprint(h, "\x00", req.SessionID)
	}
	return "pipeline:response:" + hex.EncodeToString(h.Sum(nil))
}

// Process implements §4.13's full procedure.
func (o *Orchestrator) Process(ctx context.Context, req Request) Response {
	start := time.Now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = o.conversation.NewSessionID()
	}

	if o.cache != nil {
		var cached Response
		if o.cache.GetJSON(ctx, o.responseCacheKey(req), &cached) {
			cached.SessionID = sessionID
			cached.Metadata.FromCache = true
			cached.Metadata.ProcessingMs = time.Since(start).Milliseconds()
			return cached
		}
	}

	history, _ := o.conversation.Get(ctx, sessionID)

	if quick := intent.QuickIntent(ctx, o.provider, req.Query); quick != "none" {
		answer := o.templateFor(quick)
		o.appendTurn(ctx, sessionID, req.Query, answer)
		return Response{
			Answer:     answer,
			Sources:    nil,
			Confidence: 1.0,
			SessionID:  sessionID,
			Metadata: Metadata{
				ProcessingMs:        time.Since(start).Milliseconds(),
				StepsExecuted:       []string{"quick_intent"},
				QueryClassification: quick,
			},
		}
	}

	cls := intent.Classify(ctx, o.provider, req.Query, history)
	derivedIntent := intent.DeriveIntent(cls.Type, cls.Entities)
	filterSpec := intent.ExtractFilters(cls.Type, cls.Entities, req.Query)
	filter := filterSpec.ToFilter()

	var resp Response
	switch cls.Type {
	case "create", "update", "delete":
		resp = o.runActionBranch(ctx, req, sessionID, cls, derivedIntent, filter, history, start)
	default:
		resp = o.runRetrievalBranch(ctx, req, sessionID, cls, derivedIntent, filter, history, start)
	}

	o.appendTurn(ctx, sessionID, req.Query, resp.Answer)

	if o.cache != nil {
		toCache := resp
		toCache.Metadata.FromCache = false
		o.cache.SetJSON(ctx, o.responseCacheKey(req), toCache, ResponseCacheTTL)
	}
	return resp
}

func (o *Orchestrator) appendTurn(ctx context.Context, sessionID, query, answer string) {
	if err := o.conversation.Append(ctx, sessionID, conversation.RoleUser, query); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("append_user_turn_failed")
	}
	if err := o.conversation.Append(ctx, sessionID, conversation.RoleAssistant, answer); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("append_assistant_turn_failed")
	}
}

// runActionBranch implements §4.13 step 5's Action branch: a single-query
// hybrid search for reference-resolution context, then delegation to the
// Action Executor.
func (o *Orchestrator) runActionBranch(ctx context.Context, req Request, sessionID string, cls intent.Classification, derivedIntent string, filter databases.Filter, history []conversation.Turn, start time.Time) Response {
	docs, err := o.searcher.HybridSearch(ctx, []string{req.Query}, filter)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("action_branch_context_search_failed")
	}

	result := o.executor.Execute(ctx, req.Query, action.Classification{Type: cls.Type, Entities: cls.Entities}, sessionID, docs, derivedIntent, history)

	return Response{
		Answer:     result.Answer,
		Sources:    toCitations(result.Sources),
		Confidence: generator.Confidence(result.Sources, true),
		SessionID:  sessionID,
		Metadata: Metadata{
			ProcessingMs:        time.Since(start).Milliseconds(),
			StepsExecuted:       []string{"hybrid_search", "action_execution"},
			RetrievedDocuments:  len(result.Sources),
			QueryClassification: cls.Type,
			FunctionCalls:       result.FunctionCalls,
		},
	}
}

var shortcutRe = regexp.MustCompile(`(?i)^(get|show|find|list) (all )?(overdue|urgent|done|to ?do|in ?progress|tasks?|users?|teams?|projects?)`)

func shouldReformulate(cls intent.Classification, query string, history []conversation.Turn) bool {
	if cls.Type == "question" || cls.Type == "search" {
		return true
	}
	if len(query) > ReformulateQueryLenThreshold {
		return true
	}
	return len(history) > 0
}

// runRetrievalBranch implements §4.13 step 5's Special and Retrieval
// branches (the special branch falls through to retrieval with a filter
// spec targeting synthetic documents, already computed by ExtractFilters).
func (o *Orchestrator) runRetrievalBranch(ctx context.Context, req Request, sessionID string, cls intent.Classification, derivedIntent string, filter databases.Filter, history []conversation.Turn, start time.Time) Response {
	if shortcut, ok := o.tryShortcut(ctx, req, cls, filter, sessionID, start); ok {
		return shortcut
	}

	var queries []string
	if shouldReformulate(cls, req.Query, history) {
		queries = intent.Reformulate(ctx, o.provider, req.Query, history)
	} else {
		queries = []string{req.Query}
	}

	docs, err := o.searcher.HybridSearch(ctx, queries, filter)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("hybrid_search_failed")
	}

	proc := contextproc.Process(docs, req.Query, o.maxContextTokens)

	answer, err := o.generator.Generate(ctx, req.Query, proc.Context, history, cls.Type)
	if err != nil {
		answer = o.generator.RenderError(ctx, err, nil)
	}

	grounded := generator.CheckGrounding(answer, proc.Compressed)
	confidence := generator.Confidence(proc.Compressed, grounded)

	return Response{
		Answer:     answer,
		Sources:    proc.Sources,
		Confidence: confidence,
		SessionID:  sessionID,
		Metadata: Metadata{
			ProcessingMs:        time.Since(start).Milliseconds(),
			StepsExecuted:       []string{"hybrid_search", "context_compression", "answer_generation"},
			RetrievedDocuments:  len(docs),
			QueryClassification: cls.Type,
		},
	}
}

// tryShortcut implements §4.13's shortcut path: a fixed verb+object
// pattern with a forced entity_type filter, a direct vector search, and a
// minimal-prompt completion when the top hit clears the confidence bar.
func (o *Orchestrator) tryShortcut(ctx context.Context, req Request, cls intent.Classification, filter databases.Filter, sessionID string, start time.Time) (Response, bool) {
	if !shortcutRe.MatchString(strings.TrimSpace(req.Query)) || filter.Empty() {
		return Response{}, false
	}
	docs, err := o.searcher.VectorSearch(ctx, req.Query, filter)
	if err != nil || len(docs) == 0 || docs[0].Score <= ShortcutScoreThreshold {
		return Response{}, false
	}
	top := docs
	if len(top) > 5 {
		top = top[:5]
	}
	proc := contextproc.Process(top, req.Query, o.maxContextTokens)

	answer, err := o.generator.Generate(ctx, req.Query, proc.Context, nil, cls.Type)
	if err != nil {
		return Response{}, false
	}

	return Response{
		Answer:     answer,
		Sources:    proc.Sources,
		Confidence: generator.Confidence(top, true),
		SessionID:  sessionID,
		Metadata: Metadata{
			ProcessingMs:        time.Since(start).Milliseconds(),
			StepsExecuted:       []string{"shortcut_exact_match"},
			RetrievedDocuments:  len(top),
			QueryClassification: cls.Type,
		},
	}, true
}

// EventType names one SSE event kind emitted by ProcessStream (§4.13
// streaming variant).
type EventType string

const (
	EventStart    EventType = "start"
	EventStatus   EventType = "status"
	EventSources  EventType = "sources"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one emitted streaming event; only the field relevant to Type is
// populated.
type Event struct {
	Type     EventType
	Status   string
	Sources  []contextproc.Citation
	Chunk    string
	Response *Response
	Err      string
}

// ProcessStream runs the same pipeline as Process up to and including
// context processing, then streams the LLM's token output as chunk
// events, finishing with a complete event carrying the final answer,
// sources, confidence, and metadata (§4.13 streaming variant). Quick
// intents and the action/shortcut branches have no token stream to
// relay, so they emit their full answer as a single chunk before
// completing.
func (o *Orchestrator) ProcessStream(ctx context.Context, req Request, emit func(Event)) {
	start := time.Now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = o.conversation.NewSessionID()
	}
	emit(Event{Type: EventStart})

	history, _ := o.conversation.Get(ctx, sessionID)

	if quick := intent.QuickIntent(ctx, o.provider, req.Query); quick != "none" {
		answer := o.templateFor(quick)
		o.appendTurn(ctx, sessionID, req.Query, answer)
		emit(Event{Type: EventChunk, Chunk: answer})
		emit(Event{Type: EventComplete, Response: &Response{
			Answer: answer, Confidence: 1.0, SessionID: sessionID,
			Metadata: Metadata{ProcessingMs: time.Since(start).Milliseconds(), StepsExecuted: []string{"quick_intent"}, QueryClassification: quick},
		}})
		return
	}

	cls := intent.Classify(ctx, o.provider, req.Query, history)
	derivedIntent := intent.DeriveIntent(cls.Type, cls.Entities)
	filterSpec := intent.ExtractFilters(cls.Type, cls.Entities, req.Query)
	filter := filterSpec.ToFilter()

	if cls.Type == "create" || cls.Type == "update" || cls.Type == "delete" {
		emit(Event{Type: EventStatus, Status: "executing_action"})
		resp := o.runActionBranch(ctx, req, sessionID, cls, derivedIntent, filter, history, start)
		o.appendTurn(ctx, sessionID, req.Query, resp.Answer)
		emit(Event{Type: EventSources, Sources: resp.Sources})
		emit(Event{Type: EventChunk, Chunk: resp.Answer})
		emit(Event{Type: EventComplete, Response: &resp})
		return
	}

	if shortcut, ok := o.tryShortcut(ctx, req, cls, filter, sessionID, start); ok {
		o.appendTurn(ctx, sessionID, req.Query, shortcut.Answer)
		emit(Event{Type: EventSources, Sources: shortcut.Sources})
		emit(Event{Type: EventChunk, Chunk: shortcut.Answer})
		emit(Event{Type: EventComplete, Response: &shortcut})
		return
	}

	emit(Event{Type: EventStatus, Status: "retrieving"})
	var queries []string
	if shouldReformulate(cls, req.Query, history) {
		queries = intent.Reformulate(ctx, o.provider, req.Query, history)
	} else {
		queries = []string{req.Query}
	}

	docs, err := o.searcher.HybridSearch(ctx, queries, filter)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("hybrid_search_failed")
	}
	proc := contextproc.Process(docs, req.Query, o.maxContextTokens)
	emit(Event{Type: EventSources, Sources: proc.Sources})

	var answerBuilder strings.Builder
	answer, err := o.generator.GenerateStream(ctx, req.Query, proc.Context, history, cls.Type, func(chunk string) {
		answerBuilder.WriteString(chunk)
		emit(Event{Type: EventChunk, Chunk: chunk})
	})
	if err != nil {
		emit(Event{Type: EventError, Err: err.Error()})
		return
	}
	if answer == "" {
		answer = answerBuilder.String()
	}

	grounded := generator.CheckGrounding(answer, proc.Compressed)
	confidence := generator.Confidence(proc.Compressed, grounded)
	o.appendTurn(ctx, sessionID, req.Query, answer)

	emit(Event{Type: EventComplete, Response: &Response{
		Answer:     answer,
		Sources:    proc.Sources,
		Confidence: confidence,
		SessionID:  sessionID,
		Metadata: Metadata{
			ProcessingMs:        time.Since(start).Milliseconds(),
			StepsExecuted:       []string{"hybrid_search", "context_compression", "answer_generation"},
			RetrievedDocuments:  len(docs),
			QueryClassification: cls.Type,
		},
	}})
}

func toCitations(docs []retrieve.RetrievedDoc) []contextproc.Citation {
	out := make([]contextproc.Citation, 0, len(docs))
	for i, d := range docs {
		text := d.Text
		if len(text) > contextproc.CitationTextLen {
			text = text[:contextproc.CitationTextLen] + "..."
		}
		out = append(out, contextproc.Citation{
			EntityType: d.EntityType,
			EntityID:   d.EntityID,
			Text:       text,
			Score:      d.Score,
			Label:      fmt.Sprintf("[%d]", i+1),
		})
	}
	return out
}
