// Package intent implements the C7 Intent Classifier (§4.7): regex-first
// quick intents, LLM-backed typed classification, intent derivation, query
// reformulation, and filter extraction. Classify/Reformulate/QuickIntent
// drive an llm.Provider; DeriveIntent and ExtractFilters are pure.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"taskpilot/internal/conversation"
	"taskpilot/internal/jsonutil"
	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
	"taskpilot/internal/persistence/databases"
)

// Classification is Classify's result (§4.7.2).
type Classification struct {
	Type     string   `json:"type"`
	Entities []string `json:"entities"`
}

var validTypes = map[string]bool{
	"create": true, "update": true, "delete": true,
	"question": true, "search": true, "list": true,
	"statistics": true, "help": true, "requirements": true,
}

var validEntities = map[string]bool{"user": true, "task": true, "team": true, "project": true}

var (
	greetingRe = regexp.MustCompile(`(?i)\b(hi|hello|hey|good morning|good afternoon|good evening)\b`)
	goodbyeRe  = regexp.MustCompile(`(?i)\b(bye|goodbye|see you|farewell)\b`)
	thankRe    = regexp.MustCompile(`(?i)\b(thanks|thank you|thx|appreciate it)\b`)
	crudVerbRe = regexp.MustCompile(`(?i)\b(create|update|delete|remove|assign|add|make|set|mark|change|edit)\b`)
)

// QuickIntent detects greeting/goodbye/thank via regex first; only when no
// regex matches and the query is short with no CRUD verb does it consult
// the LLM (§4.7.1). LLM failures are silent (§7): the path falls through
// to "none" so the caller proceeds to full classification.
func QuickIntent(ctx context.Context, provider llm.Provider, query string) string {
	switch {
	case greetingRe.MatchString(query):
		return "greeting"
	case goodbyeRe.MatchString(query):
		return "goodbye"
	case thankRe.MatchString(query):
		return "thank"
	}
	if provider == nil || len(query) >= 50 || crudVerbRe.MatchString(query) {
		return "none"
	}
	out, err := provider.Complete(ctx, quickIntentPrompt(query), llm.CompleteOptions{Temperature: 0, MaxTokens: 5})
	if err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("quick_intent_llm_failed")
		return "none"
	}
	switch word := strings.ToLower(strings.TrimSpace(out)); {
	case strings.Contains(word, "greeting"):
		return "greeting"
	case strings.Contains(word, "goodbye"):
		return "goodbye"
	case strings.Contains(word, "thank"):
		return "thank"
	default:
		return "none"
	}
}

func quickIntentPrompt(query string) string {
	return "Classify this message as exactly one word from {greeting, goodbye, thank, none}, nothing else.\n" +
		"Message: " + query
}

// Classify produces a typed classification for query, with history included
// for coreference resolution. On parse failure it returns {question, []}
// (§4.7.2).
func Classify(ctx context.Context, provider llm.Provider, query string, history []conversation.Turn) Classification {
	fallback := Classification{Type: "question", Entities: nil}
	if provider == nil {
		return fallback
	}
	out, err := provider.Complete(ctx, classifyPrompt(query, history), llm.CompleteOptions{Temperature: 0, MaxTokens: 200})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("classify_llm_failed")
		return fallback
	}
	raw, ok := jsonutil.ExtractBalancedJSON(out)
	if !ok {
		return fallback
	}
	var parsed Classification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return fallback
	}
	if !validTypes[parsed.Type] {
		return fallback
	}
	entities := make([]string, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		e = strings.ToLower(strings.TrimSpace(e))
		if validEntities[e] {
			entities = append(entities, e)
		}
	}
	return Classification{Type: parsed.Type, Entities: entities}
}

func classifyPrompt(query string, history []conversation.Turn) string {
	var sb strings.Builder
	sb.WriteString("Classify the user's message about a task-management system.\n")
	sb.WriteString("Return strict JSON: {\"type\": one of create|update|delete|question|search|list|statistics|help|requirements, ")
	sb.WriteString("\"entities\": subset of [user, task, team, project]}.\n")
	sb.WriteString("Distinguish commands (\"assign the task to Sam\" = update) from questions (\"when was this created\" = question).\n")
	sb.WriteString("Include \"user\" in entities whenever a personal name appears.\n")
	if len(history) > 0 {
		sb.WriteString("Recent conversation (for resolving pronouns/references):\n")
		for _, t := range recentNonSummary(history, 4) {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
	}
	fmt.Fprintf(&sb, "Message: %s\nJSON:", query)
	return sb.String()
}

func recentNonSummary(history []conversation.Turn, n int) []conversation.Turn {
	filtered := make([]conversation.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == conversation.RoleSummary {
			continue
		}
		filtered = append(filtered, t)
	}
	if len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	return filtered
}

// DeriveIntent is a pure function from (type, entities) to an intent name
// (§4.7.3); re-invocation with the same inputs always yields the same
// result (L3).
func DeriveIntent(classType string, entities []string) string {
	primary := ""
	if len(entities) > 0 {
		primary = entities[0]
	}
	switch classType {
	case "create", "update", "delete":
		if primary == "" {
			return "general"
		}
		return primary + "_management"
	case "question", "search", "list", "statistics":
		if primary == "" {
			return "general"
		}
		return primary + "_info"
	default:
		return "general"
	}
}

// Reformulate returns [query, v1, ..., vK] (0<=K<=4) of short search-phrase
// variants, skipping the LLM entirely for queries under 15 characters
// (§4.7.4, §8.3 boundary).
func Reformulate(ctx context.Context, provider llm.Provider, query string, history []conversation.Turn) []string {
	if len(query) < 15 || provider == nil {
		return []string{query}
	}
	out, err := provider.Complete(ctx, reformulatePrompt(query, history), llm.CompleteOptions{Temperature: 0.3, MaxTokens: 150})
	if err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("reformulate_llm_failed")
		return []string{query}
	}
	result := []string{query}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		result = append(result, line)
		if len(result) == 5 {
			break
		}
	}
	return result
}

func reformulatePrompt(query string, history []conversation.Turn) string {
	var sb strings.Builder
	sb.WriteString("Produce up to 4 short search-phrase variants (2-5 words each) of the query below, ")
	sb.WriteString("one per line, no numbering. Keep entity names, expand abbreviations. Do not repeat the original.\n")
	if len(history) > 0 {
		sb.WriteString("Conversation context:\n")
		for _, t := range recentNonSummary(history, 2) {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
	}
	fmt.Fprintf(&sb, "Query: %s\nVariants:", query)
	return sb.String()
}

// FilterSpec is ExtractFilters's output (§4.7.5), translatable to a
// databases.Filter via ToFilter.
type FilterSpec struct {
	EntityTypes []string
	Extra       []databases.Condition
}

var lexicalStatusTerms = []struct {
	status string
	re     *regexp.Regexp
}{
	{"todo", regexp.MustCompile(`(?i)\bto[\s_-]?do\b`)},
	{"in_progress", regexp.MustCompile(`(?i)\bin[\s_-]?progress\b`)},
	{"done", regexp.MustCompile(`(?i)\bdone\b`)},
}

var (
	overdueRe = regexp.MustCompile(`(?i)\boverdue\b`)
	urgentRe  = regexp.MustCompile(`(?i)\burgent\b`)
)

// ExtractFilters derives the store filter for a classified query (§4.7.5).
// EntityTypes is sorted so the result is stable under reordering of
// entities (L4).
func ExtractFilters(classType string, entities []string, query string) FilterSpec {
	switch classType {
	case "statistics":
		return FilterSpec{EntityTypes: []string{"statistics"}}
	case "help", "requirements":
		return FilterSpec{EntityTypes: []string{"system_info"}}
	}

	var spec FilterSpec
	switch len(entities) {
	case 0:
	case 1:
		spec.EntityTypes = []string{entities[0]}
	default:
		sorted := append([]string(nil), entities...)
		sort.Strings(sorted)
		spec.EntityTypes = sorted
	}

	if overdueRe.MatchString(query) {
		spec.Extra = append(spec.Extra, databases.Condition{Field: "is_overdue", Value: true})
	}
	if urgentRe.MatchString(query) {
		spec.Extra = append(spec.Extra, databases.Condition{Field: "is_urgent", Value: true})
	}
	for _, term := range lexicalStatusTerms {
		if term.re.MatchString(query) {
			spec.Extra = append(spec.Extra, databases.Condition{Field: "task_status", Value: term.status})
			break
		}
	}
	return spec
}

// ToFilter translates a FilterSpec into the C2 filter language (§4.2):
// a single entity type is an equality Must; multiple entity types require
// OR semantics and become a Should list.
func (f FilterSpec) ToFilter() databases.Filter {
	var filter databases.Filter
	switch len(f.EntityTypes) {
	case 0:
	case 1:
		filter.Must = append(filter.Must, databases.Condition{Field: "entity_type", Value: f.EntityTypes[0]})
	default:
		for _, et := range f.EntityTypes {
			filter.Should = append(filter.Should, databases.Condition{Field: "entity_type", Value: et})
		}
	}
	filter.Must = append(filter.Must, f.Extra...)
	return filter
}
