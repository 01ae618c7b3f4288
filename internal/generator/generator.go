// Package generator implements the C12 Generator (§4.12): intent-table-
// driven answer prompting, grounding/confidence scoring, and user-facing
// error rendering. Prompt assembly follows the teacher's instruction-table
// style (a fixed per-intent directive folded into a single system+context
// prompt); grounding/confidence are pure functions over tokenised text,
// unit-tested directly.
package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"taskpilot/internal/conversation"
	"taskpilot/internal/errs"
	"taskpilot/internal/llm"
	"taskpilot/internal/observability"
	"taskpilot/internal/rag/retrieve"
)

// StreamMaxTokens is GenerateStream's fixed §4.12 token cap.
const StreamMaxTokens = 500

// HistoryTurns is the number of trailing history turns folded into the
// prompt (§4.12).
const HistoryTurns = 2

// GroundingThreshold is P8's strict overlap threshold.
const GroundingThreshold = 0.30

// GroundingBonus is added to mean-score confidence when an answer is
// grounded (§4.12).
const GroundingBonus = 0.2

var instructionTable = map[string]string{
	"requirements": "Summarise the system's functional requirements precisely, citing the source documents.",
	"statistics":   "Report the requested counts/metrics exactly as given in context. Do not estimate.",
	"status":       "State the current status clearly, including any blocking conditions.",
	"list":         "Enumerate the matching items as a concise list.",
	"analysis":     "Analyse the retrieved information and explain the relevant trends or relationships.",
	"help":         "Explain what the assistant can do, in plain language.",
}

const defaultInstruction = "Answer based on context. Be concise."

// Generator is the C12 component.
type Generator struct {
	provider llm.Provider
}

// New constructs a Generator over an llm.Provider.
func New(provider llm.Provider) *Generator {
	return &Generator{provider: provider}
}

func instructionFor(intentType string) string {
	if instr, ok := instructionTable[intentType]; ok {
		return instr
	}
	return defaultInstruction
}

func temperatureFor(intentType string) float64 {
	if intentType == "statistics" {
		return 0.3
	}
	return 0.7
}

func buildPrompt(query, contextBlock string, history []conversation.Turn, intentType string) string {
	var sb strings.Builder
	sb.WriteString("You are a task-management assistant. ")
	sb.WriteString(instructionFor(intentType))
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(contextBlock)
	if len(history) > 0 {
		recent := history
		if len(recent) > HistoryTurns {
			recent = recent[len(recent)-HistoryTurns:]
		}
		sb.WriteString("\nRecent conversation:\n")
		for _, t := range recent {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
	}
	fmt.Fprintf(&sb, "\nQuery: %s\nAnswer:", query)
	return sb.String()
}

// Generate produces an answer for query given an assembled context block,
// trailing history, and the classified intent type (§4.12).
func (g *Generator) Generate(ctx context.Context, query, contextBlock string, history []conversation.Turn, intentType string) (string, error) {
	prompt := buildPrompt(query, contextBlock, history, intentType)
	out, err := g.provider.Complete(ctx, prompt, llm.CompleteOptions{Temperature: temperatureFor(intentType)})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GenerateStream is Generate's streaming variant with a fixed max_tokens
// cap (§4.12).
func (g *Generator) GenerateStream(ctx context.Context, query, contextBlock string, history []conversation.Turn, intentType string, onChunk llm.ChunkHandler) (string, error) {
	prompt := buildPrompt(query, contextBlock, history, intentType)
	out, err := g.provider.CompleteStream(ctx, prompt, llm.CompleteOptions{
		Temperature: temperatureFor(intentType),
		MaxTokens:   StreamMaxTokens,
	}, onChunk)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CheckGrounding implements P8: tokenise answer and the union of doc texts
// on lowercased whitespace; grounded iff overlap strictly exceeds 0.30 of
// the answer's token count.
func CheckGrounding(answer string, docs []retrieve.RetrievedDoc) bool {
	answerTokens := strings.Fields(strings.ToLower(answer))
	if len(answerTokens) == 0 {
		return false
	}
	docTokens := make(map[string]struct{})
	for _, d := range docs {
		for _, tok := range strings.Fields(strings.ToLower(d.Text)) {
			docTokens[tok] = struct{}{}
		}
	}
	overlap := 0
	for _, tok := range answerTokens {
		if _, ok := docTokens[tok]; ok {
			overlap++
		}
	}
	ratio := float64(overlap) / float64(len(answerTokens))
	return ratio > GroundingThreshold
}

// Confidence implements §4.12: mean retrieval score plus a grounding bonus,
// capped at 1.0; zero when docs is empty.
func Confidence(docs []retrieve.RetrievedDoc, grounded bool) float64 {
	if len(docs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range docs {
		sum += d.Score
	}
	mean := sum / float64(len(docs))
	if grounded {
		mean += GroundingBonus
	}
	if mean > 1.0 {
		mean = 1.0
	}
	return mean
}

const notFoundTemplate = "I couldn't find that item. Could you double-check the name or id?"

// RenderError produces a user-friendly message for err (§7): Upstream and
// Timeout are rendered by the LLM (a brief, apologetic rephrasing);
// NotFound/Validation/Conflict use canonical templates. extracted, if
// non-empty, is echoed verbatim as `[Extracted so far: k="v", ...]` so the
// next turn can continue the flow (§4.11 step 7).
func (g *Generator) RenderError(ctx context.Context, err error, extracted map[string]any) string {
	msg := canonicalErrorMessage(err)
	switch errs.KindOf(err) {
	case errs.Upstream, errs.Timeout:
		if g.provider != nil {
			prompt := fmt.Sprintf(
				"Rephrase this internal error as one brief, friendly sentence for an end user, with no technical detail: %q",
				err.Error(),
			)
			out, llmErr := g.provider.Complete(ctx, prompt, llm.CompleteOptions{Temperature: 0.3, MaxTokens: 80})
			if llmErr != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(llmErr).Msg("render_error_llm_failed")
			} else if trimmed := strings.TrimSpace(out); trimmed != "" {
				msg = trimmed
			}
		}
	}
	if len(extracted) == 0 {
		return msg
	}
	return msg + " " + formatExtracted(extracted)
}

func canonicalErrorMessage(err error) string {
	switch errs.KindOf(err) {
	case errs.NotFound:
		return notFoundTemplate
	case errs.Validation:
		return "That request doesn't look valid. " + err.Error()
	case errs.Conflict:
		return "That conflicts with an existing record."
	case errs.Upstream:
		return "I'm having trouble reaching a backend service right now."
	case errs.Timeout:
		return "That took too long to complete. Please try again."
	default:
		return "Something went wrong on my end."
	}
}

// formatExtracted renders extracted parameters verbatim, sorted by key for
// deterministic output, as `[Extracted so far: k="v", ...]`.
func formatExtracted(extracted map[string]any) string {
	keys := make([]string, 0, len(extracted))
	for k := range extracted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, fmt.Sprint(extracted[k])))
	}
	return "[Extracted so far: " + strings.Join(parts, ", ") + "]"
}
