// Package jsonutil holds the small JSON-repair helper shared by every LLM
// call site that expects a structured object back in free-form text: the
// Intent Classifier's type/entities object and the Action Executor's
// function-call object.
package jsonutil

// ExtractBalancedJSON finds the first top-level JSON object in s and
// returns it, tolerating any trailing text (including extra closing
// braces) after the object closes, per §4.11's "tolerate extra trailing
// braces by counting and trimming": brace depth is tracked from the first
// '{' and the slice is cut the moment depth returns to zero.
func ExtractBalancedJSON(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
