package databases

import "strings"

// hasAccess reports whether a caller identified by userID (nil means an
// unauthenticated/admin caller, per the Pipeline's own no-auth usage) may
// touch a session owned by ownerID (nil means an unowned/admin session).
func hasAccess(userID, ownerID *int64) bool {
	if userID == nil || ownerID == nil {
		return true
	}
	return *userID == *ownerID
}

func snippetForPreview(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	const maxLen = 120
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen]
}
