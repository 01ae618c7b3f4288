// Package transform implements the C4 Document Transformer (§4.4): a pure
// function from an entity snapshot (with its eagerly-loaded relations) to
// the {text, metadata} pair the Indexer embeds and upserts.
package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Document is the {text, metadata} pair §4.4 produces.
type Document struct {
	Text     string
	Metadata map[string]any
}

var secretPattern = regexp.MustCompile(`(?i)(password|token|api[-_]?key|secret)\s*[:=]\s*\S+`)

func sanitize(s string) string {
	return secretPattern.ReplaceAllString(s, "$1: [REDACTED]")
}

// relationLine renders "label: first N names, plus K more (T total labels)".
func relationLine(label string, names []string, maxShown int) string {
	if len(names) == 0 {
		return ""
	}
	shown := names
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	line := fmt.Sprintf("%s: %s", label, strings.Join(shown, ", "))
	if len(names) > maxShown {
		line += fmt.Sprintf(", plus %d more (%d total %ss)", len(names)-maxShown, len(names), strings.ToLower(label))
	}
	return line + "."
}

// StatusLabel renders a task status enum value in human form.
func StatusLabel(status string) string {
	switch strings.ToLower(status) {
	case "todo", "to_do":
		return "To Do"
	case "in_progress", "inprogress":
		return "In Progress"
	case "done", "completed":
		return "Done"
	default:
		return status
	}
}

// DeadlinePhrase renders §4.4's deadline phrasing given days-until-deadline.
func DeadlinePhrase(days int) string {
	switch {
	case days < 0:
		return fmt.Sprintf("Overdue by %d days", -days)
	case days == 0:
		return "Due today"
	case days <= 3:
		return fmt.Sprintf("Due in %d days (urgent)", days)
	default:
		return fmt.Sprintf("Due in %d days", days)
	}
}

func daysUntil(deadline time.Time, now time.Time) int {
	d := deadline.Truncate(24 * time.Hour).Sub(now.Truncate(24 * time.Hour))
	return int(d.Hours() / 24)
}

// User transforms a user snapshot with its assigned tasks.
func User(id, name, email, role, teamName string, assignedTasks []TaskRef) Document {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User %s (%s), role %s.", name, email, role)
	if teamName != "" {
		fmt.Fprintf(&sb, " Team: %s.", teamName)
	}
	counts := map[string]int{}
	for _, t := range assignedTasks {
		counts[strings.ToLower(t.Status)]++
	}
	if len(assignedTasks) > 0 {
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%d %s", counts[k], StatusLabel(k)))
		}
		fmt.Fprintf(&sb, " Assigned tasks by status: %s.", strings.Join(parts, ", "))
	}
	text := sanitize(sb.String())
	return Document{
		Text: text,
		Metadata: map[string]any{
			"user_name":   name,
			"user_email":  email,
			"user_role":   role,
			"team_name":   teamName,
			"tasks_count": len(assignedTasks),
		},
	}
}

// TaskRef is a minimal reference used when rendering relation lists.
type TaskRef struct {
	Title  string
	Status string
}

// Team transforms a team snapshot with its owner, project, and members.
func Team(id, name, ownerName, projectName string, memberNames []string) Document {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Team %s.", name)
	if ownerName != "" {
		fmt.Fprintf(&sb, " Owner: %s.", ownerName)
	}
	if projectName != "" {
		fmt.Fprintf(&sb, " Project: %s.", projectName)
	}
	if line := relationLine("Member", memberNames, 5); line != "" {
		sb.WriteString(" " + line)
	}
	return Document{
		Text: sanitize(sb.String()),
		Metadata: map[string]any{
			"team_name":    name,
			"owner_name":   ownerName,
			"project_name": projectName,
			"members_count": len(memberNames),
		},
	}
}

// Project transforms a project snapshot with its teams and aggregate member count.
func Project(id, name, description string, teamNames []string, totalMembers int) Document {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project %s.", name)
	if description != "" {
		fmt.Fprintf(&sb, " %s.", description)
	}
	if line := relationLine("Team", teamNames, 5); line != "" {
		sb.WriteString(" " + line)
	}
	return Document{
		Text: sanitize(sb.String()),
		Metadata: map[string]any{
			"project_name":  name,
			"teams_count":   len(teamNames),
			"total_members": totalMembers,
		},
	}
}

// Task transforms a task snapshot. deadline may be the zero time when absent.
func Task(id, title, description, status, assigneeName, teamName, projectName string, deadline time.Time, now time.Time) Document {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %q, status %s.", title, StatusLabel(status))
	if description != "" {
		fmt.Fprintf(&sb, " %s.", description)
	}
	if assigneeName != "" {
		fmt.Fprintf(&sb, " Assigned to: %s.", assigneeName)
	}
	if teamName != "" {
		fmt.Fprintf(&sb, " Team: %s.", teamName)
	}
	if projectName != "" {
		fmt.Fprintf(&sb, " Project: %s.", projectName)
	}

	isOverdue, isUrgent := false, false
	daysUntilDeadline := 0
	if !deadline.IsZero() {
		daysUntilDeadline = daysUntil(deadline, now)
		sb.WriteString(" " + DeadlinePhrase(daysUntilDeadline) + ".")
		isOverdue = daysUntilDeadline < 0
		isUrgent = daysUntilDeadline >= 0 && daysUntilDeadline <= 3
	}

	return Document{
		Text: sanitize(sb.String()),
		Metadata: map[string]any{
			"task_status":         strings.ToLower(status),
			"is_overdue":          isOverdue,
			"is_urgent":           isUrgent,
			"days_until_deadline": daysUntilDeadline,
			"assignee_name":       assigneeName,
			"team_name":           teamName,
			"project_name":        projectName,
		},
	}
}
