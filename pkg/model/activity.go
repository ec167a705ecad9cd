package model

import (
	"time"
	"unicode/utf8"
)

// Truncation limits for the activity table. Rows beyond these sizes get the
// truncation suffix appended.
const (
	ActivityTitleLimit   = 200
	ActivityContentLimit = 10000
	TruncationSuffix     = "... (truncated)"
)

// Activity is a progress-feed row correlated to a task.
type Activity struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`

	ETag string `json:"-"`
}

// TruncateTitle clamps a title to the activity-table limit.
func TruncateTitle(s string) string {
	return truncate(s, ActivityTitleLimit)
}

// TruncateContent clamps message content to the activity-table limit.
func TruncateContent(s string) string {
	return truncate(s, ActivityContentLimit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(TruncationSuffix)
	// Back up to a rune boundary so the cut never splits a multi-byte rune.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationSuffix
}
