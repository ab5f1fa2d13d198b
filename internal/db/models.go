package db

import "time"

// Template is a stored template definition. Built-in templates only have a
// row when they have been customized.
type Template struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	RequiredFields []string  `json:"requiredFields"`
	OptionalFields []string  `json:"optionalFields"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// History statuses.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// HistoryEntry is the audit row for one print job.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"jobId"`
	TemplateID   string    `json:"templateId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}
