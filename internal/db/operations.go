package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// sqliteTime matches the format CURRENT_TIMESTAMP writes, so explicit and
// defaulted timestamps compare correctly as text.
const sqliteTime = "2006-01-02 15:04:05"

type TemplateOperations struct{}

// SaveTemplate inserts the template or replaces an existing one with the same id.
func (o *TemplateOperations) SaveTemplate(ctx context.Context, t *Template) error {
	required, err := encodeFields(t.RequiredFields)
	if err != nil {
		return fmt.Errorf("failed to encode required fields: %w", err)
	}
	optional, err := encodeFields(t.OptionalFields)
	if err != nil {
		return fmt.Errorf("failed to encode optional fields: %w", err)
	}

	if _, err := GetDB().ExecContext(ctx, UpsertTemplate, t.ID, t.Name, t.Description, required, optional); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (o *TemplateOperations) GetTemplate(ctx context.Context, id string) (*Template, error) {
	t, err := scanTemplate(GetDB().QueryRowContext(ctx, GetTemplateByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (o *TemplateOperations) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := GetDB().QueryContext(ctx, ListTemplates)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteTemplate returns sql.ErrNoRows when no template has the id.
func (o *TemplateOperations) DeleteTemplate(ctx context.Context, id string) error {
	result, err := GetDB().ExecContext(ctx, DeleteTemplate, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	t := &Template{}
	var required, optional string
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &required, &optional, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(required), &t.RequiredFields); err != nil {
		return nil, fmt.Errorf("invalid required fields for template %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(optional), &t.OptionalFields); err != nil {
		return nil, fmt.Errorf("invalid optional fields for template %s: %w", t.ID, err)
	}
	return t, nil
}

func encodeFields(fields []string) (string, error) {
	if fields == nil {
		fields = []string{}
	}
	data, err := json.Marshal(fields)
	return string(data), err
}

type HistoryOperations struct{}

// Record upserts the history row for e.JobID. An empty TemplateID keeps the
// template recorded earlier for the same job.
func (o *HistoryOperations) Record(ctx context.Context, e *HistoryEntry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}

	_, err := GetDB().ExecContext(ctx, UpsertHistory,
		e.JobID, e.TemplateID, e.Status, e.ErrorMessage,
		e.CreatedAt.UTC().Format(sqliteTime), e.UpdatedAt.UTC().Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

func (o *HistoryOperations) GetByJobID(ctx context.Context, jobID string) (*HistoryEntry, error) {
	e := &HistoryEntry{}
	err := GetDB().QueryRowContext(ctx, GetHistoryByJobID, jobID).Scan(
		&e.ID, &e.JobID, &e.TemplateID, &e.Status, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return e, nil
}

func (o *HistoryOperations) ListRecent(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := GetDB().QueryContext(ctx, ListRecentHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := []*HistoryEntry{}
	for rows.Next() {
		e := &HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.TemplateID, &e.Status, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (o *HistoryOperations) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	if err := GetDB().QueryRowContext(ctx, CountHistoryByStatus, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// DeleteBefore removes history rows created before cutoff.
func (o *HistoryOperations) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := GetDB().ExecContext(ctx, DeleteHistoryBefore, cutoff.UTC().Format(sqliteTime))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := GetDB().ExecContext(ctx, SetSetting, key, value, encrypted, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := GetDB().ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

var (
	Templates = &TemplateOperations{}
	History   = &HistoryOperations{}
	Settings  = &SettingsOperations{}
)
