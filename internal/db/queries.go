package db

const (
	UpsertTemplate = `
		INSERT INTO templates (id, name, description, required_fields, optional_fields)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			required_fields = excluded.required_fields,
			optional_fields = excluded.optional_fields,
			updated_at = CURRENT_TIMESTAMP
	`

	GetTemplateByID = `
		SELECT id, name, description, required_fields, optional_fields, created_at, updated_at
		FROM templates WHERE id = ?
	`

	ListTemplates = `
		SELECT id, name, description, required_fields, optional_fields, created_at, updated_at
		FROM templates ORDER BY id ASC
	`

	DeleteTemplate = `DELETE FROM templates WHERE id = ?`
)

const (
	UpsertHistory = `
		INSERT INTO print_history (job_id, template_id, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			template_id = COALESCE(NULLIF(excluded.template_id, ''), print_history.template_id),
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`

	ListRecentHistory = `
		SELECT id, job_id, template_id, status, error_message, created_at, updated_at
		FROM print_history ORDER BY created_at DESC, id DESC LIMIT ?
	`

	GetHistoryByJobID = `
		SELECT id, job_id, template_id, status, error_message, created_at, updated_at
		FROM print_history WHERE job_id = ?
	`

	CountHistoryByStatus = `SELECT COUNT(*) FROM print_history WHERE status = ?`

	DeleteHistoryBefore = `DELETE FROM print_history WHERE created_at < ?`
)

const (
	GetSetting = `SELECT value, encrypted, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, encrypted = ?, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)
