package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, Init(Config{Path: filepath.Join(t.TempDir(), "test.db")}))
	t.Cleanup(func() { Close() })
}

func TestInitIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	require.NoError(t, Init(Config{Path: path}))
	require.NoError(t, Init(Config{Path: path}))
	t.Cleanup(func() { Close() })

	var count int
	require.NoError(t, GetDB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTemplates(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	tpl := &Template{ID: "kitchen", Name: "Kitchen ticket", RequiredFields: []string{"mesa", "items"}}
	require.NoError(t, Templates.SaveTemplate(ctx, tpl))

	got, err := Templates.GetTemplate(ctx, "kitchen")
	require.NoError(t, err)
	assert.Equal(t, "Kitchen ticket", got.Name)
	assert.Equal(t, []string{"mesa", "items"}, got.RequiredFields)

	tpl.RequiredFields = []string{"mesa"}
	tpl.Description = "updated"
	require.NoError(t, Templates.SaveTemplate(ctx, tpl))

	list, err := Templates.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"mesa"}, list[0].RequiredFields)
	assert.Equal(t, "updated", list[0].Description)

	require.NoError(t, Templates.DeleteTemplate(ctx, "kitchen"))
	assert.ErrorIs(t, Templates.DeleteTemplate(ctx, "kitchen"), sql.ErrNoRows)

	_, err = Templates.GetTemplate(ctx, "kitchen")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestHistoryRecorder(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	r := NewHistoryRecorder(zerolog.Nop())

	r.JobQueued(ctx, "1-a", "receipt")
	r.JobCompleted(ctx, "1-a")
	r.JobQueued(ctx, "2-b", "price-tag")
	r.JobFailed(ctx, "2-b", "printer offline")

	a, err := History.GetByJobID(ctx, "1-a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, "receipt", a.TemplateID)

	b, err := History.GetByJobID(ctx, "2-b")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, "price-tag", b.TemplateID)
	assert.Equal(t, "printer offline", b.ErrorMessage)

	recent, err := History.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	failed, err := History.CountByStatus(ctx, StatusFailed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, failed)
}

func TestHistoryDeleteBefore(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, History.Record(ctx, &HistoryEntry{JobID: "old", Status: StatusCompleted, CreatedAt: old}))
	require.NoError(t, History.Record(ctx, &HistoryEntry{JobID: "new", Status: StatusCompleted}))

	n, err := History.DeleteBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = History.GetByJobID(ctx, "old")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = History.GetByJobID(ctx, "new")
	assert.NoError(t, err)
}

func TestSettings(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	_, err := Settings.GetSetting(ctx, "jwt_secret")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, Settings.SetSetting(ctx, "jwt_secret", "abc", false))
	require.NoError(t, Settings.SetSetting(ctx, "jwt_secret", "def", false))

	s, err := Settings.GetSetting(ctx, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "def", s.Value)

	require.NoError(t, Settings.DeleteSetting(ctx, "jwt_secret"))
	_, err = Settings.GetSetting(ctx, "jwt_secret")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
