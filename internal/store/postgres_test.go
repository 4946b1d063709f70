package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmenta/prospect-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgres_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, project_id, status`).
		WithArgs("missing-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing-job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJob(context.Background(), &model.Job{ID: "gone", Status: model.JobStatusRunning})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetCacheEntry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT cnpj, payload::text, source, updated_at FROM registry_cache`).
		WithArgs("00000000000000").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetCacheEntry(context.Background(), "00000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetCacheEntry_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	updated := time.Now().UTC()
	mock.ExpectQuery(`SELECT cnpj, payload::text, source, updated_at FROM registry_cache`).
		WithArgs("12345678000195").
		WillReturnRows(pgxmock.NewRows([]string{"cnpj", "payload", "source", "updated_at"}).
			AddRow("12345678000195", `{"official_name":"Acme SA"}`, "receita", updated))

	got, err := s.GetCacheEntry(context.Background(), "12345678000195")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "receita", got.Source)
	assert.JSONEq(t, `{"official_name":"Acme SA"}`, string(got.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetCacheEntry_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO registry_cache`).
		WithArgs("12345678000195", `{"v":1}`, "receita", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetCacheEntry(context.Background(), &model.CacheEntry{
		CNPJ:    "12345678000195",
		Payload: json.RawMessage(`{"v":1}`),
		Source:  "receita",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MarkItemProcessing_AlreadyClaimed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE queue_items SET status`).
		WithArgs(string(model.QueueItemProcessing), pgxmock.AnyArg(), "item-1", string(model.QueueItemPending)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkItemProcessing(context.Background(), "item-1", time.Now())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClearCompleted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM queue_items`).
		WithArgs("proj-1", string(model.QueueItemCompleted), string(model.QueueItemError)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.ClearCompleted(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PendingProjects(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT DISTINCT project_id FROM queue_items`).
		WithArgs(string(model.QueueItemPending)).
		WillReturnRows(pgxmock.NewRows([]string{"project_id"}).AddRow("proj-1").AddRow("proj-2"))

	projects, err := s.PendingProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"proj-1", "proj-2"}, projects)
	assert.NoError(t, mock.ExpectationsWereMet())
}
