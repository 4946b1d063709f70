package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/segmenta/prospect-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	role              TEXT NOT NULL,
	market_id         TEXT,
	name              TEXT NOT NULL,
	cnpj              TEXT,
	site              TEXT,
	description       TEXT,
	product           TEXT,
	email             TEXT,
	phone             TEXT,
	city              TEXT,
	state             TEXT,
	cnae              TEXT,
	size              TEXT,
	linkedin          TEXT,
	instagram         TEXT,
	quality_score     INTEGER NOT NULL DEFAULT 0,
	quality_label     TEXT NOT NULL DEFAULT 'Poor',
	validation_status TEXT NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	name         TEXT NOT NULL,
	category     TEXT,
	segmentation TEXT,
	created_at   DATETIME NOT NULL,
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	project_id          TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	total_clients       INTEGER NOT NULL,
	processed_clients   INTEGER NOT NULL DEFAULT 0,
	success_clients     INTEGER NOT NULL DEFAULT 0,
	failed_clients      INTEGER NOT NULL DEFAULT 0,
	current_batch       INTEGER NOT NULL DEFAULT 0,
	total_batches       INTEGER NOT NULL,
	batch_size          INTEGER NOT NULL,
	checkpoint_interval INTEGER NOT NULL,
	eta_seconds         INTEGER NOT NULL DEFAULT 0,
	last_processed_id   TEXT,
	error_message       TEXT,
	started_at          DATETIME,
	paused_at           DATETIME,
	completed_at        DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_items (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	payload       TEXT NOT NULL,
	result        TEXT,
	error_message TEXT,
	created_at    DATETIME NOT NULL,
	started_at    DATETIME,
	completed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS registry_cache (
	cnpj       TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	source     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_project_role ON entities(project_id, role);
CREATE INDEX IF NOT EXISTS idx_markets_project ON markets(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_queue_items_project_status ON queue_items(project_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveEntity(ctx context.Context, role model.Role, e *model.Entity) error {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.New().String()
		e.CreatedAt = now
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.ValidationStatus == "" {
		e.ValidationStatus = model.ValidationPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, project_id, role, market_id, name, cnpj, site, description,
			product, email, phone, city, state, cnae, size, linkedin,
			instagram, quality_score, quality_label, validation_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			market_id = excluded.market_id,
			name = excluded.name,
			cnpj = excluded.cnpj,
			site = excluded.site,
			description = excluded.description,
			product = excluded.product,
			email = excluded.email,
			phone = excluded.phone,
			city = excluded.city,
			state = excluded.state,
			cnae = excluded.cnae,
			size = excluded.size,
			linkedin = excluded.linkedin,
			instagram = excluded.instagram,
			quality_score = excluded.quality_score,
			quality_label = excluded.quality_label,
			validation_status = excluded.validation_status,
			updated_at = excluded.updated_at`,
		e.ID, e.ProjectID, string(role), e.MarketID, e.Name, e.CNPJ, e.Site,
		e.Description, e.Product, e.Email, e.Phone, e.City, e.State, e.CNAE,
		e.Size, e.LinkedIn, e.Instagram, e.QualityScore, string(e.QualityLabel),
		string(e.ValidationStatus), e.CreatedAt, e.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save %s entity", role)
}

func (s *SQLiteStore) ListEntities(ctx context.Context, projectID string, role model.Role) ([]model.Entity, error) {
	// Stable order: job resume re-slices this list by processed offset.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(market_id, ''), name, COALESCE(cnpj, ''),
			COALESCE(site, ''), COALESCE(description, ''), COALESCE(product, ''),
			COALESCE(email, ''), COALESCE(phone, ''), COALESCE(city, ''),
			COALESCE(state, ''), COALESCE(cnae, ''), COALESCE(size, ''),
			COALESCE(linkedin, ''), COALESCE(instagram, ''),
			quality_score, quality_label, validation_status, created_at, updated_at
		FROM entities
		WHERE project_id = ? AND role = ?
		ORDER BY created_at, id`,
		projectID, string(role),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close() //nolint:errcheck

	var entities []model.Entity
	for rows.Next() {
		var e model.Entity
		var label, status string
		if err := rows.Scan(
			&e.ID, &e.ProjectID, &e.MarketID, &e.Name, &e.CNPJ, &e.Site,
			&e.Description, &e.Product, &e.Email, &e.Phone, &e.City, &e.State,
			&e.CNAE, &e.Size, &e.LinkedIn, &e.Instagram, &e.QualityScore,
			&label, &status, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		e.QualityLabel = model.QualityLabel(label)
		e.ValidationStatus = model.ValidationStatus(status)
		entities = append(entities, e)
	}
	return entities, eris.Wrap(rows.Err(), "sqlite: iterate entities")
}

func (s *SQLiteStore) CountEntities(ctx context.Context, projectID string, role model.Role) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE project_id = ? AND role = ?`,
		projectID, string(role),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count entities")
}

func (s *SQLiteStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markets (id, project_id, name, category, segmentation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.Name, m.Category, string(m.Segmentation), m.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: create market %s", m.Name)
}

func (s *SQLiteStore) ListMarkets(ctx context.Context, projectID string) ([]model.Market, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, COALESCE(category, ''), COALESCE(segmentation, ''), created_at
		 FROM markets WHERE project_id = ? ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list markets")
	}
	defer rows.Close() //nolint:errcheck

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		var seg string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Category, &seg, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan market")
		}
		m.Segmentation = model.Segmentation(seg)
		markets = append(markets, m)
	}
	return markets, eris.Wrap(rows.Err(), "sqlite: iterate markets")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, project_id, status, total_clients, processed_clients,
			success_clients, failed_clients, current_batch, total_batches,
			batch_size, checkpoint_interval, eta_seconds, last_processed_id,
			error_message, started_at, paused_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, string(job.Status), job.TotalClients,
		job.ProcessedClients, job.SuccessClients, job.FailedClients,
		job.CurrentBatch, job.TotalBatches, job.BatchSize,
		job.CheckpointInterval, job.ETASeconds, job.LastProcessedID,
		job.ErrorMessage, job.StartedAt, job.PausedAt, job.CompletedAt,
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: create job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, status, total_clients, processed_clients,
			success_clients, failed_clients, current_batch, total_batches,
			batch_size, checkpoint_interval, eta_seconds,
			COALESCE(last_processed_id, ''), COALESCE(error_message, ''),
			started_at, paused_at, completed_at, created_at, updated_at
		FROM jobs WHERE id = ?`,
		jobID,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: job %s not found", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, processed_clients = ?, success_clients = ?,
			failed_clients = ?, current_batch = ?, eta_seconds = ?,
			last_processed_id = ?, error_message = ?, started_at = ?,
			paused_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.ProcessedClients, job.SuccessClients,
		job.FailedClients, job.CurrentBatch, job.ETASeconds,
		job.LastProcessedID, job.ErrorMessage, job.StartedAt, job.PausedAt,
		job.CompletedAt, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `
		SELECT id, project_id, status, total_clients, processed_clients,
			success_clients, failed_clients, current_batch, total_batches,
			batch_size, checkpoint_interval, eta_seconds,
			COALESCE(last_processed_id, ''), COALESCE(error_message, ''),
			started_at, paused_at, completed_at, created_at, updated_at
		FROM jobs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) EnqueueItem(ctx context.Context, item *model.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = model.QueueItemPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_items (id, project_id, status, priority, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.ProjectID, string(item.Status), item.Priority,
		string(item.Payload), item.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue item")
}

func (s *SQLiteStore) PendingProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT project_id FROM queue_items WHERE status = ? ORDER BY project_id`,
		string(model.QueueItemPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending projects")
	}
	defer rows.Close() //nolint:errcheck

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project id")
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "sqlite: iterate projects")
}

func (s *SQLiteStore) DequeuePending(ctx context.Context, projectID string, limit int) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, status, priority, payload,
			COALESCE(result, ''), COALESCE(error_message, ''),
			created_at, started_at, completed_at
		FROM queue_items
		WHERE project_id = ? AND status = ?
		ORDER BY priority DESC, created_at, id
		LIMIT ?`,
		projectID, string(model.QueueItemPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue pending")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate queue items")
}

func (s *SQLiteStore) MarkItemProcessing(ctx context.Context, itemID string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(model.QueueItemProcessing), startedAt.UTC(), itemID, string(model.QueueItemPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark item processing %s", itemID)
	}
	return checkRowsAffected(res, "queue item", itemID)
}

func (s *SQLiteStore) CompleteItem(ctx context.Context, itemID string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		string(model.QueueItemCompleted), string(result), time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete item %s", itemID)
	}
	return checkRowsAffected(res, "queue item", itemID)
}

func (s *SQLiteStore) FailItem(ctx context.Context, itemID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(model.QueueItemError), message, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail item %s", itemID)
	}
	return checkRowsAffected(res, "queue item", itemID)
}

func (s *SQLiteStore) ClearCompleted(ctx context.Context, projectID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE project_id = ? AND status IN (?, ?)`,
		projectID, string(model.QueueItemCompleted), string(model.QueueItemError),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear completed")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, started_at = NULL
		 WHERE status = ? AND started_at < ?`,
		string(model.QueueItemPending), string(model.QueueItemProcessing), olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue stale")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, cnpj string) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT cnpj, payload, source, updated_at FROM registry_cache WHERE cnpj = ?`,
		cnpj,
	).Scan(&entry.CNPJ, &payload, &entry.Source, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache entry %s", cnpj)
	}
	entry.Payload = json.RawMessage(payload)
	return &entry, nil
}

func (s *SQLiteStore) SetCacheEntry(ctx context.Context, entry *model.CacheEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registry_cache (cnpj, payload, source, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cnpj) DO UPDATE SET
			payload = excluded.payload,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		entry.CNPJ, string(entry.Payload), entry.Source, entry.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: set cache entry %s", entry.CNPJ)
}

func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, cnpj string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM registry_cache WHERE cnpj = ?`, cnpj)
	return eris.Wrapf(err, "sqlite: delete cache entry %s", cnpj)
}

func (s *SQLiteStore) CacheStats(ctx context.Context) (*model.CacheStats, error) {
	var stats model.CacheStats
	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(updated_at), MAX(updated_at) FROM registry_cache`,
	).Scan(&stats.Count, &oldest, &newest)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	if oldest.Valid {
		stats.Oldest = &oldest.Time
	}
	if newest.Valid {
		stats.Newest = &newest.Time
	}
	return &stats, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	var status string
	var startedAt, pausedAt, completedAt sql.NullTime
	if err := row.Scan(
		&job.ID, &job.ProjectID, &status, &job.TotalClients,
		&job.ProcessedClients, &job.SuccessClients, &job.FailedClients,
		&job.CurrentBatch, &job.TotalBatches, &job.BatchSize,
		&job.CheckpointInterval, &job.ETASeconds, &job.LastProcessedID,
		&job.ErrorMessage, &startedAt, &pausedAt, &completedAt,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = model.JobStatus(status)
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if pausedAt.Valid {
		job.PausedAt = &pausedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func scanQueueItem(row rowScanner) (*model.QueueItem, error) {
	var item model.QueueItem
	var status, payload, result string
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(
		&item.ID, &item.ProjectID, &status, &item.Priority, &payload,
		&result, &item.ErrorMessage, &item.CreatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	item.Status = model.QueueItemStatus(status)
	item.Payload = json.RawMessage(payload)
	if result != "" {
		item.Result = json.RawMessage(result)
	}
	if startedAt.Valid {
		item.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return &item, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s %s not found", kind, id)
	}
	return nil
}
