package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/segmenta/prospect-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS markets (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	name         TEXT NOT NULL,
	category     TEXT,
	segmentation TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
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
	started_at          TIMESTAMPTZ,
	paused_at           TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_items (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 0,
	payload       JSONB NOT NULL,
	result        JSONB,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS registry_cache (
	cnpj       TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	source     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_project_role ON entities(project_id, role);
CREATE INDEX IF NOT EXISTS idx_markets_project ON markets(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_project ON jobs(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_queue_items_project_status ON queue_items(project_id, status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveEntity(ctx context.Context, role model.Role, e *model.Entity) error {
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO entities (
			id, project_id, role, market_id, name, cnpj, site, description,
			product, email, phone, city, state, cnae, size, linkedin,
			instagram, quality_score, quality_label, validation_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			market_id = EXCLUDED.market_id,
			name = EXCLUDED.name,
			cnpj = EXCLUDED.cnpj,
			site = EXCLUDED.site,
			description = EXCLUDED.description,
			product = EXCLUDED.product,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			cnae = EXCLUDED.cnae,
			size = EXCLUDED.size,
			linkedin = EXCLUDED.linkedin,
			instagram = EXCLUDED.instagram,
			quality_score = EXCLUDED.quality_score,
			quality_label = EXCLUDED.quality_label,
			validation_status = EXCLUDED.validation_status,
			updated_at = EXCLUDED.updated_at`,
		e.ID, e.ProjectID, string(role), e.MarketID, e.Name, e.CNPJ, e.Site,
		e.Description, e.Product, e.Email, e.Phone, e.City, e.State, e.CNAE,
		e.Size, e.LinkedIn, e.Instagram, e.QualityScore, string(e.QualityLabel),
		string(e.ValidationStatus), e.CreatedAt, e.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save %s entity", role)
}

func (s *PostgresStore) ListEntities(ctx context.Context, projectID string, role model.Role) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, COALESCE(market_id, ''), name, COALESCE(cnpj, ''),
			COALESCE(site, ''), COALESCE(description, ''), COALESCE(product, ''),
			COALESCE(email, ''), COALESCE(phone, ''), COALESCE(city, ''),
			COALESCE(state, ''), COALESCE(cnae, ''), COALESCE(size, ''),
			COALESCE(linkedin, ''), COALESCE(instagram, ''),
			quality_score, quality_label, validation_status, created_at, updated_at
		FROM entities
		WHERE project_id = $1 AND role = $2
		ORDER BY created_at, id`,
		projectID, string(role),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

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
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		e.QualityLabel = model.QualityLabel(label)
		e.ValidationStatus = model.ValidationStatus(status)
		entities = append(entities, e)
	}
	return entities, eris.Wrap(rows.Err(), "postgres: iterate entities")
}

func (s *PostgresStore) CountEntities(ctx context.Context, projectID string, role model.Role) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM entities WHERE project_id = $1 AND role = $2`,
		projectID, string(role),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count entities")
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, project_id, name, category, segmentation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ProjectID, m.Name, m.Category, string(m.Segmentation), m.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: create market %s", m.Name)
}

func (s *PostgresStore) ListMarkets(ctx context.Context, projectID string) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, COALESCE(category, ''), COALESCE(segmentation, ''), created_at
		 FROM markets WHERE project_id = $1 ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list markets")
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		var seg string
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Name, &m.Category, &seg, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan market")
		}
		m.Segmentation = model.Segmentation(seg)
		markets = append(markets, m)
	}
	return markets, eris.Wrap(rows.Err(), "postgres: iterate markets")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, project_id, status, total_clients, processed_clients,
			success_clients, failed_clients, current_batch, total_batches,
			batch_size, checkpoint_interval, eta_seconds, last_processed_id,
			error_message, started_at, paused_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19)`,
		job.ID, job.ProjectID, string(job.Status), job.TotalClients,
		job.ProcessedClients, job.SuccessClients, job.FailedClients,
		job.CurrentBatch, job.TotalBatches, job.BatchSize,
		job.CheckpointInterval, job.ETASeconds, job.LastProcessedID,
		job.ErrorMessage, job.StartedAt, job.PausedAt, job.CompletedAt,
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: create job")
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, status, total_clients, processed_clients,
			success_clients, failed_clients, current_batch, total_batches,
			batch_size, checkpoint_interval, eta_seconds,
			COALESCE(last_processed_id, ''), COALESCE(error_message, ''),
			started_at, paused_at, completed_at, created_at, updated_at
		FROM jobs WHERE id = $1`,
		jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("postgres: job %s not found", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = $1, processed_clients = $2, success_clients = $3,
			failed_clients = $4, current_batch = $5, eta_seconds = $6,
			last_processed_id = $7, error_message = $8, started_at = $9,
			paused_at = $10, completed_at = $11, updated_at = $12
		WHERE id = $13`,
		string(job.Status), job.ProcessedClients, job.SuccessClients,
		job.FailedClients, job.CurrentBatch, job.ETASeconds,
		job.LastProcessedID, job.ErrorMessage, job.StartedAt, job.PausedAt,
		job.CompletedAt, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s not found", job.ID)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `
		SELECT id, project_id, status, total_clients, processed_clients,
			success_clients, failed_clients, current_batch, total_batches,
			batch_size, checkpoint_interval, eta_seconds,
			COALESCE(last_processed_id, ''), COALESCE(error_message, ''),
			started_at, paused_at, completed_at, created_at, updated_at
		FROM jobs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += ` AND project_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) EnqueueItem(ctx context.Context, item *model.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = model.QueueItemPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queue_items (id, project_id, status, priority, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.ProjectID, string(item.Status), item.Priority,
		string(item.Payload), item.CreatedAt,
	)
	return eris.Wrap(err, "postgres: enqueue item")
}

func (s *PostgresStore) PendingProjects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT project_id FROM queue_items WHERE status = $1 ORDER BY project_id`,
		string(model.QueueItemPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending projects")
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project id")
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "postgres: iterate projects")
}

func (s *PostgresStore) DequeuePending(ctx context.Context, projectID string, limit int) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, status, priority, payload,
			COALESCE(result::text, ''), COALESCE(error_message, ''),
			created_at, started_at, completed_at
		FROM queue_items
		WHERE project_id = $1 AND status = $2
		ORDER BY priority DESC, created_at, id
		LIMIT $3`,
		projectID, string(model.QueueItemPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue pending")
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate queue items")
}

func (s *PostgresStore) MarkItemProcessing(ctx context.Context, itemID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		string(model.QueueItemProcessing), startedAt.UTC(), itemID, string(model.QueueItemPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark item processing %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: queue item %s not found", itemID)
	}
	return nil
}

func (s *PostgresStore) CompleteItem(ctx context.Context, itemID string, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = $1, result = $2, completed_at = $3 WHERE id = $4`,
		string(model.QueueItemCompleted), string(result), time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete item %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: queue item %s not found", itemID)
	}
	return nil
}

func (s *PostgresStore) FailItem(ctx context.Context, itemID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		string(model.QueueItemError), message, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail item %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: queue item %s not found", itemID)
	}
	return nil
}

func (s *PostgresStore) ClearCompleted(ctx context.Context, projectID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queue_items WHERE project_id = $1 AND status IN ($2, $3)`,
		projectID, string(model.QueueItemCompleted), string(model.QueueItemError),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear completed")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = $1, started_at = NULL
		 WHERE status = $2 AND started_at < $3`,
		string(model.QueueItemPending), string(model.QueueItemProcessing), olderThan.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue stale")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, cnpj string) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	var payload string
	err := s.pool.QueryRow(ctx,
		`SELECT cnpj, payload::text, source, updated_at FROM registry_cache WHERE cnpj = $1`,
		cnpj,
	).Scan(&entry.CNPJ, &payload, &entry.Source, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache entry %s", cnpj)
	}
	entry.Payload = json.RawMessage(payload)
	return &entry, nil
}

func (s *PostgresStore) SetCacheEntry(ctx context.Context, entry *model.CacheEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registry_cache (cnpj, payload, source, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cnpj) DO UPDATE SET
			payload = EXCLUDED.payload,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at`,
		entry.CNPJ, string(entry.Payload), entry.Source, entry.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: set cache entry %s", entry.CNPJ)
}

func (s *PostgresStore) DeleteCacheEntry(ctx context.Context, cnpj string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM registry_cache WHERE cnpj = $1`, cnpj)
	return eris.Wrapf(err, "postgres: delete cache entry %s", cnpj)
}

func (s *PostgresStore) CacheStats(ctx context.Context) (*model.CacheStats, error) {
	var stats model.CacheStats
	var oldest, newest sql.NullTime
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(updated_at), MAX(updated_at) FROM registry_cache`,
	).Scan(&stats.Count, &oldest, &newest)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	if oldest.Valid {
		stats.Oldest = &oldest.Time
	}
	if newest.Valid {
		stats.Newest = &newest.Time
	}
	return &stats, nil
}
