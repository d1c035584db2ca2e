package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sift/internal/model"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const siftColumns = `id, user_id, url, normalized_url, platform, title, summary, content, tags, category, cover_image, is_archived, metadata, created_at, updated_at`

const (
	pgClaimSift = `INSERT INTO sifts (id, user_id, url, normalized_url, platform, title, summary, content, tags, category, cover_image, is_archived, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, '', '', '', '{}', '', '', FALSE, $6, $7, $7)
ON CONFLICT (user_id, normalized_url) WHERE NOT is_archived DO NOTHING`
	pgLiveSift     = `SELECT id FROM sifts WHERE user_id = $1 AND normalized_url = $2 AND NOT is_archived`
	pgPendingTaken = `SELECT EXISTS (SELECT 1 FROM sifts WHERE id = $1 AND NOT (user_id = $2 AND normalized_url = $3 AND NOT is_archived))`
	pgUpdateStatus = `UPDATE sifts SET metadata = jsonb_set(jsonb_set(metadata, '{status}', to_jsonb($1::text)), '{debug_info}', COALESCE(metadata->'debug_info', '[]'::jsonb) || $2::jsonb), updated_at = $3 WHERE id = $4`
	pgSaveSift     = `UPDATE sifts SET url = $1, normalized_url = $2, platform = $3, title = $4, summary = $5, content = $6, tags = $7, category = $8, cover_image = $9, metadata = $10, updated_at = $11 WHERE id = $12`
	pgGetSift      = `SELECT ` + siftColumns + ` FROM sifts WHERE id = $1 AND user_id = $2`
	pgGetShared    = `SELECT ` + siftColumns + ` FROM sifts WHERE id = $1`
	pgListSifts    = `SELECT ` + siftColumns + ` FROM sifts WHERE user_id = $1 AND is_archived = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
	pgSetArchived  = `UPDATE sifts SET is_archived = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`
	pgDeleteSift   = `DELETE FROM sifts WHERE id = $1 AND user_id = $2`
	pgCountCreated = `SELECT count(*) FROM sifts WHERE user_id = $1 AND created_at >= $2`
	pgGetProfile   = `SELECT user_id, tier, updated_at FROM profiles WHERE user_id = $1`
	pgSetTier      = `INSERT INTO profiles (user_id, tier, updated_at) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"claim_sift":    pgClaimSift,
	"live_sift":     pgLiveSift,
	"pending_taken": pgPendingTaken,
	"update_status": pgUpdateStatus,
	"save_sift":     pgSaveSift,
	"get_sift":      pgGetSift,
	"list_sifts":    pgListSifts,
	"count_created": pgCountCreated,
	"get_profile":   pgGetProfile,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare hot statements on each new connection once the schema exists.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('public.sifts') IS NOT NULL AND to_regclass('public.profiles') IS NOT NULL`).Scan(&exists); err != nil {
			return eris.Wrap(err, "postgres: check schema")
		}
		if !exists {
			return nil
		}
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sifts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id        TEXT NOT NULL,
	url            TEXT NOT NULL,
	normalized_url TEXT NOT NULL,
	platform       TEXT NOT NULL DEFAULT 'web',
	title          TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	tags           TEXT[] NOT NULL DEFAULT '{}',
	category       TEXT NOT NULL DEFAULT '',
	cover_image    TEXT NOT NULL DEFAULT '',
	is_archived    BOOLEAN NOT NULL DEFAULT FALSE,
	metadata       JSONB NOT NULL DEFAULT '{"status":"received","debug_info":[]}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sifts_user_url_live ON sifts(user_id, normalized_url) WHERE NOT is_archived;
CREATE INDEX IF NOT EXISTS idx_sifts_user_created ON sifts(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sifts_user_archived ON sifts(user_id, is_archived);

CREATE TABLE IF NOT EXISTS profiles (
	user_id    TEXT PRIMARY KEY,
	tier       TEXT NOT NULL DEFAULT 'free',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ClaimSift(ctx context.Context, sf *model.Sift) (string, bool, error) {
	id := sf.ID
	if id != "" {
		var taken bool
		if err := s.pool.QueryRow(ctx, pgPendingTaken, id, sf.UserID, sf.NormalizedURL).Scan(&taken); err != nil {
			return "", false, eris.Wrap(err, "postgres: check pending id")
		}
		if taken {
			zap.L().Warn("store: pending id already in use, generating a new one", zap.String("pending_id", id))
			id = ""
		}
	}
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	meta := sf.Metadata
	if meta.Status == "" {
		meta.Status = model.StatusReceived
	}
	metaJSON, err := encodeMetadata(meta)
	if err != nil {
		return "", false, eris.Wrap(err, "postgres: claim sift")
	}

	if _, err := s.pool.Exec(ctx, pgClaimSift,
		id, sf.UserID, sf.URL, sf.NormalizedURL, string(sf.Platform), metaJSON, now,
	); err != nil {
		return "", false, eris.Wrap(err, "postgres: claim sift")
	}

	var liveID string
	if err := s.pool.QueryRow(ctx, pgLiveSift, sf.UserID, sf.NormalizedURL).Scan(&liveID); err != nil {
		return "", false, eris.Wrap(err, "postgres: select live sift")
	}
	return liveID, liveID != id, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status model.Status, entry model.DebugEntry) error {
	entryJSON, err := json.Marshal([]model.DebugEntry{entry})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal debug entry")
	}

	tag, err := s.pool.Exec(ctx, pgUpdateStatus, string(status), entryJSON, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("postgres: update status", id)
	}
	return nil
}

func (s *PostgresStore) SaveSift(ctx context.Context, sf *model.Sift) error {
	metaJSON, err := encodeMetadata(sf.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: save sift")
	}
	tags := sf.Tags
	if tags == nil {
		tags = []string{}
	}

	tag, err := s.pool.Exec(ctx, pgSaveSift,
		sf.URL, sf.NormalizedURL, string(sf.Platform), sf.Title, sf.Summary, sf.Content,
		tags, sf.Category, sf.CoverImage, metaJSON, time.Now().UTC(), sf.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save sift %s", sf.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("postgres: save sift", sf.ID)
	}
	return nil
}

func (s *PostgresStore) GetSift(ctx context.Context, id, userID string) (*model.Sift, error) {
	sf, err := scanPgSift(s.pool.QueryRow(ctx, pgGetSift, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("postgres: get sift", id)
	}
	return sf, eris.Wrapf(err, "postgres: get sift %s", id)
}

func (s *PostgresStore) GetShared(ctx context.Context, id string) (*model.Sift, error) {
	sf, err := scanPgSift(s.pool.QueryRow(ctx, pgGetShared, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("postgres: get shared sift", id)
	}
	return sf, eris.Wrapf(err, "postgres: get shared sift %s", id)
}

func (s *PostgresStore) ListSifts(ctx context.Context, filter SiftFilter) ([]model.Sift, error) {
	rows, err := s.pool.Query(ctx, pgListSifts, filter.UserID, filter.Archived, listLimit(filter), filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sifts")
	}
	defer rows.Close()

	out := []model.Sift{}
	for rows.Next() {
		sf, err := scanPgSift(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan sift")
		}
		out = append(out, *sf)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sifts")
}

func (s *PostgresStore) SetArchived(ctx context.Context, id, userID string, archived bool) error {
	tag, err := s.pool.Exec(ctx, pgSetArchived, archived, time.Now().UTC(), id, userID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set archived %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("postgres: set archived", id)
	}
	return nil
}

func (s *PostgresStore) DeleteSift(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, pgDeleteSift, id, userID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete sift %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("postgres: delete sift", id)
	}
	return nil
}

func (s *PostgresStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, pgCountCreated, userID, since.UTC()).Scan(&n)
	return n, eris.Wrap(err, "postgres: count created")
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	var tier string
	err := s.pool.QueryRow(ctx, pgGetProfile, userID).Scan(&p.UserID, &tier, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("postgres: get profile", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get profile %s", userID)
	}
	p.Tier = model.ParseTier(tier)
	return &p, nil
}

func (s *PostgresStore) SetTier(ctx context.Context, userID string, tier model.Tier) error {
	if !tier.Valid() {
		return eris.Errorf("postgres: invalid tier %q", tier)
	}
	_, err := s.pool.Exec(ctx, pgSetTier, userID, string(tier), time.Now().UTC())
	return eris.Wrapf(err, "postgres: set tier %s", userID)
}

func scanPgSift(row pgx.Row) (*model.Sift, error) {
	var (
		sf       model.Sift
		platform string
		metaJSON []byte
	)
	if err := row.Scan(
		&sf.ID, &sf.UserID, &sf.URL, &sf.NormalizedURL, &platform,
		&sf.Title, &sf.Summary, &sf.Content, &sf.Tags, &sf.Category, &sf.CoverImage,
		&sf.IsArchived, &metaJSON, &sf.CreatedAt, &sf.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sf.Platform = model.Platform(platform)
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	sf.Metadata = meta
	return &sf, nil
}
