package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sift/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Tags and metadata
// are stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers and keeps per-connection
	// pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sifts (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	url            TEXT NOT NULL,
	normalized_url TEXT NOT NULL,
	platform       TEXT NOT NULL DEFAULT 'web',
	title          TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	tags           TEXT NOT NULL DEFAULT '[]',
	category       TEXT NOT NULL DEFAULT '',
	cover_image    TEXT NOT NULL DEFAULT '',
	is_archived    INTEGER NOT NULL DEFAULT 0,
	metadata       TEXT NOT NULL DEFAULT '{"status":"received","debug_info":[]}',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sifts_user_url_live ON sifts(user_id, normalized_url) WHERE is_archived = 0;
CREATE INDEX IF NOT EXISTS idx_sifts_user_created ON sifts(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sifts_user_archived ON sifts(user_id, is_archived);

CREATE TABLE IF NOT EXISTS profiles (
	user_id    TEXT PRIMARY KEY,
	tier       TEXT NOT NULL DEFAULT 'free',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

const sqliteSiftColumns = `id, user_id, url, normalized_url, platform, title, summary, content, tags, category, cover_image, is_archived, metadata, created_at, updated_at`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ClaimSift(ctx context.Context, sf *model.Sift) (string, bool, error) {
	id := sf.ID
	if id != "" {
		var taken int
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sifts WHERE id = ? AND NOT (user_id = ? AND normalized_url = ? AND is_archived = 0))`,
			id, sf.UserID, sf.NormalizedURL,
		).Scan(&taken)
		if err != nil {
			return "", false, eris.Wrap(err, "sqlite: check pending id")
		}
		if taken != 0 {
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
		return "", false, eris.Wrap(err, "sqlite: claim sift")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sifts (id, user_id, url, normalized_url, platform, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, normalized_url) WHERE is_archived = 0 DO NOTHING`,
		id, sf.UserID, sf.URL, sf.NormalizedURL, string(sf.Platform), string(metaJSON), now, now,
	)
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: claim sift")
	}

	var liveID string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM sifts WHERE user_id = ? AND normalized_url = ? AND is_archived = 0`,
		sf.UserID, sf.NormalizedURL,
	).Scan(&liveID)
	if err != nil {
		return "", false, eris.Wrap(err, "sqlite: select live sift")
	}
	return liveID, liveID != id, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.Status, entry model.DebugEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update status")
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM sifts WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("sqlite: update status", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read metadata %s", id)
	}

	meta, err := decodeMetadata([]byte(raw))
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}
	meta.Status = status
	meta.DebugInfo = append(meta.DebugInfo, entry)
	metaJSON, err := encodeMetadata(meta)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sifts SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), time.Now().UTC(), id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit update status")
}

func (s *SQLiteStore) SaveSift(ctx context.Context, sf *model.Sift) error {
	metaJSON, err := encodeMetadata(sf.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: save sift")
	}
	tagsJSON, err := encodeTags(sf.Tags)
	if err != nil {
		return eris.Wrap(err, "sqlite: save sift")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sifts SET url = ?, normalized_url = ?, platform = ?, title = ?, summary = ?, content = ?,
		 tags = ?, category = ?, cover_image = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		sf.URL, sf.NormalizedURL, string(sf.Platform), sf.Title, sf.Summary, sf.Content,
		string(tagsJSON), sf.Category, sf.CoverImage, string(metaJSON), time.Now().UTC(), sf.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save sift %s", sf.ID)
	}
	return checkRowsAffected(res, "sqlite: save sift", sf.ID)
}

func (s *SQLiteStore) GetSift(ctx context.Context, id, userID string) (*model.Sift, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSiftColumns+` FROM sifts WHERE id = ? AND user_id = ?`, id, userID)
	sf, err := scanSQLiteSift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sqlite: get sift", id)
	}
	return sf, eris.Wrapf(err, "sqlite: get sift %s", id)
}

func (s *SQLiteStore) GetShared(ctx context.Context, id string) (*model.Sift, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSiftColumns+` FROM sifts WHERE id = ?`, id)
	sf, err := scanSQLiteSift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sqlite: get shared sift", id)
	}
	return sf, eris.Wrapf(err, "sqlite: get shared sift %s", id)
}

func (s *SQLiteStore) ListSifts(ctx context.Context, filter SiftFilter) ([]model.Sift, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSiftColumns+` FROM sifts WHERE user_id = ? AND is_archived = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		filter.UserID, filter.Archived, listLimit(filter), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sifts")
	}
	defer func() { _ = rows.Close() }()

	out := []model.Sift{}
	for rows.Next() {
		sf, err := scanSQLiteSift(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sift")
		}
		out = append(out, *sf)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sifts")
}

func (s *SQLiteStore) SetArchived(ctx context.Context, id, userID string, archived bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sifts SET is_archived = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		archived, time.Now().UTC(), id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set archived %s", id)
	}
	return checkRowsAffected(res, "sqlite: set archived", id)
}

func (s *SQLiteStore) DeleteSift(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sifts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete sift %s", id)
	}
	return checkRowsAffected(res, "sqlite: delete sift", id)
}

func (s *SQLiteStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sifts WHERE user_id = ? AND created_at >= ?`,
		userID, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count created")
}

func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	var tier string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, tier, updated_at FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &tier, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sqlite: get profile", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile %s", userID)
	}
	p.Tier = model.ParseTier(tier)
	return &p, nil
}

func (s *SQLiteStore) SetTier(ctx context.Context, userID string, tier model.Tier) error {
	if !tier.Valid() {
		return eris.Errorf("sqlite: invalid tier %q", tier)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, tier, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at`,
		userID, string(tier), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set tier %s", userID)
}

func checkRowsAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(op, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteSift(row scannable) (*model.Sift, error) {
	var (
		sf                 model.Sift
		platform           string
		tagsJSON, metaJSON string
	)
	if err := row.Scan(
		&sf.ID, &sf.UserID, &sf.URL, &sf.NormalizedURL, &platform,
		&sf.Title, &sf.Summary, &sf.Content, &tagsJSON, &sf.Category, &sf.CoverImage,
		&sf.IsArchived, &metaJSON, &sf.CreatedAt, &sf.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sf.Platform = model.Platform(platform)
	if err := json.Unmarshal([]byte(tagsJSON), &sf.Tags); err != nil {
		return nil, eris.Wrap(err, "unmarshal tags")
	}
	meta, err := decodeMetadata([]byte(metaJSON))
	if err != nil {
		return nil, err
	}
	sf.Metadata = meta
	return &sf, nil
}
