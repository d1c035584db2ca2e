// Package store persists sifts and user profiles in PostgreSQL or SQLite.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sift/internal/model"
)

// SiftFilter specifies criteria for listing a user's sifts.
type SiftFilter struct {
	UserID   string `json:"user_id"`
	Archived bool   `json:"archived"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// DefaultListLimit caps ListSifts when the filter sets no limit.
const DefaultListLimit = 100

// Store defines the persistence interface for the sift pipeline.
type Store interface {
	// Sifts

	// ClaimSift inserts s unless the user already has a live (unarchived)
	// record for s.NormalizedURL, and returns the id of the live record.
	// existing is true when the record was already there. s.ID may carry a
	// client-supplied pending id; when empty a new id is generated.
	ClaimSift(ctx context.Context, s *model.Sift) (id string, existing bool, err error)
	// UpdateStatus sets metadata.status and appends entry to the debug trail.
	UpdateStatus(ctx context.Context, id string, status model.Status, entry model.DebugEntry) error
	// SaveSift overwrites every mutable field of the record with id s.ID.
	SaveSift(ctx context.Context, s *model.Sift) error
	GetSift(ctx context.Context, id, userID string) (*model.Sift, error)
	// GetShared fetches a sift by id alone for read-only sharing.
	GetShared(ctx context.Context, id string) (*model.Sift, error)
	ListSifts(ctx context.Context, filter SiftFilter) ([]model.Sift, error)
	SetArchived(ctx context.Context, id, userID string, archived bool) error
	DeleteSift(ctx context.Context, id, userID string) error
	// CountCreatedSince counts the user's sifts created at or after since,
	// archived or not.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// Profiles
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	SetTier(ctx context.Context, userID string, tier model.Tier) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(f SiftFilter) int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func encodeTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	return b, eris.Wrap(err, "marshal tags")
}

func encodeMetadata(m model.Metadata) ([]byte, error) {
	if m.DebugInfo == nil {
		m.DebugInfo = []model.DebugEntry{}
	}
	b, err := json.Marshal(m)
	return b, eris.Wrap(err, "marshal metadata")
}

func decodeMetadata(b []byte) (model.Metadata, error) {
	var m model.Metadata
	if len(b) == 0 {
		return m, nil
	}
	err := json.Unmarshal(b, &m)
	return m, eris.Wrap(err, "unmarshal metadata")
}

func notFound(op, id string) error {
	return eris.Wrapf(model.ErrNotFound, "%s %s", op, id)
}
