package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
)

// ErrNotFound is returned when no streamer matches the lookup
var ErrNotFound = errors.New("streamer not found")

// Streamer is the tenant record as persisted by the account service. This
// service only reads it; creation and lifecycle live elsewhere.
type Streamer struct {
	ID             string
	TwitchUserID   string
	TwitchUsername string
	Scopes         []string
}

// StreamerStore reads streamer records from Postgres. The overlay token
// lookup is the only query on the streaming hot path; everything else here
// serves the control plane.
type StreamerStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewStreamerStore creates a store over an existing connection pool
func NewStreamerStore(db *sql.DB, logger logging.Logger) *StreamerStore {
	return &StreamerStore{db: db, logger: logger}
}

// ResolveTenantByPublicToken maps an opaque overlay token to a streamer id.
// Returns ErrNotFound for unknown tokens.
func (s *StreamerStore) ResolveTenantByPublicToken(ctx context.Context, token string) (string, error) {
	var streamerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM streamers WHERE overlay_token = $1`,
		token,
	).Scan(&streamerID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve overlay token: %w", err)
	}

	return streamerID, nil
}

// ResolveTenantByBroadcasterID maps a provider broadcaster user id to a
// streamer id. Used when ingesting webhook notifications, which carry the
// provider identity rather than ours.
func (s *StreamerStore) ResolveTenantByBroadcasterID(ctx context.Context, broadcasterUserID string) (string, error) {
	var streamerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM streamers WHERE twitch_user_id = $1`,
		broadcasterUserID,
	).Scan(&streamerID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve broadcaster: %w", err)
	}

	return streamerID, nil
}

// GetStreamer loads one streamer record by id, including the authorization
// scopes captured at OAuth time.
func (s *StreamerStore) GetStreamer(ctx context.Context, streamerID string) (*Streamer, error) {
	streamer := &Streamer{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, twitch_user_id, twitch_username, scopes FROM streamers WHERE id = $1`,
		streamerID,
	).Scan(&streamer.ID, &streamer.TwitchUserID, &streamer.TwitchUsername, pq.Array(&streamer.Scopes))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load streamer: %w", err)
	}

	return streamer, nil
}
