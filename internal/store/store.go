// Package store defines the typed persistence operations the collector
// consumes, and implements them over Postgres. The relational schema itself
// is owned externally; this package targets the logical tables only.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sourcestats/collector/internal/models"
)

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrNestedTransaction is returned when Transaction is called from inside a
// transaction scope.
var ErrNestedTransaction = errors.New("store: nested transaction")

// Participant is a player recently active on a server, with the last team
// they were seen on.
type Participant struct {
	PlayerID int64
	Team     string
}

// Store is the persistence contract consumed by the ingress, processor and
// handlers. Every call may fail with a transient I/O error, which propagates.
type Store interface {
	// GetServerByAddress resolves a sending endpoint to a registered server.
	// Returns ErrNotFound for unknown endpoints.
	GetServerByAddress(ctx context.Context, ip string, port int) (*models.Server, error)

	// AutoRegisterDevServer registers an unknown endpoint (dev mode only).
	// It must survive a concurrent-insert race by re-reading.
	AutoRegisterDevServer(ctx context.Context, ip string, port int) (*models.Server, error)

	// GetOrCreatePlayer binds a (uniqueID, game) pair to a player id,
	// creating the player row on first appearance and refreshing the last
	// seen name.
	GetOrCreatePlayer(ctx context.Context, uniqueID, playerName, game string) (int64, error)

	// GetPlayerStats returns the aggregate row, or ErrNotFound.
	GetPlayerStats(ctx context.Context, playerID int64) (*models.PlayerStats, error)

	// UpdatePlayerStats applies a partial patch: numeric fields increment,
	// pointer fields assign.
	UpdatePlayerStats(ctx context.Context, playerID int64, patch models.StatsPatch) error

	// CreateGameEvent persists the event into its per-type table.
	CreateGameEvent(ctx context.Context, ev *models.GameEvent) error

	// RecordWeaponUsage upserts one usage row of the per-weapon aggregates.
	RecordWeaponUsage(ctx context.Context, game, weapon string, killerID, victimID int64, headshot bool) error

	// WeaponModifier returns the per-game skill multiplier override for a
	// weapon; ok is false when no override exists.
	WeaponModifier(ctx context.Context, game, weapon string) (mult float64, ok bool, err error)

	// RecentParticipants lists players with events on the server within the
	// window, with their last seen team.
	RecentParticipants(ctx context.Context, serverID int64, window time.Duration) ([]Participant, error)

	// CreateMatchSummary persists a finalized per-map aggregate.
	CreateMatchSummary(ctx context.Context, m *models.MatchStats) error

	// Transaction runs fn atomically. The Store passed to fn exposes the
	// same operations except nested transactions.
	Transaction(ctx context.Context, fn func(Store) error) error
}
