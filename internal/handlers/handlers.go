// Package handlers implements the domain side of event processing: player
// counters and streaks, weapon usage, per-server match state, and the
// rating algorithm. Handlers are invoked by the processor in a fixed order
// per event type.
package handlers

import (
	"context"

	"github.com/sourcestats/collector/internal/models"
)

// Handler names used in the processor's dispatch table.
const (
	NamePlayer  = "player"
	NameWeapon  = "weapon"
	NameMatch   = "match"
	NameRanking = "ranking"
)

// Handler processes one event variant's side effects. Errors propagate to
// the processor, which fails the event.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev *models.GameEvent) error
}
