package handlers

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/weapons"
)

func TestWeaponHandleKill(t *testing.T) {
	type usage struct {
		game, weapon string
		killerID     int64
		headshot     bool
	}
	var recorded []usage
	st := &MockStore{
		RecordWeaponUsageFunc: func(ctx context.Context, game, weapon string, killerID, victimID int64, headshot bool) error {
			recorded = append(recorded, usage{game, weapon, killerID, headshot})
			return nil
		},
	}
	catalog := weapons.NewCatalog(st, zap.NewNop())
	h := NewWeaponHandler(st, catalog, zap.NewNop())

	ev := &models.GameEvent{
		Type:     models.EventPlayerKill,
		ServerID: 1,
		Game:     "cstrike",
		Data:     &models.KillData{KillerID: 1, VictimID: 2, Weapon: "awp", Headshot: true},
	}
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(recorded) != 1 {
		t.Fatalf("usages = %d, want 1", len(recorded))
	}
	got := recorded[0]
	if got.weapon != "awp" || got.game != "cstrike" || got.killerID != 1 || !got.headshot {
		t.Errorf("usage = %+v", got)
	}
}

func TestWeaponIgnoresNonKillEvents(t *testing.T) {
	st := &MockStore{
		RecordWeaponUsageFunc: func(ctx context.Context, game, weapon string, killerID, victimID int64, headshot bool) error {
			t.Error("usage recorded for non-kill event")
			return nil
		},
	}
	catalog := weapons.NewCatalog(st, zap.NewNop())
	h := NewWeaponHandler(st, catalog, zap.NewNop())

	ev := &models.GameEvent{
		Type: models.EventChatMessage,
		Data: &models.ChatData{PlayerID: 1, Message: "gg"},
	}
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}
