package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/store"
	"github.com/sourcestats/collector/internal/weapons"
)

// WeaponHandler accumulates per-weapon usage rows from frag events.
type WeaponHandler struct {
	store   store.Store
	catalog *weapons.Catalog
	logger  *zap.SugaredLogger
}

func NewWeaponHandler(st store.Store, catalog *weapons.Catalog, logger *zap.Logger) *WeaponHandler {
	return &WeaponHandler{
		store:   st,
		catalog: catalog,
		logger:  logger.Sugar(),
	}
}

func (h *WeaponHandler) Name() string { return NameWeapon }

func (h *WeaponHandler) Handle(ctx context.Context, ev *models.GameEvent) error {
	data, ok := ev.Data.(*models.KillData)
	if !ok {
		return nil
	}

	if err := h.store.RecordWeaponUsage(ctx, ev.Game, data.Weapon, data.KillerID, data.VictimID, data.Headshot); err != nil {
		return err
	}

	// Estimated damage for the frag, scaled by weapon and hit location.
	// Real damage is not in the log line.
	damage := h.catalog.DamageMultiplier(data.Weapon, data.Headshot)

	h.logger.Debugw("weapon usage recorded",
		"server_id", ev.ServerID,
		"weapon", data.Weapon,
		"headshot", data.Headshot,
		"damage", damage,
		"weaponsAffected", 1,
	)
	return nil
}
