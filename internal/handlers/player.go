package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/store"
)

// Skill penalties for non-duel deaths.
const (
	suicidePenalty  = 5
	teamkillPenalty = 10
)

type sessionKey struct {
	serverID int64
	playerID int64
}

// PlayerHandler maintains the per-player aggregate row: counters, streaks,
// connection time, and the skill values computed by the ranking handler.
type PlayerHandler struct {
	store  store.Store
	logger *zap.SugaredLogger

	// Connect timestamps per (server, player) so a disconnect without an
	// explicit session duration can still record one.
	mu       sync.Mutex
	sessions map[sessionKey]time.Time
}

func NewPlayerHandler(st store.Store, logger *zap.Logger) *PlayerHandler {
	return &PlayerHandler{
		store:    st,
		logger:   logger.Sugar(),
		sessions: make(map[sessionKey]time.Time),
	}
}

func (h *PlayerHandler) Name() string { return NamePlayer }

func (h *PlayerHandler) Handle(ctx context.Context, ev *models.GameEvent) error {
	switch data := ev.Data.(type) {
	case *models.ConnectData:
		return h.handleConnect(ctx, ev, data)
	case *models.DisconnectData:
		return h.handleDisconnect(ctx, ev, data)
	case *models.KillData:
		return h.handleKill(ctx, ev, data)
	case *models.SuicideData:
		return h.handleSuicide(ctx, ev, data)
	case *models.TeamkillData:
		return h.handleTeamkill(ctx, ev, data)
	default:
		return nil
	}
}

func (h *PlayerHandler) handleConnect(ctx context.Context, ev *models.GameEvent, data *models.ConnectData) error {
	h.mu.Lock()
	h.sessions[sessionKey{ev.ServerID, data.PlayerID}] = ev.Timestamp
	h.mu.Unlock()

	zero := int64(0)
	ts := ev.Timestamp
	return h.store.UpdatePlayerStats(ctx, data.PlayerID, models.StatsPatch{
		ConnectionTime: &zero,
		LastEvent:      &ts,
	})
}

func (h *PlayerHandler) handleDisconnect(ctx context.Context, ev *models.GameEvent, data *models.DisconnectData) error {
	if data.PlayerID == -1 {
		return fmt.Errorf("player not found: %d", data.PlayerID)
	}
	// Disconnects without a resolved identity are persisted but change no
	// aggregates.
	if data.PlayerID == 0 {
		return nil
	}

	duration := data.SessionDuration
	key := sessionKey{ev.ServerID, data.PlayerID}
	h.mu.Lock()
	if start, ok := h.sessions[key]; ok {
		if duration == 0 && ev.Timestamp.After(start) {
			duration = int64(ev.Timestamp.Sub(start).Seconds())
		}
		delete(h.sessions, key)
	}
	h.mu.Unlock()
	data.SessionDuration = duration

	ts := ev.Timestamp
	return h.store.UpdatePlayerStats(ctx, data.PlayerID, models.StatsPatch{
		ConnectionTime: &duration,
		LastEvent:      &ts,
	})
}

func (h *PlayerHandler) handleKill(ctx context.Context, ev *models.GameEvent, data *models.KillData) error {
	killer, err := h.store.GetPlayerStats(ctx, data.KillerID)
	if err != nil {
		return fmt.Errorf("could not find killer or victim player records: %w", err)
	}
	victim, err := h.store.GetPlayerStats(ctx, data.VictimID)
	if err != nil {
		return fmt.Errorf("could not find killer or victim player records: %w", err)
	}

	// The ranking handler ran first for this event; fall back to the live
	// ratings when it did not (direct handler invocation in tests).
	changes := data.Rating
	if len(changes) == 0 {
		changes = []models.RatingChange{
			{PlayerID: killer.PlayerID, NewRating: killer.Skill},
			{PlayerID: victim.PlayerID, NewRating: victim.Skill},
		}
	}
	killerSkill := skillFor(changes, killer.PlayerID, killer.Skill)
	victimSkill := skillFor(changes, victim.PlayerID, victim.Skill)

	ts := ev.Timestamp
	// Skill changes are stamped with the wall clock, not the log time, so a
	// replayed feed does not rewind them.
	now := time.Now()
	zero := 0
	killerStreak := killer.KillStreak + 1
	victimStreak := victim.DeathStreak + 1

	headshots := int64(0)
	if data.Headshot {
		headshots = 1
	}

	killerPatch := models.StatsPatch{
		Kills:           1,
		Headshots:       headshots,
		GamesPlayed:     1,
		Skill:           &killerSkill,
		KillStreak:      &killerStreak,
		DeathStreak:     &zero,
		LastEvent:       &ts,
		LastSkillChange: &now,
	}
	victimPatch := models.StatsPatch{
		Deaths:          1,
		GamesPlayed:     1,
		Skill:           &victimSkill,
		DeathStreak:     &victimStreak,
		KillStreak:      &zero,
		LastEvent:       &ts,
		LastSkillChange: &now,
	}

	// Both sides of the duel update atomically.
	return h.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.UpdatePlayerStats(ctx, killer.PlayerID, killerPatch); err != nil {
			return err
		}
		return tx.UpdatePlayerStats(ctx, victim.PlayerID, victimPatch)
	})
}

func skillFor(changes []models.RatingChange, playerID int64, fallback int) int {
	for _, ch := range changes {
		if ch.PlayerID == playerID {
			return ch.NewRating
		}
	}
	return fallback
}

func (h *PlayerHandler) handleSuicide(ctx context.Context, ev *models.GameEvent, data *models.SuicideData) error {
	stats, err := h.store.GetPlayerStats(ctx, data.PlayerID)
	if err != nil {
		return fmt.Errorf("player not found: %d: %w", data.PlayerID, err)
	}

	newSkill := stats.Skill - suicidePenalty
	if newSkill < models.MinSkill {
		newSkill = models.MinSkill
	}
	streak := stats.DeathStreak + 1
	zero := 0
	ts := ev.Timestamp
	now := time.Now()

	return h.store.UpdatePlayerStats(ctx, data.PlayerID, models.StatsPatch{
		Suicides:        1,
		Deaths:          1,
		Skill:           &newSkill,
		DeathStreak:     &streak,
		KillStreak:      &zero,
		LastEvent:       &ts,
		LastSkillChange: &now,
	})
}

func (h *PlayerHandler) handleTeamkill(ctx context.Context, ev *models.GameEvent, data *models.TeamkillData) error {
	killer, err := h.store.GetPlayerStats(ctx, data.KillerID)
	if err != nil {
		return fmt.Errorf("could not find killer or victim player records: %w", err)
	}
	victim, err := h.store.GetPlayerStats(ctx, data.VictimID)
	if err != nil {
		return fmt.Errorf("could not find killer or victim player records: %w", err)
	}

	newKillerSkill := killer.Skill - teamkillPenalty
	if newKillerSkill < models.MinSkill {
		newKillerSkill = models.MinSkill
	}
	zero := 0
	victimStreak := victim.DeathStreak + 1
	ts := ev.Timestamp
	now := time.Now()

	killerPatch := models.StatsPatch{
		Teamkills:       1,
		Skill:           &newKillerSkill,
		KillStreak:      &zero,
		LastEvent:       &ts,
		LastSkillChange: &now,
	}
	victimPatch := models.StatsPatch{
		Deaths:      1,
		DeathStreak: &victimStreak,
		KillStreak:  &zero,
		LastEvent:   &ts,
	}

	return h.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.UpdatePlayerStats(ctx, killer.PlayerID, killerPatch); err != nil {
			return err
		}
		return tx.UpdatePlayerStats(ctx, victim.PlayerID, victimPatch)
	})
}
