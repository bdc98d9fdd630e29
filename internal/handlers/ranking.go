package handlers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/store"
)

const (
	baseKFactor = 32.0

	// Per-kill delta bounds.
	maxKillGain = 50
	maxKillLoss = -40

	// Losing a duel costs less than winning gains.
	loserDamping = 0.8

	headshotBonus = 1.2

	// Round participation bonus for the winning team.
	roundBonus = 2

	// Participant window when the round carries no duration.
	defaultRoundWindow = 3 * time.Minute
)

// WeaponRater is the catalog slice the ranking handler consumes.
type WeaponRater interface {
	SkillMultiplier(ctx context.Context, game, weapon string) float64
}

// Presence lists players recently active on a server. A nil Presence makes
// the handler fall back to the store's recent-participants query.
type Presence interface {
	Active(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error)
}

// RankingHandler computes ELO-style rating changes. It holds no state of its
// own: ratings live on the player rows, and kill deltas travel to the player
// handler inside the event being processed.
type RankingHandler struct {
	store    store.Store
	catalog  WeaponRater
	presence Presence
	logger   *zap.SugaredLogger
}

func NewRankingHandler(st store.Store, catalog WeaponRater, presence Presence, logger *zap.Logger) *RankingHandler {
	return &RankingHandler{
		store:    st,
		catalog:  catalog,
		presence: presence,
		logger:   logger.Sugar(),
	}
}

func (h *RankingHandler) Name() string { return NameRanking }

func (h *RankingHandler) Handle(ctx context.Context, ev *models.GameEvent) error {
	switch data := ev.Data.(type) {
	case *models.KillData:
		return h.rateKill(ctx, ev, data)
	case *models.RoundEndData:
		return h.rateRound(ctx, ev, data)
	default:
		return nil
	}
}

// CalculateExpectedScore is the logistic win expectancy of a versus b.
func CalculateExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// kFactor adjusts responsiveness per player: fresh players move fast,
// established high-rated players move slowly.
func kFactor(r models.SkillRating) float64 {
	switch {
	case r.GamesPlayed < 10:
		return baseKFactor * 1.5
	case r.GamesPlayed < 50:
		return baseKFactor * 1.2
	case r.Rating > 2000:
		return baseKFactor * 0.8
	default:
		return baseKFactor
	}
}

// rateKill computes both deltas for a kill and attaches them to the event
// for the player handler, which persists the new skills.
func (h *RankingHandler) rateKill(ctx context.Context, ev *models.GameEvent, data *models.KillData) error {
	killer, err := h.ratingFor(ctx, data.KillerID)
	if err != nil {
		return err
	}
	victim, err := h.ratingFor(ctx, data.VictimID)
	if err != nil {
		return err
	}

	changes := RateKill(killer, victim,
		h.catalog.SkillMultiplier(ctx, ev.Game, data.Weapon),
		data.Weapon, data.Headshot)
	data.Rating = changes

	for _, ch := range changes {
		h.logger.Debugw("rating change",
			"player", ch.PlayerID, "old", ch.OldRating, "new", ch.NewRating, "reason", ch.Reason)
	}
	return nil
}

// RateKill is the pure rating computation for one kill. Exposed for the
// player handler path and for tests.
func RateKill(killer, victim models.SkillRating, weaponMult float64, weapon string, headshot bool) []models.RatingChange {
	expected := CalculateExpectedScore(float64(killer.Rating), float64(victim.Rating))

	bonus := 1.0
	reason := "kill with " + strings.ToLower(weapon)
	if headshot {
		bonus = headshotBonus
		reason += " (headshot)"
	}

	gain := int(math.Round(kFactor(killer) * (1 - expected) * weaponMult * bonus))
	if gain > maxKillGain {
		gain = maxKillGain
	}
	loss := int(math.Round(kFactor(victim) * (0 - (1 - expected)) * loserDamping))
	if loss < maxKillLoss {
		loss = maxKillLoss
	}

	newKiller := models.ClampSkill(killer.Rating + gain)
	newVictim := models.ClampSkill(victim.Rating + loss)

	return []models.RatingChange{
		{
			PlayerID:  killer.PlayerID,
			OldRating: killer.Rating,
			NewRating: newKiller,
			Change:    newKiller - killer.Rating,
			Reason:    reason,
		},
		{
			PlayerID:  victim.PlayerID,
			OldRating: victim.Rating,
			NewRating: newVictim,
			Change:    newVictim - victim.Rating,
			Reason:    "death by " + strings.ToLower(weapon) + headshotSuffix(headshot),
		},
	}
}

func headshotSuffix(headshot bool) string {
	if headshot {
		return " (headshot)"
	}
	return ""
}

// rateRound grants the participation bonus to the winning team after a
// round. An empty participant set is not an error.
func (h *RankingHandler) rateRound(ctx context.Context, ev *models.GameEvent, data *models.RoundEndData) error {
	if data.WinningTeam == "" {
		return nil
	}

	window := defaultRoundWindow
	if data.Duration > 0 {
		window = time.Duration(data.Duration) * time.Second
	}

	participants, err := h.participants(ctx, ev.ServerID, window)
	if err != nil {
		return err
	}

	for _, p := range participants {
		if !strings.EqualFold(p.Team, data.WinningTeam) {
			continue
		}
		if err := h.applyBonus(ctx, p.PlayerID); err != nil {
			return err
		}
	}
	return nil
}

func (h *RankingHandler) participants(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
	if h.presence != nil {
		active, err := h.presence.Active(ctx, serverID, window)
		if err == nil {
			return active, nil
		}
		h.logger.Warnw("presence lookup failed, falling back to store", "server", serverID, "error", err)
	}
	return h.store.RecentParticipants(ctx, serverID, window)
}

func (h *RankingHandler) applyBonus(ctx context.Context, playerID int64) error {
	stats, err := h.store.GetPlayerStats(ctx, playerID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}

	newSkill := models.ClampSkill(stats.Skill + roundBonus)
	if newSkill == stats.Skill {
		return nil
	}

	now := time.Now()
	patch := models.StatsPatch{Skill: &newSkill, LastSkillChange: &now}
	if err := h.store.UpdatePlayerStats(ctx, playerID, patch); err != nil {
		return err
	}
	h.logger.Debugw("rating change",
		"player", playerID, "old", stats.Skill, "new", newSkill, "reason", "clean round")
	return nil
}

// UpdatePlayerRating applies one generic rating step: new = old + K·(actual
// − expected), clamped, and counts a game played.
func (h *RankingHandler) UpdatePlayerRating(ctx context.Context, playerID int64, actual, expected float64) error {
	stats, err := h.store.GetPlayerStats(ctx, playerID)
	if err != nil {
		return fmt.Errorf("player %d: %w", playerID, err)
	}

	view := models.RatingView(stats)
	delta := int(math.Round(kFactor(view) * (actual - expected)))
	newSkill := models.ClampSkill(stats.Skill + delta)

	now := time.Now()
	return h.store.UpdatePlayerStats(ctx, playerID, models.StatsPatch{
		Skill:           &newSkill,
		GamesPlayed:     1,
		LastSkillChange: &now,
	})
}

// ratingFor returns the rating view for a player, defaulting unknown players
// to the initial rating.
func (h *RankingHandler) ratingFor(ctx context.Context, playerID int64) (models.SkillRating, error) {
	stats, err := h.store.GetPlayerStats(ctx, playerID)
	if err != nil {
		if err == store.ErrNotFound {
			view := models.RatingView(nil)
			view.PlayerID = playerID
			return view, nil
		}
		return models.SkillRating{}, err
	}
	return models.RatingView(stats), nil
}
