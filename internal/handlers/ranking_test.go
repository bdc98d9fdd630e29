package handlers

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/store"
)

func rating(id int64, skill, games int) models.SkillRating {
	return models.SkillRating{PlayerID: id, Rating: skill, GamesPlayed: games}
}

func TestCalculateExpectedScore(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want float64
	}{
		{"EqualRatings", 1000, 1000, 0.5},
		{"Plus400", 1400, 1000, 1.0 / (1.0 + math.Pow(10, -1))},
		{"Minus400", 1000, 1400, 1.0 / (1.0 + math.Pow(10, 1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateExpectedScore(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateExpectedScoreSymmetry(t *testing.T) {
	for _, pair := range [][2]float64{{800, 1200}, {1000, 1000}, {2500, 300}} {
		ea := CalculateExpectedScore(pair[0], pair[1])
		eb := CalculateExpectedScore(pair[1], pair[0])
		if math.Abs(ea+eb-1.0) > 1e-9 {
			t.Errorf("E(a,b)+E(b,a) = %v for %v, want 1", ea+eb, pair)
		}
	}
}

func TestKFactor(t *testing.T) {
	tests := []struct {
		name string
		r    models.SkillRating
		want float64
	}{
		{"FreshPlayer", rating(1, 1000, 3), 48},
		{"Developing", rating(1, 1000, 30), 38.4},
		{"Established", rating(1, 1500, 200), 32},
		{"HighRated", rating(1, 2200, 500), 25.6},
		{"FreshBeatsHighRated", rating(1, 2200, 5), 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kFactor(tt.r); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("kFactor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateKillEqualRatings(t *testing.T) {
	changes := RateKill(rating(1, 1000, 100), rating(2, 1000, 100), 1.0, "ak47", false)
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	killer, victim := changes[0], changes[1]

	// K=32, E=0.5: killer +16, victim -13 (32 * 0.5 * 0.8 = 12.8 rounds up).
	if killer.Change != 16 {
		t.Errorf("killer change = %d, want 16", killer.Change)
	}
	if victim.Change != -13 {
		t.Errorf("victim change = %d, want -13", victim.Change)
	}
	if killer.NewRating != 1016 || victim.NewRating != 987 {
		t.Errorf("new ratings = %d/%d, want 1016/987", killer.NewRating, victim.NewRating)
	}
	if killer.Reason != "kill with ak47" {
		t.Errorf("killer reason = %q", killer.Reason)
	}
	if victim.Reason != "death by ak47" {
		t.Errorf("victim reason = %q", victim.Reason)
	}
}

func TestRateKillUnderdogGainsMore(t *testing.T) {
	underdog := RateKill(rating(1, 800, 100), rating(2, 1600, 100), 1.0, "ak47", false)
	favorite := RateKill(rating(1, 1600, 100), rating(2, 800, 100), 1.0, "ak47", false)

	if underdog[0].Change <= favorite[0].Change {
		t.Errorf("underdog gain %d should exceed favorite gain %d",
			underdog[0].Change, favorite[0].Change)
	}
}

func TestRateKillHeadshotBonus(t *testing.T) {
	plain := RateKill(rating(1, 1000, 100), rating(2, 1000, 100), 1.0, "deagle", false)
	hs := RateKill(rating(1, 1000, 100), rating(2, 1000, 100), 1.0, "deagle", true)

	if hs[0].Change <= plain[0].Change {
		t.Errorf("headshot gain %d should exceed plain gain %d", hs[0].Change, plain[0].Change)
	}
	if hs[0].Reason != "kill with deagle (headshot)" {
		t.Errorf("reason = %q", hs[0].Reason)
	}
	// The victim's loss does not grow with the headshot.
	if hs[1].Change != plain[1].Change {
		t.Errorf("victim loss changed on headshot: %d vs %d", hs[1].Change, plain[1].Change)
	}
}

func TestRateKillCaps(t *testing.T) {
	// A fresh underdog with a high-multiplier weapon would gain well over
	// the cap without it: K=48, E≈0, mult 2.0 → ~96.
	changes := RateKill(rating(1, 300, 3), rating(2, 2500, 3), 2.0, "knife", true)
	if changes[0].Change > maxKillGain {
		t.Errorf("gain %d exceeds cap %d", changes[0].Change, maxKillGain)
	}
	if changes[0].Change != maxKillGain {
		t.Errorf("gain = %d, want capped %d", changes[0].Change, maxKillGain)
	}
	if changes[1].Change < maxKillLoss {
		t.Errorf("loss %d exceeds floor %d", changes[1].Change, maxKillLoss)
	}
}

func TestRateKillClampsAtBounds(t *testing.T) {
	// Equal ratings so both deltas are non-trivial: the winner would pass
	// the ceiling, the loser the floor.
	high := RateKill(rating(1, 2995, 100), rating(2, 2995, 100), 2.0, "knife", true)
	if high[0].NewRating != models.MaxSkill {
		t.Errorf("killer rating = %d, want clamped %d", high[0].NewRating, models.MaxSkill)
	}
	// Change reflects the clamped delta, not the raw one.
	if high[0].NewRating-high[0].OldRating != high[0].Change {
		t.Errorf("change %d inconsistent with ratings", high[0].Change)
	}

	low := RateKill(rating(1, 105, 100), rating(2, 105, 100), 1.0, "glock", false)
	if low[1].NewRating != models.MinSkill {
		t.Errorf("victim rating = %d, want clamped %d", low[1].NewRating, models.MinSkill)
	}
}

func TestRateKillFavoredKillerSanity(t *testing.T) {
	changes := RateKill(rating(1, 1200, 10), rating(2, 1000, 5), 1.0, "ak47", true)
	killer, victim := changes[0], changes[1]

	if killer.Change <= 0 || killer.Change > maxKillGain {
		t.Errorf("killer change = %d, want in (0, %d]", killer.Change, maxKillGain)
	}
	if victim.Change >= 0 || victim.Change < maxKillLoss {
		t.Errorf("victim change = %d, want in [%d, 0)", victim.Change, maxKillLoss)
	}
	for _, ch := range changes {
		if !strings.Contains(ch.Reason, "ak47") || !strings.Contains(ch.Reason, "headshot") {
			t.Errorf("reason = %q, want weapon and headshot named", ch.Reason)
		}
	}
}

func TestHandleKillAttachesRating(t *testing.T) {
	st := &MockStore{
		GetPlayerStatsFunc: func(ctx context.Context, playerID int64) (*models.PlayerStats, error) {
			return &models.PlayerStats{PlayerID: playerID, Skill: 1000, GamesPlayed: 100}, nil
		},
	}
	h := NewRankingHandler(st, &MockRater{}, nil, zap.NewNop())

	data := &models.KillData{KillerID: 1, VictimID: 2, Weapon: "ak47"}
	ev := &models.GameEvent{Type: models.EventPlayerKill, Game: "cstrike", Data: data}

	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(data.Rating) != 2 {
		t.Fatalf("rating changes = %d, want 2", len(data.Rating))
	}
	if data.Rating[0].PlayerID != 1 || data.Rating[1].PlayerID != 2 {
		t.Errorf("rating order = %d/%d, want killer first", data.Rating[0].PlayerID, data.Rating[1].PlayerID)
	}
}

func TestHandleKillUnknownPlayerDefaultsToInitial(t *testing.T) {
	h := NewRankingHandler(&MockStore{}, &MockRater{}, nil, zap.NewNop())

	data := &models.KillData{KillerID: 7, VictimID: 8, Weapon: "glock"}
	ev := &models.GameEvent{Type: models.EventPlayerKill, Game: "cstrike", Data: data}

	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if data.Rating[0].OldRating != models.InitialSkill {
		t.Errorf("old rating = %d, want initial %d", data.Rating[0].OldRating, models.InitialSkill)
	}
}

func TestUpdatePlayerRating(t *testing.T) {
	tests := []struct {
		name             string
		skill            int
		games            int
		actual, expected float64
		want             int
	}{
		{"fresh player gains at K48", 1000, 0, 1.0, 0.5, 1024},
		{"veteran loses at K32", 1000, 100, 0.0, 0.5, 984},
		{"high rating dampened to K25.6", 2100, 100, 1.0, 0.5, 2113},
		{"clamped at ceiling", 2995, 100, 1.0, 0.0, 3000},
		{"clamped at floor", 105, 100, 0.0, 1.0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got models.StatsPatch
			st := &MockStore{
				GetPlayerStatsFunc: func(ctx context.Context, playerID int64) (*models.PlayerStats, error) {
					return &models.PlayerStats{PlayerID: playerID, Skill: tt.skill, GamesPlayed: tt.games}, nil
				},
				UpdatePlayerStatsFunc: func(ctx context.Context, playerID int64, patch models.StatsPatch) error {
					got = patch
					return nil
				},
			}
			h := NewRankingHandler(st, &MockRater{}, nil, zap.NewNop())

			if err := h.UpdatePlayerRating(context.Background(), 1, tt.actual, tt.expected); err != nil {
				t.Fatalf("UpdatePlayerRating: %v", err)
			}
			if got.Skill == nil || *got.Skill != tt.want {
				t.Errorf("skill = %v, want %d", got.Skill, tt.want)
			}
			if got.GamesPlayed != 1 {
				t.Errorf("games played increment = %d, want 1", got.GamesPlayed)
			}
			if got.LastSkillChange == nil {
				t.Error("skill change timestamp not set")
			}
		})
	}
}

func TestUpdatePlayerRatingUnknownPlayer(t *testing.T) {
	h := NewRankingHandler(&MockStore{}, &MockRater{}, nil, zap.NewNop())
	if err := h.UpdatePlayerRating(context.Background(), 404, 1.0, 0.5); err == nil {
		t.Fatal("expected error for unknown player")
	}
}

func TestRateRoundBonusWinningTeamOnly(t *testing.T) {
	updated := map[int64]int{}
	st := &MockStore{
		GetPlayerStatsFunc: func(ctx context.Context, playerID int64) (*models.PlayerStats, error) {
			return &models.PlayerStats{PlayerID: playerID, Skill: 1000}, nil
		},
		UpdatePlayerStatsFunc: func(ctx context.Context, playerID int64, patch models.StatsPatch) error {
			if patch.Skill != nil {
				updated[playerID] = *patch.Skill
			}
			return nil
		},
	}
	pres := &MockPresence{
		ActiveFunc: func(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
			return []store.Participant{
				{PlayerID: 1, Team: "CT"},
				{PlayerID: 2, Team: "ct"},
				{PlayerID: 3, Team: "TERRORIST"},
			}, nil
		},
	}
	h := NewRankingHandler(st, &MockRater{}, pres, zap.NewNop())

	ev := &models.GameEvent{
		Type:      models.EventRoundEnd,
		ServerID:  5,
		Timestamp: time.Now(),
		Data:      &models.RoundEndData{WinningTeam: "CT"},
	}
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(updated) != 2 {
		t.Fatalf("updated players = %d, want 2", len(updated))
	}
	for _, id := range []int64{1, 2} {
		if updated[id] != 1000+roundBonus {
			t.Errorf("player %d skill = %d, want %d", id, updated[id], 1000+roundBonus)
		}
	}
	if _, ok := updated[3]; ok {
		t.Error("losing team player received bonus")
	}
}

func TestRateRoundFallsBackToStore(t *testing.T) {
	storeQueried := false
	st := &MockStore{
		RecentParticipantsFunc: func(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
			storeQueried = true
			return nil, nil
		},
	}
	pres := &MockPresence{
		ActiveFunc: func(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
			return nil, errors.New("redis down")
		},
	}
	h := NewRankingHandler(st, &MockRater{}, pres, zap.NewNop())

	ev := &models.GameEvent{
		Type: models.EventRoundEnd,
		Data: &models.RoundEndData{WinningTeam: "CT"},
	}
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !storeQueried {
		t.Error("store fallback not used when presence failed")
	}
}

func TestRateRoundNoWinnerIsNoop(t *testing.T) {
	st := &MockStore{
		RecentParticipantsFunc: func(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
			t.Error("participants queried for a draw")
			return nil, nil
		},
	}
	h := NewRankingHandler(st, &MockRater{}, nil, zap.NewNop())

	ev := &models.GameEvent{Type: models.EventRoundEnd, Data: &models.RoundEndData{}}
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}
