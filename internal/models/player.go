package models

import "time"

// Rating bounds and defaults shared by the ranking and player handlers.
const (
	MinSkill     = 100
	MaxSkill     = 3000
	InitialSkill = 1000
)

// Server identifies a sending game-server endpoint.
type Server struct {
	ID      int64
	Address string
	Port    int
	Game    string
	Name    string
}

// PlayerStats is the mutable per-player aggregate row.
type PlayerStats struct {
	PlayerID        int64
	Name            string
	Game            string
	Skill           int
	Kills           int64
	Deaths          int64
	Suicides        int64
	Teamkills       int64
	Headshots       int64
	Shots           int64
	Hits            int64
	KillStreak      int
	DeathStreak     int
	ConnectionTime  int64
	GamesPlayed     int
	LastEvent       time.Time
	LastSkillChange time.Time
}

// StatsPatch is a partial update to PlayerStats. Plain numeric fields are
// increments; pointer fields are assignments and are skipped when nil.
type StatsPatch struct {
	Kills       int64
	Deaths      int64
	Suicides    int64
	Teamkills   int64
	Headshots   int64
	Shots       int64
	Hits        int64
	GamesPlayed int64

	Skill           *int
	KillStreak      *int
	DeathStreak     *int
	ConnectionTime  *int64
	LastEvent       *time.Time
	LastSkillChange *time.Time
}

// IsZero reports whether applying the patch would change nothing.
func (p StatsPatch) IsZero() bool {
	return p.Kills == 0 && p.Deaths == 0 && p.Suicides == 0 && p.Teamkills == 0 &&
		p.Headshots == 0 && p.Shots == 0 && p.Hits == 0 && p.GamesPlayed == 0 &&
		p.Skill == nil && p.KillStreak == nil && p.DeathStreak == nil &&
		p.ConnectionTime == nil && p.LastEvent == nil && p.LastSkillChange == nil
}

// SkillRating is the derived rating view over a player row.
type SkillRating struct {
	PlayerID    int64
	Rating      int
	Confidence  int
	Volatility  float64
	GamesPlayed int
}

// RatingView derives the rating triple from stored stats. Confidence shrinks
// with games played down to a floor of 50; volatility is constant.
func RatingView(s *PlayerStats) SkillRating {
	if s == nil {
		return SkillRating{Rating: InitialSkill, Confidence: 350, Volatility: 0.06}
	}
	games := s.GamesPlayed
	if games > 300 {
		games = 300
	}
	return SkillRating{
		PlayerID:    s.PlayerID,
		Rating:      s.Skill,
		Confidence:  350 - games,
		Volatility:  0.06,
		GamesPlayed: s.GamesPlayed,
	}
}

// RatingChange records one rating adjustment for audit and dispatch between
// the ranking and player handlers.
type RatingChange struct {
	PlayerID  int64
	OldRating int
	NewRating int
	Change    int
	Reason    string
}

// ClampSkill bounds a rating to the persistable range.
func ClampSkill(v int) int {
	if v < MinSkill {
		return MinSkill
	}
	if v > MaxSkill {
		return MaxSkill
	}
	return v
}
