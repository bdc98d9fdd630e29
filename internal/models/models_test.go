package models

import "testing"

func TestBotUniqueID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Gunner", "BOT_GUNNER"},
		{"gun slinger", "BOT_GUN_SLINGER"},
		{"  spaced  out  ", "BOT_SPACED_OUT"},
		{"", "BOT_"},
	}
	for _, tt := range tests {
		if got := BotUniqueID(tt.name); got != tt.want {
			t.Errorf("BotUniqueID(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPlayerMetaUniqueID(t *testing.T) {
	human := &PlayerMeta{SteamID: "STEAM_0:1:12345", Name: "Player"}
	if got := human.UniqueID(); got != "STEAM_0:1:12345" {
		t.Errorf("human unique id = %q", got)
	}
	bot := &PlayerMeta{Name: "Gunner", IsBot: true}
	if got := bot.UniqueID(); got != "BOT_GUNNER" {
		t.Errorf("bot unique id = %q", got)
	}
}

func TestClampSkill(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{50, MinSkill},
		{MinSkill, MinSkill},
		{1500, 1500},
		{MaxSkill, MaxSkill},
		{9999, MaxSkill},
	}
	for _, tt := range tests {
		if got := ClampSkill(tt.in); got != tt.want {
			t.Errorf("ClampSkill(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRatingView(t *testing.T) {
	fresh := RatingView(nil)
	if fresh.Rating != InitialSkill || fresh.Confidence != 350 {
		t.Errorf("fresh view = %+v", fresh)
	}

	played := RatingView(&PlayerStats{PlayerID: 5, Skill: 1400, GamesPlayed: 120})
	if played.Rating != 1400 || played.Confidence != 230 {
		t.Errorf("played view = %+v", played)
	}

	veteran := RatingView(&PlayerStats{PlayerID: 6, Skill: 2100, GamesPlayed: 5000})
	if veteran.Confidence != 50 {
		t.Errorf("confidence floor = %d, want 50", veteran.Confidence)
	}
}
