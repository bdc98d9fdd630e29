package handlers

import (
	"context"
	"time"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/store"
)

// MockStore
type MockStore struct {
	GetServerByAddressFunc    func(ctx context.Context, ip string, port int) (*models.Server, error)
	AutoRegisterDevServerFunc func(ctx context.Context, ip string, port int) (*models.Server, error)
	GetOrCreatePlayerFunc     func(ctx context.Context, uniqueID, playerName, game string) (int64, error)
	GetPlayerStatsFunc        func(ctx context.Context, playerID int64) (*models.PlayerStats, error)
	UpdatePlayerStatsFunc     func(ctx context.Context, playerID int64, patch models.StatsPatch) error
	CreateGameEventFunc       func(ctx context.Context, ev *models.GameEvent) error
	RecordWeaponUsageFunc     func(ctx context.Context, game, weapon string, killerID, victimID int64, headshot bool) error
	WeaponModifierFunc        func(ctx context.Context, game, weapon string) (float64, bool, error)
	RecentParticipantsFunc    func(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error)
	CreateMatchSummaryFunc    func(ctx context.Context, m *models.MatchStats) error
	TransactionFunc           func(ctx context.Context, fn func(store.Store) error) error
}

func (m *MockStore) GetServerByAddress(ctx context.Context, ip string, port int) (*models.Server, error) {
	if m.GetServerByAddressFunc != nil {
		return m.GetServerByAddressFunc(ctx, ip, port)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) AutoRegisterDevServer(ctx context.Context, ip string, port int) (*models.Server, error) {
	if m.AutoRegisterDevServerFunc != nil {
		return m.AutoRegisterDevServerFunc(ctx, ip, port)
	}
	return &models.Server{ID: 1, Address: ip, Port: port, Game: "cstrike"}, nil
}

func (m *MockStore) GetOrCreatePlayer(ctx context.Context, uniqueID, playerName, game string) (int64, error) {
	if m.GetOrCreatePlayerFunc != nil {
		return m.GetOrCreatePlayerFunc(ctx, uniqueID, playerName, game)
	}
	return 1, nil
}

func (m *MockStore) GetPlayerStats(ctx context.Context, playerID int64) (*models.PlayerStats, error) {
	if m.GetPlayerStatsFunc != nil {
		return m.GetPlayerStatsFunc(ctx, playerID)
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) UpdatePlayerStats(ctx context.Context, playerID int64, patch models.StatsPatch) error {
	if m.UpdatePlayerStatsFunc != nil {
		return m.UpdatePlayerStatsFunc(ctx, playerID, patch)
	}
	return nil
}

func (m *MockStore) CreateGameEvent(ctx context.Context, ev *models.GameEvent) error {
	if m.CreateGameEventFunc != nil {
		return m.CreateGameEventFunc(ctx, ev)
	}
	return nil
}

func (m *MockStore) RecordWeaponUsage(ctx context.Context, game, weapon string, killerID, victimID int64, headshot bool) error {
	if m.RecordWeaponUsageFunc != nil {
		return m.RecordWeaponUsageFunc(ctx, game, weapon, killerID, victimID, headshot)
	}
	return nil
}

func (m *MockStore) WeaponModifier(ctx context.Context, game, weapon string) (float64, bool, error) {
	if m.WeaponModifierFunc != nil {
		return m.WeaponModifierFunc(ctx, game, weapon)
	}
	return 0, false, nil
}

func (m *MockStore) RecentParticipants(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
	if m.RecentParticipantsFunc != nil {
		return m.RecentParticipantsFunc(ctx, serverID, window)
	}
	return nil, nil
}

func (m *MockStore) CreateMatchSummary(ctx context.Context, ms *models.MatchStats) error {
	if m.CreateMatchSummaryFunc != nil {
		return m.CreateMatchSummaryFunc(ctx, ms)
	}
	return nil
}

func (m *MockStore) Transaction(ctx context.Context, fn func(store.Store) error) error {
	if m.TransactionFunc != nil {
		return m.TransactionFunc(ctx, fn)
	}
	return fn(m)
}

// MockRater
type MockRater struct {
	SkillMultiplierFunc func(ctx context.Context, game, weapon string) float64
}

func (m *MockRater) SkillMultiplier(ctx context.Context, game, weapon string) float64 {
	if m.SkillMultiplierFunc != nil {
		return m.SkillMultiplierFunc(ctx, game, weapon)
	}
	return 1.0
}

// MockPresence
type MockPresence struct {
	ActiveFunc func(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error)
}

func (m *MockPresence) Active(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
	if m.ActiveFunc != nil {
		return m.ActiveFunc(ctx, serverID, window)
	}
	return nil, nil
}
