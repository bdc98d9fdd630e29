package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/store"
)

type matchEntry struct {
	mu             sync.Mutex
	stats          *models.MatchStats
	lastRoundStart time.Time
}

// MatchHandler tracks one in-progress match per server and persists a
// summary when the map rotates or the server shuts down.
type MatchHandler struct {
	store  store.Store
	logger *zap.SugaredLogger

	mu      sync.Mutex
	matches map[int64]*matchEntry
}

func NewMatchHandler(st store.Store, logger *zap.Logger) *MatchHandler {
	return &MatchHandler{
		store:   st,
		logger:  logger.Sugar(),
		matches: make(map[int64]*matchEntry),
	}
}

func (h *MatchHandler) Name() string { return NameMatch }

func (h *MatchHandler) Handle(ctx context.Context, ev *models.GameEvent) error {
	switch data := ev.Data.(type) {
	case *models.RoundStartData:
		return h.handleRoundStart(ev)
	case *models.RoundEndData:
		return h.handleRoundEnd(ev, data)
	case *models.MapChangeData:
		return h.handleMapChange(ctx, ev, data)
	case *models.ServerShutdownData:
		return h.handleShutdown(ctx, ev)
	default:
		return nil
	}
}

func (h *MatchHandler) entry(serverID int64) *matchEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.matches[serverID]
	if !ok {
		e = &matchEntry{}
		h.matches[serverID] = e
	}
	return e
}

func (h *MatchHandler) handleRoundStart(ev *models.GameEvent) error {
	e := h.entry(ev.ServerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stats == nil {
		e.stats = models.NewMatchStats(ev.ServerID, "")
	}
	e.lastRoundStart = ev.Timestamp
	return nil
}

func (h *MatchHandler) handleRoundEnd(ev *models.GameEvent, data *models.RoundEndData) error {
	e := h.entry(ev.ServerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	// A round end without a tracked match happens when the collector
	// starts mid-map. Count nothing but do not fail the event.
	if e.stats == nil {
		h.logger.Warnw("round end without active match", "server_id", ev.ServerID)
		return nil
	}

	e.stats.TotalRounds++
	if data.WinningTeam != "" {
		e.stats.TeamScores[data.WinningTeam]++
	}
	if data.Duration == 0 && !e.lastRoundStart.IsZero() && ev.Timestamp.After(e.lastRoundStart) {
		data.Duration = int64(ev.Timestamp.Sub(e.lastRoundStart).Seconds())
	}
	e.stats.Duration += data.Duration
	return nil
}

func (h *MatchHandler) handleMapChange(ctx context.Context, ev *models.GameEvent, data *models.MapChangeData) error {
	e := h.entry(ev.ServerID)
	e.mu.Lock()
	finished := e.stats
	e.stats = models.NewMatchStats(ev.ServerID, data.NewMap)
	e.lastRoundStart = time.Time{}
	e.mu.Unlock()

	if finished == nil || finished.TotalRounds == 0 {
		return nil
	}
	if data.PreviousMap != "" {
		finished.Map = data.PreviousMap
	}
	if err := h.store.CreateMatchSummary(ctx, finished); err != nil {
		return err
	}
	h.logger.Infow("match summary persisted",
		"server_id", ev.ServerID,
		"map", finished.Map,
		"rounds", finished.TotalRounds,
	)
	return nil
}

func (h *MatchHandler) handleShutdown(ctx context.Context, ev *models.GameEvent) error {
	e := h.entry(ev.ServerID)
	e.mu.Lock()
	finished := e.stats
	e.stats = nil
	e.lastRoundStart = time.Time{}
	e.mu.Unlock()

	if finished == nil || finished.TotalRounds == 0 {
		return nil
	}
	if err := h.store.CreateMatchSummary(ctx, finished); err != nil {
		return err
	}
	h.logger.Infow("match summary persisted on shutdown",
		"server_id", ev.ServerID,
		"map", finished.Map,
		"rounds", finished.TotalRounds,
	)
	return nil
}
