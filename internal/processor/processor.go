package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/handlers"
	"github.com/sourcestats/collector/internal/models"
	"github.com/sourcestats/collector/internal/store"
)

// ErrMissingIdentity is returned when an event variant that requires player
// identity arrives without one.
var ErrMissingIdentity = errors.New("processor: event missing player identity")

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_events_processed_total",
		Help: "Events fully processed, by type.",
	}, []string{"type"})
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_events_dropped_total",
		Help: "Events dropped before processing, by reason.",
	}, []string{"reason"})
	handlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_handler_errors_total",
		Help: "Handler failures, by handler name.",
	}, []string{"handler"})
	processingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collector_event_processing_seconds",
		Help:    "Wall time spent processing one event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

// PresenceTracker records player activity for round-participation queries.
type PresenceTracker interface {
	Touch(ctx context.Context, serverID, playerID int64, team string) error
}

// Archiver receives every processed event for cold storage. Implementations
// must not block.
type Archiver interface {
	Archive(ev *models.GameEvent)
}

// routes maps each event type to its handler order. For kills the order is
// load-bearing: ranking computes the deltas that the player handler persists.
var routes = map[models.EventType][]string{
	models.EventPlayerKill:       {handlers.NameRanking, handlers.NamePlayer, handlers.NameWeapon},
	models.EventPlayerConnect:    {handlers.NamePlayer},
	models.EventPlayerDisconnect: {handlers.NamePlayer},
	models.EventPlayerSuicide:    {handlers.NamePlayer},
	models.EventPlayerTeamkill:   {handlers.NamePlayer},
	models.EventRoundStart:       {handlers.NameMatch},
	models.EventRoundEnd:         {handlers.NameMatch, handlers.NameRanking},
	models.EventMapChange:        {handlers.NameMatch},
	models.EventServerShutdown:   {handlers.NameMatch},
	models.EventChatMessage:      {},
	models.EventAdminAction:      {},
}

// Options tunes processor behavior.
type Options struct {
	// LogBots admits bot-originated events into the pipeline. Off by
	// default: bots pollute rankings.
	LogBots bool
}

// Processor owns the per-event pipeline: gate, resolve identity, persist,
// fan out to handlers.
type Processor struct {
	store    store.Store
	registry map[string]handlers.Handler
	presence PresenceTracker
	archiver Archiver
	opts     Options
	logger   *zap.SugaredLogger

	// onProcessed, when set, observes every fully processed event.
	onProcessed func(ev *models.GameEvent)
}

func New(st store.Store, hs []handlers.Handler, presence PresenceTracker, archiver Archiver, opts Options, logger *zap.Logger) *Processor {
	registry := make(map[string]handlers.Handler, len(hs))
	for _, h := range hs {
		registry[h.Name()] = h
	}
	return &Processor{
		store:    st,
		registry: registry,
		presence: presence,
		archiver: archiver,
		opts:     opts,
		logger:   logger.Sugar(),
	}
}

// OnProcessed registers a callback invoked after each successful event.
func (p *Processor) OnProcessed(fn func(ev *models.GameEvent)) {
	p.onProcessed = fn
}

// Process runs one event through the full pipeline. A handler failure
// short-circuits the remaining handlers for this event; the next event is
// unaffected.
func (p *Processor) Process(ctx context.Context, ev *models.GameEvent) error {
	started := time.Now()

	if p.isBot(ev) && !p.opts.LogBots {
		eventsDropped.WithLabelValues("bot").Inc()
		return nil
	}

	if err := p.resolveIdentity(ctx, ev); err != nil {
		eventsDropped.WithLabelValues("identity").Inc()
		return err
	}

	if err := p.store.CreateGameEvent(ctx, ev); err != nil {
		eventsDropped.WithLabelValues("persist").Inc()
		return fmt.Errorf("persist %s: %w", ev.Type, err)
	}

	p.touchPresence(ctx, ev)

	order, known := routes[ev.Type]
	if !known {
		p.logger.Warnw("no route for event type", "type", ev.Type)
	}
	for _, name := range order {
		h, ok := p.registry[name]
		if !ok {
			continue
		}
		if err := h.Handle(ctx, ev); err != nil {
			handlerErrors.WithLabelValues(name).Inc()
			p.logger.Errorw("handler failed",
				"handler", name,
				"type", ev.Type,
				"server_id", ev.ServerID,
				"error", err,
			)
			return fmt.Errorf("handler %s: %w", name, err)
		}
	}

	if p.archiver != nil {
		p.archiver.Archive(ev)
	}

	eventsProcessed.WithLabelValues(string(ev.Type)).Inc()
	processingDuration.WithLabelValues(string(ev.Type)).Observe(time.Since(started).Seconds())
	p.logger.Debugw("event processed", "type", ev.Type, "server_id", ev.ServerID)

	if p.onProcessed != nil {
		p.onProcessed(ev)
	}
	return nil
}

func (p *Processor) isBot(ev *models.GameEvent) bool {
	if ev.Meta == nil {
		return false
	}
	for _, m := range []*models.PlayerMeta{ev.Meta.Player, ev.Meta.Killer, ev.Meta.Victim} {
		if m != nil && m.IsBot {
			return true
		}
	}
	return false
}

// resolveIdentity exchanges the raw identities in the event meta for
// persistent player ids and writes them into the typed payload.
func (p *Processor) resolveIdentity(ctx context.Context, ev *models.GameEvent) error {
	if ev.Meta == nil {
		return p.requireNoIdentity(ev)
	}

	resolve := func(m *models.PlayerMeta) (int64, error) {
		if m == nil || m.UniqueID() == "" {
			return 0, ErrMissingIdentity
		}
		return p.store.GetOrCreatePlayer(ctx, m.UniqueID(), m.Name, ev.Game)
	}

	switch data := ev.Data.(type) {
	case *models.ConnectData:
		id, err := resolve(ev.Meta.Player)
		if err != nil {
			return err
		}
		data.PlayerID = id
	case *models.DisconnectData:
		// Disconnects can race the connect that would have registered the
		// player. Resolve best-effort and let the handler no-op on zero.
		if id, err := resolve(ev.Meta.Player); err == nil {
			data.PlayerID = id
		}
	case *models.KillData:
		killerID, err := resolve(ev.Meta.Killer)
		if err != nil {
			return err
		}
		victimID, err := resolve(ev.Meta.Victim)
		if err != nil {
			return err
		}
		data.KillerID = killerID
		data.VictimID = victimID
	case *models.TeamkillData:
		killerID, err := resolve(ev.Meta.Killer)
		if err != nil {
			return err
		}
		victimID, err := resolve(ev.Meta.Victim)
		if err != nil {
			return err
		}
		data.KillerID = killerID
		data.VictimID = victimID
	case *models.SuicideData:
		id, err := resolve(ev.Meta.Player)
		if err != nil {
			return err
		}
		data.PlayerID = id
	case *models.ChatData:
		id, err := resolve(ev.Meta.Player)
		if err != nil {
			return err
		}
		data.PlayerID = id
	}
	return nil
}

// requireNoIdentity rejects player-shaped variants that arrived without any
// identity envelope.
func (p *Processor) requireNoIdentity(ev *models.GameEvent) error {
	switch ev.Data.(type) {
	case *models.ConnectData, *models.KillData, *models.TeamkillData, *models.SuicideData, *models.ChatData:
		return ErrMissingIdentity
	}
	return nil
}

func (p *Processor) touchPresence(ctx context.Context, ev *models.GameEvent) {
	if p.presence == nil {
		return
	}
	type activity struct {
		playerID int64
		team     string
	}
	var active []activity
	switch data := ev.Data.(type) {
	case *models.ConnectData:
		active = append(active, activity{data.PlayerID, ""})
	case *models.KillData:
		active = append(active,
			activity{data.KillerID, data.KillerTeam},
			activity{data.VictimID, data.VictimTeam},
		)
	case *models.TeamkillData:
		active = append(active,
			activity{data.KillerID, data.Team},
			activity{data.VictimID, data.Team},
		)
	case *models.SuicideData:
		active = append(active, activity{data.PlayerID, ""})
	case *models.ChatData:
		active = append(active, activity{data.PlayerID, ""})
	}
	for _, a := range active {
		if a.playerID == 0 {
			continue
		}
		if err := p.presence.Touch(ctx, ev.ServerID, a.playerID, a.team); err != nil {
			p.logger.Debugw("presence touch failed", "player_id", a.playerID, "error", err)
		}
	}
}
