package models

import (
	"strings"
	"time"
)

// EventType identifies a game event variant.
type EventType string

const (
	EventPlayerConnect    EventType = "PLAYER_CONNECT"
	EventPlayerDisconnect EventType = "PLAYER_DISCONNECT"
	EventPlayerKill       EventType = "PLAYER_KILL"
	EventPlayerDeath      EventType = "PLAYER_DEATH"
	EventPlayerSuicide    EventType = "PLAYER_SUICIDE"
	EventPlayerTeamkill   EventType = "PLAYER_TEAMKILL"
	EventChatMessage      EventType = "CHAT_MESSAGE"
	EventRoundStart       EventType = "ROUND_START"
	EventRoundEnd         EventType = "ROUND_END"
	EventMapChange        EventType = "MAP_CHANGE"
	EventServerShutdown   EventType = "SERVER_SHUTDOWN"
	EventAdminAction      EventType = "ADMIN_ACTION"
)

// PlayerMeta is the identity envelope carried by player-oriented events
// before the processor has resolved a persistent player id.
type PlayerMeta struct {
	SteamID string
	Name    string
	IsBot   bool
}

// EventMeta holds one or two player identities depending on the variant.
// Single-player events populate Player; kill-shaped events populate
// Killer and Victim.
type EventMeta struct {
	Player *PlayerMeta
	Killer *PlayerMeta
	Victim *PlayerMeta
}

// Position is a world coordinate from the optional [x y z] log brackets.
// Zero values mean the position was absent from the line.
type Position struct {
	X float64
	Y float64
	Z float64
}

// GameEvent is a tagged record: a shared header plus one typed Data variant.
type GameEvent struct {
	Type      EventType
	Timestamp time.Time
	ServerID  int64
	Game      string
	RawLine   string
	Meta      *EventMeta
	Data      EventData
}

// EventData is implemented by every variant payload.
type EventData interface {
	eventData()
}

type ConnectData struct {
	PlayerID int64 // resolved by the processor, zero until then
	SteamID  string
	Name     string
	Address  string
}

type DisconnectData struct {
	PlayerID        int64
	SteamID         string
	Name            string
	Reason          string
	SessionDuration int64 // seconds; zero when unknown
}

type KillData struct {
	KillerID   int64
	VictimID   int64
	Weapon     string
	Headshot   bool
	KillerTeam string
	VictimTeam string
	KillerPos  Position
	VictimPos  Position

	// Rating is filled by the ranking handler and consumed by the player
	// handler within the same event; it is never persisted raw.
	Rating []RatingChange
}

type SuicideData struct {
	PlayerID int64
	Weapon   string
	Pos      Position
}

type TeamkillData struct {
	KillerID int64
	VictimID int64
	Weapon   string
	Team     string
}

type ChatData struct {
	PlayerID    int64
	Message     string
	MessageMode int // 1 when spoken dead, 0 otherwise
}

type RoundStartData struct{}

type RoundEndData struct {
	WinningTeam string
	Duration    int64 // seconds
	Score       string
}

type MapChangeData struct {
	PreviousMap string
	NewMap      string
	PlayerCount int
}

type ServerShutdownData struct{}

type AdminActionData struct {
	Action string
}

func (ConnectData) eventData()        {}
func (DisconnectData) eventData()     {}
func (KillData) eventData()           {}
func (SuicideData) eventData()        {}
func (TeamkillData) eventData()       {}
func (ChatData) eventData()           {}
func (RoundStartData) eventData()     {}
func (RoundEndData) eventData()       {}
func (MapChangeData) eventData()      {}
func (ServerShutdownData) eventData() {}
func (AdminActionData) eventData()    {}

// BotUniqueID derives the synthetic unique id stored for bots, which have no
// stable steam id: "BOT_" plus the uppercased name with whitespace collapsed
// to underscores.
func BotUniqueID(name string) string {
	return "BOT_" + strings.Join(strings.Fields(strings.ToUpper(name)), "_")
}

// UniqueID returns the identity key persisted for this player: the steam id
// for humans, the synthetic bot id for bots.
func (m *PlayerMeta) UniqueID() string {
	if m.IsBot {
		return BotUniqueID(m.Name)
	}
	return m.SteamID
}
