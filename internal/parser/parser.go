// Package parser turns raw UDP log payloads from Source-engine game servers
// into structured game events. A payload carries one text line, optionally
// wrapped in remote-log framing, and classification is first-match-wins over
// a fixed pattern order.
package parser

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sourcestats/collector/internal/models"
)

// remoteFraming is the prefix Source servers put on logaddress packets.
var remoteFraming = []byte{0xff, 0xff, 0xff, 0xff, 'l', 'o', 'g', ' '}

// stampLayout is the civil timestamp embedded in every well-formed line.
const stampLayout = "01/02/2006 - 15:04:05"

// maxNameBytes bounds sanitized player names.
const maxNameBytes = 255

// playerPat matches the quoted player token `"<name><uid><steamId><team>"`.
const playerPat = `"(.+?)<(\d+)><([^>]*)><([^>]*)>"`

// posPat matches the optional world position brackets after a player token.
const posPat = `(?: \[(-?\d+) (-?\d+) (-?\d+)\])?`

type linePatterns struct {
	Stamp      *regexp.Regexp
	Kill       *regexp.Regexp
	Suicide    *regexp.Regexp
	Connect    *regexp.Regexp
	Disconnect *regexp.Regexp
	Chat       *regexp.Regexp
	RoundStart *regexp.Regexp
	RoundEnd   *regexp.Regexp
	TeamWin    *regexp.Regexp
	MapStart   *regexp.Regexp
	Shutdown   *regexp.Regexp
	Rcon       *regexp.Regexp
}

func newLinePatterns() *linePatterns {
	return &linePatterns{
		Stamp: regexp.MustCompile(`^L (\d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}):?\s*`),

		// Kill embeds two quoted players, so it must be attempted before the
		// single-player patterns.
		Kill: regexp.MustCompile(`^` + playerPat + posPat + ` killed ` + playerPat + posPat + ` with "([^"]+)"( \(headshot\))?\s*$`),

		Suicide: regexp.MustCompile(`^` + playerPat + posPat + ` committed suicide with "([^"]+)"`),

		Connect: regexp.MustCompile(`^` + playerPat + ` connected, address "(\d{1,3}(?:\.\d{1,3}){3}):\d+"`),

		Disconnect: regexp.MustCompile(`^` + playerPat + ` disconnected(?: \(reason "(.*)"\))?\s*$`),

		Chat: regexp.MustCompile(`^` + playerPat + ` say(?:_team)? "(.*?)"( \(dead\))?\s*$`),

		RoundStart: regexp.MustCompile(`^World triggered "Round_Start"`),
		RoundEnd:   regexp.MustCompile(`^World triggered "Round_End"`),

		// e.g. `Team "CT" triggered "CTs_Win" (CT "5") (T "3")`
		TeamWin: regexp.MustCompile(`^Team "([^"]+)" triggered "[^"]*_Win"(?: \(CT "(\d+)"\) \(T "(\d+)"\))?`),

		MapStart: regexp.MustCompile(`^(?:Started|Loading) map "([^"]+)"`),

		Shutdown: regexp.MustCompile(`^(?:Server shutdown|Log file closed)`),

		Rcon: regexp.MustCompile(`^Rcon: "(.+)" from "[^"]+"`),
	}
}

// Result is the outcome of classifying one line: a populated event, or a
// short failure reason.
type Result struct {
	Event  *models.GameEvent
	Reason string
}

// OK reports whether the line produced an event.
func (r Result) OK() bool { return r.Event != nil }

func failure(reason string) Result { return Result{Reason: reason} }

// Parser classifies normalized log lines. It is stateless and safe for
// concurrent use.
type Parser struct {
	patterns *linePatterns

	// now is swappable for deterministic tests.
	now func() time.Time
}

func New() *Parser {
	return &Parser{patterns: newLinePatterns(), now: time.Now}
}

// Normalize strips remote-log framing and leading whitespace so the line
// starts with the canonical "L " prefix. The second return is false when no
// such prefix exists and the payload is not a log line at all.
func Normalize(raw []byte) (string, bool) {
	b := bytes.TrimLeft(raw, " \t\r\n\x00")
	if bytes.HasPrefix(b, remoteFraming) {
		b = bytes.TrimLeft(b[len(remoteFraming):], " \t")
	}
	b = bytes.TrimRight(b, "\r\n\x00 ")
	if !bytes.HasPrefix(b, []byte("L ")) {
		return "", false
	}
	return string(b), true
}

// CanParse reports whether the payload normalizes to a log line.
func (p *Parser) CanParse(raw []byte) bool {
	_, ok := Normalize(raw)
	return ok
}

// Parse normalizes and classifies one payload into an event for the given
// server. Unknown but well-formed lines fail with a reason; they are common
// (cvar dumps, score lines) and callers log them at debug only.
func (p *Parser) Parse(raw []byte, serverID int64, game string) Result {
	line, ok := Normalize(raw)
	if !ok {
		return failure("no log line prefix")
	}

	body := line[2:]
	ts := p.now()
	if m := p.patterns.Stamp.FindStringSubmatch(line); m != nil {
		if parsed, err := time.ParseInLocation(stampLayout, m[1], time.Local); err == nil {
			ts = parsed
		}
		body = line[len(m[0]):]
	}

	header := models.GameEvent{
		Timestamp: ts,
		ServerID:  serverID,
		Game:      game,
		RawLine:   line,
	}

	// Classification order matters: the kill pattern embeds a quoted player
	// token and must win over the single-player patterns.
	if ev, ok := p.parseKill(body, header); ok {
		return Result{Event: ev}
	}
	if ev, ok := p.parseSuicide(body, header); ok {
		return Result{Event: ev}
	}
	if ev, ok := p.parseConnect(body, header); ok {
		return Result{Event: ev}
	}
	if ev, ok := p.parseDisconnect(body, header); ok {
		return Result{Event: ev}
	}
	if ev, ok := p.parseChat(body, header); ok {
		return Result{Event: ev}
	}
	if ev, ok := p.parseWorld(body, header); ok {
		return Result{Event: ev}
	}

	return failure("unsupported line")
}

func (p *Parser) parseKill(body string, header models.GameEvent) (*models.GameEvent, bool) {
	m := p.patterns.Kill.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}

	killer := playerMetaFrom(m[1], m[3])
	victim := playerMetaFrom(m[8], m[10])
	killerTeam := m[4]
	victimTeam := m[11]
	weapon := m[15]
	headshot := m[16] != ""

	ev := header
	ev.Meta = &models.EventMeta{Killer: killer, Victim: victim}

	// Same team and distinct identities means friendly fire.
	if killerTeam != "" && killerTeam == victimTeam && m[2] != m[9] {
		ev.Type = models.EventPlayerTeamkill
		ev.Data = &models.TeamkillData{Weapon: weapon, Team: killerTeam}
		return &ev, true
	}

	ev.Type = models.EventPlayerKill
	ev.Data = &models.KillData{
		Weapon:     weapon,
		Headshot:   headshot,
		KillerTeam: killerTeam,
		VictimTeam: victimTeam,
		KillerPos:  positionFrom(m[5], m[6], m[7]),
		VictimPos:  positionFrom(m[12], m[13], m[14]),
	}
	return &ev, true
}

func (p *Parser) parseSuicide(body string, header models.GameEvent) (*models.GameEvent, bool) {
	m := p.patterns.Suicide.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	ev := header
	ev.Type = models.EventPlayerSuicide
	ev.Meta = &models.EventMeta{Player: playerMetaFrom(m[1], m[3])}
	ev.Data = &models.SuicideData{
		Weapon: m[8],
		Pos:    positionFrom(m[5], m[6], m[7]),
	}
	return &ev, true
}

func (p *Parser) parseConnect(body string, header models.GameEvent) (*models.GameEvent, bool) {
	m := p.patterns.Connect.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	meta := playerMetaFrom(m[1], m[3])
	ev := header
	ev.Type = models.EventPlayerConnect
	ev.Meta = &models.EventMeta{Player: meta}
	ev.Data = &models.ConnectData{
		SteamID: meta.SteamID,
		Name:    meta.Name,
		Address: m[5],
	}
	return &ev, true
}

func (p *Parser) parseDisconnect(body string, header models.GameEvent) (*models.GameEvent, bool) {
	m := p.patterns.Disconnect.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	meta := playerMetaFrom(m[1], m[3])
	ev := header
	ev.Type = models.EventPlayerDisconnect
	ev.Meta = &models.EventMeta{Player: meta}
	ev.Data = &models.DisconnectData{
		SteamID: meta.SteamID,
		Name:    meta.Name,
		Reason:  m[5],
	}
	return &ev, true
}

func (p *Parser) parseChat(body string, header models.GameEvent) (*models.GameEvent, bool) {
	m := p.patterns.Chat.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	mode := 0
	if m[6] != "" {
		mode = 1
	}
	ev := header
	ev.Type = models.EventChatMessage
	ev.Meta = &models.EventMeta{Player: playerMetaFrom(m[1], m[3])}
	ev.Data = &models.ChatData{Message: m[5], MessageMode: mode}
	return &ev, true
}

// parseWorld covers the serverwide lines: round boundaries, team wins, map
// loads, shutdown, and rcon.
func (p *Parser) parseWorld(body string, header models.GameEvent) (*models.GameEvent, bool) {
	if p.patterns.RoundStart.MatchString(body) {
		ev := header
		ev.Type = models.EventRoundStart
		ev.Data = &models.RoundStartData{}
		return &ev, true
	}
	if p.patterns.RoundEnd.MatchString(body) {
		ev := header
		ev.Type = models.EventRoundEnd
		ev.Data = &models.RoundEndData{}
		return &ev, true
	}
	if m := p.patterns.TeamWin.FindStringSubmatch(body); m != nil {
		data := &models.RoundEndData{WinningTeam: m[1]}
		if m[2] != "" && m[3] != "" {
			data.Score = m[2] + "-" + m[3]
		}
		ev := header
		ev.Type = models.EventRoundEnd
		ev.Data = data
		return &ev, true
	}
	if m := p.patterns.MapStart.FindStringSubmatch(body); m != nil {
		ev := header
		ev.Type = models.EventMapChange
		ev.Data = &models.MapChangeData{NewMap: m[1]}
		return &ev, true
	}
	if p.patterns.Shutdown.MatchString(body) {
		ev := header
		ev.Type = models.EventServerShutdown
		ev.Data = &models.ServerShutdownData{}
		return &ev, true
	}
	if m := p.patterns.Rcon.FindStringSubmatch(body); m != nil {
		ev := header
		ev.Type = models.EventAdminAction
		ev.Data = &models.AdminActionData{Action: m[1]}
		return &ev, true
	}
	return nil, false
}

// playerMetaFrom builds the identity envelope from the name and steam-id
// captures of a player token.
func playerMetaFrom(name, steamID string) *models.PlayerMeta {
	return &models.PlayerMeta{
		SteamID: steamID,
		Name:    SanitizeName(name),
		IsBot:   IsBotID(steamID),
	}
}

// IsBotID reports whether a steam-id capture denotes a bot.
func IsBotID(steamID string) bool {
	return strings.EqualFold(steamID, "BOT") || strings.HasPrefix(steamID, "BOT_")
}

// SanitizeName strips the angle brackets that would collide with the token
// grammar and truncates to the storage limit.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "<", "")
	name = strings.ReplaceAll(name, ">", "")
	if len(name) > maxNameBytes {
		name = name[:maxNameBytes]
	}
	return name
}

func positionFrom(x, y, z string) models.Position {
	if x == "" {
		return models.Position{}
	}
	xi, _ := strconv.ParseFloat(x, 64)
	yi, _ := strconv.ParseFloat(y, 64)
	zi, _ := strconv.ParseFloat(z, 64)
	return models.Position{X: xi, Y: yi, Z: zi}
}
