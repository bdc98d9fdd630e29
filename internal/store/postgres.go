package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcestats/collector/internal/models"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// operations serve plain and transactional calls.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres implements Store over a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	q    pgQuerier
	inTx bool
}

// NewPostgres wraps an established pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return NewPostgres(pool), nil
}

// Close releases the pool. No-op inside a transaction scope.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Postgres) GetServerByAddress(ctx context.Context, ip string, port int) (*models.Server, error) {
	var srv models.Server
	err := s.q.QueryRow(ctx, `
		SELECT id, address, port, game, COALESCE(name, '')
		FROM servers
		WHERE address = $1 AND port = $2
	`, ip, port).Scan(&srv.ID, &srv.Address, &srv.Port, &srv.Game, &srv.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get server by address: %w", err)
	}
	return &srv, nil
}

func (s *Postgres) AutoRegisterDevServer(ctx context.Context, ip string, port int) (*models.Server, error) {
	name := fmt.Sprintf("%s:%d", ip, port)
	var srv models.Server
	err := s.q.QueryRow(ctx, `
		INSERT INTO servers (address, port, game, name)
		VALUES ($1, $2, 'cstrike', $3)
		RETURNING id, address, port, game, name
	`, ip, port, name).Scan(&srv.ID, &srv.Address, &srv.Port, &srv.Game, &srv.Name)
	if err == nil {
		return &srv, nil
	}
	// Another worker registered the same endpoint first; re-read.
	if isUniqueViolation(err) {
		return s.GetServerByAddress(ctx, ip, port)
	}
	return nil, fmt.Errorf("auto register server: %w", err)
}

func (s *Postgres) GetOrCreatePlayer(ctx context.Context, uniqueID, playerName, game string) (int64, error) {
	var playerID int64
	err := s.q.QueryRow(ctx, `
		SELECT player_id FROM player_unique_ids
		WHERE unique_id = $1 AND game = $2
	`, uniqueID, game).Scan(&playerID)
	if err == nil {
		// Refresh the last seen name.
		if _, err := s.q.Exec(ctx, `
			UPDATE players SET last_name = $2, last_event = NOW()
			WHERE id = $1
		`, playerID, playerName); err != nil {
			return 0, fmt.Errorf("update player name: %w", err)
		}
		return playerID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lookup player unique id: %w", err)
	}

	err = s.q.QueryRow(ctx, `
		INSERT INTO players (last_name, game, skill, last_event)
		VALUES ($1, $2, $3, NOW())
		RETURNING id
	`, playerName, game, models.InitialSkill).Scan(&playerID)
	if err != nil {
		return 0, fmt.Errorf("create player: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO player_unique_ids (unique_id, game, player_id)
		VALUES ($1, $2, $3)
	`, uniqueID, game, playerID)
	if err == nil {
		return playerID, nil
	}
	// Lost the binding race: discard our player row's binding and use the
	// winner's id.
	if isUniqueViolation(err) {
		var existing int64
		reread := s.q.QueryRow(ctx, `
			SELECT player_id FROM player_unique_ids
			WHERE unique_id = $1 AND game = $2
		`, uniqueID, game).Scan(&existing)
		if reread != nil {
			return 0, fmt.Errorf("re-read player unique id: %w", reread)
		}
		return existing, nil
	}
	return 0, fmt.Errorf("bind player unique id: %w", err)
}

func (s *Postgres) GetPlayerStats(ctx context.Context, playerID int64) (*models.PlayerStats, error) {
	var st models.PlayerStats
	err := s.q.QueryRow(ctx, `
		SELECT id, COALESCE(last_name, ''), game, skill,
		       kills, deaths, suicides, teamkills, headshots, shots, hits,
		       kill_streak, death_streak, connection_time, games_played,
		       COALESCE(last_event, to_timestamp(0)),
		       COALESCE(last_skill_change, to_timestamp(0))
		FROM players
		WHERE id = $1
	`, playerID).Scan(
		&st.PlayerID, &st.Name, &st.Game, &st.Skill,
		&st.Kills, &st.Deaths, &st.Suicides, &st.Teamkills, &st.Headshots,
		&st.Shots, &st.Hits,
		&st.KillStreak, &st.DeathStreak, &st.ConnectionTime, &st.GamesPlayed,
		&st.LastEvent, &st.LastSkillChange,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player stats: %w", err)
	}
	return &st, nil
}

func (s *Postgres) UpdatePlayerStats(ctx context.Context, playerID int64, patch models.StatsPatch) error {
	if patch.IsZero() {
		return nil
	}
	set, args := buildStatsPatch(patch)
	args = append(args, playerID)
	sql := fmt.Sprintf("UPDATE players SET %s WHERE id = $%d", set, len(args))
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update player stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildStatsPatch renders the SET clause for a partial stats update. Plain
// numeric fields become increments, pointer fields assignments.
func buildStatsPatch(patch models.StatsPatch) (string, []any) {
	var clauses []string
	var args []any

	inc := func(col string, v int64) {
		if v == 0 {
			return
		}
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s = %s + $%d", col, col, len(args)))
	}
	assign := func(col string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	inc("kills", patch.Kills)
	inc("deaths", patch.Deaths)
	inc("suicides", patch.Suicides)
	inc("teamkills", patch.Teamkills)
	inc("headshots", patch.Headshots)
	inc("shots", patch.Shots)
	inc("hits", patch.Hits)
	inc("games_played", patch.GamesPlayed)

	if patch.Skill != nil {
		assign("skill", *patch.Skill)
	}
	if patch.KillStreak != nil {
		assign("kill_streak", *patch.KillStreak)
	}
	if patch.DeathStreak != nil {
		assign("death_streak", *patch.DeathStreak)
	}
	if patch.ConnectionTime != nil {
		assign("connection_time", *patch.ConnectionTime)
	}
	if patch.LastEvent != nil {
		assign("last_event", *patch.LastEvent)
	}
	if patch.LastSkillChange != nil {
		assign("last_skill_change", *patch.LastSkillChange)
	}

	return strings.Join(clauses, ", "), args
}

func (s *Postgres) CreateGameEvent(ctx context.Context, ev *models.GameEvent) error {
	id := uuid.New()

	switch data := ev.Data.(type) {
	case *models.ConnectData:
		_, err := s.q.Exec(ctx, `
			INSERT INTO events_connect (id, server_id, created_at, player_id, name, steam_id, address)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, ev.ServerID, ev.Timestamp, data.PlayerID, data.Name, data.SteamID, data.Address)
		return wrapInsert("events_connect", err)

	case *models.DisconnectData:
		_, err := s.q.Exec(ctx, `
			INSERT INTO events_disconnect (id, server_id, created_at, player_id, name, steam_id, reason, session_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, ev.ServerID, ev.Timestamp, data.PlayerID, data.Name, data.SteamID, data.Reason, data.SessionDuration)
		return wrapInsert("events_disconnect", err)

	case *models.KillData:
		_, err := s.q.Exec(ctx, `
			INSERT INTO events_frag (id, server_id, created_at, kind, killer_id, victim_id, weapon, headshot,
			                         killer_team, victim_team,
			                         killer_x, killer_y, killer_z, victim_x, victim_y, victim_z)
			VALUES ($1, $2, $3, 'kill', $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, id, ev.ServerID, ev.Timestamp, data.KillerID, data.VictimID, data.Weapon, data.Headshot,
			data.KillerTeam, data.VictimTeam,
			data.KillerPos.X, data.KillerPos.Y, data.KillerPos.Z,
			data.VictimPos.X, data.VictimPos.Y, data.VictimPos.Z)
		return wrapInsert("events_frag", err)

	case *models.TeamkillData:
		_, err := s.q.Exec(ctx, `
			INSERT INTO events_frag (id, server_id, created_at, kind, killer_id, victim_id, weapon, headshot,
			                         killer_team, victim_team,
			                         killer_x, killer_y, killer_z, victim_x, victim_y, victim_z)
			VALUES ($1, $2, $3, 'teamkill', $4, $5, $6, false, $7, $7, 0, 0, 0, 0, 0, 0)
		`, id, ev.ServerID, ev.Timestamp, data.KillerID, data.VictimID, data.Weapon, data.Team)
		return wrapInsert("events_frag", err)

	case *models.SuicideData:
		_, err := s.q.Exec(ctx, `
			INSERT INTO events_frag (id, server_id, created_at, kind, killer_id, victim_id, weapon, headshot,
			                         killer_team, victim_team,
			                         killer_x, killer_y, killer_z, victim_x, victim_y, victim_z)
			VALUES ($1, $2, $3, 'suicide', $4, $4, $5, false, '', '', $6, $7, $8, $6, $7, $8)
		`, id, ev.ServerID, ev.Timestamp, data.PlayerID, data.Weapon, data.Pos.X, data.Pos.Y, data.Pos.Z)
		return wrapInsert("events_frag", err)

	case *models.ChatData:
		_, err := s.q.Exec(ctx, `
			INSERT INTO events_chat (id, server_id, created_at, player_id, message, message_mode)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, ev.ServerID, ev.Timestamp, data.PlayerID, data.Message, data.MessageMode)
		return wrapInsert("events_chat", err)

	default:
		// Serverwide events (round boundaries, map changes, shutdown, admin)
		// land in a single table keyed by event type.
		detail, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encode event detail: %w", err)
		}
		_, err = s.q.Exec(ctx, `
			INSERT INTO events_server (id, server_id, created_at, event_type, detail)
			VALUES ($1, $2, $3, $4, $5)
		`, id, ev.ServerID, ev.Timestamp, string(ev.Type), detail)
		return wrapInsert("events_server", err)
	}
}

func wrapInsert(table string, err error) error {
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *Postgres) RecordWeaponUsage(ctx context.Context, game, weapon string, killerID, victimID int64, headshot bool) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO weapon_usage (game, weapon, killer_id, victim_id, headshot, kills)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (game, weapon, killer_id, victim_id, headshot)
		DO UPDATE SET kills = weapon_usage.kills + 1
	`, game, weapon, killerID, victimID, headshot)
	if err != nil {
		return fmt.Errorf("record weapon usage: %w", err)
	}
	return nil
}

func (s *Postgres) WeaponModifier(ctx context.Context, game, weapon string) (float64, bool, error) {
	var mult float64
	err := s.q.QueryRow(ctx, `
		SELECT modifier FROM weapon_modifiers
		WHERE game = $1 AND weapon = $2
	`, game, weapon).Scan(&mult)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("weapon modifier: %w", err)
	}
	return mult, true, nil
}

func (s *Postgres) RecentParticipants(ctx context.Context, serverID int64, window time.Duration) ([]Participant, error) {
	since := time.Now().Add(-window)
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT ON (player_id) player_id, team
		FROM (
			SELECT killer_id AS player_id, killer_team AS team, created_at
			FROM events_frag WHERE server_id = $1 AND created_at >= $2
			UNION ALL
			SELECT victim_id, victim_team, created_at
			FROM events_frag WHERE server_id = $1 AND created_at >= $2
		) AS recent
		WHERE player_id <> 0
		ORDER BY player_id, created_at DESC
	`, serverID, since)
	if err != nil {
		return nil, fmt.Errorf("recent participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.PlayerID, &p.Team); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateMatchSummary(ctx context.Context, m *models.MatchStats) error {
	scores, err := json.Marshal(m.TeamScores)
	if err != nil {
		return fmt.Errorf("encode team scores: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO match_summaries (id, server_id, map, total_rounds, duration_seconds, team_scores, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New(), m.ServerID, m.Map, m.TotalRounds, m.Duration, scores)
	if err != nil {
		return fmt.Errorf("insert match summary: %w", err)
	}
	return nil
}

func (s *Postgres) Transaction(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return ErrNestedTransaction
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	child := &Postgres{q: tx, inTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
