package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sourcestats/collector/internal/store"
)

// retention bounds how long an idle player stays queryable.
const retention = 30 * time.Minute

// Tracker records per-server player activity in Redis: a sorted set scored
// by last-seen unix time plus a hash of last-known teams. All operations are
// best-effort; callers fall back to the relational store when Redis is down.
type Tracker struct {
	rdb    *redis.Client
	logger *zap.SugaredLogger
}

func NewTracker(rdb *redis.Client, logger *zap.Logger) *Tracker {
	return &Tracker{rdb: rdb, logger: logger.Sugar()}
}

func activityKey(serverID int64) string {
	return fmt.Sprintf("server:%d:presence", serverID)
}

func teamKey(serverID int64) string {
	return fmt.Sprintf("server:%d:teams", serverID)
}

// Touch marks the player active on the server now. An empty team keeps the
// previously recorded one.
func (t *Tracker) Touch(ctx context.Context, serverID, playerID int64, team string) error {
	now := time.Now()
	member := strconv.FormatInt(playerID, 10)

	pipe := t.rdb.Pipeline()
	pipe.ZAdd(ctx, activityKey(serverID), redis.Z{Score: float64(now.Unix()), Member: member})
	pipe.ZRemRangeByScore(ctx, activityKey(serverID), "0", strconv.FormatInt(now.Add(-retention).Unix(), 10))
	pipe.Expire(ctx, activityKey(serverID), retention)
	if team != "" {
		pipe.HSet(ctx, teamKey(serverID), member, team)
		pipe.Expire(ctx, teamKey(serverID), retention)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Active lists players seen on the server within the window, with their
// last-known team.
func (t *Tracker) Active(ctx context.Context, serverID int64, window time.Duration) ([]store.Participant, error) {
	since := time.Now().Add(-window).Unix()
	members, err := t.rdb.ZRangeByScore(ctx, activityKey(serverID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	teams, err := t.rdb.HGetAll(ctx, teamKey(serverID)).Result()
	if err != nil {
		t.logger.Debugw("team lookup failed", "server_id", serverID, "error", err)
		teams = nil
	}

	participants := make([]store.Participant, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		participants = append(participants, store.Participant{
			PlayerID: id,
			Team:     teams[m],
		})
	}
	return participants, nil
}
