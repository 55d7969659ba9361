package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/pavelanni/proctor/internal/model"
)

const redisKeyPrefix = "proctor:tracker:"

// Each script works on one session hash so every read-modify-write is atomic
// across server instances sharing the same Redis.
var (
	addScript = redis.NewScript(`
		local key = KEYS[1]
		redis.call('HINCRBYFLOAT', key, 'score', ARGV[1])
		if ARGV[2] == '1' then
			redis.call('HINCRBY', key, 'flags', 1)
		else
			redis.call('HSETNX', key, 'flags', 0)
		end
		redis.call('HSETNX', key, 'state', 'no_viva')
		redis.call('HSET', key, 'last_seen', ARGV[3])
		if redis.call('HGET', key, 'triggered') ~= '1' then
			redis.call('PEXPIRE', key, ARGV[4])
		end
		return redis.call('HGETALL', key)
	`)

	beginScript = redis.NewScript(`
		local key = KEYS[1]
		if redis.call('EXISTS', key) == 0 then
			return 0
		end
		if redis.call('HGET', key, 'triggered') == '1' or redis.call('HGET', key, 'in_progress') == '1' then
			return 0
		end
		local score = tonumber(redis.call('HGET', key, 'score') or '0')
		local flags = tonumber(redis.call('HGET', key, 'flags') or '0')
		if score < tonumber(ARGV[1]) and flags < tonumber(ARGV[2]) then
			return 0
		end
		redis.call('HSET', key, 'triggered', '1', 'in_progress', '1', 'state', 'triggered_pending')
		redis.call('PERSIST', key)
		return 1
	`)

	// ARGV: target state, in_progress value, clear triggered, allowed source states...
	transitionScript = redis.NewScript(`
		local key = KEYS[1]
		local state = redis.call('HGET', key, 'state')
		if not state then
			return -1
		end
		for i = 4, #ARGV do
			if state == ARGV[i] then
				redis.call('HSET', key, 'state', ARGV[1], 'in_progress', ARGV[2])
				if ARGV[3] == '1' then
					redis.call('HSET', key, 'triggered', '0')
				end
				return 1
			end
		end
		return 0
	`)
)

// Redis is a Tracker shared by every server instance pointing at the same
// Redis. Session state expires after ttl without events until a viva is
// triggered; from then on it lives until Evict.
type Redis struct {
	rdb    redis.UniversalClient
	policy Policy
	ttl    time.Duration
}

// NewRedis creates a Redis-backed tracker.
func NewRedis(rdb redis.UniversalClient, p Policy, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, policy: p, ttl: ttl}
}

func (r *Redis) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (r *Redis) AddEventScore(ctx context.Context, sessionID string, priority model.Priority, confidence float64, flagged bool) (Snapshot, error) {
	flag := "0"
	if flagged {
		flag = "1"
	}
	res, err := addScript.Run(ctx, r.rdb, []string{r.key(sessionID)},
		strconv.FormatFloat(confidence*float64(priority), 'f', -1, 64),
		flag,
		time.Now().UnixMilli(),
		r.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return Snapshot{}, fmt.Errorf("add event score: %w", err)
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return parseSnapshot(sessionID, fields), nil
}

func (r *Redis) ShouldTriggerViva(ctx context.Context, sessionID string) (bool, error) {
	s, ok, err := r.Snapshot(ctx, sessionID)
	if err != nil || !ok {
		return false, err
	}
	return due(r.policy, s), nil
}

func (r *Redis) BeginViva(ctx context.Context, sessionID string) (bool, error) {
	n, err := beginScript.Run(ctx, r.rdb, []string{r.key(sessionID)},
		strconv.FormatFloat(r.policy.Thresholds.Score, 'f', -1, 64),
		r.policy.Thresholds.Flags,
	).Int()
	if err != nil {
		return false, fmt.Errorf("begin viva: %w", err)
	}
	return n == 1, nil
}

func (r *Redis) ConfirmViva(ctx context.Context, sessionID string) error {
	return r.transition(ctx, sessionID, StateInProgress, true, false, StatePending)
}

func (r *Redis) AbortViva(ctx context.Context, sessionID string) error {
	return r.transition(ctx, sessionID, StateNoViva, false, r.policy.RetryFailedViva, StatePending, StateInProgress)
}

func (r *Redis) CompleteViva(ctx context.Context, sessionID string) error {
	return r.transition(ctx, sessionID, StateCompleted, false, false, StateInProgress)
}

func (r *Redis) transition(ctx context.Context, sessionID string, to State, inProgress, clearTriggered bool, from ...State) error {
	args := []any{string(to), boolArg(inProgress), boolArg(clearTriggered)}
	for _, s := range from {
		args = append(args, string(s))
	}
	n, err := transitionScript.Run(ctx, r.rdb, []string{r.key(sessionID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("viva transition to %s: %w", to, err)
	}
	if n != 1 {
		return fmt.Errorf("session %s to %s: %w", sessionID, to, ErrInvalidTransition)
	}
	return nil
}

func (r *Redis) Snapshot(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read session state: %w", err)
	}
	return parseSnapshot(sessionID, fields), true, nil
}

func (r *Redis) Evict(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("evict session state: %w", err)
	}
	return nil
}

func parseSnapshot(sessionID string, f map[string]string) Snapshot {
	s := Snapshot{
		SessionID:      sessionID,
		VivaTriggered:  f["triggered"] == "1",
		VivaInProgress: f["in_progress"] == "1",
		State:          State(f["state"]),
	}
	if s.State == "" {
		s.State = StateNoViva
	}
	s.CumulativeScore, _ = strconv.ParseFloat(f["score"], 64)
	s.FlagCount, _ = strconv.Atoi(f["flags"])
	if ms, err := strconv.ParseInt(f["last_seen"], 10, 64); err == nil {
		s.LastSeen = time.UnixMilli(ms)
	}
	return s
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
