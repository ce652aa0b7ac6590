package resetflow

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "account:reset_cross_signing:flow:"

// RedisFlowStore keeps each flow in a hash with the flow TTL. Status
// transitions run as Lua scripts so they are atomic across instances.
type RedisFlowStore struct {
	client *redis.Client
}

func NewRedisFlowStore(client *redis.Client) *RedisFlowStore {
	return &RedisFlowStore{client: client}
}

func flowKey(id string) string { return redisKeyPrefix + id }

// KEYS[1] flow; ARGV request id, target. 1 started, 0 closed, -1 missing.
var beginScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then return -1 end
local st = redis.call("HGET", KEYS[1], "status")
if st ~= "not_started" and st ~= "failed" then return 0 end
redis.call("HSET", KEYS[1], "status", "pending", "req_id", ARGV[1], "target", ARGV[2], "detail", "")
return 1
`)

// KEYS[1] flow; ARGV request id, status, detail.
var finishScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then return -1 end
if redis.call("HGET", KEYS[1], "req_id") ~= ARGV[1] then return 0 end
if redis.call("HGET", KEYS[1], "status") ~= "pending" then return 0 end
redis.call("HSET", KEYS[1], "status", ARGV[2], "detail", ARGV[3])
return 1
`)

var signalScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then return -1 end
return redis.call("HSETNX", KEYS[1], "signalled", "1")
`)

var discardScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then return -1 end
local st = redis.call("HGET", KEYS[1], "status")
if st ~= "not_started" and st ~= "failed" then return 0 end
redis.call("DEL", KEYS[1])
return 1
`)

func (s *RedisFlowStore) Create(ctx context.Context, f *Flow, ttl time.Duration) error {
	key := flowKey(f.ID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"deep_link", strconv.FormatBool(f.Entry.DeepLink),
			"user_id", f.UserID,
			"created_at", f.CreatedAt.UTC().Unix(),
			"status", string(StatusNotStarted),
			"req_id", "",
			"target", "",
			"detail", "",
		)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisFlowStore) Get(ctx context.Context, id string) (*Flow, error) {
	data, err := s.client.HGetAll(ctx, flowKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrFlowNotFound
	}
	deepLink, _ := strconv.ParseBool(data["deep_link"])
	created, _ := strconv.ParseInt(data["created_at"], 10, 64)
	return &Flow{
		ID:     id,
		Entry:  EntryContext{DeepLink: deepLink},
		UserID: data["user_id"],
		Request: ResetRequest{
			ID:           data["req_id"],
			TargetUserID: data["target"],
			Status:       Status(data["status"]),
			ErrorDetail:  data["detail"],
		},
		Signalled: data["signalled"] == "1",
		CreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}

func (s *RedisFlowStore) run(ctx context.Context, script *redis.Script, id string, args ...any) (int64, error) {
	n, err := script.Run(ctx, s.client, []string{flowKey(id)}, args...).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	if n < 0 {
		return 0, ErrFlowNotFound
	}
	return n, nil
}

func (s *RedisFlowStore) Begin(ctx context.Context, id string, req ResetRequest) (bool, error) {
	n, err := s.run(ctx, beginScript, id, req.ID, req.TargetUserID)
	return n == 1, err
}

func (s *RedisFlowStore) Finish(ctx context.Context, id, reqID string, status Status, detail string) error {
	_, err := s.run(ctx, finishScript, id, reqID, string(status), detail)
	return err
}

func (s *RedisFlowStore) MarkSignalled(ctx context.Context, id string) (bool, error) {
	n, err := s.run(ctx, signalScript, id)
	return n == 1, err
}

func (s *RedisFlowStore) Discard(ctx context.Context, id string) (bool, error) {
	n, err := s.run(ctx, discardScript, id)
	return n == 1, err
}
