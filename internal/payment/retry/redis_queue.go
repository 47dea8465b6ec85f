package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisQueue is the DelayedQueue for multi-node deployments: a sorted set
// keyed by due time, so any worker can drain entries scheduled by any
// node. Pop is a WATCH-free two step (range then remove); an entry lost to
// a racing worker is simply not returned here.
type RedisQueue struct {
	client *goredis.Client
	key    string
}

func NewRedisQueue(client *goredis.Client, prefix string) *RedisQueue {
	return &RedisQueue{
		client: client,
		key:    fmt.Sprintf("%s:retry:delayed", prefix),
	}
}

func (q *RedisQueue) Push(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal retry entry: %w", err)
	}
	err = q.client.ZAdd(ctx, q.key, goredis.Z{
		Score:  float64(entry.DueAt.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("push retry entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range due retries: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	removed := make([]*goredis.IntCmd, len(members))
	for i, m := range members {
		removed[i] = pipe.ZRem(ctx, q.key, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("remove due retries: %w", err)
	}

	var due []Entry
	for i, m := range members {
		// Another worker got there first for this member.
		if removed[i].Val() == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(m), &entry); err != nil {
			continue
		}
		due = append(due, entry)
	}
	return due, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
