package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// ScheduleCache keeps resolved per-date schedules in one Redis hash per staff
// member so a single DEL drops every cached date after a schedule change.
// Each field carries its own expiry; the key TTL only bounds how long an idle
// hash lingers.
type ScheduleCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

type entry struct {
	ExpiresAt int64               `json:"expires_at"`
	Schedule  model.StaffSchedule `json:"schedule"`
}

func NewScheduleCache(rdb *redis.Client, ttl time.Duration, prefix string) *ScheduleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "avail:schedule"
	}
	return &ScheduleCache{rdb: rdb, ttl: ttl, prefix: prefix, now: time.Now}
}

func (c *ScheduleCache) key(staffID string) string {
	return c.prefix + ":" + staffID
}

// Get returns the cached schedule and whether it was present and fresh. Expired
// fields are dropped and reported as misses. A nil cache always misses.
func (c *ScheduleCache) Get(ctx context.Context, staffID, date string) (model.StaffSchedule, bool, error) {
	if c == nil || c.rdb == nil {
		return model.StaffSchedule{}, false, nil
	}
	key := c.key(staffID)
	raw, err := c.rdb.HGet(ctx, key, date).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.StaffSchedule{}, false, nil
		}
		return model.StaffSchedule{}, false, err
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.StaffSchedule{}, false, err
	}
	if c.now().UnixMilli() >= e.ExpiresAt {
		if err := c.rdb.HDel(ctx, key, date).Err(); err != nil {
			return model.StaffSchedule{}, false, err
		}
		return model.StaffSchedule{}, false, nil
	}
	return e.Schedule, true, nil
}

func (c *ScheduleCache) Put(ctx context.Context, sched model.StaffSchedule) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(entry{
		ExpiresAt: c.now().Add(c.ttl).UnixMilli(),
		Schedule:  sched,
	})
	if err != nil {
		return err
	}
	key := c.key(sched.StaffID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, sched.Date, raw)
	pipe.Expire(ctx, key, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops every cached date for the staff member.
func (c *ScheduleCache) Invalidate(ctx context.Context, staffID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.key(staffID)).Err()
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
