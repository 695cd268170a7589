package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// testClock drives field expiry; miniredis drives key expiry.
type testClock struct {
	mr  *miniredis.Miniredis
	now time.Time
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	c.mr.FastForward(d)
}

func newRedisCache(t *testing.T, ttl time.Duration) (*ScheduleCache, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{mr: mr, now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	c := NewScheduleCache(rdb, ttl, "")
	c.now = func() time.Time { return clock.now }
	return c, mr, clock
}

func schedule(staffID, date string) model.StaffSchedule {
	return model.StaffSchedule{
		StaffID:  staffID,
		Date:     date,
		Timezone: "Europe/Berlin",
		Hours:    model.WorkingHours{IsOpen: true, OpenMinute: 540, CloseMinute: 1020},
		Blackouts: []model.Blackout{{
			ID:       "bl-1",
			StartsAt: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
			EndsAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			Reason:   "training",
		}},
	}
}

func TestScheduleCacheKey(t *testing.T) {
	c := NewScheduleCache(nil, 0, "")
	if got := c.key("staff-1"); got != "avail:schedule:staff-1" {
		t.Fatalf("unexpected key %q", got)
	}
	custom := NewScheduleCache(nil, 0, " tenant:sched ")
	if got := custom.key("staff-1"); got != "tenant:sched:staff-1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestScheduleCacheWithoutRedisMisses(t *testing.T) {
	ctx := context.Background()
	var nilCache *ScheduleCache
	for _, c := range []*ScheduleCache{nilCache, NewScheduleCache(nil, 0, "")} {
		if err := c.Put(ctx, model.StaffSchedule{StaffID: "s", Date: "2026-03-10"}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, ok, err := c.Get(ctx, "s", "2026-03-10"); ok || err != nil {
			t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
		}
		if err := c.Invalidate(ctx, "s"); err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
	}
}

func TestScheduleCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newRedisCache(t, time.Minute)

	if _, ok, err := c.Get(ctx, "s1", "2026-03-10"); ok || err != nil {
		t.Fatalf("expected miss on empty cache, got ok=%v err=%v", ok, err)
	}

	want := schedule("s1", "2026-03-10")
	if err := c.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(ctx, "s1", "2026-03-10")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Timezone != want.Timezone || got.Hours != want.Hours || len(got.Blackouts) != 1 {
		t.Fatalf("unexpected schedule %+v", got)
	}
	if !got.Blackouts[0].StartsAt.Equal(want.Blackouts[0].StartsAt) || got.Blackouts[0].Reason != "training" {
		t.Fatalf("blackout not preserved: %+v", got.Blackouts[0])
	}

	if !mr.Exists("avail:schedule:s1") {
		t.Fatal("expected one hash per staff member")
	}
	if ttl := mr.TTL("avail:schedule:s1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected key ttl %s", ttl)
	}
	if _, ok, _ := c.Get(ctx, "s1", "2026-03-11"); ok {
		t.Fatal("other dates must miss")
	}
}

func TestScheduleCacheInvalidateDropsEveryDate(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newRedisCache(t, time.Minute)

	for _, date := range []string{"2026-03-10", "2026-03-11", "2026-03-12"} {
		if err := c.Put(ctx, schedule("s1", date)); err != nil {
			t.Fatalf("Put %s: %v", date, err)
		}
	}
	if err := c.Put(ctx, schedule("s2", "2026-03-10")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := c.Invalidate(ctx, "s1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	for _, date := range []string{"2026-03-10", "2026-03-11", "2026-03-12"} {
		if _, ok, _ := c.Get(ctx, "s1", date); ok {
			t.Fatalf("%s survived invalidation", date)
		}
	}
	if _, ok, _ := c.Get(ctx, "s2", "2026-03-10"); !ok {
		t.Fatal("invalidation leaked to another staff member")
	}
}

func TestScheduleCacheEntriesExpireIndependently(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newRedisCache(t, time.Minute)

	if err := c.Put(ctx, schedule("s1", "2026-03-10")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Writing another date keeps the hash alive but must not refresh older dates.
	for i := 0; i < 10; i++ {
		clock.advance(50 * time.Second)
		if err := c.Put(ctx, schedule("s1", "2026-03-11")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if _, ok, err := c.Get(ctx, "s1", "2026-03-10"); ok || err != nil {
		t.Fatalf("2026-03-10 outlived its ttl: ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.Get(ctx, "s1", "2026-03-11"); !ok || err != nil {
		t.Fatalf("fresh date should hit: ok=%v err=%v", ok, err)
	}
}

func TestScheduleCacheIdleHashExpires(t *testing.T) {
	ctx := context.Background()
	c, mr, clock := newRedisCache(t, time.Minute)

	if err := c.Put(ctx, schedule("s1", "2026-03-10")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock.advance(61 * time.Second)
	if mr.Exists("avail:schedule:s1") {
		t.Fatal("idle hash should expire with the ttl")
	}
	if _, ok, err := c.Get(ctx, "s1", "2026-03-10"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestScheduleCacheTreatsLegacyEntriesAsExpired(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newRedisCache(t, time.Minute)

	mr.HSet("avail:schedule:s1", "2026-03-10", `{"StaffID":"s1","Date":"2026-03-10"}`)
	if _, ok, err := c.Get(ctx, "s1", "2026-03-10"); ok || err != nil {
		t.Fatalf("entry without expiry should miss: ok=%v err=%v", ok, err)
	}
	if mr.HGet("avail:schedule:s1", "2026-03-10") != "" {
		t.Fatal("expired field should be removed")
	}
}

func TestReadyCheck(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error for missing client")
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	if err := ReadyCheck(rdb)(context.Background()); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	mr.Close()
	if err := ReadyCheck(rdb)(context.Background()); err == nil {
		t.Fatal("expected error once redis is gone")
	}
}
