package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_SerializesSameKey(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second, 5*time.Second)

	var inside, maxInside, runs int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "booking:staff:7", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&runs, 1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max holders at once = %d, want 1", maxInside)
	}
	if runs != 8 {
		t.Errorf("runs = %d, want 8", runs)
	}
}

func TestRedisLocker_HoldsKeyWithTTLAndReleases(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, 10*time.Second, time.Second)

	err := locker.WithLock(context.Background(), "conv:+15550001111", func(ctx context.Context) error {
		if !mr.Exists("lock:conv:+15550001111") {
			t.Error("lock key missing while held")
		}
		if ttl := mr.TTL("lock:conv:+15550001111"); ttl <= 0 || ttl > 10*time.Second {
			t.Errorf("lock ttl = %s, want (0, 10s]", ttl)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if mr.Exists("lock:conv:+15550001111") {
		t.Error("lock key still present after release")
	}
}

func TestRedisLocker_GivesUpWhenHeld(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set("lock:booking:staff:7", "someone-else"); err != nil {
		t.Fatal(err)
	}
	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond)

	called := false
	err := locker.WithLock(context.Background(), "booking:staff:7", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("WithLock() error = %v, want ErrLockNotAcquired", err)
	}
	if called {
		t.Error("fn ran without the lock")
	}
	if got, _ := mr.Get("lock:booking:staff:7"); got != "someone-else" {
		t.Errorf("holder token = %q, want untouched", got)
	}
}

func TestRedisLocker_ExpiredLeaseCanBeTaken(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set("lock:booking:staff:7", "crashed-holder"); err != nil {
		t.Fatal(err)
	}
	mr.SetTTL("lock:booking:staff:7", time.Second)
	mr.FastForward(2 * time.Second)

	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond)
	if err := locker.WithLock(context.Background(), "booking:staff:7", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("WithLock after lease expiry failed: %v", err)
	}
}

func TestRelease_OnlyDeletesOwnToken(t *testing.T) {
	mr, client := newTestRedis(t)
	l := &redisLocker{client: client, ttl: time.Second, wait: time.Second}
	ctx := context.Background()

	if err := mr.Set("lock:k", "holder-b"); err != nil {
		t.Fatal(err)
	}
	if err := l.release(ctx, "lock:k", "holder-a"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got, _ := mr.Get("lock:k"); got != "holder-b" {
		t.Fatalf("stale release removed another holder's lock, value = %q", got)
	}

	if err := l.release(ctx, "lock:k", "holder-b"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists("lock:k") {
		t.Error("owner release left the key behind")
	}
}
