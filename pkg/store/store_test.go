package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisConfig{
		Address: mr.Addr(),
		Prefix:  "carevox:",
	})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "conversation:missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	if err := s.Set(ctx, "conversation:c1", []byte(`{"version":1}`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, "conversation:c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"version":1}` {
		t.Fatalf("Get() = %s", got)
	}

	if err := s.Delete(ctx, "conversation:c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "conversation:c1"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(deleted) error = %v, want ErrKeyNotFound", err)
	}
	if err := s.Delete(ctx, "conversation:c1"); err != nil {
		t.Fatalf("Delete(missing) error = %v, want nil", err)
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisConfig{Address: mr.Addr(), Prefix: "carevox:"})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "conversation:c2", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Get(ctx, "conversation:c2"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(expired) error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedisStore_KeysByPrefix(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	for _, k := range []string{"conversation:a", "conversation:b", "analytics:a"} {
		if err := s.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}
	keys, err := s.Keys(ctx, "conversation:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "conversation:a" || keys[1] != "conversation:b" {
		t.Fatalf("Keys() = %v", keys)
	}
}

func TestMemoryStore_Roundtrip(t *testing.T) {
	clk := time.Unix(1000, 0)
	s := NewMemoryStoreWithClock(func() time.Time { return clk })
	ctx := context.Background()

	if err := s.Set(ctx, "conversation:c1", []byte("v1"), 30*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := s.Get(ctx, "conversation:c1"); err != nil || string(got) != "v1" {
		t.Fatalf("Get() = %s, %v", got, err)
	}

	clk = clk.Add(time.Minute)
	if _, err := s.Get(ctx, "conversation:c1"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(expired) error = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryStore_ValueIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	val := []byte("abc")
	if err := s.Set(ctx, "k", val, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	val[0] = 'z'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("stored value mutated through caller slice: %s", got)
	}
}
