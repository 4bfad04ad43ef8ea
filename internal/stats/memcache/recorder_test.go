package statsmemcache_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bradfitz/gomemcache/memcache"

	"learn.throttle/internal/memcacheiface"
	"learn.throttle/internal/stats"
	statsmemcache "learn.throttle/internal/stats/memcache"
)

// mockMemcacheClient is an in-memory stand-in for memcacheiface.Client.
type mockMemcacheClient struct {
	mu    sync.Mutex
	items map[string]*memcache.Item

	AddFunc       func(item *memcache.Item) error
	IncrementFunc func(key string, delta uint64) (uint64, error)
}

var _ memcacheiface.Client = (*mockMemcacheClient)(nil)

func newMockMemcacheClient() *mockMemcacheClient {
	return &mockMemcacheClient{items: make(map[string]*memcache.Item)}
}

func (m *mockMemcacheClient) Get(key string) (*memcache.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (m *mockMemcacheClient) Add(item *memcache.Item) error {
	if m.AddFunc != nil {
		return m.AddFunc(item)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[item.Key]; exists {
		return memcache.ErrNotStored
	}
	m.items[item.Key] = item
	return nil
}

func (m *mockMemcacheClient) Increment(key string, delta uint64) (uint64, error) {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(key, delta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return 0, memcache.ErrCacheMiss
	}
	current, err := strconv.ParseUint(string(item.Value), 10, 64)
	if err != nil {
		return 0, errors.New("memcache: cannot increment or decrement non-numeric value")
	}
	current += delta
	item.Value = []byte(strconv.FormatUint(current, 10))
	return current, nil
}

func TestRecorder_Counts(t *testing.T) {
	client := newMockMemcacheClient()
	r := statsmemcache.NewRecorder(client, "throttle:stats")
	ctx := context.Background()

	events := []bool{true, false, false, true, false}
	for i, allowed := range events {
		if err := r.Record(ctx, stats.Event{Throttle: "chat", Key: "1", Allowed: allowed}); err != nil {
			t.Fatalf("Record %d: unexpected error: %v", i, err)
		}
	}

	allowed, err := r.Count("chat", true)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	denied, err := r.Count("chat", false)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if allowed != 2 || denied != 3 {
		t.Fatalf("expected 2 allowed and 3 denied, got %d and %d", allowed, denied)
	}

	if n, err := r.Count("unknown", true); err != nil || n != 0 {
		t.Fatalf("missing counter should read as 0, got %d (err: %v)", n, err)
	}
	if _, ok := client.items["throttle:stats:chat:key:1:allowed"]; ok {
		t.Fatal("per-key counter written without tracking enabled")
	}
}

func TestRecorder_TrackKeys(t *testing.T) {
	client := newMockMemcacheClient()
	r := statsmemcache.NewRecorder(client, "stats", statsmemcache.WithTrackKeys(true), statsmemcache.WithExpiration(60))
	ctx := context.Background()

	if err := r.Record(ctx, stats.Event{Throttle: "chat", Key: "user1", Allowed: true}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	item, ok := client.items[r.KeyCounterKey("chat", "user1", true)]
	if !ok {
		t.Fatal("expected a per-key counter")
	}
	if item.Expiration != 60 {
		t.Fatalf("expected expiration 60, got %d", item.Expiration)
	}

	// Identifiers with spaces cannot be memcache keys; only the per-key counter is skipped.
	if err := r.Record(ctx, stats.Event{Throttle: "chat", Key: "bad key", Allowed: true}); err != nil {
		t.Fatalf("Record with an unusable identifier failed: %v", err)
	}
	if n, _ := r.Count("chat", true); n != 2 {
		t.Fatalf("expected 2 allowed, got %d", n)
	}
}

func TestRecorder_AddError(t *testing.T) {
	client := newMockMemcacheClient()
	client.AddFunc = func(*memcache.Item) error { return errors.New("connection refused") }
	r := statsmemcache.NewRecorder(client, "stats")

	err := r.Record(context.Background(), stats.Event{Throttle: "chat", Key: "1", Allowed: true})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "memcache add failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecorder_IncrementError(t *testing.T) {
	client := newMockMemcacheClient()
	client.IncrementFunc = func(string, uint64) (uint64, error) { return 0, errors.New("server error") }
	r := statsmemcache.NewRecorder(client, "stats")
	ctx := context.Background()

	if err := r.Record(ctx, stats.Event{Throttle: "chat", Key: "1", Allowed: true}); err != nil {
		t.Fatalf("first Record should only Add: %v", err)
	}
	err := r.Record(ctx, stats.Event{Throttle: "chat", Key: "1", Allowed: true})
	if err == nil || !strings.Contains(err.Error(), "memcache increment failed") {
		t.Fatalf("expected increment error, got %v", err)
	}
}
