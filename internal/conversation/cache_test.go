package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is a scriptable storage.Store that counts calls.
type fakeStore struct {
	mu         sync.Mutex
	history    map[string][]storage.Entry
	fetchErr   error
	saveErr    error
	gate       chan struct{}
	fetchCalls map[string]int
	saved      []savedEntry
}

type savedEntry struct {
	conversationID string
	userID         string
	entry          storage.Entry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		history:    make(map[string][]storage.Entry),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeStore) Fetch(ctx context.Context, id string) ([]storage.Entry, error) {
	f.mu.Lock()
	f.fetchCalls[id]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]storage.Entry, len(f.history[id]))
	copy(out, f.history[id])
	return out, nil
}

func (f *fakeStore) Save(ctx context.Context, id, userID string, entry storage.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, savedEntry{conversationID: id, userID: userID, entry: entry})
	return nil
}

func (f *fakeStore) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[id]
}

func (f *fakeStore) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func entry(user, bot string) storage.Entry {
	return storage.Entry{UserMessage: user, BotResponse: bot, Timestamp: time.Now().UTC()}
}

func TestCacheEnsureLoaded_Idempotent(t *testing.T) {
	store := newFakeStore()
	store.history["C1"] = []storage.Entry{entry("a", "b")}
	cache := NewCache(store, time.Second, testLogger())
	ctx := context.Background()

	if cache.IsLoaded("C1") {
		t.Fatal("expected C1 to start unloaded")
	}
	for i := 0; i < 2; i++ {
		if err := cache.EnsureLoaded(ctx, "C1"); err != nil {
			t.Fatal(err)
		}
	}

	if got := store.calls("C1"); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
	if !cache.IsLoaded("C1") {
		t.Error("expected C1 to be loaded")
	}
	if snap := cache.Snapshot("C1"); len(snap) != 1 || snap[0].UserMessage != "a" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestCacheEnsureLoaded_EmptyHistoryIsLoaded(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store, time.Second, testLogger())
	ctx := context.Background()

	cache.EnsureLoaded(ctx, "new")
	cache.EnsureLoaded(ctx, "new")

	if !cache.IsLoaded("new") {
		t.Error("expected empty conversation to be marked loaded")
	}
	if got := store.calls("new"); got != 1 {
		t.Errorf("expected 1 fetch for empty conversation, got %d", got)
	}
}

func TestCacheEnsureLoaded_ConcurrentCallersShareFetch(t *testing.T) {
	store := newFakeStore()
	store.history["C1"] = []storage.Entry{entry("a", "b"), entry("c", "d")}
	store.gate = make(chan struct{})
	cache := NewCache(store, time.Second, testLogger())

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cache.EnsureLoaded(context.Background(), "C1")
		}()
	}

	close(store.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got := store.calls("C1"); got != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", got)
	}
	if snap := cache.Snapshot("C1"); len(snap) != 2 {
		t.Errorf("expected 2 entries, got %d", len(snap))
	}
}

func TestCacheEnsureLoaded_FailureLeavesUnloaded(t *testing.T) {
	store := newFakeStore()
	store.history["C1"] = []storage.Entry{entry("a", "b")}
	store.setFetchErr(&storage.StoreError{Kind: storage.KindUnavailable, Op: "fetch", ConversationID: "C1"})
	cache := NewCache(store, time.Second, testLogger())
	ctx := context.Background()

	err := cache.EnsureLoaded(ctx, "C1")
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if cache.IsLoaded("C1") {
		t.Fatal("failed fetch must not mark the key loaded")
	}
	if snap := cache.Snapshot("C1"); len(snap) != 0 {
		t.Errorf("expected empty view after failure, got %+v", snap)
	}

	store.setFetchErr(nil)
	if err := cache.EnsureLoaded(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	if got := store.calls("C1"); got != 2 {
		t.Errorf("expected retry to fetch again, got %d calls", got)
	}
	if !cache.IsLoaded("C1") {
		t.Error("expected C1 loaded after retry")
	}
}

func TestCacheEnsureLoaded_CallerCancellation(t *testing.T) {
	store := newFakeStore()
	store.history["C1"] = []storage.Entry{entry("a", "b")}
	store.gate = make(chan struct{})
	cache := NewCache(store, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cache.EnsureLoaded(ctx, "C1")
	}()

	for store.calls("C1") == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The shared fetch keeps running and completes for the next caller.
	close(store.gate)
	if err := cache.EnsureLoaded(context.Background(), "C1"); err != nil {
		t.Fatal(err)
	}
	if got := store.calls("C1"); got != 1 {
		t.Errorf("expected the original fetch to be reused, got %d calls", got)
	}
	if !cache.IsLoaded("C1") {
		t.Error("expected C1 to be loaded")
	}
}

func TestCacheEnsureLoaded_DropsInvalidEntries(t *testing.T) {
	store := newFakeStore()
	store.history["C1"] = []storage.Entry{
		entry("a", "b"),
		{UserMessage: "", BotResponse: "orphan"},
		{UserMessage: "ghost", BotResponse: ""},
		entry("c", "d"),
	}
	cache := NewCache(store, time.Second, testLogger())

	if err := cache.EnsureLoaded(context.Background(), "C1"); err != nil {
		t.Fatal(err)
	}
	snap := cache.Snapshot("C1")
	if len(snap) != 2 {
		t.Fatalf("expected 2 valid entries, got %+v", snap)
	}
	if snap[0].UserMessage != "a" || snap[1].UserMessage != "c" {
		t.Errorf("unexpected order %+v", snap)
	}
}

func TestCacheAppend_BeforeLoad(t *testing.T) {
	cache := NewCache(newFakeStore(), time.Second, testLogger())

	cache.Append("C1", entry("x", "y"))

	snap := cache.Snapshot("C1")
	if len(snap) != 1 || snap[0].UserMessage != "x" {
		t.Fatalf("expected appended entry, got %+v", snap)
	}
	if cache.IsLoaded("C1") {
		t.Error("append must not mark a key loaded")
	}
}

func TestCacheAppend_AfterLoad(t *testing.T) {
	store := newFakeStore()
	store.history["C1"] = []storage.Entry{entry("a", "b")}
	cache := NewCache(store, time.Second, testLogger())

	cache.EnsureLoaded(context.Background(), "C1")
	cache.Append("C1", entry("c", "d"))

	snap := cache.Snapshot("C1")
	if len(snap) != 2 || snap[1].UserMessage != "c" {
		t.Fatalf("expected appended entry last, got %+v", snap)
	}
}

func TestCacheHydrate_MergesLocalAppends(t *testing.T) {
	store := newFakeStore()
	store.setFetchErr(errors.New("down"))
	cache := NewCache(store, time.Second, testLogger())
	ctx := context.Background()

	local1 := entry("local-1", "r1")
	cache.EnsureLoaded(ctx, "C1")
	cache.Append("C1", local1)
	cache.Append("C1", entry("local-2", "r2"))

	// The store caught up with one of the local appends.
	store.mu.Lock()
	store.history["C1"] = []storage.Entry{entry("old", "r0"), local1}
	store.mu.Unlock()
	store.setFetchErr(nil)

	if err := cache.EnsureLoaded(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	assertUserMessages(t, cache.Snapshot("C1"), "old", "local-1", "local-2")
}

func TestCacheHydrate_KeepsLocalAppendsMatchingOlderHistory(t *testing.T) {
	store := newFakeStore()
	store.setFetchErr(errors.New("down"))
	cache := NewCache(store, time.Second, testLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	fresh := storage.Entry{UserMessage: "hi", BotResponse: "Hello!", Timestamp: now}
	cache.EnsureLoaded(ctx, "C1")
	cache.Append("C1", fresh)
	cache.Append("C1", fresh)

	store.mu.Lock()
	store.history["C1"] = []storage.Entry{
		{UserMessage: "hi", BotResponse: "Hello!", Timestamp: now.Add(-48 * time.Hour)},
		{UserMessage: "what is go", BotResponse: "a language", Timestamp: now.Add(-47 * time.Hour)},
	}
	store.mu.Unlock()
	store.setFetchErr(nil)

	if err := cache.EnsureLoaded(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	snap := cache.Snapshot("C1")
	assertUserMessages(t, snap, "hi", "what is go", "hi", "hi")
	if !snap[3].Timestamp.Equal(now) {
		t.Errorf("expected the newest entry last, got %+v", snap[3])
	}
}

func TestCacheHydrate_RepeatedTurnsMatchOnce(t *testing.T) {
	store := newFakeStore()
	store.setFetchErr(errors.New("down"))
	cache := NewCache(store, time.Second, testLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	turn := storage.Entry{UserMessage: "ping", BotResponse: "pong", Timestamp: now}
	cache.EnsureLoaded(ctx, "C1")
	cache.Append("C1", turn)
	cache.Append("C1", turn)

	// Only one of the two saves reached the store, stamped a little later.
	persisted := turn
	persisted.Timestamp = now.Add(time.Second)
	store.mu.Lock()
	store.history["C1"] = []storage.Entry{persisted}
	store.mu.Unlock()
	store.setFetchErr(nil)

	if err := cache.EnsureLoaded(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	assertUserMessages(t, cache.Snapshot("C1"), "ping", "ping")
}

func TestCacheHydrate_UnstampedHistoryNeverMatches(t *testing.T) {
	store := newFakeStore()
	store.setFetchErr(errors.New("down"))
	cache := NewCache(store, time.Second, testLogger())
	ctx := context.Background()

	cache.EnsureLoaded(ctx, "C1")
	cache.Append("C1", entry("a", "b"))

	store.mu.Lock()
	store.history["C1"] = []storage.Entry{{UserMessage: "a", BotResponse: "b"}}
	store.mu.Unlock()
	store.setFetchErr(nil)

	if err := cache.EnsureLoaded(ctx, "C1"); err != nil {
		t.Fatal(err)
	}
	assertUserMessages(t, cache.Snapshot("C1"), "a", "a")
}

func assertUserMessages(t *testing.T, snap []storage.Entry, want ...string) {
	t.Helper()
	if len(snap) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), snap)
	}
	for i, w := range want {
		if snap[i].UserMessage != w {
			t.Errorf("entry %d: expected %q, got %q", i, w, snap[i].UserMessage)
		}
	}
}

func TestCacheSnapshot_IsACopy(t *testing.T) {
	cache := NewCache(newFakeStore(), time.Second, testLogger())
	cache.Append("C1", entry("a", "b"))

	snap := cache.Snapshot("C1")
	snap[0].UserMessage = "mutated"

	if cache.Snapshot("C1")[0].UserMessage != "a" {
		t.Error("snapshot aliases cache storage")
	}
	if got := cache.Snapshot("missing"); got == nil || len(got) != 0 {
		t.Errorf("expected empty snapshot for unknown key, got %#v", got)
	}
}

func TestCacheWarm(t *testing.T) {
	store := newFakeStore()
	store.history["C1"] = []storage.Entry{entry("a", "b")}
	cache := NewCache(store, time.Second, testLogger())

	if n := cache.Warm(context.Background(), []string{"C1", "C2"}); n != 2 {
		t.Errorf("expected 2 loaded, got %d", n)
	}
	if cache.Len() != 2 {
		t.Errorf("expected 2 conversations in memory, got %d", cache.Len())
	}

	failing := newFakeStore()
	failing.setFetchErr(errors.New("down"))
	cold := NewCache(failing, time.Second, testLogger())
	if n := cold.Warm(context.Background(), []string{"C1"}); n != 0 {
		t.Errorf("expected 0 loaded, got %d", n)
	}
	if cold.IsLoaded("C1") {
		t.Error("failed warm-up must leave key unloaded")
	}
}
