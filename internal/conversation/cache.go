package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ireland-samantha/stormstack-relay-bot/internal/storage"
)

// Fetcher loads durable history for a conversation.
type Fetcher interface {
	Fetch(ctx context.Context, conversationID string) ([]storage.Entry, error)
}

// Cache keeps per-conversation history in memory and hydrates it lazily from a
// Fetcher. A key moves from unloaded to loaded once, on the first successful
// fetch; failed fetches leave it unloaded so the next caller retries.
//
// The cache is read-through for history and write-around for new entries: it
// never writes to the durable store itself.
type Cache struct {
	fetcher      Fetcher
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	table  map[string][]storage.Entry
	loaded map[string]struct{}

	group singleflight.Group
}

// NewCache creates an empty cache backed by fetcher.
func NewCache(fetcher Fetcher, fetchTimeout time.Duration, logger *slog.Logger) *Cache {
	if fetchTimeout <= 0 {
		fetchTimeout = storage.DefaultTimeout
	}
	return &Cache{
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		table:        make(map[string][]storage.Entry),
		loaded:       make(map[string]struct{}),
	}
}

// EnsureLoaded hydrates id from the fetcher unless that already succeeded.
// Concurrent callers for the same unloaded id share a single fetch. The fetch
// itself is not tied to the first caller's cancellation; each caller stops
// waiting when its own ctx is done.
func (c *Cache) EnsureLoaded(ctx context.Context, id string) error {
	if c.IsLoaded(id) {
		return nil
	}

	ch := c.group.DoChan(id, func() (interface{}, error) {
		// A previous flight may have finished between the check above and now.
		if c.IsLoaded(id) {
			return nil, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		entries, err := c.fetcher.Fetch(fetchCtx, id)
		if err != nil {
			return nil, err
		}
		c.hydrate(id, entries)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hydrate installs fetched entries ahead of any local appends and marks id loaded.
func (c *Cache) hydrate(id string, fetched []storage.Entry) {
	valid := make([]storage.Entry, 0, len(fetched))
	for i, e := range fetched {
		if err := e.Validate(); err != nil {
			c.logger.Warn("dropping invalid history entry",
				"conversation_id", id,
				"index", i,
				"error", err,
			)
			continue
		}
		valid = append(valid, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.table[id] = mergeLocal(valid, c.table[id])
	c.loaded[id] = struct{}{}
}

// persistSkew is how far a stored timestamp may drift from the local one and
// still name the same exchange.
const persistSkew = 2 * time.Minute

// mergeLocal appends local entries after fetched history, skipping each local
// entry already present in fetched. A fetched entry matches at most one local
// entry, and only when text and timestamp agree; entries without a timestamp
// never match.
func mergeLocal(fetched, local []storage.Entry) []storage.Entry {
	if len(local) == 0 {
		return fetched
	}

	used := make([]bool, len(fetched))
	merged := fetched
	for _, e := range local {
		if i := findPersisted(fetched, used, e); i >= 0 {
			used[i] = true
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

func findPersisted(fetched []storage.Entry, used []bool, e storage.Entry) int {
	if e.Timestamp.IsZero() {
		return -1
	}
	for i, f := range fetched {
		if used[i] || f.Timestamp.IsZero() {
			continue
		}
		if f.UserMessage != e.UserMessage || f.BotResponse != e.BotResponse {
			continue
		}
		if d := f.Timestamp.Sub(e.Timestamp); d >= -persistSkew && d <= persistSkew {
			return i
		}
	}
	return -1
}

// Append adds an entry to id's history regardless of its load state.
func (c *Cache) Append(id string, entry storage.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[id] = append(c.table[id], entry)
}

// Snapshot returns a copy of id's history, oldest first. Unknown ids yield an empty slice.
func (c *Cache) Snapshot(id string) []storage.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.table[id]
	out := make([]storage.Entry, len(entries))
	copy(out, entries)
	return out
}

// IsLoaded reports whether id has completed hydration.
func (c *Cache) IsLoaded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.loaded[id]
	return ok
}

// Len returns the number of conversations held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Warm hydrates each id in turn and returns how many are loaded afterwards.
// Failures are logged and leave the id to be retried on first use.
func (c *Cache) Warm(ctx context.Context, ids []string) int {
	loaded := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := c.EnsureLoaded(ctx, id); err != nil {
			c.logger.Warn("failed to preload conversation",
				"conversation_id", id,
				"kind", storage.ErrorKind(err),
				"error", err,
			)
			continue
		}
		loaded++
	}
	return loaded
}
