package ingest

import (
	"sync"

	"edahub-backend/internal/normalize"
)

// Cache is the bounded per-connection row store. Sub-channels (topics,
// endpoints, tables) get independent buffers created lazily on first append.
// Each connection owns one Cache with its own lock, so connections never
// serialize on each other.
type Cache struct {
	mu      sync.Mutex
	limit   int
	buffers map[string][]normalize.Row
	order   []string
}

func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = 1
	}
	return &Cache{limit: limit, buffers: map[string][]normalize.Row{}}
}

// Append adds a row to the sub-channel buffer, dropping the oldest rows once
// the buffer exceeds the limit. Arrival order is preserved.
func (c *Cache) Append(subChannel string, row normalize.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.buffers[subChannel]
	if !ok {
		c.order = append(c.order, subChannel)
	}
	buf = append(buf, row)
	if len(buf) > c.limit {
		buf = buf[len(buf)-c.limit:]
	}
	c.buffers[subChannel] = buf
}

// Replace swaps the sub-channel buffer wholesale, truncating to the limit.
// Used by query-driven sources that refresh a table snapshot in one shot.
func (c *Cache) Replace(subChannel string, rows []normalize.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buffers[subChannel]; !ok {
		c.order = append(c.order, subChannel)
	}
	if len(rows) > c.limit {
		rows = rows[len(rows)-c.limit:]
	}
	c.buffers[subChannel] = append([]normalize.Row(nil), rows...)
}

// Rows returns a point-in-time copy of the sub-channel buffer, never nil.
func (c *Cache) Rows(subChannel string) []normalize.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buffers[subChannel]
	out := make([]normalize.Row, len(buf))
	copy(out, buf)
	return out
}

// Tail returns at most n of the most recent rows for the sub-channel.
func (c *Cache) Tail(subChannel string, n int) []normalize.Row {
	rows := c.Rows(subChannel)
	if n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return rows
}

// Channels lists sub-channels in first-append order.
func (c *Cache) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *Cache) Len(subChannel string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers[subChannel])
}

func (c *Cache) TotalRows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, buf := range c.buffers {
		total += len(buf)
	}
	return total
}
