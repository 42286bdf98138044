// Package corpus maintains the in-memory projection of the live log entries:
// pre-tokenized term-frequency maps, parsed metadata, interned topic names.
// The snapshot is keyed by the log file's mtime and swapped atomically under
// a mutex; readers share it, writers invalidate it after every successful
// write.
package corpus

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/amaranthine/internal/datalog"
	"github.com/dshills/amaranthine/internal/text"
	"github.com/dshills/amaranthine/pkg/types"
)

// Entry is one live entry enriched with everything the read paths need, so
// no search ever re-tokenizes or re-parses a body.
type Entry struct {
	types.Entry
	TFMap     map[string]int
	WordCount int
	Meta      types.Metadata
	Snippet   string
}

// Day returns the entry's day number since the Unix epoch.
func (e *Entry) Day() int64 { return int64(e.TSMinutes) / 1440 }

// HasTag reports whether the entry carries the (already lowercased) tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Meta.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Snapshot is an immutable view of the live corpus at one log mtime.
type Snapshot struct {
	Mtime      time.Time
	Entries    []Entry
	TotalWords int
}

// Avgdl returns the average document length for BM25 normalization.
func (s *Snapshot) Avgdl() float64 {
	if len(s.Entries) == 0 {
		return 1
	}
	return float64(s.TotalWords) / float64(len(s.Entries))
}

// Cache is the process-wide snapshot holder. Concurrent readers that miss
// share one rebuild through singleflight.
type Cache struct {
	log *datalog.Log

	mu   sync.Mutex
	snap *Snapshot

	sf singleflight.Group
}

// NewCache wraps a log handle.
func NewCache(log *datalog.Log) *Cache {
	return &Cache{log: log}
}

// Snapshot returns the current corpus view, rebuilding from the log when the
// recorded mtime differs from the on-disk mtime or nothing is cached yet.
func (c *Cache) Snapshot() (*Snapshot, error) {
	mtime := c.log.Mtime()

	c.mu.Lock()
	if c.snap != nil && c.snap.Mtime.Equal(mtime) {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do("rebuild", func() (any, error) {
		return c.rebuild()
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) rebuild() (*Snapshot, error) {
	// Stat before reading so a write that lands mid-rebuild forces the next
	// reader to rebuild again rather than trusting a torn view.
	mtime := c.log.Mtime()
	raw, err := c.log.IterLive()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Mtime: mtime, Entries: make([]Entry, 0, len(raw))}
	intern := make(map[string]string, 64)
	for _, e := range raw {
		topic, ok := intern[e.Topic]
		if !ok {
			topic = e.Topic
			intern[topic] = topic
		}
		e.Topic = topic

		tf := make(map[string]int, 32)
		wc := text.TokenizeInto(e.Body, tf)
		snap.TotalWords += wc
		snap.Entries = append(snap.Entries, Entry{
			Entry:     e,
			TFMap:     tf,
			WordCount: wc,
			Meta:      text.ParseMetadata(e.Body),
			Snippet:   BuildSnippet(e.Body),
		})
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return snap, nil
}

// Invalidate drops the snapshot. Called at the end of every successful write.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// Cached reports whether a snapshot is resident and how many entries it has.
func (c *Cache) Cached() (entries int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return 0, false
	}
	return len(c.snap.Entries), true
}

// BuildSnippet renders the persisted snippet for one entry: the first two
// non-metadata, non-blank body lines joined by a space, truncated to 120
// bytes at a UTF-8 boundary. Topic and date are display concerns; the
// formatters prepend them, the index stores body content only.
func BuildSnippet(body string) string {
	lines := text.FirstContentLines(body, 2)
	joined := ""
	for i, l := range lines {
		if i > 0 {
			joined += " "
		}
		joined += l
	}
	return text.Truncate(joined, 120)
}

// MinutesToDate formats a minutes-since-epoch timestamp as a local
// "YYYY-MM-DD HH:MM".
func MinutesToDate(tsMin int32) string {
	return time.Unix(int64(tsMin)*60, 0).Local().Format("2006-01-02 15:04")
}

// NowMinutes returns the current time in minutes since the Unix epoch.
func NowMinutes() int32 {
	return int32(time.Now().Unix() / 60)
}
