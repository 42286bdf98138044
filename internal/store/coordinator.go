// Package store is the write coordinator: every mutation of the corpus goes
// through here. A mutation appends to the log, rebuilds the index, and
// invalidates the cache, all under the exclusive file lock, so log and index
// can never drift apart.
package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dshills/amaranthine/internal/config"
	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/datalog"
	"github.com/dshills/amaranthine/internal/index"
	"github.com/dshills/amaranthine/internal/text"
	"github.com/dshills/amaranthine/pkg/types"
)

// Coordinator serializes writes for one data directory.
type Coordinator struct {
	dir      string
	log      *datalog.Log
	cache    *corpus.Cache
	settings config.Settings
	logger   *slog.Logger
}

// New wires a coordinator over an existing log handle and cache.
func New(dir string, log *datalog.Log, cache *corpus.Cache, settings config.Settings, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{dir: dir, log: log, cache: cache, settings: settings, logger: logger}
}

// Options carries the optional metadata of a store call.
type Options struct {
	Tags       []string
	Source     *types.SourceRef
	Confidence *float64 // nil = absent = 1.0
	Links      []types.Link
	Now        int32 // timestamp override for tests; 0 = now
}

// Result reports one completed store.
type Result struct {
	Topic      string
	Offset     uint32
	Duplicate  bool // a near-duplicate was detected; the write still happened
	Similarity float64
}

// Store sanitizes the topic, prepends metadata lines, runs the
// near-duplicate probe, and commits append + rebuild + invalidate under the
// write lock. A Jaccard similarity at or above the configured threshold
// against recent same-topic entries returns a warning alongside success.
func (c *Coordinator) Store(topic, body string, opts Options) (Result, error) {
	topic, err := config.SanitizeTopic(topic)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(body) == "" {
		return Result{}, fmt.Errorf("empty text: %w", types.ErrInvalidInput)
	}

	meta := types.Metadata{Tags: opts.Tags, Source: opts.Source, Confidence: 1.0, Links: opts.Links}
	if opts.Confidence != nil {
		meta.Confidence = *opts.Confidence
	}
	if lines := text.BuildMetadataLines(meta); len(lines) > 0 {
		body = strings.Join(lines, "\n") + "\n" + body
	}
	ts := opts.Now
	if ts == 0 {
		ts = corpus.NowMinutes()
	}

	lock, err := datalog.AcquireLock(c.dir)
	if err != nil {
		return Result{}, err
	}
	defer lock.Release()

	if err := c.log.Ensure(); err != nil {
		return Result{}, err
	}

	// Write paths bypass the cache and read the log directly.
	entries, err := c.log.IterLive()
	if err != nil {
		return Result{}, err
	}
	if len(entries) >= c.settings.CompactThreshold {
		return Result{}, fmt.Errorf("%d live entries reached compact_threshold %d, run compact: %w",
			len(entries), c.settings.CompactThreshold, types.ErrInvalidInput)
	}

	dup, sim := c.dedupProbe(entries, topic, body)

	offset, err := c.log.AppendEntry(topic, body, ts)
	if err != nil {
		return Result{}, err
	}
	if err := c.rebuildLocked(); err != nil {
		return Result{}, err
	}
	c.logger.Debug("stored", "topic", topic, "offset", offset, "duplicate", dup)
	return Result{Topic: topic, Offset: offset, Duplicate: dup, Similarity: sim}, nil
}

// dedupProbe compares the new body's set of >=6-byte tokens against the
// last DedupWindow entries of the target topic.
func (c *Coordinator) dedupProbe(entries []types.Entry, topic, body string) (bool, float64) {
	newSet := dedupTokens(body)
	if len(newSet) == 0 {
		return false, 0
	}
	var recent []*types.Entry
	for i := range entries {
		if entries[i].Topic == topic {
			recent = append(recent, &entries[i])
		}
	}
	if len(recent) > c.settings.DedupWindow {
		recent = recent[len(recent)-c.settings.DedupWindow:]
	}
	best := 0.0
	for _, e := range recent {
		old := dedupTokens(e.Body)
		if len(old) == 0 {
			continue
		}
		inter := 0
		for t := range newSet {
			if _, ok := old[t]; ok {
				inter++
			}
		}
		union := len(newSet) + len(old) - inter
		if union == 0 {
			continue
		}
		if j := float64(inter) / float64(union); j > best {
			best = j
		}
	}
	return best >= c.settings.DedupThreshold, best
}

func dedupTokens(body string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range text.Tokenize(body) {
		if len(t) >= 6 {
			set[t] = struct{}{}
		}
	}
	return set
}

// Selector picks entries of a topic for delete/update.
type Selector struct {
	Topic string
	Last  bool   // the most recent entry
	Match string // entries whose body contains this substring
	All   bool   // every live entry of the topic
	Index int    // nth live entry of the topic; -1 = unset
}

// resolve returns the selected entries in log order.
func (s Selector) resolve(entries []types.Entry) []types.Entry {
	var inTopic []types.Entry
	for _, e := range entries {
		if e.Topic == s.Topic {
			inTopic = append(inTopic, e)
		}
	}
	switch {
	case s.All:
		return inTopic
	case s.Index >= 0:
		if s.Index < len(inTopic) {
			return inTopic[s.Index : s.Index+1]
		}
		return nil
	case s.Match != "":
		var out []types.Entry
		needle := strings.ToLower(s.Match)
		for _, e := range inTopic {
			if strings.Contains(strings.ToLower(e.Body), needle) {
				out = append(out, e)
			}
		}
		return out
	case s.Last:
		if len(inTopic) == 0 {
			return nil
		}
		return inTopic[len(inTopic)-1:]
	default:
		return nil
	}
}

// Delete appends tombstones for every selected entry. Returns the count.
func (c *Coordinator) Delete(sel Selector) (int, error) {
	topic, err := config.SanitizeTopic(sel.Topic)
	if err != nil {
		return 0, err
	}
	sel.Topic = topic

	lock, err := datalog.AcquireLock(c.dir)
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	entries, err := c.log.IterLive()
	if err != nil {
		return 0, err
	}
	targets := sel.resolve(entries)
	if len(targets) == 0 {
		return 0, fmt.Errorf("no entries in topic %q match: %w", sel.Topic, types.ErrNotFound)
	}
	for _, e := range targets {
		if err := c.log.AppendTombstone(e.Offset); err != nil {
			return 0, err
		}
	}
	if err := c.rebuildLocked(); err != nil {
		return 0, err
	}
	c.logger.Debug("deleted", "topic", sel.Topic, "count", len(targets))
	return len(targets), nil
}

// Update appends a replacement entry and a tombstone for the old one. The
// selector must resolve to exactly one entry.
func (c *Coordinator) Update(sel Selector, newBody string) (Result, error) {
	topic, err := config.SanitizeTopic(sel.Topic)
	if err != nil {
		return Result{}, err
	}
	sel.Topic = topic
	if strings.TrimSpace(newBody) == "" {
		return Result{}, fmt.Errorf("empty text: %w", types.ErrInvalidInput)
	}

	lock, err := datalog.AcquireLock(c.dir)
	if err != nil {
		return Result{}, err
	}
	defer lock.Release()

	entries, err := c.log.IterLive()
	if err != nil {
		return Result{}, err
	}
	targets := sel.resolve(entries)
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("no entries in topic %q match: %w", sel.Topic, types.ErrNotFound)
	}
	if len(targets) > 1 {
		return Result{}, fmt.Errorf("selector matches %d entries, update needs exactly one: %w",
			len(targets), types.ErrInvalidInput)
	}
	old := targets[0]

	offset, err := c.log.AppendEntry(topic, newBody, corpus.NowMinutes())
	if err != nil {
		return Result{}, err
	}
	if err := c.log.AppendTombstone(old.Offset); err != nil {
		return Result{}, err
	}
	if err := c.rebuildLocked(); err != nil {
		return Result{}, err
	}
	return Result{Topic: topic, Offset: offset}, nil
}

// RenameTopic re-appends every live entry of old under new and tombstones
// the originals, in one lock acquisition and one rebuild.
func (c *Coordinator) RenameTopic(oldTopic, newTopic string) (int, error) {
	oldTopic, err := config.SanitizeTopic(oldTopic)
	if err != nil {
		return 0, err
	}
	newTopic, err = config.SanitizeTopic(newTopic)
	if err != nil {
		return 0, err
	}
	if oldTopic == newTopic {
		return 0, fmt.Errorf("rename to the same topic: %w", types.ErrInvalidInput)
	}

	lock, err := datalog.AcquireLock(c.dir)
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	entries, err := c.log.IterLive()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, e := range entries {
		if e.Topic != oldTopic {
			continue
		}
		if _, err := c.log.AppendEntry(newTopic, e.Body, e.TSMinutes); err != nil {
			return moved, err
		}
		if err := c.log.AppendTombstone(e.Offset); err != nil {
			return moved, err
		}
		moved++
	}
	if moved == 0 {
		return 0, fmt.Errorf("topic %q: %w", oldTopic, types.ErrNotFound)
	}
	if err := c.rebuildLocked(); err != nil {
		return moved, err
	}
	return moved, nil
}

// ImportEntry is one record of an import stream.
type ImportEntry struct {
	Topic     string `json:"topic"`
	Body      string `json:"body"`
	TSMinutes int32  `json:"ts_min"`
}

// Import appends a batch of entries (no dedup probe) with one lock
// acquisition and one rebuild. Returns how many were written.
func (c *Coordinator) Import(batch []ImportEntry) (int, error) {
	lock, err := datalog.AcquireLock(c.dir)
	if err != nil {
		return 0, err
	}
	defer lock.Release()

	if err := c.log.Ensure(); err != nil {
		return 0, err
	}
	written := 0
	for _, e := range batch {
		topic, err := config.SanitizeTopic(e.Topic)
		if err != nil {
			return written, err
		}
		if _, err := c.log.AppendEntry(topic, e.Body, e.TSMinutes); err != nil {
			return written, err
		}
		written++
	}
	if err := c.rebuildLocked(); err != nil {
		return written, err
	}
	return written, nil
}

// Compact swaps in a rewritten log and rebuilds the index over the new
// offsets.
func (c *Coordinator) Compact() (datalog.CompactStats, error) {
	lock, err := datalog.AcquireLock(c.dir)
	if err != nil {
		return datalog.CompactStats{}, err
	}
	defer lock.Release()

	stats, err := c.log.Compact()
	if err != nil {
		return stats, err
	}
	if err := c.rebuildLocked(); err != nil {
		return stats, err
	}
	c.logger.Info("compacted", "entries", stats.Entries,
		"bytes_before", stats.BytesBefore, "bytes_after", stats.BytesAfter)
	return stats, nil
}

// RebuildIndex forces a full rebuild under the lock.
func (c *Coordinator) RebuildIndex() error {
	lock, err := datalog.AcquireLock(c.dir)
	if err != nil {
		return err
	}
	defer lock.Release()
	return c.rebuildLocked()
}

// rebuildLocked refreshes the cache from the just-written log and rebuilds
// the index from it. Callers hold the file lock.
func (c *Coordinator) rebuildLocked() error {
	c.cache.Invalidate()
	snap, err := c.cache.Snapshot()
	if err != nil {
		return err
	}
	data, err := index.Build(snap, c.log.Mtime().UnixNano())
	if err != nil {
		return err
	}
	return index.WriteFile(filepath.Join(c.dir, index.IndexName), data)
}
