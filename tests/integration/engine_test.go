// Package integration exercises the full engine stack the way the CLI and
// RPC layers drive it: coordinator writes, cache-backed searches, index
// rebuilds, and the on-disk artifacts together.
package integration

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/amaranthine/internal/config"
	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/datalog"
	"github.com/dshills/amaranthine/internal/export"
	"github.com/dshills/amaranthine/internal/format"
	"github.com/dshills/amaranthine/internal/index"
	searchpkg "github.com/dshills/amaranthine/internal/search"
	storepkg "github.com/dshills/amaranthine/internal/store"
	"github.com/dshills/amaranthine/internal/text"
	"github.com/dshills/amaranthine/pkg/types"
)

type stack struct {
	dir    string
	log    *datalog.Log
	cache  *corpus.Cache
	coord  *storepkg.Coordinator
	engine *searchpkg.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	l := datalog.New(dir)
	cache := corpus.NewCache(l)
	settings := config.Defaults()
	return &stack{
		dir:    dir,
		log:    l,
		cache:  cache,
		coord:  storepkg.New(dir, l, cache, settings, nil),
		engine: searchpkg.NewEngine(dir, l, cache, settings),
	}
}

// S1: empty corpus search returns zero results without creating artifacts.
func TestScenarioEmptyCorpus(t *testing.T) {
	s := newStack(t)
	resp, err := s.engine.Search(searchpkg.Request{Query: "anything"})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)

	_, err = os.Stat(filepath.Join(s.dir, index.IndexName))
	assert.True(t, os.IsNotExist(err), "search must not create an index")
}

// S2: store one tagged entry and find it by its tag.
func TestScenarioStoreAndFind(t *testing.T) {
	s := newStack(t)
	_, err := s.coord.Store("rust", "[tags: ffi]\nalways use packed structs for FFI", storepkg.Options{})
	require.NoError(t, err)

	resp, err := s.engine.Search(searchpkg.Request{Query: "ffi"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "rust", resp.Hits[0].Topic)
	assert.True(t, strings.HasPrefix(resp.Hits[0].Snippet, "always"), "snippet %q", resp.Hits[0].Snippet)
}

// S3: the second, near-identical store warns but both stay live.
func TestScenarioDuplicateWarning(t *testing.T) {
	s := newStack(t)
	r1, err := s.coord.Store("locks", "use flock for write serialization", storepkg.Options{})
	require.NoError(t, err)
	assert.False(t, r1.Duplicate)

	r2, err := s.coord.Store("locks", "use flock for write serialization today", storepkg.Options{})
	require.NoError(t, err)
	assert.True(t, r2.Duplicate)

	resp, err := s.engine.Search(searchpkg.Request{Query: "flock"})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 2)
}

// S4: store then delete-last leaves an empty corpus but a grown log.
func TestScenarioStoreDelete(t *testing.T) {
	s := newStack(t)
	_, err := s.coord.Store("t", "short lived entry", storepkg.Options{})
	require.NoError(t, err)
	_, err = s.coord.Delete(storepkg.Selector{Topic: "t", Last: true, Index: -1})
	require.NoError(t, err)

	resp, err := s.engine.Search(searchpkg.Request{Query: "lived"})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)

	entries, err := s.log.IterLive()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The raw log still holds the entry record followed by its tombstone.
	raw, err := os.ReadFile(s.log.Path())
	require.NoError(t, err)
	assert.Equal(t, byte(format.KindEntry), raw[format.LogHeaderSize])
	assert.Equal(t, byte(format.KindTombstone), raw[len(raw)-format.TombstoneSize])
}

// S5: 100 entries across 10 topics tally exactly.
func TestScenarioTopicCounts(t *testing.T) {
	s := newStack(t)
	for i := 0; i < 100; i++ {
		topic := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"}[i%10]
		_, err := s.coord.Store(topic, strings.Repeat("word ", i%5+1)+"entry", storepkg.Options{})
		require.NoError(t, err)
	}
	topics, err := s.engine.Topics()
	require.NoError(t, err)
	require.Len(t, topics, 10)
	sum := 0
	for _, ti := range topics {
		sum += ti.Entries
	}
	assert.Equal(t, 100, sum)

	st, err := s.engine.Stats()
	require.NoError(t, err)
	assert.Equal(t, 100, st.Entries)
	assert.Equal(t, 10, st.Topics)
}

// S6: touching a source file after capture halves the entry's weight.
func TestScenarioSourceStaleness(t *testing.T) {
	s := newStack(t)
	src := filepath.Join(s.dir, "observed.go")
	require.NoError(t, os.WriteFile(src, []byte("package observed\n"), 0o644))

	past := int32(time.Now().Add(-24*time.Hour).Unix() / 60)
	_, err := s.coord.Store("a", "flock details body", storepkg.Options{
		Source: &types.SourceRef{Path: src},
		Now:    past,
	})
	require.NoError(t, err)
	_, err = s.coord.Store("b", "flock details body", storepkg.Options{Now: past})
	require.NoError(t, err)

	// The file's mtime (now) exceeds the capture time, so entry a is
	// clamped to half weight. The source metadata line adds tokens, so
	// only the ordering is asserted, not an exact ratio.
	resp, err := s.engine.Search(searchpkg.Request{Query: "flock"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)
	var a, b types.SearchHit
	for _, h := range resp.Hits {
		if h.Topic == "a" {
			a = h
		} else {
			b = h
		}
	}
	assert.Less(t, a.Score, b.Score, "stale-sourced entry is down-weighted")
}

// Property 5: index-path candidate ordering matches the reference scorer
// for boost-free corpora.
func TestRebuildFidelity(t *testing.T) {
	s := newStack(t)
	bodies := []string{
		"alpha beta gamma delta",
		"alpha alpha beta",
		"beta gamma",
		"alpha beta beta gamma gamma delta",
		"delta only here",
		"gamma gamma gamma alpha",
	}
	for i, b := range bodies {
		_, err := s.coord.Store("corpus", b, storepkg.Options{Now: int32(i + 1)})
		require.NoError(t, err)
	}

	r, err := index.Open(filepath.Join(s.dir, index.IndexName))
	require.NoError(t, err)
	defer r.Close()

	for _, query := range []string{"alpha", "beta gamma", "delta", "alpha gamma"} {
		terms := text.QueryTerms(query)
		want, _ := s.engine.Search(searchpkg.Request{Query: query, Limit: 10})

		got := r.Search(terms, true, 10)
		if len(got) == 0 && len(terms) >= 2 {
			got = r.Search(terms, false, 10)
		}
		require.Len(t, got, len(want.Hits), "query %q", query)
		for i := range got {
			// No topic/tag/confidence boosts apply here ("corpus" shares no
			// token with the queries), so raw index scores must rank the
			// same entries in the same order as the cache scorer.
			assert.Equal(t, want.Hits[i].EntryID, got[i].EntryID, "query %q rank %d", query, i)
			// The index bakes f32 IDFs and a x100-quantized avgdl, so allow
			// small drift; ordering above is exact.
			assert.InDelta(t, want.Hits[i].Score, got[i].Score, 0.05, "query %q rank %d", query, i)
		}
	}
}

// Property 1: the log is a byte-stable prefix across arbitrary operations.
func TestAppendOnlyAcrossOperations(t *testing.T) {
	s := newStack(t)
	_, err := s.coord.Store("t", "first entry body", storepkg.Options{})
	require.NoError(t, err)
	before, err := os.ReadFile(s.log.Path())
	require.NoError(t, err)

	_, err = s.coord.Store("t", "second entry body", storepkg.Options{})
	require.NoError(t, err)
	_, err = s.coord.Update(storepkg.Selector{Topic: "t", Last: true, Index: -1}, "second entry revised")
	require.NoError(t, err)
	_, err = s.coord.Delete(storepkg.Selector{Topic: "t", Match: "first", Index: -1})
	require.NoError(t, err)
	_, err = s.coord.RenameTopic("t", "u")
	require.NoError(t, err)

	after, err := os.ReadFile(s.log.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after[:len(before)])
}

// Property 8: export then import into a blank directory preserves live
// entries modulo ordering.
func TestExportImportRoundTrip(t *testing.T) {
	src := newStack(t)
	seed := map[string]string{
		"rust": "[tags: ffi]\npacked structs",
		"go":   "flock serialization",
		"misc": "unsorted note",
	}
	for topic, body := range seed {
		_, err := src.coord.Store(topic, body, storepkg.Options{})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := export.Export(src.cache, &buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	dst := newStack(t)
	m, err := export.Import(dst.coord, &buf)
	require.NoError(t, err)
	require.Equal(t, 3, m)

	entries, err := dst.log.IterLive()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, seed[e.Topic], e.Body)
	}
}

// A stale open index handle survives a concurrent write and serves the new
// build after reload, per the write/read coordination contract.
func TestReaderReloadAfterWrite(t *testing.T) {
	s := newStack(t)
	_, err := s.coord.Store("t", "first generation entry", storepkg.Options{})
	require.NoError(t, err)

	r, err := index.Open(filepath.Join(s.dir, index.IndexName))
	require.NoError(t, err)
	defer r.Close()
	require.False(t, r.Stale())

	time.Sleep(10 * time.Millisecond)
	_, err = s.coord.Store("t", "second generation entry", storepkg.Options{})
	require.NoError(t, err)
	assert.True(t, r.Stale())
	require.NoError(t, r.Reload())
	assert.False(t, r.Stale())
	assert.Equal(t, 2, r.NumEntries())
}
