package export

import (
	"bytes"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/amaranthine/internal/config"
	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/datalog"
	"github.com/dshills/amaranthine/internal/store"
	"github.com/dshills/amaranthine/pkg/types"
)

func newStack(t *testing.T) (*store.Coordinator, *corpus.Cache, *datalog.Log) {
	t.Helper()
	dir := t.TempDir()
	l := datalog.New(dir)
	cache := corpus.NewCache(l)
	return store.New(dir, l, cache, config.Defaults(), nil), cache, l
}

func TestRoundTrip(t *testing.T) {
	src, srcCache, _ := newStack(t)
	seed := []struct {
		topic, body string
	}{
		{"rust", "[tags: ffi]\npacked structs everywhere"},
		{"go", "mmap with unix syscalls"},
		{"go", "flock for write serialization"},
	}
	for _, s := range seed {
		_, err := src.Store(s.topic, s.body, store.Options{})
		require.NoError(t, err)
	}
	// A deleted entry must not travel.
	_, err := src.Store("scratch", "to be deleted", store.Options{})
	require.NoError(t, err)
	_, err = src.Delete(store.Selector{Topic: "scratch", All: true, Index: -1})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Export(srcCache, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NotEmpty(t, buf.Bytes())

	dst, _, dstLog := newStack(t)
	m, err := Import(dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, m)

	got, err := dstLog.IterLive()
	require.NoError(t, err)
	require.Len(t, got, 3)

	var want, have []types.Entry
	for _, s := range seed {
		want = append(want, types.Entry{Topic: s.topic, Body: s.body})
	}
	for _, e := range got {
		have = append(have, types.Entry{Topic: e.Topic, Body: e.Body})
	}
	sortEntries(want)
	sortEntries(have)
	for i := range want {
		assert.Equal(t, want[i].Topic, have[i].Topic)
		assert.Equal(t, want[i].Body, have[i].Body)
	}
}

func sortEntries(es []types.Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Topic != es[j].Topic {
			return es[i].Topic < es[j].Topic
		}
		return es[i].Body < es[j].Body
	})
}

func TestExportImportFiles(t *testing.T) {
	src, srcCache, _ := newStack(t)
	_, err := src.Store("t", "file based round trip", store.Options{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup.amr.zst")
	n, err := ExportFile(srcCache, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dst, dstCache, _ := newStack(t)
	m, err := ImportFile(dst, path)
	require.NoError(t, err)
	assert.Equal(t, 1, m)

	snap, err := dstCache.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "t", snap.Entries[0].Topic)
}

func TestImportRejectsGarbage(t *testing.T) {
	dst, _, _ := newStack(t)
	_, err := Import(dst, bytes.NewReader([]byte("not a zstd stream")))
	assert.Error(t, err)
}
