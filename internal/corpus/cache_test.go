package corpus

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/amaranthine/internal/datalog"
)

func newTestCache(t *testing.T) (*Cache, *datalog.Log) {
	t.Helper()
	l := datalog.New(t.TempDir())
	require.NoError(t, l.Ensure())
	return NewCache(l), l
}

func TestSnapshotEmptyLog(t *testing.T) {
	c, _ := newTestCache(t)
	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
	assert.Equal(t, 1.0, snap.Avgdl())
}

func TestSnapshotTokenizesAndParses(t *testing.T) {
	c, l := newTestCache(t)
	_, err := l.AppendEntry("rust", "[tags: ffi]\n[confidence: 0.8]\nalways use packed structs for FFI", 100)
	require.NoError(t, err)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	e := snap.Entries[0]
	assert.Equal(t, "rust", e.Topic)
	assert.Equal(t, []string{"ffi"}, e.Meta.Tags)
	assert.Equal(t, 0.8, e.Meta.Confidence)
	assert.Positive(t, e.TFMap["packed"])
	assert.Positive(t, e.TFMap["ffi"])
	assert.Positive(t, e.WordCount)
	assert.True(t, strings.HasPrefix(e.Snippet, "always use packed structs"), "snippet %q", e.Snippet)
	assert.NotContains(t, e.Snippet, "[tags:")
}

func TestSnapshotReuseWithoutChange(t *testing.T) {
	c, l := newTestCache(t)
	_, err := l.AppendEntry("t", "body text", 1)
	require.NoError(t, err)

	s1, err := c.Snapshot()
	require.NoError(t, err)
	s2, err := c.Snapshot()
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestInvalidateForcesRebuild(t *testing.T) {
	c, l := newTestCache(t)
	_, err := l.AppendEntry("t", "body", 1)
	require.NoError(t, err)
	s1, err := c.Snapshot()
	require.NoError(t, err)

	c.Invalidate()
	_, cached := c.Cached()
	assert.False(t, cached)

	s2, err := c.Snapshot()
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Len(t, s2.Entries, 1)
}

func TestTopicInterning(t *testing.T) {
	c, l := newTestCache(t)
	for i := 0; i < 5; i++ {
		_, err := l.AppendEntry("shared-topic", "body text here", int32(i))
		require.NoError(t, err)
	}
	snap, err := c.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 5)
	for i := 1; i < 5; i++ {
		// Interned: all entries share one backing string.
		assert.Equal(t, snap.Entries[0].Topic, snap.Entries[i].Topic)
		assert.Same(t, unsafe.StringData(snap.Entries[0].Topic), unsafe.StringData(snap.Entries[i].Topic))
	}
}

func TestBuildSnippetTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += "0123456789"
	}
	assert.LessOrEqual(t, len(BuildSnippet(long)), 120)
	assert.Equal(t, "short body", BuildSnippet("[tags: a]\n\nshort body"))
}

func TestHasTagAndDay(t *testing.T) {
	c, l := newTestCache(t)
	_, err := l.AppendEntry("t", "[tags: go, mmap]\nbody", 2*1440+7)
	require.NoError(t, err)
	snap, err := c.Snapshot()
	require.NoError(t, err)
	e := snap.Entries[0]
	assert.True(t, e.HasTag("mmap"))
	assert.False(t, e.HasTag("rust"))
	assert.Equal(t, int64(2), e.Day())
}
