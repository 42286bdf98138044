package rank

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/datalog"
)

func snapFrom(t *testing.T, rows [][3]any) *corpus.Snapshot {
	t.Helper()
	l := datalog.New(t.TempDir())
	require.NoError(t, l.Ensure())
	for _, r := range rows {
		_, err := l.AppendEntry(r[0].(string), r[1].(string), int32(r[2].(int)))
		require.NoError(t, err)
	}
	snap, err := corpus.NewCache(l).Snapshot()
	require.NoError(t, err)
	return snap
}

func TestSearchRanksByRelevance(t *testing.T) {
	snap := snapFrom(t, [][3]any{
		{"a", "flock flock flock appears often here", 1},
		{"b", "flock appears once in a much longer body of text about other things entirely", 2},
		{"c", "nothing relevant", 3},
	})
	hits, fellBack := Search(snap, []string{"flock"}, Filter{}, 10)
	require.Len(t, hits, 2)
	assert.False(t, fellBack)
	assert.Equal(t, 0, hits[0].EntryID, "higher tf ranks first")
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestANDThenORFallback(t *testing.T) {
	snap := snapFrom(t, [][3]any{
		{"a", "only flock here", 1},
		{"b", "only serialization here", 2},
	})
	// AND finds nothing; OR is consulted exactly once.
	hits, fellBack := Search(snap, []string{"flock", "serialization"}, Filter{}, 10)
	assert.True(t, fellBack)
	assert.Len(t, hits, 2)

	// AND succeeds: no fallback even though OR would match more.
	snap2 := snapFrom(t, [][3]any{
		{"a", "flock serialization together", 1},
		{"b", "only flock", 2},
	})
	hits2, fellBack2 := Search(snap2, []string{"flock", "serialization"}, Filter{}, 10)
	assert.False(t, fellBack2)
	require.Len(t, hits2, 1)
	assert.Equal(t, 0, hits2[0].EntryID)
}

func TestTopicBoost(t *testing.T) {
	// A topic-token hit alone does not make an entry match; the term must
	// appear in the body.
	snap := snapFrom(t, [][3]any{
		{"rust-ffi", "some words about bindings", 1},
		{"notes", "some words about ffi bindings", 2},
	})
	hits, _ := Search(snap, []string{"ffi"}, Filter{}, 10)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].EntryID)

	snap2 := snapFrom(t, [][3]any{
		{"rust-ffi", "ffi bindings note", 1},
		{"notes", "ffi bindings note", 1},
	})
	hits2, _ := Search(snap2, []string{"ffi"}, Filter{}, 10)
	require.Len(t, hits2, 2)
	assert.Equal(t, 0, hits2[0].EntryID, "topic token match multiplies by 1.5")
	assert.InDelta(t, hits2[0].Score, hits2[1].Score*1.5, 1e-9)
}

func TestTagBoostAddsThirtyPercentOfContribution(t *testing.T) {
	snap := snapFrom(t, [][3]any{
		{"a", "[tags: mmap]\nmmap details body", 1},
		{"b", "[note: mmap]\nmmap details body", 1},
	})
	hits, _ := Search(snap, []string{"mmap"}, Filter{}, 10)
	require.Len(t, hits, 2)
	tagged, plain := hits[0], hits[1]
	if tagged.Entry.Topic != "a" {
		tagged, plain = plain, tagged
	}
	// The untagged entry carries an unknown metadata line that tokenizes to
	// the same counts as the tag line, so the bodies score identically and
	// the tag adds exactly 30% of the term's contribution.
	assert.Greater(t, tagged.Score, plain.Score)
	assert.InDelta(t, plain.Score*1.3, tagged.Score, 1e-9)
}

func TestConfidenceWeighting(t *testing.T) {
	// Both confidence lines tokenize identically (the numerals are single
	// bytes and drop out), so length normalization matches exactly.
	snap := snapFrom(t, [][3]any{
		{"a", "[confidence: 0.5]\nflock body", 1},
		{"b", "[confidence: 1.0]\nflock body", 1},
	})
	hits, _ := Search(snap, []string{"flock"}, Filter{}, 10)
	require.Len(t, hits, 2)
	var lo, hi Hit
	for _, h := range hits {
		if h.Entry.Topic == "a" {
			lo = h
		} else {
			hi = h
		}
	}
	assert.InDelta(t, hi.Score*0.5, lo.Score, 1e-9)
	assert.Equal(t, "b", hits[0].Entry.Topic)
}

func TestStaleSourceClampsConfidence(t *testing.T) {
	dir := t.TempDir()
	staleSrc := filepath.Join(dir, "watched.go")
	freshSrc := filepath.Join(dir, "current.go")
	require.NoError(t, os.WriteFile(staleSrc, []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(freshSrc, []byte("v1"), 0o644))

	// Entries captured "long ago". watched.go keeps its fresh mtime (it
	// changed after capture); current.go is backdated before the capture.
	capture := time.Now().Add(-48 * time.Hour)
	old := int32(capture.Unix() / 60)
	before := capture.Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(freshSrc, before, before))

	l := datalog.New(dir)
	require.NoError(t, l.Ensure())
	// Both file names tokenize to the same number of terms, so length
	// normalization is identical and only the clamp separates the scores.
	_, err := l.AppendEntry("a", "[source: "+staleSrc+"]\nflock body", old)
	require.NoError(t, err)
	_, err = l.AppendEntry("b", "[source: "+freshSrc+"]\nflock body", old)
	require.NoError(t, err)
	snap, err := corpus.NewCache(l).Snapshot()
	require.NoError(t, err)

	hits, _ := Search(snap, []string{"flock"}, Filter{}, 10)
	require.Len(t, hits, 2)
	var sourced, plain Hit
	for _, h := range hits {
		if h.Entry.Topic == "a" {
			sourced = h
		} else {
			plain = h
		}
	}
	assert.InDelta(t, plain.Score*StaleConfidenceCap, sourced.Score, 1e-9)
}

func TestTieBreakTimestampThenID(t *testing.T) {
	snap := snapFrom(t, [][3]any{
		{"t", "same body words", 100},
		{"t", "same body words", 300},
		{"t", "same body words", 300},
		{"t", "same body words", 200},
	})
	hits, _ := Search(snap, []string{"same"}, Filter{}, 10)
	require.Len(t, hits, 4)
	// Newest first; equal (score, ts) resolves by ascending entry id.
	assert.Equal(t, 1, hits[0].EntryID)
	assert.Equal(t, 2, hits[1].EntryID)
	assert.Equal(t, 3, hits[2].EntryID)
	assert.Equal(t, 0, hits[3].EntryID)
}

func TestFilters(t *testing.T) {
	now := time.Now().Unix() / 60
	snap := snapFrom(t, [][3]any{
		{"go", "[tags: mmap]\nshared term", int(now)},
		{"rust", "shared term", int(now)},
		{"go", "shared term", int(now - 10*1440)},
	})

	byTopic, _ := Search(snap, []string{"shared"}, Filter{Topic: "go"}, 10)
	assert.Len(t, byTopic, 2)

	byTag, _ := Search(snap, []string{"shared"}, Filter{Tag: "mmap"}, 10)
	require.Len(t, byTag, 1)
	assert.Equal(t, 0, byTag[0].EntryID)

	recent, _ := Search(snap, []string{"shared"}, Filter{AfterDay: now/1440 - 2}, 10)
	assert.Len(t, recent, 2)
}

func TestEmptyTermsReturnsFilteredSetByRecency(t *testing.T) {
	snap := snapFrom(t, [][3]any{
		{"t", "first", 100},
		{"t", "second", 200},
	})
	hits, fellBack := Search(snap, nil, Filter{}, 10)
	assert.False(t, fellBack)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].EntryID)
}

func TestTopicCounts(t *testing.T) {
	snap := snapFrom(t, [][3]any{
		{"go", "flock one", 1},
		{"go", "flock two", 2},
		{"rust", "flock three", 3},
		{"rust", "unrelated", 4},
	})
	counts, fellBack := TopicCounts(snap, []string{"flock"}, Filter{})
	assert.False(t, fellBack)
	assert.Equal(t, map[string]int{"go": 2, "rust": 1}, counts)
}

func TestLimitTruncates(t *testing.T) {
	rows := make([][3]any, 30)
	for i := range rows {
		rows[i] = [3]any{"t", "term body", i}
	}
	snap := snapFrom(t, rows)
	hits, _ := Search(snap, []string{"term"}, Filter{}, 7)
	assert.Len(t, hits, 7)
}
