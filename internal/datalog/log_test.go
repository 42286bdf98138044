package datalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/amaranthine/internal/format"
	"github.com/dshills/amaranthine/pkg/types"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l := New(t.TempDir())
	require.NoError(t, l.Ensure())
	return l
}

func TestEnsureWritesHeaderOnce(t *testing.T) {
	l := newTestLog(t)
	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	require.Len(t, data, format.LogHeaderSize)
	assert.Equal(t, "AMRL", string(data[:4]))

	// Idempotent.
	require.NoError(t, l.Ensure())
	again, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestAppendAndIterLive(t *testing.T) {
	l := newTestLog(t)
	off1, err := l.AppendEntry("rust", "first body", 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(format.LogHeaderSize), off1)
	off2, err := l.AppendEntry("go", "second body", 200)
	require.NoError(t, err)
	assert.Greater(t, off2, off1)

	entries, err := l.IterLive()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rust", entries[0].Topic)
	assert.Equal(t, "first body", entries[0].Body)
	assert.Equal(t, int32(100), entries[0].TSMinutes)
	assert.Equal(t, off2, entries[1].Offset)
}

func TestAppendOnlyPrefixStable(t *testing.T) {
	l := newTestLog(t)
	_, err := l.AppendEntry("a", "one", 1)
	require.NoError(t, err)
	before, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	_, err = l.AppendEntry("b", "two", 2)
	require.NoError(t, err)
	require.NoError(t, l.AppendTombstone(format.LogHeaderSize))

	after, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after[:len(before)])
}

func TestTombstoneCoverage(t *testing.T) {
	l := newTestLog(t)
	off1, _ := l.AppendEntry("t", "keep", 1)
	off2, _ := l.AppendEntry("t", "drop", 2)
	require.NoError(t, l.AppendTombstone(off2))

	entries, err := l.IterLive()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, off1, entries[0].Offset)
	assert.Equal(t, "keep", entries[0].Body)
}

func TestReadEntryAt(t *testing.T) {
	l := newTestLog(t)
	off, _ := l.AppendEntry("topic", "the body", 42)
	e, err := l.ReadEntryAt(off)
	require.NoError(t, err)
	assert.Equal(t, "topic", e.Topic)
	assert.Equal(t, "the body", e.Body)
	assert.Equal(t, int32(42), e.TSMinutes)

	_, err = l.ReadEntryAt(off + 1)
	assert.ErrorIs(t, err, types.ErrCorruptLog)
}

func TestIterLiveMissingFile(t *testing.T) {
	l := New(t.TempDir())
	entries, err := l.IterLive()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIterLiveBadMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LogName), []byte("XXXXxxxxjunkjunk"), 0o644))
	entries, err := New(dir).IterLive()
	assert.ErrorIs(t, err, types.ErrCorruptLog)
	assert.Empty(t, entries)
}

func TestIterLiveTruncatedTrailingRecord(t *testing.T) {
	l := newTestLog(t)
	_, err := l.AppendEntry("ok", "complete record", 1)
	require.NoError(t, err)

	// Simulate a crash mid-append: a partial entry header at the tail.
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{format.KindEntry, 5, 0xFF})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := l.IterLive()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "complete record", entries[0].Body)
}

func TestCompactDropsTombstonedAndRewrites(t *testing.T) {
	l := newTestLog(t)
	_, _ = l.AppendEntry("a", "live one", 1)
	off2, _ := l.AppendEntry("a", "dead", 2)
	_, _ = l.AppendEntry("b", "live two", 3)
	require.NoError(t, l.AppendTombstone(off2))

	stats, err := l.Compact()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Less(t, stats.BytesAfter, stats.BytesBefore)

	entries, err := l.IterLive()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "live one", entries[0].Body)
	assert.Equal(t, "live two", entries[1].Body)
	// Offsets are renumbered from the header.
	assert.Equal(t, uint32(format.LogHeaderSize), entries[0].Offset)
}

func TestAppendEntryRejectsOversizeTopic(t *testing.T) {
	l := newTestLog(t)
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	_, err := l.AppendEntry(string(long), "body", 1)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestLockSerializesWriters(t *testing.T) {
	dir := t.TempDir()
	lk, err := AcquireLock(dir)
	require.NoError(t, err)

	// A second acquisition in the same process is refused by flock only
	// across descriptors; verify the busy path times out quickly.
	done := make(chan error, 1)
	go func() {
		second, err := AcquireLock(dir)
		if err == nil {
			second.Release()
		}
		done <- err
	}()
	err = <-done
	assert.True(t, err == nil || errors.Is(err, types.ErrLockBusy))

	require.NoError(t, lk.Release())
	lk2, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, lk2.Release())
}
