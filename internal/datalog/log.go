// Package datalog implements the append-only data log: the durable record of
// every entry and tombstone, and the sole source of truth for the corpus.
// The log only grows, except during compaction, which atomically swaps in a
// rewritten copy.
package datalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/amaranthine/internal/format"
	"github.com/dshills/amaranthine/pkg/types"
)

// LogName is the on-disk file name inside the data directory.
const LogName = "data.log"

// Log is a handle on one data.log file. It holds no open file descriptor;
// every operation opens, acts, and closes, so handles are freely shareable.
type Log struct {
	dir  string
	path string
}

// New returns a handle for the log inside dir. The file is not touched.
func New(dir string) *Log {
	return &Log{dir: dir, path: filepath.Join(dir, LogName)}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Ensure creates the log with its 8-byte header if it does not exist.
func (l *Log) Ensure() error {
	if _, err := os.Stat(l.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %v: %w", l.dir, err, types.ErrIO)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create %s: %v: %w", l.path, err, types.ErrIO)
	}
	defer f.Close()
	hdr := format.EncodeLogHeader()
	if _, err := f.Write(hdr[:]); err != nil {
		return fmt.Errorf("write log header: %v: %w", err, types.ErrIO)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync log header: %v: %w", err, types.ErrIO)
	}
	return nil
}

// AppendEntry writes one entry record and returns its absolute byte offset.
// Callers serialize through AcquireLock; this function does not lock.
func (l *Log) AppendEntry(topic, body string, tsMin int32) (uint32, error) {
	if len(topic) == 0 || len(topic) > format.MaxTopicLen {
		return 0, fmt.Errorf("topic length %d: %w", len(topic), types.ErrInvalidInput)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %v: %w", l.path, err, types.ErrIO)
	}
	defer f.Close()
	off, err := appendEntryTo(f, topic, body, tsMin)
	if err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("fsync entry: %v: %w", err, types.ErrIO)
	}
	return off, nil
}

// appendEntryTo writes one entry to an already-open append handle without
// fsync. Compact batches many records this way and syncs once.
func appendEntryTo(f *os.File, topic, body string, tsMin int32) (uint32, error) {
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek: %v: %w", err, types.ErrIO)
	}
	hdr := format.EncodeEntryHeader(uint8(len(topic)), uint32(len(body)), tsMin)
	rec := make([]byte, 0, len(hdr)+len(topic)+len(body))
	rec = append(rec, hdr[:]...)
	rec = append(rec, topic...)
	rec = append(rec, body...)
	if _, err := f.Write(rec); err != nil {
		return 0, fmt.Errorf("append entry: %v: %w", err, types.ErrIO)
	}
	return uint32(end), nil
}

// AppendTombstone writes a tombstone referencing a prior entry's offset.
func (l *Log) AppendTombstone(target uint32) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %v: %w", l.path, err, types.ErrIO)
	}
	defer f.Close()
	rec := format.EncodeTombstone(target)
	if _, err := f.Write(rec[:]); err != nil {
		return fmt.Errorf("append tombstone: %v: %w", err, types.ErrIO)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync tombstone: %v: %w", err, types.ErrIO)
	}
	return nil
}

// IterLive reads the whole log once and returns all non-tombstoned entries
// in log order. A missing file is an empty corpus. A trailing partial record
// is truncated silently; a bad magic is reported as ErrCorruptLog alongside
// an empty result so callers can degrade to "empty log" without crashing.
func (l *Log) IterLive() ([]types.Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %v: %w", l.path, err, types.ErrIO)
	}
	if len(data) < format.LogHeaderSize {
		return nil, nil
	}
	if data[0] != format.LogMagic[0] || data[1] != format.LogMagic[1] ||
		data[2] != format.LogMagic[2] || data[3] != format.LogMagic[3] {
		return nil, fmt.Errorf("log magic: %w", types.ErrCorruptLog)
	}

	var entries []types.Entry
	deleted := make(map[uint32]struct{})
	pos := format.LogHeaderSize
	for pos < len(data) {
		switch data[pos] {
		case format.KindEntry:
			if pos+format.EntryHeaderSize > len(data) {
				return live(entries, deleted), nil
			}
			tl, bl, ts := format.DecodeEntryHeader(data[pos : pos+format.EntryHeaderSize])
			end := pos + format.EntryHeaderSize + tl + bl
			if end > len(data) {
				return live(entries, deleted), nil
			}
			entries = append(entries, types.Entry{
				Offset:    uint32(pos),
				Topic:     string(data[pos+format.EntryHeaderSize : pos+format.EntryHeaderSize+tl]),
				Body:      string(data[pos+format.EntryHeaderSize+tl : end]),
				TSMinutes: ts,
			})
			pos = end
		case format.KindTombstone:
			if pos+format.TombstoneSize > len(data) {
				return live(entries, deleted), nil
			}
			deleted[format.TombstoneTarget(data[pos:pos+format.TombstoneSize])] = struct{}{}
			pos += format.TombstoneSize
		default:
			// Unknown kind byte: everything from here on is unreadable.
			return live(entries, deleted), nil
		}
	}
	return live(entries, deleted), nil
}

func live(entries []types.Entry, deleted map[uint32]struct{}) []types.Entry {
	if len(deleted) == 0 {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if _, dead := deleted[e.Offset]; !dead {
			out = append(out, e)
		}
	}
	return out
}

// ReadEntryAt reads the single entry record at the given offset.
func (l *Log) ReadEntryAt(offset uint32) (types.Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return types.Entry{}, fmt.Errorf("open %s: %v: %w", l.path, err, types.ErrIO)
	}
	defer f.Close()
	var hdr [format.EntryHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], int64(offset)); err != nil {
		return types.Entry{}, fmt.Errorf("read entry header at %d: %v: %w", offset, err, types.ErrCorruptLog)
	}
	if hdr[0] != format.KindEntry {
		return types.Entry{}, fmt.Errorf("record at %d is not an entry: %w", offset, types.ErrCorruptLog)
	}
	tl, bl, ts := format.DecodeEntryHeader(hdr[:])
	buf := make([]byte, tl+bl)
	if _, err := f.ReadAt(buf, int64(offset)+format.EntryHeaderSize); err != nil {
		return types.Entry{}, fmt.Errorf("read entry at %d: %v: %w", offset, err, types.ErrCorruptLog)
	}
	return types.Entry{
		Offset:    offset,
		Topic:     string(buf[:tl]),
		Body:      string(buf[tl:]),
		TSMinutes: ts,
	}, nil
}

// CompactStats reports what a compaction did.
type CompactStats struct {
	Entries     int
	BytesBefore int64
	BytesAfter  int64
}

// Compact rewrites the log with only live entries to a temporary file and
// atomically renames it over the active one after fsync. Entries receive new
// offsets; the index must be rebuilt afterwards. Callers hold the write lock.
func (l *Log) Compact() (CompactStats, error) {
	entries, err := l.IterLive()
	if err != nil {
		return CompactStats{}, err
	}
	var stats CompactStats
	stats.Entries = len(entries)
	if fi, err := os.Stat(l.path); err == nil {
		stats.BytesBefore = fi.Size()
	}

	tmp := l.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return stats, fmt.Errorf("create %s: %v: %w", tmp, err, types.ErrIO)
	}
	hdr := format.EncodeLogHeader()
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return stats, fmt.Errorf("write log header: %v: %w", err, types.ErrIO)
	}
	for _, e := range entries {
		if _, err := appendEntryTo(f, e.Topic, e.Body, e.TSMinutes); err != nil {
			f.Close()
			return stats, err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return stats, fmt.Errorf("fsync %s: %v: %w", tmp, err, types.ErrIO)
	}
	if err := f.Close(); err != nil {
		return stats, fmt.Errorf("close %s: %v: %w", tmp, err, types.ErrIO)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return stats, fmt.Errorf("rename %s: %v: %w", tmp, err, types.ErrIO)
	}
	if fi, err := os.Stat(l.path); err == nil {
		stats.BytesAfter = fi.Size()
	}
	return stats, nil
}

// Mtime returns the log file's modification time, zero if the file is absent.
func (l *Log) Mtime() time.Time {
	fi, err := os.Stat(l.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Size returns the log file's size in bytes, 0 if absent.
func (l *Log) Size() int64 {
	fi, err := os.Stat(l.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
