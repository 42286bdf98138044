// Package export writes and reads corpus backups: one JSON object per live
// entry (topic, body, ts_min), zstd-compressed. Importing a full export into
// a blank directory reproduces the live corpus.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/store"
	"github.com/dshills/amaranthine/pkg/types"
)

// Export streams every live entry to w. Returns the entry count.
func Export(cache *corpus.Cache, w io.Writer) (int, error) {
	snap, err := cache.Snapshot()
	if err != nil {
		return 0, err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("zstd writer: %v: %w", err, types.ErrIO)
	}
	enc := json.NewEncoder(zw)
	n := 0
	for i := range snap.Entries {
		e := &snap.Entries[i]
		rec := store.ImportEntry{Topic: e.Topic, Body: e.Body, TSMinutes: e.TSMinutes}
		if err := enc.Encode(&rec); err != nil {
			zw.Close()
			return n, fmt.Errorf("encode entry: %v: %w", err, types.ErrIO)
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("flush archive: %v: %w", err, types.ErrIO)
	}
	return n, nil
}

// ExportFile writes an archive to path.
func ExportFile(cache *corpus.Cache, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %v: %w", path, err, types.ErrIO)
	}
	n, err := Export(cache, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %v: %w", path, cerr, types.ErrIO)
	}
	return n, err
}

// Import reads an archive and appends every record through the write
// coordinator (one lock, one rebuild). Returns how many entries landed.
func Import(coord *store.Coordinator, r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("zstd reader: %v: %w", err, types.ErrCorruptLog)
	}
	defer zr.Close()

	var batch []store.ImportEntry
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec store.ImportEntry
		if err := json.Unmarshal(line, &rec); err != nil {
			return 0, fmt.Errorf("parse archive line: %v: %w", err, types.ErrInvalidInput)
		}
		batch = append(batch, rec)
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read archive: %v: %w", err, types.ErrIO)
	}
	return coord.Import(batch)
}

// ImportFile reads an archive from path.
func ImportFile(coord *store.Coordinator, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %v: %w", path, err, types.ErrIO)
	}
	defer f.Close()
	return Import(coord, f)
}
