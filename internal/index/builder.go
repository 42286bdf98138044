// Package index builds and reads the binary inverted index: a derived,
// disposable, mmap-ready artifact rebuilt from scratch after every write.
// All sections are fixed-layout and read by offset; see internal/format for
// the byte contracts.
package index

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/format"
	"github.com/dshills/amaranthine/pkg/types"
)

// IndexName is the on-disk file name inside the data directory.
const IndexName = "index.bin"

// IDF returns the BM25 inverse document frequency baked into postings at
// build time: log(1 + (N − df + 0.5)/(df + 0.5)). The +1 keeps every
// contribution positive, which the u32 score_x1000 ABI depends on. The
// reference scorer uses the same function, so index and cache paths rank
// identically.
func IDF(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// Build serializes a corpus snapshot into one contiguous index image.
// logMtimeNS is the log mtime the snapshot was built from; the reader uses
// it for staleness checks.
func Build(snap *corpus.Snapshot, logMtimeNS int64) ([]byte, error) {
	n := len(snap.Entries)
	if n > format.MaxEntryID+1 {
		return nil, fmt.Errorf("%d entries exceeds the u16 entry-id space, compact first: %w",
			n, types.ErrInvalidInput)
	}

	// Topic table, first-seen order.
	topicID := make(map[string]uint16, 64)
	var topicNames []string
	topicCounts := make(map[uint16]uint16)
	// Source table, 1-based, deduped by path.
	sourceID := make(map[string]uint32, 16)
	var sources []format.SourceRec
	var sourcePool []byte

	type tfPost struct {
		entry uint16
		tf    uint16
	}
	terms := make(map[string][]tfPost, n*8)

	metas := make([]format.EntryMeta, n)
	var snippets []byte

	// Per-topic entry lists in log order, for narrative-link resolution.
	topicEntries := make(map[string][]uint16, 64)

	for i, e := range snap.Entries {
		id := uint16(i)
		tid, ok := topicID[e.Topic]
		if !ok {
			tid = uint16(len(topicNames))
			topicID[e.Topic] = tid
			topicNames = append(topicNames, e.Topic)
		}
		topicCounts[tid]++
		topicEntries[e.Topic] = append(topicEntries[e.Topic], id)

		for term, tf := range e.TFMap {
			if tf > math.MaxUint16 {
				tf = math.MaxUint16
			}
			terms[term] = append(terms[term], tfPost{entry: id, tf: uint16(tf)})
		}

		var srcID uint32
		if e.Meta.Source != nil && e.Meta.Source.Path != "" {
			path := e.Meta.Source.Path
			srcID, ok = sourceID[path]
			if !ok {
				var mtimeNS int64
				if fi, err := os.Stat(path); err == nil {
					mtimeNS = fi.ModTime().UnixNano()
				}
				sources = append(sources, format.SourceRec{
					PathOff: uint32(len(sourcePool)),
					PathLen: uint32(len(path)),
					MtimeNS: mtimeNS,
				})
				sourcePool = append(sourcePool, path...)
				srcID = uint32(len(sources))
				sourceID[path] = srcID
			}
		}

		wc := e.WordCount
		if wc > math.MaxUint16 {
			wc = math.MaxUint16
		}
		snipOff := uint32(len(snippets))
		snippets = append(snippets, e.Snippet...)
		metas[i] = format.EntryMeta{
			TopicID:    tid,
			WordCount:  uint16(wc),
			SnippetOff: snipOff,
			SnippetLen: uint32(len(e.Snippet)),
			TSMinutes:  e.TSMinutes,
			SourceID:   srcID,
			Confidence: float32(e.Meta.Confidence),
			LogOffset:  uint64(e.Offset),
		}
	}

	// Narrative links -> entry-id pairs. Unresolvable links are skipped.
	var xrefs []format.XrefRec
	for i, e := range snap.Entries {
		for _, l := range e.Meta.Links {
			ids := topicEntries[l.Topic]
			if l.Index >= len(ids) {
				continue
			}
			xrefs = append(xrefs, format.XrefRec{FromEntry: uint16(i), ToEntry: ids[l.Index]})
		}
	}
	if len(xrefs) > math.MaxUint16 {
		xrefs = xrefs[:math.MaxUint16]
	}

	// Deterministic term order so identical corpora build identical bytes.
	termList := make([]string, 0, len(terms))
	for t := range terms {
		termList = append(termList, t)
	}
	sort.Strings(termList)

	tableCap := termTableCap(len(termList))
	mask := tableCap - 1

	// Layout. The term table follows the header; every later section starts
	// 4-byte aligned.
	tableOff := format.IndexHeaderSize
	postOff := format.Align4(tableOff + tableCap*format.TermSlotSize)
	numPostings := 0
	for _, ps := range terms {
		numPostings += len(ps)
	}
	metaOff := format.Align4(postOff + numPostings*format.PostingSize)
	snipOff := format.Align4(metaOff + n*format.EntryMetaSize)
	topicsOff := format.Align4(snipOff + len(snippets))
	topicNamesOff := format.Align4(topicsOff + len(topicNames)*format.TopicEntrySize)
	topicNamesLen := 0
	for _, name := range topicNames {
		topicNamesLen += len(name)
	}
	sourcesOff := format.Align4(topicNamesOff + topicNamesLen)
	sourcePoolOff := format.Align4(sourcesOff + len(sources)*format.SourceRecSize)
	xrefOff := format.Align4(sourcePoolOff + len(sourcePool))
	total := xrefOff + len(xrefs)*format.XrefRecSize

	buf := make([]byte, total)

	// Postings, grouped per term, each group sorted by entry id (insertion
	// order is already ascending). Slots are filled with linear probing.
	postCursor := 0
	for _, term := range termList {
		ps := terms[term]
		df := len(ps)
		idf := float32(IDF(n, df))
		slot := format.TermSlot{
			Hash:        format.HashTermString(term),
			PostingsOff: uint32(postCursor),
			DF:          uint32(df),
		}
		idx := int(slot.Hash) & mask
		for format.ReadTermSlot(buf, tableOff, idx).Hash != 0 {
			idx = (idx + 1) & mask
		}
		format.PutTermSlot(buf, tableOff, idx, slot)
		for _, p := range ps {
			format.PutPosting(buf, postOff, postCursor, format.Posting{
				EntryID: p.entry, TF: p.tf, IDF: idf,
			})
			postCursor++
		}
	}

	for i, m := range metas {
		format.PutEntryMeta(buf, metaOff, i, m)
	}
	copy(buf[snipOff:], snippets)

	nameCursor := 0
	for i, name := range topicNames {
		format.PutTopicEntry(buf, topicsOff, i, format.TopicEntry{
			NameOff:    uint32(nameCursor),
			NameLen:    uint16(len(name)),
			EntryCount: topicCounts[uint16(i)],
		})
		copy(buf[topicNamesOff+nameCursor:], name)
		nameCursor += len(name)
	}
	for i, s := range sources {
		format.PutSourceRec(buf, sourcesOff, i, s)
	}
	copy(buf[sourcePoolOff:], sourcePool)
	for i, x := range xrefs {
		format.PutXrefRec(buf, xrefOff, i, x)
	}

	avgdl := snap.Avgdl()
	hdr := format.IndexHeader{
		NumEntries:    uint32(n),
		NumTerms:      uint32(len(termList)),
		NumTopics:     uint16(len(topicNames)),
		NumSources:    uint16(len(sources)),
		NumXrefs:      uint16(len(xrefs)),
		TableCap:      uint32(tableCap),
		AvgdlX100:     uint32(avgdl * 100),
		PostingsOff:   uint32(postOff),
		MetaOff:       uint32(metaOff),
		SnippetsOff:   uint32(snipOff),
		TopicsOff:     uint32(topicsOff),
		TopicNamesOff: uint32(topicNamesOff),
		SourcesOff:    uint32(sourcesOff),
		SourcePoolOff: uint32(sourcePoolOff),
		XrefOff:       uint32(xrefOff),
		LogMtimeNS:    logMtimeNS,
	}
	hdr.EncodeTo(buf)
	return buf, nil
}

// termTableCap returns the smallest power of two >= 1.5x the distinct term
// count, never below 16, so slot = hash & (cap-1) always has free slots.
func termTableCap(numTerms int) int {
	want := numTerms + numTerms/2 + 1
	capacity := 16
	for capacity < want {
		capacity <<= 1
	}
	return capacity
}

// WriteFile writes the index image to path atomically (tmp + fsync + rename)
// so readers never observe a torn index.
func WriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %v: %w", tmp, err, types.ErrIO)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %v: %w", tmp, err, types.ErrIO)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync %s: %v: %w", tmp, err, types.ErrIO)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %v: %w", tmp, err, types.ErrIO)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %v: %w", tmp, err, types.ErrIO)
	}
	return nil
}
