package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dshills/amaranthine/internal/datalog"
	"github.com/dshills/amaranthine/internal/format"
	"github.com/dshills/amaranthine/pkg/types"
)

// BM25 parameters shared by the index and reference scorers.
const (
	BM25K1 = 1.2
	BM25B  = 0.75
)

// Candidate is one phase-2 survivor: an entry and its raw BM25 score,
// before topic/tag/confidence boosts.
type Candidate struct {
	EntryID int
	Score   float64
}

// RawResult mirrors the C ABI result record.
type RawResult struct {
	EntryID    uint16
	ScoreX1000 uint32
}

// Reader is an open, memory-mapped index. All lookups are pointer
// arithmetic into the mapping; SearchRaw allocates nothing, and Search
// allocates only its resolved-term list and its result slice.
//
// Snippet return values alias the mapping and are valid only until Reload
// or Close — callers must copy if they need the bytes longer.
type Reader struct {
	path string

	mu   sync.Mutex
	data []byte
	hdr  format.IndexHeader

	// Generation-stamped scratch state lets queries skip zero-initializing
	// the per-entry arrays: a stale slot is overwritten before it is read.
	gen      uint32
	entryGen []uint32
	scores   []float64
	matched  []uint16
}

// Open mmaps the index file read-only and validates its header and section
// bounds. The mapping stays immutable for the life of the handle.
func Open(path string) (*Reader, error) {
	data, err := mmapFile(path)
	if err != nil {
		return nil, err
	}
	hdr, err := validate(data)
	if err != nil {
		munmap(data)
		return nil, err
	}
	r := &Reader{path: path, data: data, hdr: hdr}
	r.ensureScratch(int(hdr.NumEntries))
	return r, nil
}

func mmapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, types.ErrIO)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %v: %w", path, err, types.ErrIO)
	}
	if fi.Size() < format.IndexHeaderSize {
		return nil, fmt.Errorf("index %d bytes: %w", fi.Size(), types.ErrCorruptIndex)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %v: %w", path, err, types.ErrIO)
	}
	return data, nil
}

func munmap(data []byte) {
	if data != nil {
		_ = unix.Munmap(data)
	}
}

// validate decodes the header and bounds-checks the term table, entry
// metadata, topic, source and xref tables. Postings, snippet bytes, topic
// names and the source pool are not checked here; Snippet, TopicName and
// Source bound-check their own slices.
func validate(data []byte) (format.IndexHeader, error) {
	hdr, err := format.DecodeIndexHeader(data)
	if err != nil {
		return hdr, err
	}
	size := len(data)
	check := func(off, n int, what string) error {
		if off < format.IndexHeaderSize || off+n > size {
			return fmt.Errorf("%s section [%d,%d) out of bounds (%d): %w",
				what, off, off+n, size, types.ErrCorruptIndex)
		}
		return nil
	}
	tableEnd := format.IndexHeaderSize + int(hdr.TableCap)*format.TermSlotSize
	if hdr.TableCap == 0 || hdr.TableCap&(hdr.TableCap-1) != 0 || tableEnd > size {
		return hdr, fmt.Errorf("term table capacity %d: %w", hdr.TableCap, types.ErrCorruptIndex)
	}
	if err := check(int(hdr.MetaOff), int(hdr.NumEntries)*format.EntryMetaSize, "entry meta"); err != nil && hdr.NumEntries > 0 {
		return hdr, err
	}
	if err := check(int(hdr.TopicsOff), int(hdr.NumTopics)*format.TopicEntrySize, "topic table"); err != nil && hdr.NumTopics > 0 {
		return hdr, err
	}
	if err := check(int(hdr.SourcesOff), int(hdr.NumSources)*format.SourceRecSize, "source table"); err != nil && hdr.NumSources > 0 {
		return hdr, err
	}
	if err := check(int(hdr.XrefOff), int(hdr.NumXrefs)*format.XrefRecSize, "xref table"); err != nil && hdr.NumXrefs > 0 {
		return hdr, err
	}
	return hdr, nil
}

// Close unmaps the index. Snippet pointers handed out earlier die with it.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	munmap(r.data)
	r.data = nil
	return nil
}

// Stale compares the log mtime recorded at build time with the log file
// next to the index.
func (r *Reader) Stale() bool {
	logPath := filepath.Join(filepath.Dir(r.path), datalog.LogName)
	fi, err := os.Stat(logPath)
	if err != nil {
		return r.hdr.NumEntries > 0
	}
	return fi.ModTime().UnixNano() != r.hdr.LogMtimeNS
}

// Reload re-mmaps the file in place. Entry IDs are position-stable within a
// build, so an unchanged file keeps all IDs valid.
func (r *Reader) Reload() error {
	data, err := mmapFile(r.path)
	if err != nil {
		return err
	}
	hdr, err := validate(data)
	if err != nil {
		munmap(data)
		return err
	}
	r.mu.Lock()
	old := r.data
	r.data = data
	r.hdr = hdr
	r.ensureScratch(int(hdr.NumEntries))
	r.mu.Unlock()
	munmap(old)
	return nil
}

func (r *Reader) ensureScratch(n int) {
	if len(r.entryGen) < n {
		r.entryGen = make([]uint32, n)
		r.scores = make([]float64, n)
		r.matched = make([]uint16, n)
		r.gen = 0
	}
}

// NumEntries returns the entry count of the open build.
func (r *Reader) NumEntries() int { return int(r.hdr.NumEntries) }

// Avgdl returns the average document length recorded at build time.
func (r *Reader) Avgdl() float64 {
	a := float64(r.hdr.AvgdlX100) / 100
	if a < 1 {
		return 1
	}
	return a
}

// lookup resolves a term hash to its posting slice via linear probing
// terminated by the zero-hash empty-slot sentinel.
func (r *Reader) lookup(hash uint64) (postOff, df int, ok bool) {
	mask := int(r.hdr.TableCap) - 1
	idx := int(hash) & mask
	for i := 0; i < int(r.hdr.TableCap); i++ {
		slot := format.ReadTermSlot(r.data, format.IndexHeaderSize, idx)
		if slot.Hash == 0 {
			return 0, 0, false
		}
		if slot.Hash == hash {
			return int(slot.PostingsOff), int(slot.DF), true
		}
		idx = (idx + 1) & mask
	}
	return 0, 0, false
}

// TermPostings resolves a term to (element offset, document frequency).
func (r *Reader) TermPostings(term string) (postOff, df int, ok bool) {
	return r.lookup(format.HashTermString(term))
}

// PostingFor binary-searches a term's posting slice for one entry.
func (r *Reader) PostingFor(postOff, df int, entryID uint16) (format.Posting, bool) {
	base := int(r.hdr.PostingsOff)
	i := sort.Search(df, func(i int) bool {
		return format.ReadPosting(r.data, base, postOff+i).EntryID >= entryID
	})
	if i < df {
		if p := format.ReadPosting(r.data, base, postOff+i); p.EntryID == entryID {
			return p, true
		}
	}
	return format.Posting{}, false
}

// Contribution returns one posting's BM25 term contribution.
func (r *Reader) Contribution(p format.Posting, wordCount uint16) float64 {
	tf := float64(p.TF)
	lenNorm := 1 - BM25B + BM25B*float64(wordCount)/r.Avgdl()
	return float64(p.IDF) * (tf * (BM25K1 + 1)) / (tf + BM25K1*lenNorm)
}

// Search is the three-phase deferred-snippet query over already-tokenized
// terms. Phase 1 resolves term hashes (AND mode aborts early on any miss);
// phase 2 merges postings into scores, reading each matched entry's word
// count from its metadata record but never touching snippet bytes; phase 3
// is the caller's: Snippet is only read for survivors. Returns up to k
// candidates ordered by descending raw score, ties broken by newer
// timestamp and then lower entry ID.
func (r *Reader) Search(terms []string, requireAll bool, k int) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil || len(terms) == 0 || r.hdr.NumEntries == 0 {
		return nil
	}

	// Phase 1: resolve.
	type slice struct{ off, df int }
	slices := make([]slice, 0, len(terms))
	for _, t := range terms {
		off, df, ok := r.lookup(format.HashTermString(t))
		if !ok {
			if requireAll {
				return nil
			}
			continue
		}
		slices = append(slices, slice{off, df})
	}
	if len(slices) == 0 {
		return nil
	}

	// Phase 2: merge postings under the generation counter.
	r.gen++
	if r.gen == 0 {
		r.gen = 1
	}
	gen := r.gen
	base := int(r.hdr.PostingsOff)
	metaOff := int(r.hdr.MetaOff)
	n := int(r.hdr.NumEntries)
	for _, s := range slices {
		for i := 0; i < s.df; i++ {
			p := format.ReadPosting(r.data, base, s.off+i)
			eid := int(p.EntryID)
			if eid >= n {
				continue
			}
			if r.entryGen[eid] != gen {
				r.entryGen[eid] = gen
				r.scores[eid] = 0
				r.matched[eid] = 0
			}
			m := format.ReadEntryMeta(r.data, metaOff, eid)
			r.scores[eid] += r.Contribution(p, m.WordCount)
			r.matched[eid]++
		}
	}

	need := uint16(1)
	if requireAll {
		need = uint16(len(slices))
	}

	// Bounded selection: keep the top k in a small insertion-sorted buffer.
	if k <= 0 {
		k = 1
	}
	// ahead reports whether a ranks before b: higher score, then newer
	// timestamp, then lower entry ID.
	ahead := func(a, b Candidate) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ta := format.ReadEntryMeta(r.data, metaOff, a.EntryID).TSMinutes
		tb := format.ReadEntryMeta(r.data, metaOff, b.EntryID).TSMinutes
		if ta != tb {
			return ta > tb
		}
		return a.EntryID < b.EntryID
	}
	out := make([]Candidate, 0, k)
	for eid := 0; eid < n; eid++ {
		if r.entryGen[eid] != gen || r.matched[eid] < need {
			continue
		}
		c := Candidate{EntryID: eid, Score: r.scores[eid]}
		if len(out) < k {
			out = append(out, c)
			for i := len(out) - 1; i > 0 && ahead(out[i], out[i-1]); i-- {
				out[i-1], out[i] = out[i], out[i-1]
			}
		} else if ahead(c, out[k-1]) {
			i := k - 1
			for i > 0 && ahead(c, out[i-1]) {
				out[i] = out[i-1]
				i--
			}
			out[i] = c
		}
	}
	return out
}

// SearchRaw is the zero-alloc FFI path: pre-hashed terms in, results into
// the caller's buffer, union semantics, scores scaled by 1000. Returns the
// number of results written.
func (r *Reader) SearchRaw(hashes []uint64, out []RawResult) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil || len(hashes) == 0 || len(out) == 0 || r.hdr.NumEntries == 0 {
		return 0
	}

	r.gen++
	if r.gen == 0 {
		r.gen = 1
	}
	gen := r.gen
	base := int(r.hdr.PostingsOff)
	metaOff := int(r.hdr.MetaOff)
	n := int(r.hdr.NumEntries)
	anyHit := false
	for _, h := range hashes {
		off, df, ok := r.lookup(h)
		if !ok {
			continue
		}
		anyHit = true
		for i := 0; i < df; i++ {
			p := format.ReadPosting(r.data, base, off+i)
			eid := int(p.EntryID)
			if eid >= n {
				continue
			}
			if r.entryGen[eid] != gen {
				r.entryGen[eid] = gen
				r.scores[eid] = 0
			}
			m := format.ReadEntryMeta(r.data, metaOff, eid)
			r.scores[eid] += r.Contribution(p, m.WordCount)
		}
	}
	if !anyHit {
		return 0
	}

	written := 0
	limit := len(out)
	for eid := 0; eid < n; eid++ {
		if r.entryGen[eid] != gen {
			continue
		}
		s := uint32(r.scores[eid] * 1000)
		if written < limit {
			pos := written
			for pos > 0 && out[pos-1].ScoreX1000 < s {
				out[pos] = out[pos-1]
				pos--
			}
			out[pos] = RawResult{EntryID: uint16(eid), ScoreX1000: s}
			written++
		} else if s > out[limit-1].ScoreX1000 {
			pos := limit - 1
			for pos > 0 && out[pos-1].ScoreX1000 < s {
				out[pos] = out[pos-1]
				pos--
			}
			out[pos] = RawResult{EntryID: uint16(eid), ScoreX1000: s}
		}
	}
	return written
}

// Meta returns the fixed metadata record for an entry.
func (r *Reader) Meta(entryID int) (format.EntryMeta, bool) {
	if entryID < 0 || entryID >= int(r.hdr.NumEntries) {
		return format.EntryMeta{}, false
	}
	return format.ReadEntryMeta(r.data, int(r.hdr.MetaOff), entryID), true
}

// Snippet returns the entry's snippet bytes. The slice aliases the mmap and
// is valid until Reload or Close.
func (r *Reader) Snippet(entryID int) []byte {
	m, ok := r.Meta(entryID)
	if !ok {
		return nil
	}
	off := int(r.hdr.SnippetsOff) + int(m.SnippetOff)
	end := off + int(m.SnippetLen)
	if off < 0 || end > len(r.data) {
		return nil
	}
	return r.data[off:end:end]
}

// TopicName resolves a topic id to its name.
func (r *Reader) TopicName(topicID int) string {
	if topicID < 0 || topicID >= int(r.hdr.NumTopics) {
		return ""
	}
	te := format.ReadTopicEntry(r.data, int(r.hdr.TopicsOff), topicID)
	off := int(r.hdr.TopicNamesOff) + int(te.NameOff)
	end := off + int(te.NameLen)
	if end > len(r.data) {
		return ""
	}
	return string(r.data[off:end])
}

// Topics returns the full topic table.
func (r *Reader) Topics() []types.TopicInfo {
	out := make([]types.TopicInfo, 0, r.hdr.NumTopics)
	for i := 0; i < int(r.hdr.NumTopics); i++ {
		te := format.ReadTopicEntry(r.data, int(r.hdr.TopicsOff), i)
		out = append(out, types.TopicInfo{Name: r.TopicName(i), Entries: int(te.EntryCount)})
	}
	return out
}

// Source resolves a 1-based source id to its path and build-time mtime.
func (r *Reader) Source(sourceID uint32) (path string, mtimeNS int64, ok bool) {
	if sourceID == 0 || int(sourceID) > int(r.hdr.NumSources) {
		return "", 0, false
	}
	sr := format.ReadSourceRec(r.data, int(r.hdr.SourcesOff), int(sourceID-1))
	off := int(r.hdr.SourcePoolOff) + int(sr.PathOff)
	end := off + int(sr.PathLen)
	if end > len(r.data) {
		return "", 0, false
	}
	return string(r.data[off:end]), sr.MtimeNS, true
}

// Xrefs returns every resolved narrative-link pair.
func (r *Reader) Xrefs() []format.XrefRec {
	out := make([]format.XrefRec, 0, r.hdr.NumXrefs)
	for i := 0; i < int(r.hdr.NumXrefs); i++ {
		out = append(out, format.ReadXrefRec(r.data, int(r.hdr.XrefOff), i))
	}
	return out
}
