// Package format owns the on-disk layout of the data log and the binary
// index: magic values, record sizes, the term hash, and packed little-endian
// accessors. Consumers never hand-parse section bytes; they go through the
// Read*/Put* helpers here, all of which use unaligned loads.
package format

import (
	"encoding/binary"
	"fmt"

	"github.com/dshills/amaranthine/pkg/types"
)

// File magics and versions.
var (
	LogMagic   = [4]byte{'A', 'M', 'R', 'L'}
	IndexMagic = [4]byte{'A', 'M', 'R', 'N'}
)

const (
	LogVersion   uint32 = 1
	IndexVersion uint32 = 1
)

// Log record layout.
const (
	LogHeaderSize   = 8  // magic + u32 version
	EntryHeaderSize = 12 // kind, topic_len, body_len, ts_min, pad
	TombstoneSize   = 8  // kind, pad[3], target_offset

	KindEntry     = 0x01
	KindTombstone = 0x02

	MaxTopicLen = 255
)

// Index section record sizes.
const (
	IndexHeaderSize = 72
	TermSlotSize    = 16
	PostingSize     = 8
	EntryMetaSize   = 32
	TopicEntrySize  = 8
	SourceRecSize   = 16
	XrefRecSize     = 4

	// MaxEntryID bounds entry IDs to u16 by design; builds beyond this fail.
	MaxEntryID = 0xFFFF
)

// FNV-1a 64-bit parameters.
const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

// HashTerm hashes an already-lowercased, already-tokenized term.
// Hash 0 is the empty-slot sentinel in the term table, so a computed 0 is
// remapped to 1.
func HashTerm(term []byte) uint64 {
	var h uint64 = fnvOffset
	for _, b := range term {
		h ^= uint64(b)
		h *= fnvPrime
	}
	if h == 0 {
		return 1
	}
	return h
}

// HashTermString is HashTerm for string input without a copy.
func HashTermString(term string) uint64 {
	var h uint64 = fnvOffset
	for i := 0; i < len(term); i++ {
		h ^= uint64(term[i])
		h *= fnvPrime
	}
	if h == 0 {
		return 1
	}
	return h
}

// Align4 rounds n up to the next 4-byte boundary.
func Align4(n int) int {
	return (n + 3) &^ 3
}

// --- Log records ---

// EncodeLogHeader returns the 8-byte file header of data.log.
func EncodeLogHeader() [LogHeaderSize]byte {
	var h [LogHeaderSize]byte
	copy(h[0:4], LogMagic[:])
	binary.LittleEndian.PutUint32(h[4:8], LogVersion)
	return h
}

// EncodeEntryHeader packs the fixed 12-byte entry record header.
func EncodeEntryHeader(topicLen uint8, bodyLen uint32, tsMin int32) [EntryHeaderSize]byte {
	var h [EntryHeaderSize]byte
	h[0] = KindEntry
	h[1] = topicLen
	binary.LittleEndian.PutUint32(h[2:6], bodyLen)
	binary.LittleEndian.PutUint32(h[6:10], uint32(tsMin))
	return h
}

// DecodeEntryHeader unpacks an entry record header. The kind byte must
// already have been checked by the caller.
func DecodeEntryHeader(h []byte) (topicLen int, bodyLen int, tsMin int32) {
	topicLen = int(h[1])
	bodyLen = int(binary.LittleEndian.Uint32(h[2:6]))
	tsMin = int32(binary.LittleEndian.Uint32(h[6:10]))
	return
}

// EncodeTombstone packs the fixed 8-byte tombstone record.
func EncodeTombstone(targetOffset uint32) [TombstoneSize]byte {
	var r [TombstoneSize]byte
	r[0] = KindTombstone
	binary.LittleEndian.PutUint32(r[4:8], targetOffset)
	return r
}

// TombstoneTarget reads the target offset out of a tombstone record.
func TombstoneTarget(r []byte) uint32 {
	return binary.LittleEndian.Uint32(r[4:8])
}

// --- Index header ---

// IndexHeader is the fixed 72-byte header at the front of index.bin.
// The term table starts immediately after it; all section offsets are
// absolute file offsets, 4-byte aligned. LogMtimeNS is written last so a
// reader that sees it can trust the rest of the file.
type IndexHeader struct {
	NumEntries    uint32
	NumTerms      uint32
	NumTopics     uint16
	NumSources    uint16
	NumXrefs      uint16
	TableCap      uint32
	AvgdlX100     uint32
	PostingsOff   uint32
	MetaOff       uint32
	SnippetsOff   uint32
	TopicsOff     uint32
	TopicNamesOff uint32
	SourcesOff    uint32
	SourcePoolOff uint32
	XrefOff       uint32
	LogMtimeNS    int64
}

// EncodeTo writes the header into buf[0:IndexHeaderSize].
func (h *IndexHeader) EncodeTo(buf []byte) {
	copy(buf[0:4], IndexMagic[:])
	le := binary.LittleEndian
	le.PutUint32(buf[4:8], IndexVersion)
	le.PutUint32(buf[8:12], h.NumEntries)
	le.PutUint32(buf[12:16], h.NumTerms)
	le.PutUint16(buf[16:18], h.NumTopics)
	le.PutUint16(buf[18:20], h.NumSources)
	le.PutUint16(buf[20:22], h.NumXrefs)
	le.PutUint16(buf[22:24], 0)
	le.PutUint32(buf[24:28], h.TableCap)
	le.PutUint32(buf[28:32], h.AvgdlX100)
	le.PutUint32(buf[32:36], h.PostingsOff)
	le.PutUint32(buf[36:40], h.MetaOff)
	le.PutUint32(buf[40:44], h.SnippetsOff)
	le.PutUint32(buf[44:48], h.TopicsOff)
	le.PutUint32(buf[48:52], h.TopicNamesOff)
	le.PutUint32(buf[52:56], h.SourcesOff)
	le.PutUint32(buf[56:60], h.SourcePoolOff)
	le.PutUint32(buf[60:64], h.XrefOff)
	le.PutUint64(buf[64:72], uint64(h.LogMtimeNS))
}

// DecodeIndexHeader validates magic and version and unpacks the header.
func DecodeIndexHeader(data []byte) (IndexHeader, error) {
	var h IndexHeader
	if len(data) < IndexHeaderSize {
		return h, fmt.Errorf("index header: %d bytes: %w", len(data), types.ErrCorruptIndex)
	}
	if data[0] != IndexMagic[0] || data[1] != IndexMagic[1] ||
		data[2] != IndexMagic[2] || data[3] != IndexMagic[3] {
		return h, fmt.Errorf("index magic: %w", types.ErrCorruptIndex)
	}
	le := binary.LittleEndian
	if v := le.Uint32(data[4:8]); v != IndexVersion {
		return h, fmt.Errorf("index version %d (want %d): %w", v, IndexVersion, types.ErrCorruptIndex)
	}
	h.NumEntries = le.Uint32(data[8:12])
	h.NumTerms = le.Uint32(data[12:16])
	h.NumTopics = le.Uint16(data[16:18])
	h.NumSources = le.Uint16(data[18:20])
	h.NumXrefs = le.Uint16(data[20:22])
	h.TableCap = le.Uint32(data[24:28])
	h.AvgdlX100 = le.Uint32(data[28:32])
	h.PostingsOff = le.Uint32(data[32:36])
	h.MetaOff = le.Uint32(data[36:40])
	h.SnippetsOff = le.Uint32(data[40:44])
	h.TopicsOff = le.Uint32(data[44:48])
	h.TopicNamesOff = le.Uint32(data[48:52])
	h.SourcesOff = le.Uint32(data[52:56])
	h.SourcePoolOff = le.Uint32(data[56:60])
	h.XrefOff = le.Uint32(data[60:64])
	h.LogMtimeNS = int64(le.Uint64(data[64:72]))
	return h, nil
}

// --- Fixed-size section records ---

// TermSlot is one open-addressing slot of the term table.
// PostingsOff counts Posting elements from the start of the postings section.
type TermSlot struct {
	Hash        uint64
	PostingsOff uint32
	DF          uint32
}

// PutTermSlot writes slot i of the term table that starts at tableOff.
func PutTermSlot(buf []byte, tableOff, i int, s TermSlot) {
	off := tableOff + i*TermSlotSize
	le := binary.LittleEndian
	le.PutUint64(buf[off:off+8], s.Hash)
	le.PutUint32(buf[off+8:off+12], s.PostingsOff)
	le.PutUint32(buf[off+12:off+16], s.DF)
}

// ReadTermSlot reads slot i of the term table that starts at tableOff.
func ReadTermSlot(data []byte, tableOff, i int) TermSlot {
	off := tableOff + i*TermSlotSize
	le := binary.LittleEndian
	return TermSlot{
		Hash:        le.Uint64(data[off : off+8]),
		PostingsOff: le.Uint32(data[off+8 : off+12]),
		DF:          le.Uint32(data[off+12 : off+16]),
	}
}

// Posting is one (entry, term) pair with its pre-baked IDF.
type Posting struct {
	EntryID uint16
	TF      uint16
	IDF     float32
}

// PutPosting writes posting element i of the section starting at postOff.
func PutPosting(buf []byte, postOff, i int, p Posting) {
	off := postOff + i*PostingSize
	le := binary.LittleEndian
	le.PutUint16(buf[off:off+2], p.EntryID)
	le.PutUint16(buf[off+2:off+4], p.TF)
	le.PutUint32(buf[off+4:off+8], floatBits(p.IDF))
}

// ReadPosting reads posting element i of the section starting at postOff.
func ReadPosting(data []byte, postOff, i int) Posting {
	off := postOff + i*PostingSize
	le := binary.LittleEndian
	return Posting{
		EntryID: le.Uint16(data[off : off+2]),
		TF:      le.Uint16(data[off+2 : off+4]),
		IDF:     bitsFloat(le.Uint32(data[off+4 : off+8])),
	}
}

// EntryMeta is the fixed per-entry metadata record.
// SourceID is 1-based into the source table; 0 means no source.
type EntryMeta struct {
	TopicID    uint16
	WordCount  uint16
	SnippetOff uint32
	SnippetLen uint32
	TSMinutes  int32
	SourceID   uint32
	Confidence float32
	LogOffset  uint64
}

// PutEntryMeta writes the meta record for entry id in the section at metaOff.
func PutEntryMeta(buf []byte, metaOff, id int, m EntryMeta) {
	off := metaOff + id*EntryMetaSize
	le := binary.LittleEndian
	le.PutUint16(buf[off:off+2], m.TopicID)
	le.PutUint16(buf[off+2:off+4], m.WordCount)
	le.PutUint32(buf[off+4:off+8], m.SnippetOff)
	le.PutUint32(buf[off+8:off+12], m.SnippetLen)
	le.PutUint32(buf[off+12:off+16], uint32(m.TSMinutes))
	le.PutUint32(buf[off+16:off+20], m.SourceID)
	le.PutUint32(buf[off+20:off+24], floatBits(m.Confidence))
	le.PutUint64(buf[off+24:off+32], m.LogOffset)
}

// ReadEntryMeta reads the meta record for entry id in the section at metaOff.
func ReadEntryMeta(data []byte, metaOff, id int) EntryMeta {
	off := metaOff + id*EntryMetaSize
	le := binary.LittleEndian
	return EntryMeta{
		TopicID:    le.Uint16(data[off : off+2]),
		WordCount:  le.Uint16(data[off+2 : off+4]),
		SnippetOff: le.Uint32(data[off+4 : off+8]),
		SnippetLen: le.Uint32(data[off+8 : off+12]),
		TSMinutes:  int32(le.Uint32(data[off+12 : off+16])),
		SourceID:   le.Uint32(data[off+16 : off+20]),
		Confidence: bitsFloat(le.Uint32(data[off+20 : off+24])),
		LogOffset:  le.Uint64(data[off+24 : off+32]),
	}
}

// TopicEntry is one row of the topic table.
type TopicEntry struct {
	NameOff    uint32
	NameLen    uint16
	EntryCount uint16
}

func PutTopicEntry(buf []byte, topicsOff, i int, t TopicEntry) {
	off := topicsOff + i*TopicEntrySize
	le := binary.LittleEndian
	le.PutUint32(buf[off:off+4], t.NameOff)
	le.PutUint16(buf[off+4:off+6], t.NameLen)
	le.PutUint16(buf[off+6:off+8], t.EntryCount)
}

func ReadTopicEntry(data []byte, topicsOff, i int) TopicEntry {
	off := topicsOff + i*TopicEntrySize
	le := binary.LittleEndian
	return TopicEntry{
		NameOff:    le.Uint32(data[off : off+4]),
		NameLen:    le.Uint16(data[off+4 : off+6]),
		EntryCount: le.Uint16(data[off+6 : off+8]),
	}
}

// SourceRec is one row of the source table: a path slice into the source
// pool plus the file's mtime observed at build time (0 if it did not stat).
type SourceRec struct {
	PathOff uint32
	PathLen uint32
	MtimeNS int64
}

func PutSourceRec(buf []byte, sourcesOff, i int, s SourceRec) {
	off := sourcesOff + i*SourceRecSize
	le := binary.LittleEndian
	le.PutUint32(buf[off:off+4], s.PathOff)
	le.PutUint32(buf[off+4:off+8], s.PathLen)
	le.PutUint64(buf[off+8:off+16], uint64(s.MtimeNS))
}

func ReadSourceRec(data []byte, sourcesOff, i int) SourceRec {
	off := sourcesOff + i*SourceRecSize
	le := binary.LittleEndian
	return SourceRec{
		PathOff: le.Uint32(data[off : off+4]),
		PathLen: le.Uint32(data[off+4 : off+8]),
		MtimeNS: int64(le.Uint64(data[off+8 : off+16])),
	}
}

// XrefRec is one resolved narrative link between two entries.
type XrefRec struct {
	FromEntry uint16
	ToEntry   uint16
}

func PutXrefRec(buf []byte, xrefOff, i int, x XrefRec) {
	off := xrefOff + i*XrefRecSize
	le := binary.LittleEndian
	le.PutUint16(buf[off:off+2], x.FromEntry)
	le.PutUint16(buf[off+2:off+4], x.ToEntry)
}

func ReadXrefRec(data []byte, xrefOff, i int) XrefRec {
	off := xrefOff + i*XrefRecSize
	le := binary.LittleEndian
	return XrefRec{
		FromEntry: le.Uint16(data[off : off+2]),
		ToEntry:   le.Uint16(data[off+2 : off+4]),
	}
}
