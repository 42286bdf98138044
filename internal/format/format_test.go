package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTermNeverZero(t *testing.T) {
	terms := []string{"", "a", "flock", "serialization", "http", "server", "ffi", "rust"}
	for _, term := range terms {
		h := HashTermString(term)
		assert.NotZero(t, h, "term %q", term)
		assert.Equal(t, h, HashTerm([]byte(term)))
	}
}

func TestHashTermKnownValue(t *testing.T) {
	// FNV-1a 64 of "a" is a published constant.
	assert.Equal(t, uint64(0xaf63dc4c8601ec8c), HashTermString("a"))
}

func TestEntryHeaderRoundTrip(t *testing.T) {
	h := EncodeEntryHeader(12, 4096, -42)
	require.Equal(t, byte(KindEntry), h[0])
	tl, bl, ts := DecodeEntryHeader(h[:])
	assert.Equal(t, 12, tl)
	assert.Equal(t, 4096, bl)
	assert.Equal(t, int32(-42), ts)
}

func TestTombstoneRoundTrip(t *testing.T) {
	r := EncodeTombstone(0xDEADBEEF)
	assert.Equal(t, byte(KindTombstone), r[0])
	assert.Equal(t, uint32(0xDEADBEEF), TombstoneTarget(r[:]))
}

func TestIndexHeaderRoundTrip(t *testing.T) {
	in := IndexHeader{
		NumEntries: 100, NumTerms: 5000, NumTopics: 10, NumSources: 3,
		NumXrefs: 7, TableCap: 8192, AvgdlX100: 12345,
		PostingsOff: 72 + 8192*TermSlotSize, MetaOff: 200000,
		SnippetsOff: 210000, TopicsOff: 220000, TopicNamesOff: 221000,
		SourcesOff: 222000, SourcePoolOff: 223000, XrefOff: 224000,
		LogMtimeNS: 1_700_000_000_000_000_001,
	}
	buf := make([]byte, IndexHeaderSize)
	in.EncodeTo(buf)
	out, err := DecodeIndexHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeIndexHeaderRejectsBadMagicAndVersion(t *testing.T) {
	buf := make([]byte, IndexHeaderSize)
	(&IndexHeader{}).EncodeTo(buf)

	bad := append([]byte(nil), buf...)
	bad[0] = 'X'
	_, err := DecodeIndexHeader(bad)
	assert.Error(t, err)

	bad = append([]byte(nil), buf...)
	bad[4] = 99
	_, err = DecodeIndexHeader(bad)
	assert.Error(t, err)

	_, err = DecodeIndexHeader(buf[:10])
	assert.Error(t, err)
}

func TestPackedRecordRoundTrips(t *testing.T) {
	buf := make([]byte, 1024)

	slot := TermSlot{Hash: 0x1234567890ABCDEF, PostingsOff: 17, DF: 3}
	PutTermSlot(buf, 0, 2, slot)
	assert.Equal(t, slot, ReadTermSlot(buf, 0, 2))

	p := Posting{EntryID: 65535, TF: 7, IDF: 2.5}
	PutPosting(buf, 64, 1, p)
	assert.Equal(t, p, ReadPosting(buf, 64, 1))

	m := EntryMeta{
		TopicID: 9, WordCount: 321, SnippetOff: 99, SnippetLen: 120,
		TSMinutes: -5, SourceID: 1, Confidence: 0.5, LogOffset: 1 << 33,
	}
	PutEntryMeta(buf, 128, 3, m)
	assert.Equal(t, m, ReadEntryMeta(buf, 128, 3))

	te := TopicEntry{NameOff: 44, NameLen: 5, EntryCount: 12}
	PutTopicEntry(buf, 512, 0, te)
	assert.Equal(t, te, ReadTopicEntry(buf, 512, 0))

	sr := SourceRec{PathOff: 10, PathLen: 20, MtimeNS: 123456789}
	PutSourceRec(buf, 600, 1, sr)
	assert.Equal(t, sr, ReadSourceRec(buf, 600, 1))

	x := XrefRec{FromEntry: 1, ToEntry: 2}
	PutXrefRec(buf, 700, 4, x)
	assert.Equal(t, x, ReadXrefRec(buf, 700, 4))
}

func TestAlign4(t *testing.T) {
	assert.Equal(t, 0, Align4(0))
	assert.Equal(t, 4, Align4(1))
	assert.Equal(t, 4, Align4(4))
	assert.Equal(t, 8, Align4(5))
}
