// Package main builds the c-shared amaranthine library: a stable C ABI over
// the mmap index reader for in-process callers that cannot spawn the RPC
// server. Build with:
//
//	go build -buildmode=c-shared -o libamaranthine.so ./ffi
//
// The authoritative header is include/amaranthine.h. Snippet pointers alias
// the mmap and are valid until amr_reload or amr_close — callers must copy
// if they need the bytes longer.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct AmrIndex AmrIndex;

typedef struct {
    uint16_t entry_id;
    uint32_t score_x1000;
} AmrResult;
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"strings"
	"unsafe"

	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/format"
	"github.com/dshills/amaranthine/internal/index"
	"github.com/dshills/amaranthine/internal/text"
	"github.com/dshills/amaranthine/pkg/types"
)

// ffiIndex is the state behind an AmrIndex* handle.
type ffiIndex struct {
	reader  *index.Reader
	lastErr int
}

func handleOf(h *C.AmrIndex) (*ffiIndex, bool) {
	if h == nil {
		return nil, false
	}
	v := cgo.Handle(uintptr(unsafe.Pointer(h))).Value()
	idx, ok := v.(*ffiIndex)
	return idx, ok
}

//export amr_open
func amr_open(indexPath *C.char) *C.AmrIndex {
	r, err := index.Open(C.GoString(indexPath))
	if err != nil {
		return nil
	}
	h := cgo.NewHandle(&ffiIndex{reader: r})
	return (*C.AmrIndex)(unsafe.Pointer(uintptr(h)))
}

//export amr_close
func amr_close(h *C.AmrIndex) {
	if h == nil {
		return
	}
	ch := cgo.Handle(uintptr(unsafe.Pointer(h)))
	if idx, ok := ch.Value().(*ffiIndex); ok {
		_ = idx.reader.Close()
	}
	ch.Delete()
}

//export amr_is_stale
func amr_is_stale(h *C.AmrIndex) C.int {
	idx, ok := handleOf(h)
	if !ok {
		return -1
	}
	if idx.reader.Stale() {
		return 1
	}
	return 0
}

//export amr_reload
func amr_reload(h *C.AmrIndex) C.int {
	idx, ok := handleOf(h)
	if !ok {
		return C.int(types.CodeInvalidInput)
	}
	if err := idx.reader.Reload(); err != nil {
		idx.lastErr = types.CodeOf(err)
		return C.int(idx.lastErr)
	}
	idx.lastErr = types.CodeOK
	return 0
}

//export amr_last_error
func amr_last_error(h *C.AmrIndex) C.int {
	idx, ok := handleOf(h)
	if !ok {
		return C.int(types.CodeInvalidInput)
	}
	return C.int(idx.lastErr)
}

//export amr_hash
func amr_hash(term *C.char) C.uint64_t {
	return C.uint64_t(format.HashTermString(strings.ToLower(C.GoString(term))))
}

//export amr_search_raw
func amr_search_raw(h *C.AmrIndex, hashes *C.uint64_t, n C.uint32_t,
	out *C.AmrResult, limit C.uint32_t) C.uint32_t {
	idx, ok := handleOf(h)
	if !ok || hashes == nil || out == nil || n == 0 || limit == 0 {
		return 0
	}
	goHashes := unsafe.Slice((*uint64)(unsafe.Pointer(hashes)), int(n))
	buf := make([]index.RawResult, int(limit))
	written := idx.reader.SearchRaw(goHashes, buf)
	cOut := unsafe.Slice(out, int(limit))
	for i := 0; i < written; i++ {
		cOut[i].entry_id = C.uint16_t(buf[i].EntryID)
		cOut[i].score_x1000 = C.uint32_t(buf[i].ScoreX1000)
	}
	return C.uint32_t(written)
}

//export amr_snippet
func amr_snippet(h *C.AmrIndex, entryID C.uint16_t, outLen *C.uint32_t) *C.uint8_t {
	idx, ok := handleOf(h)
	if !ok {
		return nil
	}
	b := idx.reader.Snippet(int(entryID))
	if len(b) == 0 {
		if outLen != nil {
			*outLen = 0
		}
		return nil
	}
	if outLen != nil {
		*outLen = C.uint32_t(len(b))
	}
	// The slice aliases the read-only mmap, not the Go heap, so handing the
	// pointer to C is safe for the life of the mapping.
	return (*C.uint8_t)(unsafe.Pointer(&b[0]))
}

//export amr_search
func amr_search(h *C.AmrIndex, query *C.char, limit C.uint32_t) *C.char {
	idx, ok := handleOf(h)
	if !ok || query == nil {
		return nil
	}
	q := C.GoString(query)
	terms := text.QueryTerms(q)
	if len(terms) == 0 {
		idx.lastErr = types.CodeInvalidInput
		return nil
	}
	k := int(limit)
	if k <= 0 {
		k = 20
	}
	hits := idx.reader.Search(terms, true, k)
	if len(hits) == 0 && len(terms) >= 2 {
		hits = idx.reader.Search(terms, false, k)
	}
	var b strings.Builder
	if len(hits) == 0 {
		fmt.Fprintf(&b, "0 matches for '%s'\n", q)
		return C.CString(b.String())
	}
	for _, hit := range hits {
		m, ok := idx.reader.Meta(hit.EntryID)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  [%s] %s ", idx.reader.TopicName(int(m.TopicID)),
			corpus.MinutesToDate(m.TSMinutes))
		b.Write(idx.reader.Snippet(hit.EntryID))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d match(es) [index]\n", len(hits))
	idx.lastErr = types.CodeOK
	return C.CString(b.String())
}

//export amr_free_str
func amr_free_str(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func main() {}
