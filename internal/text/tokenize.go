// Package text is the shared text layer: the tokenizer used by the cache,
// the index builder, and query parsing, plus the entry-metadata parser.
package text

import (
	"strings"
	"unicode"
)

// Stop words filtered from search queries only. Pure function words — the
// index is built without stop-word filtering, and technical words like
// "type" or "file" are deliberately absent.
var searchStopWords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "been": {},
	"were": {}, "will": {}, "when": {}, "which": {}, "their": {}, "there": {},
	"about": {}, "would": {}, "could": {}, "should": {}, "into": {},
	"also": {}, "each": {}, "does": {}, "just": {}, "more": {}, "than": {},
	"then": {}, "them": {}, "some": {}, "only": {}, "other": {}, "very": {},
	"after": {}, "before": {}, "most": {}, "same": {}, "both": {},
	"what": {}, "where": {}, "while": {}, "because": {}, "these": {},
	"those": {},
}

func isASCIIAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func isASCIIDigit(b byte) bool { return b >= '0' && b <= '9' }
func isASCIIUpper(b byte) bool { return b >= 'A' && b <= 'Z' }
func isASCIILower(b byte) bool { return b >= 'a' && b <= 'z' }

func lowerASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Tokenize splits text into lowercased terms of length >= 2. One forward
// pass: ASCII bytes take the fast path; a non-ASCII byte switches to the
// rune-aware path for that segment only. Within an alphanumeric run, terms
// end at digit/letter boundaries, at lower->upper boundaries, and one
// before the last uppercase of an upper-run followed by lowercase
// (HTTPServer -> http, server).
func Tokenize(text string) []string {
	terms := make([]string, 0, len(text)/6)
	emit := func(term string) { terms = append(terms, term) }
	scan(text, emit)
	return terms
}

// TokenizeInto tokenizes straight into a term-frequency map, skipping the
// intermediate slice. Returns the number of terms emitted.
func TokenizeInto(text string, tf map[string]int) int {
	n := 0
	scan(text, func(term string) {
		tf[term]++
		n++
	})
	return n
}

// QueryTerms extracts search terms: tokenize, drop stop words, dedup
// preserving first-seen order.
func QueryTerms(query string) []string {
	toks := Tokenize(query)
	terms := make([]string, 0, len(toks))
	seen := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		if _, stop := searchStopWords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

func scan(text string, emit func(string)) {
	b := []byte(text)
	n := len(b)
	pos := 0
	for pos < n {
		for pos < n && b[pos] < 128 && !isASCIIAlnum(b[pos]) {
			pos++
		}
		if pos >= n {
			return
		}
		if b[pos] >= 128 {
			// Unicode fallback for this segment only.
			start := pos
			for pos < n && (b[pos] >= 128 || isASCIIAlnum(b[pos])) {
				pos++
			}
			emitUnicodeSegment(text[start:pos], emit)
			continue
		}
		start := pos
		for pos < n && isASCIIAlnum(b[pos]) {
			pos++
		}
		if pos < n && b[pos] >= 128 {
			// Run continues with a non-ASCII byte; hand the whole run to
			// the rune-aware path.
			for pos < n && (b[pos] >= 128 || isASCIIAlnum(b[pos])) {
				pos++
			}
			emitUnicodeSegment(text[start:pos], emit)
			continue
		}
		emitASCIISegment(b[start:pos], emit)
	}
}

// emitASCIISegment splits one alphanumeric run at case and digit boundaries.
func emitASCIISegment(seg []byte, emit func(string)) {
	start := 0
	for i := 1; i < len(seg); i++ {
		prev, cur := seg[i-1], seg[i]
		switch {
		case isASCIIDigit(cur) != isASCIIDigit(prev):
			flushASCII(seg[start:i], emit)
			start = i
		case isASCIIUpper(cur) && isASCIILower(prev):
			flushASCII(seg[start:i], emit)
			start = i
		case isASCIILower(cur) && isASCIIUpper(prev) && i-1 > start:
			flushASCII(seg[start:i-1], emit)
			start = i - 1
		}
	}
	flushASCII(seg[start:], emit)
}

func flushASCII(part []byte, emit func(string)) {
	if len(part) < 2 {
		return
	}
	emit(lowerASCII(part))
}

// emitUnicodeSegment is the rune-aware version of emitASCIISegment.
func emitUnicodeSegment(seg string, emit func(string)) {
	runes := []rune(seg)
	start := 0
	flush := func(lo, hi int) {
		if hi-lo < 1 {
			return
		}
		s := strings.ToLower(string(runes[lo:hi]))
		if len(s) >= 2 {
			emit(s)
		}
	}
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		switch {
		case unicode.IsDigit(cur) != unicode.IsDigit(prev):
			flush(start, i)
			start = i
		case unicode.IsUpper(cur) && unicode.IsLower(prev):
			flush(start, i)
			start = i
		case unicode.IsLower(cur) && unicode.IsUpper(prev) && i-1 > start:
			flush(start, i-1)
			start = i - 1
		}
	}
	flush(start, len(runes))
}

// Truncate cuts s to at most max bytes at a UTF-8 boundary.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max
	for end > 0 && s[end]&0xC0 == 0x80 {
		end--
	}
	return s[:end]
}
