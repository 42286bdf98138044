// Package rank scores live entries with BM25 plus the engine's boosts:
// topic-name match, tag hits, and confidence weighting with source-staleness
// clamping. It runs on the corpus cache and is the reference the index path
// must agree with.
package rank

import (
	"os"
	"sort"

	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/index"
	"github.com/dshills/amaranthine/internal/text"
)

// StaleConfidenceCap is applied when an entry's source file changed after
// the entry was captured.
const StaleConfidenceCap = 0.5

// Hit is one scored entry, identified by its position in the snapshot
// (which equals its index entry id).
type Hit struct {
	EntryID int
	Entry   *corpus.Entry
	Score   float64
}

// Filter narrows the candidate set before scoring.
type Filter struct {
	Topic    string // exact topic name, already sanitized
	Tag      string // lowercased tag
	AfterDay int64  // inclusive minimum day number; <= 0 disables
}

func (f Filter) pass(e *corpus.Entry) bool {
	if f.Topic != "" && e.Topic != f.Topic {
		return false
	}
	if f.Tag != "" && !e.HasTag(f.Tag) {
		return false
	}
	if f.AfterDay > 0 && e.Day() < f.AfterDay {
		return false
	}
	return true
}

// Search scores the snapshot. Multi-term queries run as an intersection
// first; if nothing survives they are re-run exactly once as a union, and
// the second return reports that fallback. Results are ordered by
// descending score, then descending timestamp, then ascending entry id,
// and truncated to limit (<= 0 means no truncation).
func Search(snap *corpus.Snapshot, terms []string, f Filter, limit int) ([]Hit, bool) {
	cand := make([]int, 0, len(snap.Entries))
	for i := range snap.Entries {
		if f.pass(&snap.Entries[i]) {
			cand = append(cand, i)
		}
	}

	// Corpus statistics over the filtered set, as the index builder would
	// see it if the filter were the whole corpus.
	n := len(cand)
	totalWords := 0
	for _, i := range cand {
		totalWords += snap.Entries[i].WordCount
	}
	avgdl := 1.0
	if n > 0 {
		avgdl = float64(totalWords) / float64(n)
	}
	dfs := make(map[string]int, len(terms))
	for _, t := range terms {
		for _, i := range cand {
			if snap.Entries[i].TFMap[t] > 0 {
				dfs[t]++
			}
		}
	}

	s := scorer{snap: snap, terms: terms, n: n, avgdl: avgdl, dfs: dfs,
		topicTokens: map[string][]string{},
		sourceMtime: map[string]int64{},
	}

	hits := s.run(cand, true)
	fellBack := false
	if len(hits) == 0 && len(terms) >= 2 {
		hits = s.run(cand, false)
		fellBack = len(hits) > 0
	}

	sort.Slice(hits, func(a, b int) bool {
		ha, hb := hits[a], hits[b]
		if ha.Score != hb.Score {
			return ha.Score > hb.Score
		}
		if ha.Entry.TSMinutes != hb.Entry.TSMinutes {
			return ha.Entry.TSMinutes > hb.Entry.TSMinutes
		}
		return ha.EntryID < hb.EntryID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, fellBack
}

type scorer struct {
	snap  *corpus.Snapshot
	terms []string
	n     int
	avgdl float64
	dfs   map[string]int

	topicTokens map[string][]string
	sourceMtime map[string]int64
}

func (s *scorer) run(cand []int, requireAll bool) []Hit {
	var hits []Hit
	for _, i := range cand {
		e := &s.snap.Entries[i]
		if !matches(e, s.terms, requireAll) {
			continue
		}
		hits = append(hits, Hit{EntryID: i, Entry: e, Score: s.score(e)})
	}
	return hits
}

func matches(e *corpus.Entry, terms []string, requireAll bool) bool {
	if len(terms) == 0 {
		return true
	}
	for _, t := range terms {
		has := e.TFMap[t] > 0
		if requireAll && !has {
			return false
		}
		if !requireAll && has {
			return true
		}
	}
	return requireAll
}

func (s *scorer) score(e *corpus.Entry) float64 {
	lenNorm := 1 - index.BM25B + index.BM25B*float64(e.WordCount)/s.avgdl
	score := 0.0
	for _, term := range s.terms {
		tf := float64(e.TFMap[term])
		if tf == 0 {
			continue
		}
		c := index.IDF(s.n, s.dfs[term]) * (tf * (index.BM25K1 + 1)) / (tf + index.BM25K1*lenNorm)
		score += c
		// Tag boost: a query term that is also a tag adds 30% of that
		// term's own contribution.
		if e.HasTag(term) {
			score += 0.3 * c
		}
	}

	if s.topicMatch(e.Topic) {
		score *= 1.5
	}
	score *= s.confidence(e)
	return score
}

// topicMatch reports whether any query term equals a token of the topic.
func (s *scorer) topicMatch(topic string) bool {
	toks, ok := s.topicTokens[topic]
	if !ok {
		toks = text.Tokenize(topic)
		s.topicTokens[topic] = toks
	}
	for _, t := range s.terms {
		for _, tt := range toks {
			if t == tt {
				return true
			}
		}
	}
	return false
}

// confidence returns the entry's weight, clamped to StaleConfidenceCap when
// its source file changed after the entry was captured. Stat results are
// memoized per query.
func (s *scorer) confidence(e *corpus.Entry) float64 {
	conf := e.Meta.Confidence
	if e.Meta.Source == nil || e.Meta.Source.Path == "" {
		return conf
	}
	path := e.Meta.Source.Path
	mtime, ok := s.sourceMtime[path]
	if !ok {
		if fi, err := os.Stat(path); err == nil {
			mtime = fi.ModTime().UnixNano()
		}
		s.sourceMtime[path] = mtime
	}
	if mtime > e.Time().UnixNano() && conf > StaleConfidenceCap {
		conf = StaleConfidenceCap
	}
	return conf
}

// TopicCounts tallies matches per topic, with the same AND->OR policy as
// Search. Used by the "topics" detail level.
func TopicCounts(snap *corpus.Snapshot, terms []string, f Filter) (map[string]int, bool) {
	count := func(requireAll bool) map[string]int {
		out := map[string]int{}
		for i := range snap.Entries {
			e := &snap.Entries[i]
			if !f.pass(e) || !matches(e, terms, requireAll) {
				continue
			}
			out[e.Topic]++
		}
		return out
	}
	hits := count(true)
	if len(hits) == 0 && len(terms) >= 2 {
		hits = count(false)
		return hits, len(hits) > 0
	}
	return hits, false
}
