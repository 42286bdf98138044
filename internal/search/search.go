// Package search is the read-side coordinator: it turns a query into terms,
// scores them against the corpus cache, and formats results at the requested
// detail level. Responses are memoized in a bounded LRU keyed by request and
// corpus generation, so repeated queries on an unchanged corpus cost nothing.
package search

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/amaranthine/internal/config"
	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/datalog"
	"github.com/dshills/amaranthine/internal/format"
	"github.com/dshills/amaranthine/internal/index"
	"github.com/dshills/amaranthine/internal/rank"
	"github.com/dshills/amaranthine/internal/text"
	"github.com/dshills/amaranthine/pkg/types"
)

const queryCacheSize = 1024

// Request is one search invocation.
type Request struct {
	Query     string
	Limit     int
	Detail    types.DetailLevel
	Topic     string
	Tag       string
	SinceDays int
}

// Response carries scored hits plus the aggregates the detail levels need.
type Response struct {
	Hits        []types.SearchHit
	Total       int
	TopicCounts map[string]int
	FellBack    bool
	Detail      types.DetailLevel
	Duration    time.Duration
}

// Engine owns the read path for one data directory.
type Engine struct {
	dir      string
	log      *datalog.Log
	cache    *corpus.Cache
	settings config.Settings
	queries  *lru.Cache[[32]byte, *Response]
}

// NewEngine wires the read path over a shared log handle and cache.
func NewEngine(dir string, log *datalog.Log, cache *corpus.Cache, settings config.Settings) *Engine {
	q, err := lru.New[[32]byte, *Response](queryCacheSize)
	if err != nil {
		panic(fmt.Sprintf("lru.New: %v", err))
	}
	return &Engine{dir: dir, log: log, cache: cache, settings: settings, queries: q}
}

// Search runs one query. Multi-term queries evaluate AND first and fall
// back to OR exactly once when the intersection is empty.
func (e *Engine) Search(req Request) (*Response, error) {
	start := time.Now()
	if err := e.validate(&req); err != nil {
		return nil, err
	}
	snap, err := e.cache.Snapshot()
	if err != nil {
		return nil, err
	}

	key := requestKey(req, snap.Mtime)
	if resp, ok := e.queries.Get(key); ok {
		return resp, nil
	}

	terms := text.QueryTerms(req.Query)
	filter := rank.Filter{Topic: req.Topic, Tag: strings.ToLower(req.Tag)}
	if req.SinceDays > 0 {
		filter.AfterDay = time.Now().Unix()/86400 - int64(req.SinceDays)
	}

	resp := &Response{Detail: req.Detail}
	switch req.Detail {
	case types.DetailTopics:
		counts, fellBack := rank.TopicCounts(snap, terms, filter)
		resp.TopicCounts = counts
		resp.FellBack = fellBack
		for _, n := range counts {
			resp.Total += n
		}
	default:
		limit := req.Limit
		if req.Detail == types.DetailCount {
			limit = 0 // count every match
		}
		hits, fellBack := rank.Search(snap, terms, filter, limit)
		resp.FellBack = fellBack
		resp.Total = len(hits)
		if req.Detail != types.DetailCount {
			resp.Hits = make([]types.SearchHit, len(hits))
			for i, h := range hits {
				sh := types.SearchHit{
					EntryID:   h.EntryID,
					Topic:     h.Entry.Topic,
					Score:     h.Score,
					Snippet:   h.Entry.Snippet,
					TSMinutes: h.Entry.TSMinutes,
					Tags:      h.Entry.Meta.Tags,
					LogOffset: h.Entry.Offset,
				}
				if req.Detail == types.DetailFull {
					sh.Body = h.Entry.Body
				}
				resp.Hits[i] = sh
			}
		}
	}
	resp.Duration = time.Since(start)
	e.queries.Add(key, resp)
	return resp, nil
}

func (e *Engine) validate(req *Request) error {
	if req.Detail == "" {
		req.Detail = types.DetailMedium
	}
	if !req.Detail.Valid() {
		return fmt.Errorf("detail %q: %w", req.Detail, types.ErrInvalidInput)
	}
	if req.Limit < 0 || req.Limit > e.settings.MaxLimit {
		return fmt.Errorf("limit %d exceeds %d: %w", req.Limit, e.settings.MaxLimit, types.ErrInvalidInput)
	}
	if req.Limit == 0 {
		req.Limit = e.settings.DefaultLimit
	}
	if req.Topic != "" {
		topic, err := config.SanitizeTopic(req.Topic)
		if err != nil {
			return err
		}
		req.Topic = topic
	}
	return nil
}

func requestKey(req Request, mtime time.Time) [32]byte {
	var b strings.Builder
	b.WriteString(req.Query)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.Limit))
	b.WriteByte('|')
	b.WriteString(string(req.Detail))
	b.WriteByte('|')
	b.WriteString(req.Topic)
	b.WriteByte('|')
	b.WriteString(req.Tag)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(req.SinceDays))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(mtime.UnixNano(), 10))
	return sha256.Sum256([]byte(b.String()))
}

// Format renders a response for terminal or tool output. The persisted
// snippet holds body content only; the "[topic] date" prefix is added here.
// plain suppresses ANSI styling (the --plain flag and non-terminal callers).
func Format(resp *Response, query string, plain bool) string {
	var b strings.Builder
	switch resp.Detail {
	case types.DetailCount:
		fmt.Fprintf(&b, "%d match(es) for '%s'\n", resp.Total, query)
	case types.DetailTopics:
		names := make([]string, 0, len(resp.TopicCounts))
		for name := range resp.TopicCounts {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if resp.TopicCounts[names[i]] != resp.TopicCounts[names[j]] {
				return resp.TopicCounts[names[i]] > resp.TopicCounts[names[j]]
			}
			return names[i] < names[j]
		})
		for _, name := range names {
			fmt.Fprintf(&b, "%s: %d\n", paint(name, plain), resp.TopicCounts[name])
		}
		fmt.Fprintf(&b, "%d match(es) in %d topic(s)\n", resp.Total, len(names))
	case types.DetailFull:
		for _, h := range resp.Hits {
			fmt.Fprintf(&b, "## %s — %s (%.2f)\n%s\n\n",
				paint(h.Topic, plain), corpus.MinutesToDate(h.TSMinutes), h.Score, h.Body)
		}
		fmt.Fprintf(&b, "%d match(es)\n", resp.Total)
	case types.DetailBrief:
		for _, h := range resp.Hits {
			fmt.Fprintf(&b, "%s\n", text.Truncate(h.Snippet, 80))
		}
	default: // medium
		for _, h := range resp.Hits {
			fmt.Fprintf(&b, "  [%s] %s %s\n",
				paint(h.Topic, plain), corpus.MinutesToDate(h.TSMinutes), h.Snippet)
		}
		fmt.Fprintf(&b, "%d match(es)\n", resp.Total)
	}
	if resp.FellBack {
		b.WriteString("(no exact match; showing any-term results)\n")
	}
	if resp.Total == 0 {
		return fmt.Sprintf("0 matches for '%s'\n", query)
	}
	return b.String()
}

// paint bolds a topic name unless plain output was requested.
func paint(s string, plain bool) string {
	if plain {
		return s
	}
	return "\x1b[1m" + s + "\x1b[0m"
}

// Topics lists every topic with its live entry count, sorted by name.
func (e *Engine) Topics() ([]types.TopicInfo, error) {
	snap, err := e.cache.Snapshot()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	order := []string{}
	for i := range snap.Entries {
		t := snap.Entries[i].Topic
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.Strings(order)
	out := make([]types.TopicInfo, len(order))
	for i, name := range order {
		out[i] = types.TopicInfo{Name: name, Entries: counts[name]}
	}
	return out, nil
}

// GetEntry returns the nth (0-based) live entry of a topic.
func (e *Engine) GetEntry(topic string, idx int) (types.Entry, error) {
	topic, err := config.SanitizeTopic(topic)
	if err != nil {
		return types.Entry{}, err
	}
	snap, err := e.cache.Snapshot()
	if err != nil {
		return types.Entry{}, err
	}
	n := 0
	for i := range snap.Entries {
		if snap.Entries[i].Topic != topic {
			continue
		}
		if n == idx {
			return snap.Entries[i].Entry, nil
		}
		n++
	}
	return types.Entry{}, fmt.Errorf("entry %d of topic %q: %w", idx, topic, types.ErrNotFound)
}

// Stats summarizes the corpus and its artifacts.
func (e *Engine) Stats() (types.Stats, error) {
	snap, err := e.cache.Snapshot()
	if err != nil {
		return types.Stats{}, err
	}
	topics := map[string]struct{}{}
	for i := range snap.Entries {
		topics[snap.Entries[i].Topic] = struct{}{}
	}
	st := types.Stats{Entries: len(snap.Entries), Topics: len(topics), LogBytes: e.log.Size()}
	_, st.Cached = e.cache.Cached()

	idxPath := filepath.Join(e.dir, index.IndexName)
	if fi, err := os.Stat(idxPath); err == nil {
		st.IndexBytes = fi.Size()
		if f, err := os.Open(idxPath); err == nil {
			hdr := make([]byte, format.IndexHeaderSize)
			if _, err := f.ReadAt(hdr, 0); err == nil {
				if h, err := format.DecodeIndexHeader(hdr); err == nil {
					st.IndexFresh = h.LogMtimeNS == e.log.Mtime().UnixNano()
				}
			}
			f.Close()
		}
	}
	return st, nil
}
