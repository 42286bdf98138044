package text

import (
	"strconv"
	"strings"

	"github.com/dshills/amaranthine/pkg/types"
)

// IsMetadataLine reports whether a body line is a structured "[key: ...]"
// metadata line. Fast reject on the first byte.
func IsMetadataLine(line string) bool {
	if len(line) < 4 || line[0] != '[' || line[len(line)-1] != ']' {
		return false
	}
	colon := strings.Index(line, ": ")
	if colon <= 1 {
		return false
	}
	for _, c := range line[1:colon] {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

// ParseMetadata extracts structured metadata from the leading lines of an
// entry body. Single pass; stops at the first non-metadata line. Unknown
// "[key: ...]" lines are skipped untouched. The parse is tolerant — a
// malformed value falls back to its default rather than failing the corpus
// load; write-side validation lives in the coordinator.
func ParseMetadata(body string) types.Metadata {
	meta := types.Metadata{Confidence: 1.0}
	rest := body
	for len(rest) > 0 {
		line := rest
		if i := strings.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = ""
		}
		if !IsMetadataLine(line) {
			break
		}
		inner := line[1 : len(line)-1]
		key, val, _ := strings.Cut(inner, ": ")
		switch key {
		case "tags":
			meta.Tags = normalizeTags(strings.Split(val, ","))
		case "source":
			ref := parseSourceRef(val)
			meta.Source = &ref
		case "confidence":
			if c, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				meta.Confidence = clamp01(c)
			}
		case "links":
			meta.Links = parseLinks(val)
		}
	}
	return meta
}

// FirstContentLines returns up to n non-metadata, non-blank body lines.
func FirstContentLines(body string, n int) []string {
	out := make([]string, 0, n)
	for _, line := range strings.Split(body, "\n") {
		if len(out) == n {
			break
		}
		if IsMetadataLine(line) || strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func normalizeTags(raw []string) []string {
	tags := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	return tags
}

func parseSourceRef(val string) types.SourceRef {
	val = strings.TrimSpace(val)
	if path, lineStr, ok := reverseCutTarget(val); ok {
		if n, err := strconv.Atoi(lineStr); err == nil && n > 0 {
			return types.SourceRef{Path: path, Line: n}
		}
	}
	return types.SourceRef{Path: val}
}

// reverseCutTarget prepares a "path:line" split on the LAST colon so that
// paths containing colons keep working.
func reverseCutTarget(val string) (string, string, bool) {
	i := strings.LastIndexByte(val, ':')
	if i < 0 {
		return val, "", false
	}
	return val[:i], val[i+1:], true
}

func parseLinks(val string) []types.Link {
	fields := strings.Fields(val)
	links := make([]types.Link, 0, len(fields))
	for _, f := range fields {
		i := strings.LastIndexByte(f, ':')
		if i <= 0 {
			continue
		}
		idx, err := strconv.Atoi(f[i+1:])
		if err != nil || idx < 0 {
			continue
		}
		links = append(links, types.Link{Topic: f[:i], Index: idx})
	}
	return links
}

func clamp01(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// BuildMetadataLines renders the metadata block the coordinator prepends to
// a stored body. Order is fixed: tags, source, confidence, links.
func BuildMetadataLines(meta types.Metadata) []string {
	var lines []string
	if len(meta.Tags) > 0 {
		lines = append(lines, "[tags: "+strings.Join(normalizeTags(meta.Tags), ", ")+"]")
	}
	if meta.Source != nil && meta.Source.Path != "" {
		if meta.Source.Line > 0 {
			lines = append(lines, "[source: "+meta.Source.Path+":"+strconv.Itoa(meta.Source.Line)+"]")
		} else {
			lines = append(lines, "[source: "+meta.Source.Path+"]")
		}
	}
	if meta.Confidence != 1.0 {
		lines = append(lines, "[confidence: "+strconv.FormatFloat(clamp01(meta.Confidence), 'g', -1, 64)+"]")
	}
	if len(meta.Links) > 0 {
		parts := make([]string, len(meta.Links))
		for i, l := range meta.Links {
			parts[i] = l.Topic + ":" + strconv.Itoa(l.Index)
		}
		lines = append(lines, "[links: "+strings.Join(parts, " ")+"]")
	}
	return lines
}
