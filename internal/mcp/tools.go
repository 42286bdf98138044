package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/export"
	"github.com/dshills/amaranthine/internal/search"
	"github.com/dshills/amaranthine/internal/store"
	"github.com/dshills/amaranthine/internal/text"
	"github.com/dshills/amaranthine/pkg/types"
)

// JSON-RPC error codes in the reserved range.
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound      = -32001 // Selector matched nothing
	ErrorCodeLockBusy      = -32002 // Write lock contended past the retry budget
	ErrorCodeCorrupt       = -32003 // Log or index failed validation
)

// handleStore handles the store tool invocation
func (s *Server) handleStore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	topic, _ := args["topic"].(string)
	body, _ := args["text"].(string)
	if topic == "" || body == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "topic and text are required", nil)
	}

	opts := store.Options{}
	if tags := getStringDefault(args, "tags", ""); tags != "" {
		opts.Tags = strings.Split(tags, ",")
	}
	if src := getStringDefault(args, "source", ""); src != "" {
		ref := parseSourceArg(src)
		opts.Source = &ref
	}
	if conf, ok := args["confidence"].(float64); ok {
		opts.Confidence = &conf
	}
	if links := getStringDefault(args, "links", ""); links != "" {
		opts.Links = parseLinksArg(links)
	}

	res, err := s.coord.Store(topic, body, opts)
	if err != nil {
		return nil, mapError(err)
	}
	msg := fmt.Sprintf("stored in %s @%d", res.Topic, res.Offset)
	if res.Duplicate {
		msg += fmt.Sprintf("\nwarning: near-duplicate of a recent %s entry (similarity %.2f)",
			res.Topic, res.Similarity)
	}
	return mcp.NewToolResultText(msg), nil
}

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	query, _ := args["query"].(string)
	if query == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query is required", nil)
	}
	req := search.Request{
		Query:     query,
		Limit:     getIntDefault(args, "limit", 0),
		Detail:    types.DetailLevel(getStringDefault(args, "detail", "")),
		Topic:     getStringDefault(args, "topic", ""),
		Tag:       getStringDefault(args, "tag", ""),
		SinceDays: getIntDefault(args, "since_days", 0),
	}
	resp, err := s.engine.Search(req)
	if err != nil {
		return nil, mapError(err)
	}
	// Tool output is consumed by programs; never style it.
	return mcp.NewToolResultText(search.Format(resp, query, true)), nil
}

// handleDelete handles the delete tool invocation
func (s *Server) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	topic, _ := args["topic"].(string)
	if topic == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "topic is required", nil)
	}
	sel := store.Selector{
		Topic: topic,
		Last:  getBoolDefault(args, "last", false),
		Match: getStringDefault(args, "match", ""),
		All:   getBoolDefault(args, "all", false),
		Index: -1,
	}
	if !sel.Last && !sel.All && sel.Match == "" {
		sel.Last = true
	}
	n, err := s.coord.Delete(sel)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %d entr%s from %s", n, plural(n, "y", "ies"), topic)), nil
}

// handleUpdate handles the update tool invocation
func (s *Server) handleUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	topic, _ := args["topic"].(string)
	body, _ := args["text"].(string)
	if topic == "" || body == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "topic and text are required", nil)
	}
	sel := store.Selector{
		Topic: topic,
		Last:  getBoolDefault(args, "last", false),
		Match: getStringDefault(args, "match", ""),
		Index: getIntDefault(args, "index", -1),
	}
	if !sel.Last && sel.Match == "" && sel.Index < 0 {
		sel.Last = true
	}
	res, err := s.coord.Update(sel, body)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated %s @%d", res.Topic, res.Offset)), nil
}

// handleGetEntry handles the get_entry tool invocation
func (s *Server) handleGetEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	topic, _ := args["topic"].(string)
	if topic == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "topic is required", nil)
	}
	idx := getIntDefault(args, "index", 0)
	e, err := s.engine.GetEntry(topic, idx)
	if err != nil {
		return nil, mapError(err)
	}
	out := fmt.Sprintf("## %s — %s\n%s", e.Topic, corpus.MinutesToDate(e.TSMinutes), e.Body)
	return mcp.NewToolResultText(out), nil
}

// handleListTopics handles the list_topics tool invocation
func (s *Server) handleListTopics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topics, err := s.engine.Topics()
	if err != nil {
		return nil, mapError(err)
	}
	if len(topics) == 0 {
		return mcp.NewToolResultText("no topics"), nil
	}
	var b strings.Builder
	total := 0
	for _, ti := range topics {
		fmt.Fprintf(&b, "%s: %d\n", ti.Name, ti.Entries)
		total += ti.Entries
	}
	fmt.Fprintf(&b, "%d topic(s), %d entr%s\n", len(topics), total, plural(total, "y", "ies"))
	return mcp.NewToolResultText(b.String()), nil
}

// handleStats handles the stats tool invocation
func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.engine.Stats()
	if err != nil {
		return nil, mapError(err)
	}
	out := fmt.Sprintf(
		"entries: %d\ntopics: %d\nlog: %d bytes\nindex: %d bytes (fresh: %v)\ncache: resident=%v",
		st.Entries, st.Topics, st.LogBytes, st.IndexBytes, st.IndexFresh, st.Cached)
	return mcp.NewToolResultText(out), nil
}

// handleRebuildIndex handles the rebuild_index tool invocation
func (s *Server) handleRebuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.coord.RebuildIndex(); err != nil {
		return nil, mapError(err)
	}
	st, err := s.engine.Stats()
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("index rebuilt: %d entries, %d topics, %d bytes",
		st.Entries, st.Topics, st.IndexBytes)), nil
}

// handleCompact handles the compact tool invocation
func (s *Server) handleCompact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.coord.Compact()
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("compacted: %d entries, %d → %d bytes",
		stats.Entries, stats.BytesBefore, stats.BytesAfter)), nil
}

// handleExport handles the export tool invocation
func (s *Server) handleExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, _ := args["path"].(string)
	if path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path is required", nil)
	}
	n, err := export.ExportFile(s.cache, path)
	if err != nil {
		return nil, mapError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("exported %d entr%s to %s", n, plural(n, "y", "ies"), path)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// mapError converts an engine error chain to its JSON-RPC code.
func mapError(err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, types.ErrLockBusy):
		code = ErrorCodeLockBusy
	case errors.Is(err, types.ErrCorruptLog), errors.Is(err, types.ErrCorruptIndex):
		code = ErrorCodeCorrupt
	}
	return newMCPError(code, err.Error(), nil)
}

func parseSourceArg(src string) types.SourceRef {
	if i := strings.LastIndexByte(src, ':'); i > 0 {
		var line int
		if _, err := fmt.Sscanf(src[i+1:], "%d", &line); err == nil && line > 0 {
			return types.SourceRef{Path: src[:i], Line: line}
		}
	}
	return types.SourceRef{Path: src}
}

func parseLinksArg(raw string) []types.Link {
	m := text.ParseMetadata("[links: " + raw + "]\nx")
	return m.Links
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
