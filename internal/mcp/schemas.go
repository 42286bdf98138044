package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// storeTool returns the tool definition for store
func storeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "store",
		Description: "Store a knowledge entry under a topic",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Topic name (lowercased, [a-z0-9-])",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Entry body text",
				},
				"tags": map[string]interface{}{
					"type":        "string",
					"description": "Comma-separated tags",
				},
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Source reference as path or path:line",
				},
				"confidence": map[string]interface{}{
					"type":        "number",
					"description": "Confidence in [0,1]; defaults to 1.0",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"links": map[string]interface{}{
					"type":        "string",
					"description": "Space-separated narrative links as topic:index",
				},
			},
			Required: []string{"topic", "text"},
		},
	}
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search stored knowledge with BM25 ranking",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
				"detail": map[string]interface{}{
					"type":        "string",
					"description": "Output detail level",
					"enum":        []string{"full", "medium", "brief", "count", "topics"},
					"default":     "medium",
				},
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one topic",
				},
				"tag": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to entries carrying this tag",
				},
				"since_days": map[string]interface{}{
					"type":        "integer",
					"description": "Only entries captured in the last N days",
					"minimum":     1,
				},
			},
			Required: []string{"query"},
		},
	}
}

// deleteTool returns the tool definition for delete
func deleteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete",
		Description: "Delete entries of a topic by selector",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Topic name",
				},
				"last": map[string]interface{}{
					"type":        "boolean",
					"description": "Delete the most recent entry",
				},
				"match": map[string]interface{}{
					"type":        "string",
					"description": "Delete entries whose body contains this text",
				},
				"all": map[string]interface{}{
					"type":        "boolean",
					"description": "Delete every entry of the topic",
				},
			},
			Required: []string{"topic"},
		},
	}
}

// updateTool returns the tool definition for update
func updateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update",
		Description: "Replace one entry (appends a new version and tombstones the old)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Topic name",
				},
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Replacement body text",
				},
				"index": map[string]interface{}{
					"type":        "integer",
					"description": "0-based entry index within the topic",
					"minimum":     0,
				},
				"match": map[string]interface{}{
					"type":        "string",
					"description": "Select the single entry whose body contains this text",
				},
				"last": map[string]interface{}{
					"type":        "boolean",
					"description": "Select the most recent entry",
				},
			},
			Required: []string{"topic", "text"},
		},
	}
}

// getEntryTool returns the tool definition for get_entry
func getEntryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_entry",
		Description: "Fetch the nth live entry of a topic",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "Topic name",
				},
				"index": map[string]interface{}{
					"type":        "integer",
					"description": "0-based entry index within the topic",
					"default":     0,
					"minimum":     0,
				},
			},
			Required: []string{"topic"},
		},
	}
}

// listTopicsTool returns the tool definition for list_topics
func listTopicsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_topics",
		Description: "List every topic with its live entry count",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// statsTool returns the tool definition for stats
func statsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "stats",
		Description: "Corpus statistics: entries, topics, file sizes, freshness",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Force a full index rebuild from the data log",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// compactTool returns the tool definition for compact
func compactTool() mcp.Tool {
	return mcp.Tool{
		Name:        "compact",
		Description: "Rewrite the data log without tombstoned entries",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// exportTool returns the tool definition for export
func exportTool() mcp.Tool {
	return mcp.Tool{
		Name:        "export",
		Description: "Write a compressed backup archive of all live entries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Destination file path for the archive",
				},
			},
			Required: []string{"path"},
		},
	}
}
