// Package mcp exposes the engine as a line-delimited JSON-RPC tool server
// on stdin/stdout. Each tool maps to one engine operation; errors map to
// JSON-RPC error objects with codes in the -32000 reserved range.
package mcp
