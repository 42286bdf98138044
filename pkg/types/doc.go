// Package types defines the domain types shared across the amaranthine
// engine: entries, search results, and the error kinds surfaced to the
// CLI, RPC, and FFI layers.
package types
