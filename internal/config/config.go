// Package config resolves the data directory and tunable settings.
// Precedence for the directory: explicit flag > $AMARANTHINE_DIR >
// $HOME/.amaranthine. Settings load from an optional config.yaml in the
// data directory and can be overridden with AMARANTHINE_* env vars.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/dshills/amaranthine/pkg/types"
)

// EnvDir overrides the default data directory.
const EnvDir = "AMARANTHINE_DIR"

// Settings are the engine knobs with their defaults.
type Settings struct {
	// CompactThreshold fails stores loudly before the u16 entry-id space
	// overflows; compaction must run first.
	CompactThreshold int `mapstructure:"compact_threshold"`
	// DedupWindow is how many recent entries of the target topic the
	// near-duplicate probe inspects.
	DedupWindow int `mapstructure:"dedup_window"`
	// DedupThreshold is the Jaccard similarity at which a store returns a
	// duplicate warning.
	DedupThreshold float64 `mapstructure:"dedup_threshold"`
	// DefaultLimit / MaxLimit bound search result counts.
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// Defaults returns the stock settings.
func Defaults() Settings {
	return Settings{
		CompactThreshold: 65000,
		DedupWindow:      20,
		DedupThreshold:   0.9,
		DefaultLimit:     20,
		MaxLimit:         100,
	}
}

// ResolveDir picks the data directory. explicit wins, then $AMARANTHINE_DIR,
// then $HOME/.amaranthine.
func ResolveDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %v: %w", err, types.ErrIO)
	}
	return filepath.Join(home, ".amaranthine"), nil
}

// Load reads config.yaml from dir if present and applies env overrides.
// A missing file yields the defaults.
func Load(dir string) (Settings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("AMARANTHINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("compact_threshold", d.CompactThreshold)
	v.SetDefault("dedup_window", d.DedupWindow)
	v.SetDefault("dedup_threshold", d.DedupThreshold)
	v.SetDefault("default_limit", d.DefaultLimit)
	v.SetDefault("max_limit", d.MaxLimit)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return d, fmt.Errorf("read config: %v: %w", err, types.ErrInvalidInput)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return d, fmt.Errorf("parse config: %v: %w", err, types.ErrInvalidInput)
	}
	if s.CompactThreshold <= 0 || s.CompactThreshold > 65535 {
		s.CompactThreshold = d.CompactThreshold
	}
	if s.MaxLimit <= 0 {
		s.MaxLimit = d.MaxLimit
	}
	if s.DefaultLimit <= 0 || s.DefaultLimit > s.MaxLimit {
		s.DefaultLimit = d.DefaultLimit
	}
	return s, nil
}

// SanitizeTopic normalizes a topic name for storage: trim, lowercase, turn
// spaces and underscores into '-', and require [a-z0-9-] with '/' and '.'
// rejected outright. Caps at 255 bytes.
func SanitizeTopic(topic string) (string, error) {
	topic = strings.TrimSpace(strings.ToLower(topic))
	if topic == "" {
		return "", fmt.Errorf("empty topic: %w", types.ErrInvalidInput)
	}
	if strings.ContainsAny(topic, "/.") {
		return "", fmt.Errorf("topic %q contains path separators: %w", topic, types.ErrInvalidInput)
	}
	var b strings.Builder
	for _, c := range topic {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-':
			b.WriteRune(c)
		case c == ' ' || c == '_':
			b.WriteByte('-')
		default:
			return "", fmt.Errorf("topic %q contains %q: %w", topic, c, types.ErrInvalidInput)
		}
	}
	out := b.String()
	if len(out) > 255 {
		out = out[:255]
	}
	return out, nil
}
