package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/amaranthine/pkg/types"
)

func TestResolveDirPrecedence(t *testing.T) {
	t.Setenv(EnvDir, "/env/dir")
	dir, err := ResolveDir("/explicit")
	require.NoError(t, err)
	assert.Equal(t, "/explicit", dir)

	dir, err = ResolveDir("")
	require.NoError(t, err)
	assert.Equal(t, "/env/dir", dir)

	t.Setenv(EnvDir, "")
	dir, err = ResolveDir("")
	require.NoError(t, err)
	assert.Contains(t, dir, ".amaranthine")
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := "compact_threshold: 1000\ndedup_window: 5\ndedup_threshold: 0.8\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.CompactThreshold)
	assert.Equal(t, 5, s.DedupWindow)
	assert.Equal(t, 0.8, s.DedupThreshold)
	assert.Equal(t, Defaults().DefaultLimit, s.DefaultLimit)
}

func TestLoadClampsNonsense(t *testing.T) {
	dir := t.TempDir()
	yaml := "compact_threshold: 900000\ndefault_limit: -3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Defaults().CompactThreshold, s.CompactThreshold)
	assert.Equal(t, Defaults().DefaultLimit, s.DefaultLimit)
}

func TestSanitizeTopic(t *testing.T) {
	ok := func(in, want string) {
		got, err := SanitizeTopic(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}
	ok("Rust", "rust")
	ok("  Go Tips  ", "go-tips")
	ok("snake_case", "snake-case")
	ok("a-b-1", "a-b-1")

	for _, bad := range []string{"", "a/b", "a.b", "über", "semi;colon"} {
		_, err := SanitizeTopic(bad)
		assert.ErrorIs(t, err, types.ErrInvalidInput, "input %q", bad)
	}
}

func TestSanitizeTopicCapsLength(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got, err := SanitizeTopic(string(long))
	require.NoError(t, err)
	assert.Len(t, got, 255)
}
