package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/cpe-emitter/internal/lifecycle"
)

func TestParseVoids(t *testing.T) {
	lines, err := parseVoids([]string{"17", "18: Error en el monto "})
	require.NoError(t, err)
	assert.Equal(t, []lifecycle.VoidLine{
		{DocumentID: 17},
		{DocumentID: 18, Reason: "Error en el monto"},
	}, lines)

	_, err = parseVoids([]string{"abc:reason"})
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, arg := range []string{"0", "-3", "F001"} {
		_, err := parseID(arg)
		assert.Error(t, err, arg)
	}
}

func TestCollectVerifyFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.xml", "R-b.zip", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := collectVerifyFiles([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.xml"), filepath.Join(dir, "R-b.zip")}, files)

	files, err = collectVerifyFiles([]string{filepath.Join(dir, "*.txt")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "notes.txt")}, files)

	_, err = collectVerifyFiles([]string{filepath.Join(dir, "missing.xml")})
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "submit", "retry", "status", "summary", "void", "poll", "sign", "verify", "parse-cdr", "migrate", "emitter", "series", "document"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}
