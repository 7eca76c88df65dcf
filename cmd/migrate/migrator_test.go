package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0002_reports.sql": "CREATE INDEX b;",
		"0001_init.sql":    "CREATE TABLE a();",
		"README.md":        "ignored",
	})

	got, err := loadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0001_init.sql", got[0].Filename)
	assert.Equal(t, "0002_reports.sql", got[1].Filename)
	assert.Len(t, got[0].Checksum, 64)
	assert.Equal(t, checksum([]byte("CREATE TABLE a();")), got[0].Checksum)

	_, err = loadMigrations(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestPending(t *testing.T) {
	files := []migration{
		{Filename: "0001_init.sql", Checksum: checksum([]byte("a"))},
		{Filename: "0002_reports.sql", Checksum: checksum([]byte("b"))},
	}

	todo, err := pending(files, map[string]string{"0001_init.sql": checksum([]byte("a"))})
	require.NoError(t, err)
	require.Len(t, todo, 1)
	assert.Equal(t, "0002_reports.sql", todo[0].Filename)

	todo, err = pending(files, nil)
	require.NoError(t, err)
	assert.Len(t, todo, 2)

	// 適用済みファイルの改変は検出する
	_, err = pending(files, map[string]string{"0001_init.sql": checksum([]byte("changed"))})
	assert.Error(t, err)
}

func TestBundledMigrationsLoad(t *testing.T) {
	got, err := loadMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "0001_init.sql", got[0].Filename)
}
