package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBlake3Hash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h1, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("hello!"), 0o644))
	h3, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestLockManifestThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, validManifest())

	report, err := LockManifest(path, false)
	require.NoError(t, err)
	assert.True(t, report.Written)
	assert.Equal(t, filepath.Join(dir, ChecksumFile), report.ChecksumPath)

	checksums, err := LoadChecksums(dir)
	require.NoError(t, err)
	assert.Equal(t, report.Hash, checksums.Hashes["manifest.json"])

	_, err = Load(path)
	require.NoError(t, err)

	// Tamper with the manifest after locking
	m := validManifest()
	m["deployBranch"] = "evil"
	writeJSON(t, dir, m)

	_, err = Load(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "hash mismatch"), err.Error())
}

func TestLockManifestDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, validManifest())

	report, err := LockManifest(path, true)
	require.NoError(t, err)
	assert.False(t, report.Written)
	assert.NotEmpty(t, report.Hash)

	_, err = os.Stat(filepath.Join(dir, ChecksumFile))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadRejectsManifestMissingFromChecksums(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(other, []byte("{}"), 0o644))
	_, err := LockManifest(other, false)
	require.NoError(t, err)

	path := writeJSON(t, dir, validManifest())
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no hash in checksums")
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	assert.ErrorIs(t, err, ErrNoChecksums)
}
