package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localFS(string) (string, error) { return "ext4", nil }

func TestValidateLocalFilesystem_AllowsLocalFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	assert.NoError(t, validateLocalFilesystemWithDetector(dbPath, "historyPath", localFS))
}

func TestValidateLocalFilesystem_RejectsNetworkFS(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	err := validateLocalFilesystemWithDetector(dbPath, "historyPath", func(string) (string, error) {
		return "smbfs", nil
	})
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"smbfs", "network filesystem", "file locking is unreliable there", "historyPath"} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateLocalFilesystem_EmptyPath(t *testing.T) {
	t.Parallel()

	err := validateLocalFilesystemWithDetector("", "lockPath", localFS)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lockPath path is empty")
}

func TestValidateLocalFilesystem_UsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "history.db")

	var inspected string
	err := validateLocalFilesystemWithDetector(dbPath, "historyPath", func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestValidateLocalFilesystem_RealDetector(t *testing.T) {
	t.Parallel()

	// TempDir is local on every CI runner we use.
	assert.NoError(t, ValidateLocalFilesystem(filepath.Join(t.TempDir(), "x.db"), "historyPath"))
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   string
		want bool
	}{
		{name: "nfs", fs: "nfs", want: true},
		{name: "smbfs uppercase", fs: "SMBFS", want: true},
		{name: "cifs padded", fs: " cifs ", want: true},
		{name: "local ext4", fs: "ext4", want: false},
		{name: "unknown", fs: "unknown", want: false},
		{name: "hex linux magic", fs: "0x6969", want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isNetworkFilesystem(tc.fs))
		})
	}
}
