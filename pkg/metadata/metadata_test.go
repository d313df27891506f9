package metadata_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-reconcile/pkg/metadata"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

func TestClient_Update(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	c := metadata.NewClient(dir)

	want := metadata.Metadata{
		Version:   1,
		RunID:     "0b4c1fd4-2d33-4ef8-9f2c-b1f6a1b9e0c7",
		Scanners:  []types.ScannerKind{"trivy", "grype"},
		UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Update(want))

	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClient_Get(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := metadata.NewClient(t.TempDir()).Get()
		require.ErrorIs(t, err, os.ErrNotExist)
		assert.ErrorContains(t, err, "file open error")
	})

	t.Run("broken file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(metadata.Path(dir), []byte("{"), 0600))

		_, err := metadata.NewClient(dir).Get()
		assert.ErrorContains(t, err, "json decode error")
	})
}
