package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-reconcile/pkg/archive"
	"github.com/aquasecurity/vuln-reconcile/pkg/utils"
)

func TestOpenArchive(t *testing.T) {
	dir := t.TempDir()

	existing := filepath.Join(dir, "reports.db")
	a, err := archive.Open(existing)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	got, err := openArchive(existing)
	require.NoError(t, err)
	require.NoError(t, got.Close())

	missing := filepath.Join(dir, "typo.db")
	_, err = openArchive(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive "+missing+" does not exist")

	ok, err := utils.Exists(missing)
	require.NoError(t, err)
	assert.False(t, ok)
}
