package ml

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVersion(t *testing.T, root, name, version string, trainedAt time.Time) {
	t.Helper()
	files := FixtureBundleFiles()
	files.Manifest.Version = version
	files.Manifest.TrainedAt = trainedAt
	require.NoError(t, SaveBundle(filepath.Join(root, name), files))
}

func TestModelManager_RegisterActivateRollback(t *testing.T) {
	root := t.TempDir()
	writeVersion(t, root, "v1", "2025.01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	writeVersion(t, root, "v2", "2025.02", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	mm, err := NewModelManager(root)
	require.NoError(t, err)
	assert.Nil(t, mm.GetCurrentVersion())

	v1, err := mm.Register("v1")
	require.NoError(t, err)
	assert.Equal(t, "2025.01", v1.Version)
	assert.Equal(t, 0.91, v1.Metrics["accuracy"])
	_, err = mm.Register("v2")
	require.NoError(t, err)

	versions := mm.ListVersions()
	require.Len(t, versions, 2)
	assert.Equal(t, "2025.02", versions[0].Version, "newest first")

	require.NoError(t, mm.ActivateVersion("2025.02"))
	dir, err := mm.ActiveBundleDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v2"), dir)

	require.NoError(t, mm.Rollback())
	assert.Equal(t, "2025.01", mm.GetCurrentVersion().Version)
	assert.Error(t, mm.Rollback(), "nothing older than the first version")

	// State survives a restart.
	reopened, err := NewModelManager(root)
	require.NoError(t, err)
	assert.Equal(t, "2025.01", reopened.GetCurrentVersion().Version)
}

func TestModelManager_RegisterRejects(t *testing.T) {
	root := t.TempDir()
	writeVersion(t, root, "v1", "2025.01", time.Now())

	mm, err := NewModelManager(root)
	require.NoError(t, err)

	_, err = mm.Register("v1")
	require.NoError(t, err)
	_, err = mm.Register("v1")
	assert.Error(t, err, "duplicate version")

	_, err = mm.Register("missing")
	var ble *BundleLoadError
	assert.ErrorAs(t, err, &ble)

	assert.Error(t, mm.ActivateVersion("nope"))
}

func TestModelManager_RollbackWithoutActive(t *testing.T) {
	mm, err := NewModelManager(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, mm.Rollback())
	_, err = mm.ActiveBundleDir()
	assert.Error(t, err)
}

func TestResolveBundleDir(t *testing.T) {
	root := t.TempDir()
	writeVersion(t, root, "v1", "2025.01", time.Now())

	// A bundle directory resolves to itself.
	dir, err := ResolveBundleDir(filepath.Join(root, "v1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v1"), dir)

	// A root without a registry is neither.
	_, err = ResolveBundleDir(root)
	assert.Error(t, err)

	mm, err := NewModelManager(root)
	require.NoError(t, err)
	_, err = mm.Register("v1")
	require.NoError(t, err)

	// Registry without an active version.
	_, err = ResolveBundleDir(root)
	assert.Error(t, err)

	require.NoError(t, mm.ActivateVersion("2025.01"))
	dir, err = ResolveBundleDir(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v1"), dir)

	_, err = os.Stat(filepath.Join(root, "model_versions.json"))
	assert.NoError(t, err)
}
