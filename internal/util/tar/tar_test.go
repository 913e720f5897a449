package tar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "InterOp"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "InterOp", "TileMetricsOut.bin"), []byte("tiles"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "RunInfo.xml"), []byte("<RunInfo/>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))
	return dir
}

func TestCreateTarBz2(t *testing.T) {
	dir := makeTree(t)
	out := filepath.Join(t.TempDir(), "reports", "hiseq_log_run.tar.bz2")

	err := CreateTarBz2(out, "hiseq_log_run", dir, []string{"InterOp", "RunInfo.xml", "runParameters.xml"})
	require.NoError(t, err)

	names, err := List(out)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"hiseq_log_run/",
		"hiseq_log_run/InterOp/",
		"hiseq_log_run/InterOp/TileMetricsOut.bin",
		"hiseq_log_run/RunInfo.xml",
	}, names)

	assert.NoFileExists(t, out+".part")
	ok, err := Exists(out)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateTarBz2_NothingToArchive(t *testing.T) {
	dir := makeTree(t)
	out := filepath.Join(t.TempDir(), "empty.tar.bz2")

	err := CreateTarBz2(out, "x", dir, []string{"Config", "Recipe"})
	assert.ErrorIs(t, err, ErrNothingToArchive)
	assert.NoFileExists(t, out)
}

func TestCreateTarBz2_MissingSource(t *testing.T) {
	err := CreateTarBz2(filepath.Join(t.TempDir(), "a.tar.bz2"), "x", filepath.Join(t.TempDir(), "nope"), []string{"a"})
	assert.Error(t, err)
}

func TestCreateTarBz2FromDir(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "qc_run")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.html"), []byte("<html/>"), 0644))

	out := filepath.Join(parent, "qc_run.tar.bz2")
	require.NoError(t, CreateTarBz2FromDir(dir, out))

	names, err := List(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"qc_run/", "qc_run/run.html"}, names)
}

func TestExistingEntries(t *testing.T) {
	dir := makeTree(t)
	assert.Equal(t, []string{"RunInfo.xml", "InterOp"},
		ExistingEntries(dir, []string{"RunInfo.xml", "Missing", "InterOp"}))
	assert.Empty(t, ExistingEntries(dir, []string{"Missing"}))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()

	ok, err := Exists(filepath.Join(dir, "missing.tar.bz2"))
	require.NoError(t, err)
	assert.False(t, ok)

	empty := filepath.Join(dir, "empty.tar.bz2")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = Exists(empty)
	assert.Error(t, err)
}
