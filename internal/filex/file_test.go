package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_RelativeToCWD(t *testing.T) {
	tmp, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	defer chdir(t, tmp)()

	got, err := EnsureDir(".ddictl")
	require.NoError(t, err)

	want := filepath.Join(tmp, ".ddictl")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}
}

func TestEnsureDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	first, err := EnsureDir(dir)
	require.NoError(t, err)
	second, err := EnsureDir(dir)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEnsureDir_HomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}

	got, err := EnsureDir("~/state")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "state"), got)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "state")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o660))

	_, err := EnsureDir(path)
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestAtomicFile_CommitAndAbort(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out", "download.tar.gz")

	f, err := CreateAtomic(final)
	require.NoError(t, err)
	_, err = f.WriteString("payload")
	require.NoError(t, err)

	_, err = os.Stat(final)
	require.True(t, os.IsNotExist(err), "file must not appear before commit")

	require.NoError(t, f.Commit())
	b, err := os.ReadFile(final)
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))
	require.Error(t, f.Commit())

	g, err := CreateAtomic(filepath.Join(dir, "other.bin"))
	require.NoError(t, err)
	tmpName := g.Name()
	g.Abort()
	g.Abort()
	_, err = os.Stat(tmpName)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "other.bin"))
	require.True(t, os.IsNotExist(err))
}
