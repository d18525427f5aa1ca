package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugg-resources/buggd/internal/fsutil"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestStageAndPending(t *testing.T) {
	l := openTestLedger(t)

	id, err := l.Stage("/mnt/sd/audio/a.mp3", 1, 1024)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = l.Stage("/mnt/sd/audio/b.mp3", 1, 2048)
	require.NoError(t, err)

	pending, err := l.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "/mnt/sd/audio/a.mp3", pending[0].Path)
	assert.Equal(t, int64(1024), pending[0].Bytes)
	assert.Nil(t, pending[0].UploadedAt)
}

func TestMarkUploaded(t *testing.T) {
	l := openTestLedger(t)

	_, err := l.Stage("/mnt/sd/audio/a.mp3", 2, 100)
	require.NoError(t, err)
	require.NoError(t, l.MarkUploaded("/mnt/sd/audio/a.mp3"))

	pending, err := l.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkUploadedUnknownPath(t *testing.T) {
	l := openTestLedger(t)
	// Files uploaded by the HTTP sync before the ledger existed are not
	// an error.
	assert.NoError(t, l.MarkUploaded("/never/staged.mp3"))
}

func TestReconcileMarksMissingFiles(t *testing.T) {
	l := openTestLedger(t)
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/mnt/sd/audio/kept.mp3", []byte("x"), 0o644))

	_, err := l.Stage("/mnt/sd/audio/kept.mp3", 1, 1)
	require.NoError(t, err)
	_, err = l.Stage("/mnt/sd/audio/gone.mp3", 1, 1)
	require.NoError(t, err)

	marked, err := l.Reconcile(fsys)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	pending, err := l.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "/mnt/sd/audio/kept.mp3", pending[0].Path)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.db")
	l, err := Open(path)
	require.NoError(t, err)
	_, err = l.Stage("/a.mp3", 3, 1)
	require.NoError(t, err)
	l.Close()

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	pending, err := l.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
