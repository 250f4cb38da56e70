package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"docket-harvester/internal/storage"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func writeFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(paths[i], []byte("%PDF-1.4 content of "+name), 0o644))
	}
	return paths
}

func TestNextSequence(t *testing.T) {
	dir := t.TempDir()
	b := NewBatcher(Config{ArchiveDir: dir, Logger: quietLogger()})

	seq, err := b.NextSequence()
	require.NoError(t, err)
	require.Equal(t, 1, seq)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "filings-00007.zip"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filings-00003.zip"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	seq, err = b.NextSequence()
	require.NoError(t, err)
	require.Equal(t, 8, seq)
}

func TestNextSequenceMissingDir(t *testing.T) {
	b := NewBatcher(Config{ArchiveDir: filepath.Join(t.TempDir(), "nope"), Logger: quietLogger()})
	seq, err := b.NextSequence()
	require.NoError(t, err)
	require.Equal(t, 1, seq)
}

func TestSealArchivesAndDeletesMembers(t *testing.T) {
	dataDir := t.TempDir()
	archiveDir := t.TempDir()
	paths := writeFiles(t, dataDir, "a.pdf", "b.pdf")

	pending := NewPendingSet()
	for _, p := range paths {
		pending.Append(p)
	}

	b := NewBatcher(Config{ArchiveDir: archiveDir, Logger: quietLogger()})
	batch, err := b.Seal(context.Background(), pending)
	require.NoError(t, err)
	require.Equal(t, 1, batch.SequenceNumber)
	require.Equal(t, paths, batch.MemberFiles)
	require.Greater(t, batch.SizeBytes, int64(0))

	require.Equal(t, 0, pending.Len())
	for _, p := range paths {
		require.NoFileExists(t, p)
	}

	r, err := zip.OpenReader(batch.ArchivePath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 2)
	names := []string{r.File[0].Name, r.File[1].Name}
	require.ElementsMatch(t, []string{"a.pdf", "b.pdf"}, names)
}

type recordingStore struct {
	uploaded []string
	opts     []storage.UploadOptions
}

func (s *recordingStore) UploadFile(_ context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	s.uploaded = append(s.uploaded, localPath)
	s.opts = append(s.opts, opts)
	if opts.ProgressCallback != nil {
		info, err := os.Stat(localPath)
		if err != nil {
			return "", err
		}
		opts.ProgressCallback(0, info.Size())
		opts.ProgressCallback(info.Size(), info.Size())
	}
	return "s3://" + opts.Bucket + "/" + filepath.Base(localPath), nil
}

func (s *recordingStore) ListObjects(context.Context, string, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func TestSealOffloadsWithProgress(t *testing.T) {
	dataDir := t.TempDir()
	archiveDir := t.TempDir()
	paths := writeFiles(t, dataDir, "a.pdf")

	pending := NewPendingSet()
	pending.Append(paths[0])

	store := &recordingStore{}
	b := NewBatcher(Config{
		ArchiveDir: archiveDir,
		Logger:     quietLogger(),
		Store:      store,
		Bucket:     "filings",
		KeyPrefix:  "archives",
	})

	batch, err := b.Seal(context.Background(), pending)
	require.NoError(t, err)
	require.Equal(t, "s3://filings/filings-00001.zip", batch.RemoteLocation)

	require.Len(t, store.opts, 1)
	require.Equal(t, "archives", store.opts[0].KeyPrefix)
	require.NotNil(t, store.opts[0].ProgressCallback)
}

func TestSealFailureLeavesEverythingUntouched(t *testing.T) {
	dataDir := t.TempDir()
	archiveDir := t.TempDir()
	paths := writeFiles(t, dataDir, "a.pdf")

	pending := NewPendingSet()
	pending.Append(paths[0])
	pending.Append(filepath.Join(dataDir, "vanished.pdf"))

	b := NewBatcher(Config{ArchiveDir: archiveDir, Logger: quietLogger()})
	_, err := b.Seal(context.Background(), pending)
	require.Error(t, err)

	require.Equal(t, 2, pending.Len())
	require.FileExists(t, paths[0])

	entries, err := os.ReadDir(archiveDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSealEmptyPending(t *testing.T) {
	b := NewBatcher(Config{ArchiveDir: t.TempDir(), Logger: quietLogger()})
	_, err := b.Seal(context.Background(), NewPendingSet())
	require.Error(t, err)
}

func TestRebuildPending(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "b.pdf", "a.pdf")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.pdf"), []byte("<html>gate</html>"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	pending, err := RebuildPending(dir, []byte("%PDF"))
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "b.pdf"),
	}, pending.Paths())
}

func TestRebuildPendingMissingDir(t *testing.T) {
	pending, err := RebuildPending(filepath.Join(t.TempDir(), "nope"), []byte("%PDF"))
	require.NoError(t, err)
	require.Equal(t, 0, pending.Len())
}

func TestPendingSetDropKeepsOrder(t *testing.T) {
	p := NewPendingSet()
	p.Append("one")
	p.Append("two")
	p.Append("three")

	p.Drop([]string{"two"})
	require.Equal(t, []string{"one", "three"}, p.Paths())

	p.Drop(nil)
	require.Equal(t, 2, p.Len())
}
