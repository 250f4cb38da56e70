package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"docket-harvester/internal/domain"
	"docket-harvester/internal/storage"
)

var archiveNamePattern = regexp.MustCompile(`^filings-(\d{5})\.zip$`)

// Config configures the batcher.
type Config struct {
	ArchiveDir string
	Logger     *logrus.Logger

	// Store, when set, replicates sealed archives to object storage.
	Store     storage.Service
	Bucket    string
	KeyPrefix string
}

// Batcher rolls downloaded files into sequentially numbered zip archives.
// The archive is the authoritative record: member files are deleted only
// after the zip is durably written and verified, and a failed archive write
// leaves both the pending set and the files on disk untouched.
type Batcher struct {
	cfg Config
}

func NewBatcher(cfg Config) *Batcher {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Batcher{cfg: cfg}
}

// NextSequence scans the archive directory for the highest existing batch
// number and returns it plus one. Deriving the sequence from the files
// themselves keeps numbering consistent across restarts without a counter
// file that could drift from reality.
func (b *Batcher) NextSequence() (int, error) {
	entries, err := os.ReadDir(b.cfg.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("scan archive dir: %w", err)
	}

	highest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := archiveNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// Seal writes every pending file into one new archive at the next sequence
// number and, on success, deletes the originals and drains them from the
// pending set. Individual delete failures are logged but do not roll back
// the archive.
func (b *Batcher) Seal(ctx context.Context, pending *PendingSet) (*domain.ArchiveBatch, error) {
	members := pending.Paths()
	if len(members) == 0 {
		return nil, fmt.Errorf("nothing to archive")
	}

	seq, err := b.NextSequence()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(b.cfg.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	finalPath := filepath.Join(b.cfg.ArchiveDir, fmt.Sprintf("filings-%05d.zip", seq))
	tmpPath := finalPath + ".tmp"

	if err := writeZip(tmpPath, members); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("write archive %s: %w", finalPath, err)
	}

	if err := verifyZip(tmpPath, len(members)); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("verify archive %s: %w", finalPath, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("finalize archive %s: %w", finalPath, err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive %s: %w", finalPath, err)
	}

	// Archive is durable; originals go away now.
	for _, member := range members {
		if err := os.Remove(member); err != nil && !os.IsNotExist(err) {
			b.cfg.Logger.Warnf("remove archived file %s: %v", member, err)
		}
	}
	pending.Drop(members)

	batch := &domain.ArchiveBatch{
		SequenceNumber: seq,
		ArchivePath:    finalPath,
		MemberFiles:    members,
		SizeBytes:      info.Size(),
		SealedAt:       time.Now().UTC(),
	}

	b.offload(ctx, batch)

	b.cfg.Logger.WithFields(logrus.Fields{
		"sequence": seq,
		"files":    len(members),
		"bytes":    batch.SizeBytes,
	}).Infof("sealed archive %s", finalPath)

	return batch, nil
}

// offload replicates the archive to object storage when configured. The
// local zip stays authoritative; an upload failure is logged, not fatal.
func (b *Batcher) offload(ctx context.Context, batch *domain.ArchiveBatch) {
	if b.cfg.Store == nil || b.cfg.Bucket == "" {
		return
	}

	name := filepath.Base(batch.ArchivePath)
	location, err := b.cfg.Store.UploadFile(ctx, batch.ArchivePath, storage.UploadOptions{
		Bucket:    b.cfg.Bucket,
		KeyPrefix: b.cfg.KeyPrefix,
		ProgressCallback: func(done, total int64) {
			b.cfg.Logger.WithFields(logrus.Fields{
				"archive": name,
				"done":    done,
				"total":   total,
			}).Debug("archive offload progress")
		},
	})
	if err != nil {
		b.cfg.Logger.Warnf("offload archive %s: %v", batch.ArchivePath, err)
		return
	}
	batch.RemoteLocation = location
	b.cfg.Logger.Infof("archive replicated to %s", location)
}

func writeZip(path string, members []string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	zw := zip.NewWriter(out)
	for _, member := range members {
		if err := addMember(zw, member); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("close zip writer: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func addMember(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open member %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat member %s: %w", path, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("member header %s: %w", path, err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create member %s: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy member %s: %w", path, err)
	}
	return nil
}

// verifyZip re-opens the written archive and checks it is readable with the
// expected member count before any original is deleted.
func verifyZip(path string, wantMembers int) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("reopen: %w", err)
	}
	defer r.Close()

	if len(r.File) != wantMembers {
		return fmt.Errorf("member count mismatch: wrote %d, found %d", wantMembers, len(r.File))
	}
	return nil
}
