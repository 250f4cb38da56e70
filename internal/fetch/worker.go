package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"docket-harvester/internal/archive"
	"docket-harvester/internal/domain"
	"docket-harvester/internal/session"
	"docket-harvester/internal/telemetry"
)

// Result is the tagged outcome of one transfer attempt. Session expiry is a
// first-class return value rather than an error so the recovery path is an
// explicit branch in the controller.
type Result int

const (
	ResultCompleted Result = iota
	ResultSessionExpired
	ResultCancelled
)

func (r Result) String() string {
	switch r {
	case ResultCompleted:
		return "completed"
	case ResultSessionExpired:
		return "session_expired"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Expiry carries detail about why a transfer attempt raised session expiry.
type Expiry struct {
	ItemIndex int
	Trigger   string
}

// PDFMagic is the leading-byte signature a complete payload must carry.
var PDFMagic = []byte("%PDF")

// markerScanLimit bounds how much of a non-PDF body is read when scanning
// for verification gate markers.
const markerScanLimit = 256 * 1024

func defaultGateMarkers() []string {
	return []string{
		"Just a moment",
		"Verify you are human",
		"cf-chl",
		"captcha",
	}
}

// Config configures a transfer attempt.
type Config struct {
	DataDir        string
	Delay          time.Duration
	StreakLimit    int
	BatchThreshold int
	RequestTimeout time.Duration
	UserAgent      string
	GateMarkers    []string
	Logger         *logrus.Logger
	Sink           telemetry.Sink

	// Checkpoint is invoked with a progress snapshot after every advanced
	// item; the caller decides how often to actually persist it.
	Checkpoint func(domain.TransferProgress)

	// OnBatch is invoked after a mid-transfer archive batch is sealed.
	OnBatch func(domain.ArchiveBatch)
}

// Worker executes the sequential, rate-limited transfer loop. One Run call is
// one attempt under one session; it returns when the queue is exhausted, the
// session expires, or the context is cancelled.
type Worker struct {
	cfg     Config
	batcher *archive.Batcher
}

func NewWorker(cfg Config, batcher *archive.Batcher) *Worker {
	if cfg.Delay <= 0 {
		cfg.Delay = 300 * time.Millisecond
	}
	if cfg.StreakLimit <= 0 {
		cfg.StreakLimit = 10
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = 1000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.GateMarkers) == 0 {
		cfg.GateMarkers = defaultGateMarkers()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Sink == nil {
		cfg.Sink = &telemetry.LogSink{Logger: cfg.Logger}
	}
	return &Worker{cfg: cfg, batcher: batcher}
}

// Run processes items in ascending index order starting at
// prog.LastProcessedIndex. The index is advanced for every dealt-with item
// (success, skip, or absorbed error) and left alone for the item that raised
// session expiry or was abandoned on cancellation, so a resumed attempt
// retries exactly that item.
func (w *Worker) Run(ctx context.Context, items []domain.WorkItem, prog *domain.TransferProgress, pending *archive.PendingSet, sess *session.Session) (Result, *Expiry, error) {
	client := &http.Client{
		Jar:     sess.Jar,
		Timeout: w.cfg.RequestTimeout,
	}

	streak := 0

	for i := prog.LastProcessedIndex; i < len(items); i++ {
		if ctx.Err() != nil {
			return ResultCancelled, nil, nil
		}

		item := items[i]
		destPath := filepath.Join(w.cfg.DataDir, item.Filename)

		if w.alreadyDownloaded(destPath) {
			prog.LastProcessedIndex = i + 1
			w.cfg.Sink.ItemProcessed(telemetry.ItemEvent{
				Index:    i,
				Filename: item.Filename,
				Outcome:  domain.OutcomeSkipped,
			})
			w.checkpoint(prog)
			continue
		}

		outcome, size, expiry, err := w.fetchOne(ctx, client, sess, item, destPath)
		if ctx.Err() != nil {
			// In-flight item abandoned; its index stays unadvanced.
			return ResultCancelled, nil, nil
		}

		switch outcome {
		case domain.OutcomeDownloaded:
			pending.Append(destPath)
			prog.SuccessCount++
			streak = 0
		case domain.OutcomeBadContent:
			prog.ErrorCount++
			streak++
		default:
			// Not-found and transport failures are routine for a sparse ID
			// space and never feed the expiry streak.
			prog.ErrorCount++
		}

		if expiry == "" && outcome == domain.OutcomeBadContent && streak >= w.cfg.StreakLimit {
			expiry = "error_streak"
		}

		if expiry != "" {
			w.cfg.Sink.ItemProcessed(telemetry.ItemEvent{
				Index:    i,
				Filename: item.Filename,
				Outcome:  domain.OutcomeGateBlocked,
				Err:      err,
			})
			w.checkpoint(prog)
			return ResultSessionExpired, &Expiry{ItemIndex: i, Trigger: expiry}, nil
		}

		prog.LastProcessedIndex = i + 1
		w.cfg.Sink.ItemProcessed(telemetry.ItemEvent{
			Index:    i,
			Filename: item.Filename,
			Outcome:  outcome,
			Bytes:    size,
			Err:      err,
		})
		w.checkpoint(prog)

		if pending.Len() >= w.cfg.BatchThreshold {
			w.sealPending(ctx, pending)
		}

		select {
		case <-ctx.Done():
			return ResultCancelled, nil, nil
		case <-time.After(w.cfg.Delay):
		}
	}

	return ResultCompleted, nil, nil
}

// fetchOne downloads and classifies a single item. The returned expiry
// trigger is non-empty only for the unambiguous cases (authorization status,
// gate marker in the body); the streak-based trigger is the caller's call.
func (w *Worker) fetchOne(ctx context.Context, client *http.Client, sess *session.Session, item domain.WorkItem, destPath string) (outcome domain.ItemOutcome, size int64, expiryTrigger string, failure error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.SourceURL, nil)
	if err != nil {
		return domain.OutcomeFetchError, 0, "", fmt.Errorf("build request: %w", err)
	}
	if sess.UserAgent != "" {
		req.Header.Set("User-Agent", sess.UserAgent)
	} else if w.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", w.cfg.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return domain.OutcomeFetchError, 0, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.OutcomeNotFound, 0, "", nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.OutcomeBadContent, 0, fmt.Sprintf("status_%d", resp.StatusCode), fmt.Errorf("authorization rejected: %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.OutcomeFetchError, 0, "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	head := make([]byte, len(PDFMagic))
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return domain.OutcomeFetchError, 0, "", fmt.Errorf("read body: %w", err)
	}
	head = head[:n]

	if !bytes.HasPrefix(head, PDFMagic) {
		trigger := ""
		if w.bodyHasGateMarker(head, resp.Body) {
			trigger = "gate_marker"
			failure = fmt.Errorf("verification gate returned instead of document")
		} else {
			failure = fmt.Errorf("payload is not a PDF")
		}
		return domain.OutcomeBadContent, 0, trigger, failure
	}

	written, err := w.persist(destPath, head, resp.Body)
	if err != nil {
		return domain.OutcomeFetchError, 0, "", err
	}
	return domain.OutcomeDownloaded, written, "", nil
}

// persist streams the payload to a temp file and renames it into place so a
// crash mid-download never leaves a file that passes the magic check.
func (w *Worker) persist(destPath string, head []byte, rest io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create data dir: %w", err)
	}

	tmp := destPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}

	written := int64(0)
	n, err := f.Write(head)
	written += int64(n)
	if err == nil {
		var copied int64
		copied, err = io.Copy(f, rest)
		written += copied
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("finalize %s: %w", destPath, err)
	}
	return written, nil
}

// alreadyDownloaded reports whether a prior run left a complete document at
// destPath. Leading bytes are checked, not just existence, so a truncated or
// HTML-poisoned leftover is re-fetched.
func (w *Worker) alreadyDownloaded(destPath string) bool {
	f, err := os.Open(destPath)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(PDFMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head, PDFMagic)
}

func (w *Worker) bodyHasGateMarker(head []byte, rest io.Reader) bool {
	body, err := io.ReadAll(io.LimitReader(rest, markerScanLimit))
	if err != nil {
		body = nil
	}
	text := string(head) + string(body)
	for _, marker := range w.cfg.GateMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (w *Worker) checkpoint(prog *domain.TransferProgress) {
	if w.cfg.Checkpoint != nil {
		w.cfg.Checkpoint(*prog)
	}
}

func (w *Worker) sealPending(ctx context.Context, pending *archive.PendingSet) {
	batch, err := w.batcher.Seal(ctx, pending)
	if err != nil {
		// Files stay on disk and in the pending set; the next threshold
		// crossing retries with the grown set.
		w.cfg.Logger.Warnf("seal archive batch: %v", err)
		return
	}
	w.cfg.Sink.BatchSealed(telemetry.BatchEvent{Batch: *batch})
	if w.cfg.OnBatch != nil {
		w.cfg.OnBatch(*batch)
	}
}
