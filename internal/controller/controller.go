package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"docket-harvester/internal/archive"
	"docket-harvester/internal/domain"
	"docket-harvester/internal/fetch"
	"docket-harvester/internal/journal"
	"docket-harvester/internal/progress"
	"docket-harvester/internal/session"
	"docket-harvester/internal/telemetry"
)

// State names the phases of a run.
type State string

const (
	StateIdle            State = "idle"
	StateLoadingQueue    State = "loading_queue"
	StateAwaitingSession State = "awaiting_session"
	StateTransferring    State = "transferring"
	StateSessionRecovery State = "session_recovery"
	StateArchivingFinal  State = "archiving_final_remainder"
	StateAborted         State = "aborted"
	StateCompleted       State = "completed"
)

// ErrRecoveryExhausted is returned when consecutive session-expiry episodes
// reach the configured cap without sustained forward progress.
var ErrRecoveryExhausted = errors.New("session recovery attempts exhausted")

// Worker is one transfer attempt under one session. Satisfied by
// *fetch.Worker.
type Worker interface {
	Run(ctx context.Context, items []domain.WorkItem, prog *domain.TransferProgress, pending *archive.PendingSet, sess *session.Session) (fetch.Result, *fetch.Expiry, error)
}

// Config configures the controller.
type Config struct {
	DataDir        string
	EpisodeCap     int
	RecoveryPause  time.Duration
	SaveEvery      int
	StatusInterval time.Duration
	Logger         *logrus.Logger
	Sink           telemetry.Sink
}

// Snapshot is a race-free view of the run for the status API.
type Snapshot struct {
	RunID        string                  `json:"run_id"`
	State        State                   `json:"state"`
	QueueSize    int                     `json:"queue_size"`
	PendingFiles int                     `json:"pending_files"`
	Episodes     int                     `json:"recovery_episodes"`
	Progress     domain.TransferProgress `json:"progress"`
	ItemsPerSec  float64                 `json:"items_per_sec"`
	ETASeconds   int64                   `json:"eta_seconds"`
	StartedAt    time.Time               `json:"started_at"`
}

// Controller drives the whole run: it owns the work queue, the checkpoint
// and the pending set, hands sessions to transfer attempts, turns
// session-expiry results into recovery episodes, and enforces the episode
// cap that is the run's only fatal stop condition besides cancellation.
type Controller struct {
	cfg      Config
	items    []domain.WorkItem
	store    *progress.Store
	provider session.Provider
	batcher  *archive.Batcher
	journal  *journal.Journal

	mu            sync.Mutex
	state         State
	runID         string
	episodes      int
	reported      domain.TransferProgress
	pendingCount  int
	startIndex    int
	startedAt     time.Time
	sinceLastSave int
	prog          domain.TransferProgress
	pending       *archive.PendingSet
}

func New(cfg Config, items []domain.WorkItem, store *progress.Store, provider session.Provider, batcher *archive.Batcher, jrnl *journal.Journal) *Controller {
	if cfg.EpisodeCap <= 0 {
		cfg.EpisodeCap = 5
	}
	if cfg.RecoveryPause <= 0 {
		cfg.RecoveryPause = 2 * time.Second
	}
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = 50
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Sink == nil {
		cfg.Sink = &telemetry.LogSink{Logger: cfg.Logger}
	}
	return &Controller{
		cfg:      cfg,
		items:    items,
		store:    store,
		provider: provider,
		batcher:  batcher,
		journal:  jrnl,
		state:    StateIdle,
	}
}

// NoteProgress is the per-item checkpoint hook handed to the transfer
// worker. It applies the save cadence and keeps the race-free snapshot
// current; in-memory progress stays authoritative when a save fails.
func (c *Controller) NoteProgress(prog domain.TransferProgress) {
	c.mu.Lock()
	c.reported = prog
	c.sinceLastSave++
	due := c.sinceLastSave >= c.cfg.SaveEvery
	if due {
		c.sinceLastSave = 0
	}
	runID := c.runID
	c.mu.Unlock()

	if !due {
		return
	}
	if err := c.store.Save(prog); err != nil {
		c.cfg.Logger.Warnf("save checkpoint: %v", err)
	}
	if c.journal != nil && runID != "" {
		if err := c.journal.UpdateRunProgress(context.Background(), runID, prog); err != nil {
			c.cfg.Logger.Warnf("journal progress: %v", err)
		}
	}
}

// Snapshot returns the current run state for presentation layers.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		RunID:        c.runID,
		State:        c.state,
		QueueSize:    len(c.items),
		PendingFiles: c.pendingCount,
		Episodes:     c.episodes,
		Progress:     c.reported,
		StartedAt:    c.startedAt,
	}

	elapsed := time.Since(c.startedAt).Seconds()
	processed := c.reported.LastProcessedIndex - c.startIndex
	if elapsed > 0 && processed > 0 {
		snap.ItemsPerSec = float64(processed) / elapsed
		remaining := len(c.items) - c.reported.LastProcessedIndex
		snap.ETASeconds = int64(float64(remaining) / snap.ItemsPerSec)
	}
	return snap
}

// Run executes the full state machine until completion, abort, or
// cancellation. It is not safe to call concurrently with itself.
func (c *Controller) Run(ctx context.Context, worker Worker) error {
	c.setState(StateLoadingQueue)

	prog := c.store.Load()
	if prog.LastProcessedIndex > len(c.items) {
		c.cfg.Logger.Warnf("checkpoint index %d beyond queue size %d, clamping", prog.LastProcessedIndex, len(c.items))
		prog.LastProcessedIndex = len(c.items)
	}

	pending, err := archive.RebuildPending(c.cfg.DataDir, fetch.PDFMagic)
	if err != nil {
		return fmt.Errorf("rebuild pending set: %w", err)
	}
	if pending.Len() > 0 {
		c.cfg.Logger.Infof("recovered %d unarchived files from a prior run", pending.Len())
	}

	c.mu.Lock()
	c.prog = prog
	c.reported = prog
	c.pending = pending
	c.pendingCount = pending.Len()
	c.startIndex = prog.LastProcessedIndex
	c.startedAt = time.Now()
	c.episodes = 0
	c.mu.Unlock()

	if c.journal != nil {
		runID, err := c.journal.StartRun(ctx, len(c.items), prog.LastProcessedIndex)
		if err != nil {
			return fmt.Errorf("start journal run: %w", err)
		}
		c.mu.Lock()
		c.runID = runID
		c.mu.Unlock()
	}

	// A resume with nothing left to process must not invoke the verification
	// helper; only leftover unarchived files remain to deal with.
	if prog.LastProcessedIndex >= len(c.items) {
		c.cfg.Logger.Info("queue already exhausted, skipping transfer")
		c.setState(StateArchivingFinal)
		c.sealRemainder(ctx)
		return c.finish(StateCompleted, domain.RunStatusCompleted, nil)
	}

	c.cfg.Logger.WithFields(logrus.Fields{
		"queue":   len(c.items),
		"resume":  prog.LastProcessedIndex,
		"success": prog.SuccessCount,
		"errors":  prog.ErrorCount,
	}).Info("run starting")

	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	go c.statusLoop(statusCtx)

	for {
		c.setState(StateAwaitingSession)
		sess, err := c.provider.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.finish(StateAborted, domain.RunStatusCancelled, ctx.Err())
			}
			c.cfg.Logger.Warnf("acquire session: %v", err)
			if aborted := c.episodeFailed(-1, "acquire_failed"); aborted {
				return c.finish(StateAborted, domain.RunStatusAborted, ErrRecoveryExhausted)
			}
			if err := c.recoveryPause(ctx); err != nil {
				return c.finish(StateAborted, domain.RunStatusCancelled, err)
			}
			continue
		}

		c.setState(StateTransferring)
		attemptStart := c.progressIndex()

		result, expiry, err := worker.Run(ctx, c.items, &c.prog, c.pending, sess)
		c.syncFromProg()
		if err != nil {
			return c.finish(StateAborted, domain.RunStatusAborted, err)
		}

		switch result {
		case fetch.ResultCompleted:
			c.setState(StateArchivingFinal)
			c.sealRemainder(ctx)
			return c.finish(StateCompleted, domain.RunStatusCompleted, nil)

		case fetch.ResultCancelled:
			return c.finish(StateAborted, domain.RunStatusCancelled, ctx.Err())

		case fetch.ResultSessionExpired:
			c.setState(StateSessionRecovery)

			// Sustained forward progress clears the episode budget: a single
			// stale session must not count against the cap once transfer
			// resumes.
			if c.progressIndex() > attemptStart {
				c.mu.Lock()
				c.episodes = 0
				c.mu.Unlock()
			}

			itemIndex := -1
			trigger := "unknown"
			if expiry != nil {
				itemIndex = expiry.ItemIndex
				trigger = expiry.Trigger
			}
			if aborted := c.episodeFailed(itemIndex, trigger); aborted {
				return c.finish(StateAborted, domain.RunStatusAborted, ErrRecoveryExhausted)
			}
			if err := c.recoveryPause(ctx); err != nil {
				return c.finish(StateAborted, domain.RunStatusCancelled, err)
			}

		default:
			return c.finish(StateAborted, domain.RunStatusAborted, fmt.Errorf("unexpected transfer result %v", result))
		}
	}
}

// episodeFailed records one recovery episode and reports whether the cap is
// reached.
func (c *Controller) episodeFailed(itemIndex int, trigger string) bool {
	c.mu.Lock()
	c.episodes++
	episodes := c.episodes
	c.mu.Unlock()

	c.cfg.Sink.EpisodeStarted(telemetry.EpisodeEvent{ItemIndex: itemIndex, Trigger: trigger})
	c.cfg.Logger.Warnf("session recovery episode %d/%d (trigger: %s)", episodes, c.cfg.EpisodeCap, trigger)
	return episodes >= c.cfg.EpisodeCap
}

func (c *Controller) recoveryPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.RecoveryPause):
		return nil
	}
}

// sealRemainder archives whatever is pending at completion. A failure here
// leaves the files on disk for the next run; the run still completes.
func (c *Controller) sealRemainder(ctx context.Context) {
	if c.pending.Len() == 0 {
		return
	}
	batch, err := c.batcher.Seal(ctx, c.pending)
	if err != nil {
		c.cfg.Logger.Warnf("seal final remainder: %v", err)
		return
	}
	c.cfg.Sink.BatchSealed(telemetry.BatchEvent{Batch: *batch})
	c.syncFromProg()
}

// NoteBatch is the mid-transfer batch hook handed to the worker. Persistence
// happens in the telemetry sinks; this only refreshes the pending-file count
// in the status snapshot.
func (c *Controller) NoteBatch(domain.ArchiveBatch) {
	c.syncFromProg()
}

func (c *Controller) finish(state State, status domain.RunStatus, cause error) error {
	c.setState(state)
	c.syncFromProg()

	if err := c.store.Save(c.prog); err != nil {
		c.cfg.Logger.Warnf("save final checkpoint: %v", err)
	}

	c.mu.Lock()
	runID := c.runID
	prog := c.prog
	started := c.startedAt
	c.mu.Unlock()

	if c.journal != nil && runID != "" {
		if err := c.journal.FinishRun(context.Background(), runID, status, prog); err != nil {
			c.cfg.Logger.Warnf("journal finish: %v", err)
		}
	}

	c.cfg.Sink.RunFinished(telemetry.RunEvent{
		Status:   status,
		Progress: prog,
		Elapsed:  time.Since(started),
	})

	if cause != nil && status == domain.RunStatusAborted {
		return fmt.Errorf("run aborted at index %d (success=%d errors=%d): %w",
			prog.LastProcessedIndex, prog.SuccessCount, prog.ErrorCount, cause)
	}
	return cause
}

func (c *Controller) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Snapshot()
			if snap.State != StateTransferring {
				continue
			}
			c.cfg.Logger.WithFields(logrus.Fields{
				"index":    snap.Progress.LastProcessedIndex,
				"queue":    snap.QueueSize,
				"success":  snap.Progress.SuccessCount,
				"errors":   snap.Progress.ErrorCount,
				"rate":     fmt.Sprintf("%.2f items/s", snap.ItemsPerSec),
				"eta":      (time.Duration(snap.ETASeconds) * time.Second).String(),
				"pending":  snap.PendingFiles,
				"episodes": snap.Episodes,
			}).Info("transfer status")
		}
	}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Controller) progressIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prog.LastProcessedIndex
}

// syncFromProg refreshes the snapshot fields from the live progress owned by
// the transfer loop. Only called between attempts, never while a worker is
// running.
func (c *Controller) syncFromProg() {
	c.mu.Lock()
	c.reported = c.prog
	if c.pending != nil {
		c.pendingCount = c.pending.Len()
	}
	c.mu.Unlock()
}
