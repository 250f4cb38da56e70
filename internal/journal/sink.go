package journal

import (
	"context"

	"github.com/sirupsen/logrus"

	"docket-harvester/internal/telemetry"
)

// Sink persists engine telemetry to the journal, keyed to the active run.
// Only the durable events are stored: sealed batches and recovery episodes.
// Per-item events are ignored here; item-level counters reach the runs table
// through UpdateRunProgress on the controller's save cadence. Events arriving
// outside a run are dropped.
type Sink struct {
	journal *Journal
	logger  *logrus.Logger
}

func NewSink(j *Journal, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{journal: j, logger: logger}
}

func (s *Sink) ItemProcessed(telemetry.ItemEvent) {}

func (s *Sink) BatchSealed(ev telemetry.BatchEvent) {
	runID := s.journal.ActiveRun()
	if runID == "" {
		return
	}
	if err := s.journal.RecordBatch(context.Background(), runID, ev.Batch); err != nil {
		s.logger.Warnf("journal batch: %v", err)
	}
}

func (s *Sink) EpisodeStarted(ev telemetry.EpisodeEvent) {
	runID := s.journal.ActiveRun()
	if runID == "" {
		return
	}
	if err := s.journal.RecordEpisode(context.Background(), runID, ev.ItemIndex, ev.Trigger); err != nil {
		s.logger.Warnf("journal episode: %v", err)
	}
}

func (s *Sink) RunFinished(telemetry.RunEvent) {}

var _ telemetry.Sink = (*Sink)(nil)
