package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"

	"docket-harvester/internal/domain"
)

// ItemEvent is emitted after every processed queue item.
type ItemEvent struct {
	Index    int
	Filename string
	Outcome  domain.ItemOutcome
	Bytes    int64
	Err      error
}

// BatchEvent is emitted after an archive batch is sealed.
type BatchEvent struct {
	Batch domain.ArchiveBatch
}

// EpisodeEvent is emitted when a session-expiry episode begins.
type EpisodeEvent struct {
	ItemIndex int
	Trigger   string
}

// RunEvent is emitted at run completion with consolidated counters.
type RunEvent struct {
	Status   domain.RunStatus
	Progress domain.TransferProgress
	Elapsed  time.Duration
}

// Sink receives structured events from the transfer engine. Implementations
// must not block for long: the transfer loop calls them inline.
type Sink interface {
	ItemProcessed(ev ItemEvent)
	BatchSealed(ev BatchEvent)
	EpisodeStarted(ev EpisodeEvent)
	RunFinished(ev RunEvent)
}

// LogSink writes events to a logrus logger. Routine outcomes go to Debug so a
// 1.2M item run does not drown the log; anything unusual is Info or above.
type LogSink struct {
	Logger *logrus.Logger
}

func (s *LogSink) ItemProcessed(ev ItemEvent) {
	entry := s.Logger.WithFields(logrus.Fields{
		"index":   ev.Index,
		"file":    ev.Filename,
		"outcome": ev.Outcome,
	})
	switch ev.Outcome {
	case domain.OutcomeDownloaded:
		entry.WithField("bytes", ev.Bytes).Info("document stored")
	case domain.OutcomeSkipped, domain.OutcomeNotFound:
		entry.Debug("item processed")
	case domain.OutcomeGateBlocked:
		entry.Warn("verification gate re-presented")
	default:
		if ev.Err != nil {
			entry.Warnf("item failed: %v", ev.Err)
		} else {
			entry.Warn("item failed")
		}
	}
}

func (s *LogSink) BatchSealed(ev BatchEvent) {
	s.Logger.WithFields(logrus.Fields{
		"sequence": ev.Batch.SequenceNumber,
		"files":    len(ev.Batch.MemberFiles),
		"bytes":    ev.Batch.SizeBytes,
	}).Infof("archive sealed: %s", ev.Batch.ArchivePath)
}

func (s *LogSink) EpisodeStarted(ev EpisodeEvent) {
	s.Logger.WithFields(logrus.Fields{
		"index":   ev.ItemIndex,
		"trigger": ev.Trigger,
	}).Warn("session expired, recovery required")
}

func (s *LogSink) RunFinished(ev RunEvent) {
	s.Logger.WithFields(logrus.Fields{
		"status":  ev.Status,
		"index":   ev.Progress.LastProcessedIndex,
		"success": ev.Progress.SuccessCount,
		"errors":  ev.Progress.ErrorCount,
		"elapsed": ev.Elapsed.Round(time.Second),
	}).Info("run finished")
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) ItemProcessed(ev ItemEvent) {
	for _, s := range m {
		s.ItemProcessed(ev)
	}
}

func (m MultiSink) BatchSealed(ev BatchEvent) {
	for _, s := range m {
		s.BatchSealed(ev)
	}
}

func (m MultiSink) EpisodeStarted(ev EpisodeEvent) {
	for _, s := range m {
		s.EpisodeStarted(ev)
	}
}

func (m MultiSink) RunFinished(ev RunEvent) {
	for _, s := range m {
		s.RunFinished(ev)
	}
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (MultiSink)(nil)
)
