package domain

import "time"

// WorkItem is one candidate document in the manifest. Immutable once loaded;
// items are referenced by their index in the work queue for the rest of a run.
type WorkItem struct {
	Filename  string
	SourceURL string
}

// ItemOutcome classifies the result of a single fetch attempt.
type ItemOutcome string

const (
	OutcomeDownloaded  ItemOutcome = "downloaded"
	OutcomeSkipped     ItemOutcome = "skipped"
	OutcomeNotFound    ItemOutcome = "not_found"
	OutcomeBadContent  ItemOutcome = "bad_content"
	OutcomeFetchError  ItemOutcome = "fetch_error"
	OutcomeGateBlocked ItemOutcome = "gate_blocked"
)

// TransferProgress is the resumption anchor for a run. LastProcessedIndex is
// the number of queue entries fully dealt with, so a resumed run starts at
// that index. It never decreases within a run.
type TransferProgress struct {
	LastProcessedIndex int       `json:"last_processed_index"`
	SuccessCount       int       `json:"success_count"`
	ErrorCount         int       `json:"error_count"`
	LastUpdateTime     time.Time `json:"last_update_time"`
}

// ArchiveBatch describes one sealed archive of downloaded documents.
type ArchiveBatch struct {
	SequenceNumber int
	ArchivePath    string
	MemberFiles    []string
	SizeBytes      int64
	SealedAt       time.Time
	RemoteLocation string
}
