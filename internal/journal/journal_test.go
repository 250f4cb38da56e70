package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docket-harvester/internal/domain"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	j := New(db)
	require.NoError(t, j.Init(context.Background()))
	return j
}

func TestRunLifecycle(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	runID, err := j.StartRun(ctx, 1200000, 34500)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := j.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusRunning, run.Status)
	require.Equal(t, 1200000, run.QueueSize)
	require.Equal(t, 34500, run.StartIndex)
	require.Nil(t, run.FinishedAt)

	prog := domain.TransferProgress{LastProcessedIndex: 35000, SuccessCount: 400, ErrorCount: 100}
	require.NoError(t, j.UpdateRunProgress(ctx, runID, prog))

	run, err = j.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, 35000, run.LastIndex)
	require.Equal(t, 400, run.SuccessCount)

	require.NoError(t, j.FinishRun(ctx, runID, domain.RunStatusCompleted, prog))
	run, err = j.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
}

func TestListRunsNewestFirst(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.StartRun(ctx, 10, 0)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := j.StartRun(ctx, 10, 5)
	require.NoError(t, err)

	runs, err := j.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
}

func TestRecordAndListBatches(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	runID, err := j.StartRun(ctx, 10, 0)
	require.NoError(t, err)

	batch := domain.ArchiveBatch{
		SequenceNumber: 12,
		ArchivePath:    "/data/archives/filings-00012.zip",
		MemberFiles:    []string{"a.pdf", "b.pdf"},
		SizeBytes:      2048,
		SealedAt:       time.Now(),
		RemoteLocation: "s3://bucket/harvest-archives/filings-00012.zip",
	}
	require.NoError(t, j.RecordBatch(ctx, runID, batch))

	batches, err := j.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, 12, batches[0].SequenceNumber)
	require.Equal(t, 2, batches[0].FileCount)
	require.Equal(t, int64(2048), batches[0].SizeBytes)
	require.Equal(t, batch.RemoteLocation, batches[0].RemoteLocation)
}

func TestRecordAndListEpisodes(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	runID, err := j.StartRun(ctx, 10, 0)
	require.NoError(t, err)

	require.NoError(t, j.RecordEpisode(ctx, runID, 4321, "gate_marker"))
	require.NoError(t, j.RecordEpisode(ctx, runID, 4321, "error_streak"))

	episodes, err := j.ListEpisodes(ctx, runID)
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	require.Equal(t, "gate_marker", episodes[0].Trigger)
	require.Equal(t, 4321, episodes[0].ItemIndex)
}

func TestGetRunMissing(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.GetRun(context.Background(), "no-such-run")
	require.ErrorIs(t, err, ErrRunNotFound)
}
