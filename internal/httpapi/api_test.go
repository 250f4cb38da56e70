package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"docket-harvester/internal/archive"
	"docket-harvester/internal/controller"
	"docket-harvester/internal/domain"
	"docket-harvester/internal/journal"
	"docket-harvester/internal/progress"
	"docket-harvester/internal/session"
)

func newTestRouter(t *testing.T) (*gin.Engine, *journal.Journal) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	jrnl := journal.New(db)
	require.NoError(t, jrnl.Init(context.Background()))

	store := progress.NewStore(filepath.Join(t.TempDir(), "checkpoint.json"), logger)
	batcher := archive.NewBatcher(archive.Config{ArchiveDir: t.TempDir(), Logger: logger})
	ctrl := controller.New(controller.Config{
		DataDir: t.TempDir(),
		Logger:  logger,
	}, []domain.WorkItem{{Filename: "a.pdf", SourceURL: "https://example.gov/a"}}, store, &session.StaticProvider{}, batcher, jrnl)

	router := gin.New()
	NewHandler(ctrl, jrnl, nil, "").RegisterRoutes(router)
	return router, jrnl
}

func doGet(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doGet(router, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var snap controller.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, controller.StateIdle, snap.State)
	require.Equal(t, 1, snap.QueueSize)
}

func TestListRunsAndEpisodes(t *testing.T) {
	router, jrnl := newTestRouter(t)

	runID, err := jrnl.StartRun(context.Background(), 100, 0)
	require.NoError(t, err)
	require.NoError(t, jrnl.RecordEpisode(context.Background(), runID, 42, "gate_marker"))

	w := doGet(router, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []domain.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	w = doGet(router, "/api/runs/"+runID+"/episodes")
	require.Equal(t, http.StatusOK, w.Code)
	var episodes []domain.SessionEpisode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &episodes))
	require.Len(t, episodes, 1)
	require.Equal(t, 42, episodes[0].ItemIndex)
}

func TestGetRun(t *testing.T) {
	router, jrnl := newTestRouter(t)

	runID, err := jrnl.StartRun(context.Background(), 100, 25)
	require.NoError(t, err)

	w := doGet(router, "/api/runs/"+runID)
	require.Equal(t, http.StatusOK, w.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Equal(t, runID, run.ID)
	require.Equal(t, 25, run.StartIndex)

	w = doGet(router, "/api/runs/no-such-run")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBatches(t *testing.T) {
	router, jrnl := newTestRouter(t)

	runID, err := jrnl.StartRun(context.Background(), 100, 0)
	require.NoError(t, err)
	require.NoError(t, jrnl.RecordBatch(context.Background(), runID, domain.ArchiveBatch{
		SequenceNumber: 3,
		ArchivePath:    "/archives/filings-00003.zip",
		MemberFiles:    []string{"a.pdf"},
		SizeBytes:      100,
	}))

	w := doGet(router, "/api/batches")
	require.Equal(t, http.StatusOK, w.Code)
	var batches []journal.BatchRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batches))
	require.Len(t, batches, 1)
	require.Equal(t, 3, batches[0].SequenceNumber)
}

func TestStorageObjectsUnconfigured(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doGet(router, "/api/storage/objects")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doGet(router, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
}
