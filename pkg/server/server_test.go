package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minseok-oh/surgewatch/internal/config"
	"github.com/minseok-oh/surgewatch/internal/scheduler"
	"github.com/minseok-oh/surgewatch/internal/store"
	"github.com/minseok-oh/surgewatch/pkg/event"
	"github.com/minseok-oh/surgewatch/pkg/metrics"
)

type stubSource struct{}

func (stubSource) Name() string { return "youtube" }

func (stubSource) Fetch(ctx context.Context, id string) (*metrics.Metrics, error) {
	return &metrics.Metrics{
		ContentID:   id,
		Title:       "title " + id,
		ViewCount:   1000,
		PublishedAt: time.Now().UTC().Add(-time.Hour),
	}, nil
}

func testServer(t *testing.T) (*Server, *store.SQLiteStore, *scheduler.Manager) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	mgr := scheduler.NewManager(st, stubSource{}, nil, event.NewBus(32), log)
	cfg := config.DefaultScheduler("api-test")
	cfg.MinViewCount = 0
	cfg.MinLikeCount = 0
	_, err = mgr.Register(cfg)
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)

	return New(st, mgr, 0, log), st, mgr
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListSchedulers(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/schedulers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []scheduler.Status `json:"data"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "api-test", resp.Data[0].Name)
	assert.Equal(t, scheduler.StateIdle, resp.Data[0].State)
}

func TestSchedulerStatusUnknownIs404(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/schedulers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartStopLifecycleOverHTTP(t *testing.T) {
	srv, _, mgr := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/schedulers/api-test/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	status, err := mgr.StatusOf("api-test")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateRunning, status.State)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/schedulers/api-test/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sched, err := mgr.Get("api-test")
	require.NoError(t, err)
	select {
	case <-sched.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunOnceReturnsSummary(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/schedulers/api-test/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var run event.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "completed", run.Outcome)
}

func TestDisableEnableOverHTTP(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/schedulers/api-test/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A disabled scheduler refuses to start.
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/schedulers/api-test/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/schedulers/api-test/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/schedulers/api-test/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestThenQueryScores(t *testing.T) {
	srv, st, _ := testServer(t)
	ctx := context.Background()

	body, _ := json.Marshal(map[string]any{
		"id":               "youtube:pushed",
		"platform":         "youtube",
		"title":            "pushed item",
		"category":         "music",
		"duration_seconds": 30,
		"view_count":       5000,
		"published_at":     time.Now().UTC().Add(-2 * time.Hour),
	})
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/contents", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	got, err := st.GetContent(ctx, "youtube:pushed")
	require.NoError(t, err)
	assert.Equal(t, "pushed item", got.Title)
	assert.True(t, got.IsShort)

	snaps, err := st.SnapshotsSince(ctx, "youtube:pushed", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "ingestion appends a snapshot")

	// Seed a score and read it back through the API.
	require.NoError(t, st.PersistScore(ctx, &store.TrendScore{
		ContentID: "youtube:pushed", ComputedAt: time.Now().UTC(),
		Composite: 0.9, Surging: true,
	}))

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/scores?surging=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []store.TrendScore `json:"data"`
		Count int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "youtube:pushed", resp.Data[0].ContentID)
}

func TestIngestRejectsMissingID(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/contents", []byte(`{"title":"no id"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContentNotFoundIs404(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/contents/youtube:nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCategories(t *testing.T) {
	srv, st, _ := testServer(t)

	require.NoError(t, st.PersistAggregate(context.Background(), &store.CategoryAggregate{
		Category:    "music",
		WindowStart: time.Now().UTC().Add(-8 * time.Hour),
		WindowEnd:   time.Now().UTC(),
		TopTags:     []store.TagCount{{Tag: "dance", Count: 3}},
		SurgeCount:  2,
		SampleCount: 5,
	}))

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []store.CategoryAggregate `json:"data"`
		Count int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, 2, resp.Data[0].SurgeCount)
}
