package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hydrofind/hydrofind/artifact"
	"github.com/hydrofind/hydrofind/fingerprint"
	"github.com/hydrofind/hydrofind/producer"
	"github.com/hydrofind/hydrofind/task"
	"github.com/hydrofind/hydrofind/taskstore"
)

type fakePublisher struct {
	published int
	err       error
}

func (f *fakePublisher) Publish(context.Context, *task.Message, int) error {
	if f.err != nil {
		return f.err
	}
	f.published++
	return nil
}

type fakeBroker struct{ healthy bool }

func (f *fakeBroker) Healthy() bool { return f.healthy }

type fixture struct {
	server *httptest.Server
	store  *taskstore.Store
	pub    *fakePublisher
	broker *fakeBroker
	api    *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)

	storeCfg := taskstore.DefaultConfig()
	storeCfg.Addr = mr.Addr()
	store := taskstore.New(storeCfg)
	t.Cleanup(func() { store.Close() })

	pub := &fakePublisher{}
	prod := producer.New(store, pub, producer.DefaultConfig(), nil)
	fb := &fakeBroker{healthy: true}

	api := NewServer(store, prod, fb, DefaultConfig(), nil)
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, store: store, pub: pub, broker: fb, api: api}
}

func (fx *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(fx.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (fx *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(fx.server.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestSubmit(t *testing.T) {
	fx := newFixture(t)

	resp, body := fx.post(t, "/api/", map[string]any{"query": "Фитинг DKOL 12x1.5 DN10 90°"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "processing", body["status"])
	assert.NotEmpty(t, body["timestamp"])

	taskID, _ := body["task_id"].(string)
	require.Len(t, taskID, 36)
	assert.Equal(t, taskID, body["request_id"])
	assert.Equal(t, 1, fx.pub.published)
}

func TestSubmit_EmptyQuery(t *testing.T) {
	fx := newFixture(t)

	resp, body := fx.post(t, "/api/", map[string]any{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Zero(t, fx.pub.published)
}

func TestSubmit_InvalidPriority(t *testing.T) {
	fx := newFixture(t)

	resp, _ := fx.post(t, "/api/", map[string]any{"query": "q", "priority": 11})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmit_PublishFailure(t *testing.T) {
	fx := newFixture(t)
	fx.pub.err = errors.New("broker down")

	resp, body := fx.post(t, "/api/", map[string]any{"query": "Фитинг BSP"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestSubmit_CacheHit(t *testing.T) {
	fx := newFixture(t)

	// Prime by faking a completed search in the cache via a worker write.
	resp, first := fx.post(t, "/api/", map[string]any{"query": "Фитинг BSP 3/4"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, fx.pub.published)

	cached := &task.Result{
		Type:   task.KindSingle,
		Single: &task.SingleResult{Query: "Фитинг BSP 3/4", Source: task.SourceDatabase, MatchCount: 1},
	}
	require.NoError(t, fx.store.PutCachedSearch(context.Background(),
		fingerprint.Compute("Фитинг BSP 3/4"), cached))

	resp, body := fx.post(t, "/api/", map[string]any{"query": "Фитинг BSP 3/4"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cache", body["source"])
	assert.Equal(t, "completed", body["status"])
	assert.NotEqual(t, first["task_id"], body["task_id"])

	// No second enqueue happened.
	assert.Equal(t, 1, fx.pub.published)
}

func TestSubmitBatch(t *testing.T) {
	fx := newFixture(t)

	resp, body := fx.post(t, "/api/batch", map[string]any{"text": "Фитинг X - 10шт\nАдаптер Y"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "batch", body["type"])
	assert.Equal(t, "processing", body["status"])
}

func TestStatus(t *testing.T) {
	fx := newFixture(t)

	_, created := fx.post(t, "/api/", map[string]any{"query": "Фитинг BSP"})
	taskID := created["task_id"].(string)

	resp, body := fx.get(t, "/api/task/"+taskID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processing", body["status"])
	assert.Contains(t, body, "age_seconds")
}

func TestStatus_MalformedID(t *testing.T) {
	fx := newFixture(t)

	resp, _ := fx.get(t, "/api/task/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatus_NotFound(t *testing.T) {
	fx := newFixture(t)

	resp, _ := fx.get(t, "/api/task/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatus_TimeoutReclamation(t *testing.T) {
	fx := newFixture(t)

	id := uuid.NewString()
	require.NoError(t, fx.store.PutTask(context.Background(), &task.Envelope{
		TaskID:    id,
		Kind:      task.KindSingle,
		Input:     "Фитинг BSP",
		Status:    task.StatusProcessing,
		CreatedAt: float64(time.Now().Add(-10 * time.Minute).Unix()),
	}))

	resp, body := fx.get(t, "/api/task/"+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "timeout", body["status"])

	// Terminal from here on.
	_, body = fx.get(t, "/api/task/"+id)
	assert.Equal(t, "timeout", body["status"])
}

func TestStatus_FreshTaskIsNotReclaimed(t *testing.T) {
	fx := newFixture(t)

	_, created := fx.post(t, "/api/", map[string]any{"query": "Фитинг BSP"})
	taskID := created["task_id"].(string)

	_, body := fx.get(t, "/api/task/"+taskID)
	assert.Equal(t, "processing", body["status"])
}

func TestCancel(t *testing.T) {
	fx := newFixture(t)

	_, created := fx.post(t, "/api/", map[string]any{"query": "Фитинг BSP"})
	taskID := created["task_id"].(string)

	resp, body := fx.post(t, "/api/task/"+taskID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "canceled", body["status"])
}

func TestCancel_IdempotentOnTerminal(t *testing.T) {
	fx := newFixture(t)

	id := uuid.NewString()
	require.NoError(t, fx.store.PutTask(context.Background(), &task.Envelope{
		TaskID:    id,
		Kind:      task.KindSingle,
		Status:    task.StatusCompleted,
		CreatedAt: float64(time.Now().Unix()),
		Result:    &task.Result{Type: task.KindSingle, Single: &task.SingleResult{}},
	}))

	resp, body := fx.post(t, "/api/task/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
}

func TestDownload(t *testing.T) {
	fx := newFixture(t)

	id := uuid.NewString()
	require.NoError(t, fx.store.PutTask(context.Background(), &task.Envelope{
		TaskID:    id,
		Kind:      task.KindSingle,
		Status:    task.StatusCompleted,
		CreatedAt: float64(time.Now().Unix()),
		Result: &task.Result{
			Type: task.KindSingle,
			Single: &task.SingleResult{
				Query:      "Фитинг BSP",
				Source:     task.SourceDatabase,
				Matches:    []task.Match{{Name: "Фитинг", Article: "F-1"}},
				MatchCount: 1,
			},
		},
	}))

	resp, err := http.Get(fx.server.URL + "/api/download/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), id)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(artifact.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "F-1", rows[1][2])
}

func TestDownload_ServesPrebuiltArtifact(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, fx.store.PutTask(ctx, &task.Envelope{
		TaskID:    id,
		Kind:      task.KindSingle,
		Status:    task.StatusCompleted,
		CreatedAt: float64(time.Now().Unix()),
		Result: &task.Result{
			Type:   task.KindSingle,
			Single: &task.SingleResult{Query: "Фитинг BSP", Matches: []task.Match{{Article: "LIVE-1"}}, MatchCount: 1},
		},
	}))

	// The worker-built file carries a different row than the stored result.
	builder, err := artifact.NewBuilder(t.TempDir(), nil)
	require.NoError(t, err)
	path, err := builder.Build(id, &task.Result{
		Type:   task.KindSingle,
		Single: &task.SingleResult{Query: "Фитинг BSP", Matches: []task.Match{{Article: "PREBUILT-1"}}, MatchCount: 1},
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.SetArtifactPath(ctx, id, path))

	resp, err := http.Get(fx.server.URL + "/api/download/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(artifact.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "PREBUILT-1", rows[1][2])
}

func TestDownload_MissingArtifactFileFallsBack(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, fx.store.PutTask(ctx, &task.Envelope{
		TaskID:    id,
		Kind:      task.KindSingle,
		Status:    task.StatusCompleted,
		CreatedAt: float64(time.Now().Unix()),
		Result: &task.Result{
			Type:   task.KindSingle,
			Single: &task.SingleResult{Query: "Фитинг BSP", Matches: []task.Match{{Article: "LIVE-1"}}, MatchCount: 1},
		},
	}))
	require.NoError(t, fx.store.SetArtifactPath(ctx, id, "/nonexistent/"+id+".xlsx"))

	resp, err := http.Get(fx.server.URL + "/api/download/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(artifact.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "LIVE-1", rows[1][2])
}

func TestDownload_NotCompleted(t *testing.T) {
	fx := newFixture(t)

	_, created := fx.post(t, "/api/", map[string]any{"query": "Фитинг BSP"})
	taskID := created["task_id"].(string)

	resp, err := http.Get(fx.server.URL + "/api/download/" + taskID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)

	resp, body := fx.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	fx.broker.healthy = false
	_, body = fx.get(t, "/api/health")
	assert.Equal(t, "degraded", body["status"])
}
