package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/deadletter"
	"creator-sync/shared/cachex"
	"creator-sync/shared/influxx"
	"creator-sync/shared/logx"
)

type nopPublisher struct{ fail bool }

func (p nopPublisher) Publish(context.Context, string, []byte, []byte, map[string]string) error {
	if p.fail {
		return errors.New("down")
	}
	return nil
}

type fakeConsistency struct {
	err error
}

func (f fakeConsistency) RunConsistencyCheck(context.Context) (consistency.Report, error) {
	return consistency.Report{CheckedAt: time.Unix(0, 0).UTC()}, f.err
}

func (f fakeConsistency) AutoRepair(context.Context) (consistency.RepairResult, error) {
	return consistency.RepairResult{Repaired: 2, Errors: []consistency.RepairError{}}, f.err
}

func (f fakeConsistency) RetryPendingWrites(context.Context) (consistency.RetryResult, error) {
	return consistency.RetryResult{Retried: 3, Succeeded: 2, Failed: 1}, f.err
}

func (f fakeConsistency) FailedWriteStats(context.Context) (consistency.FailedWriteStats, error) {
	return consistency.FailedWriteStats{PendingCount: 0, Records: []consistency.FailedWrite{}}, f.err
}

func (f fakeConsistency) MonitoringMetrics(context.Context) (consistency.MonitoringMetrics, error) {
	return consistency.MonitoringMetrics{}, f.err
}

type fakeHistory struct{ gotWindow time.Duration }

func (f *fakeHistory) MismatchHistory(_ context.Context, _ string, window time.Duration) ([]influxx.Sample, error) {
	f.gotWindow = window
	return []influxx.Sample{{At: time.Unix(60, 0).UTC(), Value: 4}}, nil
}

type fixture struct {
	mux *http.ServeMux
	dlq *deadletter.Service
}

func newFixture(t *testing.T, c Consistency, history History) fixture {
	t.Helper()
	srv := miniredis.RunT(t)
	cache := cachex.Wrap(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })
	dlq := deadletter.NewService(cache, nopPublisher{}, logx.Nop(), 100)
	mux := http.NewServeMux()
	New(c, dlq, history, logx.Nop()).Register(mux)
	return fixture{mux: mux, dlq: dlq}
}

func (f fixture) do(t *testing.T, method string, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestMissingMessageIs404(t *testing.T) {
	f := newFixture(t, fakeConsistency{}, nil)
	rec, body := f.do(t, http.MethodGet, "/dlq/messages/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])

	rec, _ = f.do(t, http.MethodDelete, "/dlq/messages/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/dlq/messages/nope/retry")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["success"])
}

func TestDeadLetterLifecycle(t *testing.T) {
	f := newFixture(t, fakeConsistency{}, nil)
	ctx := context.Background()
	msg, err := f.dlq.Add(ctx, "post.liked", []byte(`{"postId":"p1"}`), "boom", 1)
	require.NoError(t, err)
	_, err = f.dlq.Add(ctx, "user.created", []byte(`{}`), "boom", 1)
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodGet, "/dlq/messages/"+msg.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "post.liked", body["originalTopic"])

	rec, body = f.do(t, http.MethodGet, "/dlq/messages?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["messages"], 1)

	_, body = f.do(t, http.MethodGet, "/dlq/stats")
	require.EqualValues(t, 2, body["total"])

	rec, body = f.do(t, http.MethodPost, "/dlq/messages/"+msg.ID+"/retry")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["success"])
	rec, _ = f.do(t, http.MethodGet, "/dlq/messages/"+msg.ID)
	require.Equal(t, http.StatusNotFound, rec.Code)

	_, body = f.do(t, http.MethodDelete, "/dlq/purge")
	require.EqualValues(t, 1, body["purged"])
}

func TestListClampsPageSize(t *testing.T) {
	f := newFixture(t, fakeConsistency{}, nil)
	_, body := f.do(t, http.MethodGet, "/dlq/messages?limit=9999&offset=-3")
	require.EqualValues(t, 500, body["limit"])
	require.EqualValues(t, 0, body["offset"])
	require.Equal(t, []any{}, body["messages"])

	_, body = f.do(t, http.MethodGet, "/dlq/messages")
	require.EqualValues(t, 50, body["limit"])
}

func TestRetryAll(t *testing.T) {
	f := newFixture(t, fakeConsistency{}, nil)
	_, err := f.dlq.Add(context.Background(), "tip.sent", []byte(`{}`), "x", 1)
	require.NoError(t, err)
	rec, body := f.do(t, http.MethodPost, "/dlq/retry-all")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, body["total"])
	require.EqualValues(t, 1, body["succeeded"])
}

func TestConsistencyRoutes(t *testing.T) {
	f := newFixture(t, fakeConsistency{}, nil)

	rec, body := f.do(t, http.MethodPost, "/consistency/retry-failed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 3, body["retried"])

	rec, body = f.do(t, http.MethodPost, "/consistency/repair")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, body["repaired"])

	for _, target := range []string{"/consistency/failed-writes", "/consistency/metrics"} {
		rec, _ = f.do(t, http.MethodGet, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
	}
	rec, _ = f.do(t, http.MethodPost, "/consistency/check")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/consistency/check")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConsistencyErrorsAre500(t *testing.T) {
	f := newFixture(t, fakeConsistency{err: errors.New("redis down")}, nil)
	rec, body := f.do(t, http.MethodPost, "/consistency/check")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "INTERNAL_ERROR", body["error"].(map[string]any)["code"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t, fakeConsistency{}, nil)
	rec, _ := f.do(t, http.MethodGet, "/consistency/history")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h := &fakeHistory{}
	f = newFixture(t, fakeConsistency{}, h)
	rec, body := f.do(t, http.MethodGet, "/consistency/history?entity=user&window=1h")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Hour, h.gotWindow)
	require.Len(t, body["points"], 1)

	rec, _ = f.do(t, http.MethodGet, "/consistency/history?entity=media")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/consistency/history?window=-1h")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	_, _ = f.do(t, http.MethodGet, "/consistency/history?window=9000h")
	require.Equal(t, maxHistory, h.gotWindow)
}
