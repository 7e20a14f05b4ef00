package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"portcall/internal/config"
	"portcall/internal/db"
	"portcall/internal/domain"
	"portcall/internal/engine"
	"portcall/internal/metrics"
	"portcall/internal/migrate"
	portcallsdk "portcall/sdk/go"
)

var clock = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	client *http.Client
	sdk    *portcallsdk.Client
	db     *sql.DB
	logs   *observer.ObservedLogs
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	core, logs := observer.New(zap.ErrorLevel)
	e := engine.New(conn, config.Default("PTLEI"), zap.New(core), metrics.New())
	e.Now = func() time.Time { return clock }
	require.NoError(t, e.SyncTaskCategories(context.Background()))

	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		db:     conn,
		logs:   logs,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	testSrv.sdk = portcallsdk.New(testSrv.URL, "officer")
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope), string(data))
	return envelope.Error
}

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func seedVisits(t *testing.T, srv *testServer) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"V1", "V2"} {
		_, err := srv.sdk.RegisterVisit(ctx, id, "IMO-"+id, clock.Add(-6*time.Hour))
		require.NoError(t, err)
	}
}

func TestExecutionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedVisits(t, srv)
	ctx := context.Background()

	exec, err := srv.sdk.CreateExecution(ctx, "V1", clock.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "VVE2025000001", exec.Code)
	require.Equal(t, "InProgress", exec.Status)

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/executions/"+exec.Code+"/berth", map[string]any{
		"berth_time": clock.Add(-time.Hour),
		"dock_id":    "D1",
	}, map[string]string{ActorHeader: "officer"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	_, err = srv.sdk.CompleteExecution(ctx, exec.Code, clock, clock.Add(-time.Minute))
	var apiErr *portcallsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Equal(t, domain.CodeLeaveBeforeUnberth, apiErr.Code)

	done, err := srv.sdk.CompleteExecution(ctx, exec.Code, clock, clock.Add(30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, "Completed", done.Status)
	require.Equal(t, 3, done.Version)

	fetched, err := srv.sdk.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, "D1", fetched.ActualDockID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/executions/"+exec.Code+"/audit", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var audit []domain.ExecutionAuditEntry
	require.NoError(t, json.Unmarshal(data, &audit))
	require.Len(t, audit, 2)
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedVisits(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/executions", map[string]any{
		"visit_id":       "V1",
		"actual_arrival": clock,
	}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	require.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/executions/VVE2025000099", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	require.Equal(t, "not_found", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/executions/VVE-1/complete", map[string]any{
		"unberth_time":    clock,
		"leave_port_time": clock,
	}, map[string]string{ActorHeader: "officer"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	require.Equal(t, domain.CodeInvalidExecutionCode, decodeError(t, data).Code)

	_, err := srv.sdk.CreateExecution(context.Background(), "V1", clock.Add(-time.Hour))
	require.NoError(t, err)
	_, err = srv.sdk.CreateExecution(context.Background(), "V1", clock.Add(-time.Hour))
	var apiErr *portcallsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "duplicate", apiErr.Code)
}

func TestTaskByCodeOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedVisits(t, srv)
	exec, err := srv.sdk.CreateExecution(context.Background(), "V1", clock.Add(-time.Hour))
	require.NoError(t, err)
	actor := map[string]string{ActorHeader: "officer"}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"category":     "moor",
		"staff_id":     "S1",
		"start":        clock.Add(time.Hour),
		"execution_id": exec.Code,
	}, actor)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var task domain.TaskSnapshot
	require.NoError(t, json.Unmarshal(data, &task))
	require.Equal(t, "MOOR[1]", task.Code)

	taskURL := srv.URL + "/v0/tasks/" + url.PathEscape(task.Code)
	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/status", map[string]any{"status": "InProgress"}, actor)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	require.Equal(t, domain.CodeOutsideTimeWindow, decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodPatch, taskURL, map[string]any{"staff_id": "S9"}, actor)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?execution="+exec.Code, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedTasks
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, "S9", page.Items[0].StaffID)
}

func TestRevisePlanOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seedVisits(t, srv)
	ctx := context.Background()

	plan, err := srv.sdk.ImportPlan(ctx, portcallsdk.Plan{
		ID:       "plan-1",
		PlanDate: "2025-03-10",
		Operations: []portcallsdk.Operation{
			{ID: "op-1", VisitRef: "V1", Dock: "D1", Crane: "CR2", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: at(8, 0), End: at(9, 0)},
			{ID: "op-2", VisitRef: "V2", Dock: "D2", Crane: "CR1", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: at(10, 45), End: at(11, 15), Staff: []string{"S1"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "officer", plan.Author)

	_, err = srv.sdk.RevisePlan(ctx, "plan-1", "V1", "crane breakdown on CR2", []portcallsdk.Operation{
		{Dock: "D1", Crane: "CR1", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: at(10, 0), End: at(11, 0)},
		{Dock: "D1", Crane: "CR1", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: at(10, 30), End: at(11, 30)},
	})
	var apiErr *portcallsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "revision_blocked", apiErr.Code)
	require.Equal(t, []string{domain.ConflictCraneOverlap}, apiErr.BlockingCodes())

	stored, err := srv.sdk.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Version)
	require.Equal(t, "op-1", stored.Operations[0].ID)

	_, err = srv.sdk.RevisePlan(ctx, "plan-1", "V1", " ", nil)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	res, err := srv.sdk.RevisePlan(ctx, "plan-1", "V1", "vessel arrived late", []portcallsdk.Operation{
		{Dock: "D1", Crane: "CR3", CraneCountUsed: 1, TotalCranesOnDock: 2, Start: at(11, 0), End: at(12, 0), Staff: []string{"S1"}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Plan.Version)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, domain.ConflictStaffOverlap, res.Warnings[0].Code)
	require.Equal(t, []string{"V1", "V2"}, res.Warnings[0].RelatedVisits)
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(data), "revise-plan-visit")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, strings.Contains(string(data), "portcall_http_requests_total"), "request counter exported")
}

func TestInternalErrorsAreLoggedWithoutDetail(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	require.NoError(t, srv.db.Close())

	for _, path := range []string{"/v0/plans", "/v0/executions", "/v0/events", "/v0/plans/plan-1"} {
		res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+path, nil, nil)
		require.Equal(t, http.StatusInternalServerError, res.StatusCode, path)
		body := decodeError(t, data)
		require.Equal(t, "internal_error", body.Code)
		require.NotContains(t, body.Message, "closed")
	}
	failed := srv.logs.FilterMessage("request failed").All()
	require.Len(t, failed, 4)
	require.Contains(t, failed[0].ContextMap()["error"], "closed")
}

func TestImportRejectsUnknownExecutionStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/plans", map[string]any{
		"id":        "plan-1",
		"plan_date": "2025-03-10",
		"operations": []map[string]any{{
			"id": "op-1", "visit_ref": "V1", "dock": "D1",
			"start": at(8, 0), "end": at(9, 0),
			"execution_status": "bogus",
		}},
	}, map[string]string{ActorHeader: "planner"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	require.Equal(t, "bad_request", decodeError(t, data).Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/plans/plan-1", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}
