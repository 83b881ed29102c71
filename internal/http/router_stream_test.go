package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/service/metrics"
)

func dialWS(t *testing.T, srv *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSONFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) *websocket.CloseError {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("expected close frame, got %v", err)
		}
		if closeErr.Code != code {
			t.Fatalf("expected close code %d, got %d (%s)", code, closeErr.Code, closeErr.Text)
		}
		return closeErr
	}
}

func TestLogsStreamReplaysTailThenFollows(t *testing.T) {
	stubs := newRouterStubs()
	stubs.databases.getResp = testInstance(domain.EnginePostgres, domain.StatusRunning)
	ts := time.Date(2026, time.March, 1, 12, 30, 0, 0, time.UTC)
	stubs.driver.logsResp = []docker.LogLine{
		{Stream: "stdout", Timestamp: &ts, Message: "database system is ready"},
	}
	router, token := setupRouter(t, stubs)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv, "/api/v1/databases/db-1/logs/stream?tail=25&token="+token, nil)

	frame := readJSONFrame(t, conn)
	if frame["type"] != "initial" {
		t.Fatalf("unexpected first frame %v", frame)
	}
	entries, _ := frame["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 replayed entry, got %d", len(entries))
	}
	replayed, _ := entries[0].(map[string]any)
	if replayed["message"] != "database system is ready" {
		t.Fatalf("unexpected replayed entry %v", replayed)
	}

	stubs.driver.mu.Lock()
	tail := stubs.driver.lastLogsOpts.Tail
	timestamps := stubs.driver.lastLogsOpts.Timestamps
	stubs.driver.mu.Unlock()
	if tail != 25 {
		t.Fatalf("unexpected replay tail %d", tail)
	}
	if !timestamps {
		t.Fatal("expected replay to request timestamps")
	}

	waitFor(t, time.Second, func() bool {
		stubs.driver.mu.Lock()
		defer stubs.driver.mu.Unlock()
		return stubs.driver.followCalls == 1
	})
	stubs.driver.mu.Lock()
	followTail := stubs.driver.lastFollowTail
	stubs.driver.mu.Unlock()
	if followTail != 0 {
		t.Fatalf("expected pure follow after replay, got tail %d", followTail)
	}

	stubs.driver.followLines <- docker.LogLine{Stream: "stderr", Message: "checkpoint starting"}
	frame = readJSONFrame(t, conn)
	if frame["type"] != "log" {
		t.Fatalf("unexpected frame %v", frame)
	}
	entry, _ := frame["entry"].(map[string]any)
	if entry["message"] != "checkpoint starting" || entry["stream"] != "stderr" {
		t.Fatalf("unexpected live entry %v", entry)
	}
	if entry["log_type"] != domain.LogTypeRuntime {
		t.Fatalf("unexpected log type %v", entry["log_type"])
	}
}

func TestLogsStreamToleratesReplayFailure(t *testing.T) {
	stubs := newRouterStubs()
	stubs.databases.getResp = testInstance(domain.EnginePostgres, domain.StatusRunning)
	stubs.driver.logsErr = assertError("socket closed")
	router, token := setupRouter(t, stubs)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv, "/api/v1/databases/db-1/logs/stream?token="+token, nil)

	frame := readJSONFrame(t, conn)
	if frame["type"] != "initial" {
		t.Fatalf("unexpected first frame %v", frame)
	}
	entries, ok := frame["entries"].([]any)
	if !ok {
		t.Fatalf("expected entries array, got %v", frame["entries"])
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty replay, got %v", entries)
	}
}

func TestLogsStreamRejectsStoppedInstance(t *testing.T) {
	stubs := newRouterStubs()
	stubs.databases.getResp = testInstance(domain.EnginePostgres, domain.StatusStopped)
	router, token := setupRouter(t, stubs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/databases/db-1/logs/stream?token="+token, nil)
	req.SetPathValue("id", "db-1")
	rr := httptest.NewRecorder()
	router.handleLogsStream(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != string(domain.CodeConflictingState) {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestLogsStreamRequiresCredentials(t *testing.T) {
	stubs := newRouterStubs()
	router, _ := setupRouter(t, stubs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/databases/db-1/logs/stream", nil)
	req.SetPathValue("id", "db-1")
	rr := httptest.NewRecorder()
	router.handleLogsStream(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	stubs.databases.mu.Lock()
	id := stubs.databases.lastID
	stubs.databases.mu.Unlock()
	if id != "" {
		t.Fatal("expected lookup skipped without credentials")
	}
}

func TestMetricsStreamAnnouncesThenRelays(t *testing.T) {
	stubs := newRouterStubs()
	stubs.databases.getResp = testInstance(domain.EnginePostgres, domain.StatusRunning)
	stubs.metrics.currentResp = domain.EngineMetrics{
		DatabaseType: domain.EnginePostgres,
		Postgres: &domain.PostgresMetrics{
			Timestamp: time.Date(2026, time.March, 1, 12, 45, 0, 0, time.UTC),
			Queries:   domain.QueryMetrics{TotalQueries: 42},
		},
	}
	router, token := setupRouter(t, stubs)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn := dialWS(t, srv, "/api/v1/databases/db-1/metrics/stream", header)

	frame := readJSONFrame(t, conn)
	if frame["type"] != "connected" || frame["database_id"] != "db-1" {
		t.Fatalf("unexpected greeting %v", frame)
	}

	frame = readJSONFrame(t, conn)
	if frame["type"] != "metrics" {
		t.Fatalf("expected an immediate sample, got %v", frame)
	}
	sample, _ := frame["metrics"].(map[string]any)
	if sample["database_id"] != "db-1" || sample["database_type"] != "postgres" {
		t.Fatalf("unexpected sample %v", sample)
	}

	topic := metrics.MetricsTopic("db-1")
	waitFor(t, time.Second, func() bool { return stubs.hub.Subscribers(topic) == 1 })

	stubs.hub.Broadcast(topic, []byte(`{"type":"metrics","metrics":{"database_id":"db-1","relay":true}}`))
	frame = readJSONFrame(t, conn)
	relayed, _ := frame["metrics"].(map[string]any)
	if relayed["relay"] != true {
		t.Fatalf("unexpected relayed frame %v", frame)
	}

	conn.Close()
	waitFor(t, time.Second, func() bool { return stubs.hub.Subscribers(topic) == 0 })
}

func TestMetricsStreamSkipsSampleWhenNotRunning(t *testing.T) {
	stubs := newRouterStubs()
	stubs.databases.getResp = testInstance(domain.EnginePostgres, domain.StatusStopped)
	router, token := setupRouter(t, stubs)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv, "/api/v1/databases/db-1/metrics/stream?token="+token, nil)

	frame := readJSONFrame(t, conn)
	if frame["type"] != "connected" {
		t.Fatalf("unexpected greeting %v", frame)
	}

	topic := metrics.MetricsTopic("db-1")
	waitFor(t, time.Second, func() bool { return stubs.hub.Subscribers(topic) == 1 })

	stubs.metrics.mu.Lock()
	calls := stubs.metrics.currentCalls
	stubs.metrics.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no scrape for a stopped instance, got %d", calls)
	}
}
