package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"siteline/internal/app"
	"siteline/internal/config"
)

type testServer struct {
	URL    string
	App    *app.App
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default("siteline-test")
	a, err := app.NewInMemory(cfg, nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	handler, err := New(Config{App: a, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		App:    a,
		client: &http.Client{},
	}
	ts.close = func() {
		srv.Shutdown(context.Background())
		ln.Close()
		a.Close()
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createProject(t *testing.T, ts *testServer) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/projects", map[string]any{
		"title":      "Harbor warehouse",
		"start_date": "2026-01-01T00:00:00Z",
		"end_date":   "2026-12-31T00:00:00Z",
		"value":      100000,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", res.StatusCode, data)
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	return p
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", res.StatusCode, data)
	}
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)
	p := createProject(t, ts)
	if p.ID == "" {
		t.Fatal("expected project id assigned")
	}

	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/projects/"+p.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/projects", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d body %s", res.StatusCode, data)
	}
	var list []ProjectResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("expected one project, got %v", list)
	}

	res, _ = doJSON(t, ts.Client(), http.MethodDelete, ts.URL+"/v0/projects/"+p.ID, nil)
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", res.StatusCode)
	}
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/projects/"+p.ID, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestCreateProjectRejectsBadDates(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/projects", map[string]any{
		"title":      "Backwards",
		"start_date": "2026-12-31T00:00:00Z",
		"end_date":   "2026-01-01T00:00:00Z",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "end_date") {
		t.Fatalf("expected end_date in error, got %s", data)
	}
}

func TestTaskEndpoints(t *testing.T) {
	ts := newTestServer(t)
	p := createProject(t, ts)

	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/projects/"+p.ID+"/tasks", map[string]any{
		"title":      "Foundations",
		"quantity":   10,
		"unit_price": 100,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add task: status %d body %s", res.StatusCode, data)
	}
	var task struct {
		ID    string  `json:"id"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Value != 1000 {
		t.Fatalf("expected derived value 1000, got %v", task.Value)
	}

	res, data = doJSON(t, ts.Client(), http.MethodPatch,
		ts.URL+"/v0/projects/"+p.ID+"/tasks/"+task.ID+"/status",
		map[string]any{"status": "completed"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/projects/"+p.ID+"/progress", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress: status %d body %s", res.StatusCode, data)
	}
	var prog ProgressResponse
	if err := json.Unmarshal(data, &prog); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if prog.TotalTasks != 1 || prog.CompletedTasks != 1 {
		t.Fatalf("expected 1/1 tasks, got %+v", prog)
	}
	if prog.ValuePercentage != 1 {
		t.Fatalf("expected 1%% value progress, got %v", prog.ValuePercentage)
	}

	res, data = doJSON(t, ts.Client(), http.MethodPatch,
		ts.URL+"/v0/projects/"+p.ID+"/tasks/nope/status",
		map[string]any{"status": "completed"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d body %s", res.StatusCode, data)
	}
}

func TestContractEndpoints(t *testing.T) {
	ts := newTestServer(t)

	res, data := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/contracts", map[string]any{
		"client":      "Port Authority",
		"contractor":  "Meridian Build Co",
		"total_value": 1000,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create contract: status %d body %s", res.StatusCode, data)
	}
	var c ContractResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("decode contract: %v", err)
	}

	res, data = doJSON(t, ts.Client(), http.MethodPatch, ts.URL+"/v0/contracts/"+c.ID+"/status",
		map[string]any{"status": "active"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activate: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/contracts/"+c.ID+"/payments",
		map[string]any{"amount": 600, "date": "2026-03-01T00:00:00Z"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("payment: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/contracts/"+c.ID+"/payments",
		map[string]any{"amount": 600, "date": "2026-03-02T00:00:00Z"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected overpayment rejected, got %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/contracts/"+c.ID+"/change-orders",
		map[string]any{"description": "extra drainage", "delta": 250})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("change order: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/contracts/"+c.ID+"/versions", nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("version: status %d body %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/contracts/"+c.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d body %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("decode contract: %v", err)
	}
	if c.TotalValue != 1250 {
		t.Fatalf("expected total 1250 after change order, got %v", c.TotalValue)
	}
	if len(c.Versions) != 1 || c.Versions[0].TotalValue != 1250 {
		t.Fatalf("unexpected versions %+v", c.Versions)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createProject(t, ts)

	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/events?limit=10", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: status %d body %s", res.StatusCode, data)
	}
	var page EventsPageResponse
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatal("expected at least the project.created event")
	}
	if page.Items[0].Type != "project.created" {
		t.Fatalf("expected project.created first, got %s", page.Items[0].Type)
	}
}

func TestWatchProjectsStreamsSnapshots(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v0/watch/projects"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readSnapshot := func() []ProjectResponse {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap []ProjectResponse
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		return snap
	}

	if snap := readSnapshot(); len(snap) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(snap))
	}

	p := createProject(t, ts)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := readSnapshot()
		if len(snap) == 1 && snap[0].ID == p.ID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw created project in snapshots, last %v", snap)
		}
	}
}

func TestStableJSONErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/projects/missing", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q in %s", envelope.Error.Code, data)
	}
	if !strings.Contains(envelope.Error.Message, "missing") {
		t.Fatalf("expected id in message, got %s", data)
	}
}
