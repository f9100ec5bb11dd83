package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yuechangmingzou/nofx-engine/internal/bot"
	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/execution"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

type fakeController struct {
	mu       sync.Mutex
	running  bool
	snap     config.Snapshot
	orders   []*types.TradeOrder
	statuses int
	closed   []string
	updated  []config.Partial
	closeErr error
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{
		snap: config.Defaults(),
		orders: []*types.TradeOrder{
			{ID: "o-1", Pair: "BTCUSDT", Side: types.SideLong, Status: types.StatusOpen, Entry: 100},
		},
	}
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeController) Status() bot.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	snap := f.snap
	return bot.Status{Running: f.running, Config: &snap, OpenOrderCount: len(f.orders)}
}

func (f *fakeController) UpdateConfig(ctx context.Context, p config.Partial) (*config.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := p["bogus"]; ok {
		return nil, fmt.Errorf("unknown config section: bogus")
	}
	f.updated = append(f.updated, p)
	f.snap.Version++
	snap := f.snap
	return &snap, nil
}

func (f *fakeController) OpenOrders() []*types.TradeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders
}

func (f *fakeController) CloseOrder(ctx context.Context, id string) (*types.TradeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	for _, o := range f.orders {
		if o.ID == id {
			f.closed = append(f.closed, id)
			out := *o
			out.Status = types.StatusClosed
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", execution.ErrOrderNotFound, id)
}

type fakeAuditor struct {
	limit int
}

func (a *fakeAuditor) Audit(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	a.limit = limit
	return []map[string]interface{}{{"keys": []string{"risk.daily_loss_cap"}}}, nil
}

func testServer(t *testing.T, ctrl Controller, opts ...Option) *Server {
	t.Helper()
	cfg := &config.Config{WebBasicAuthUser: "admin", WebBasicAuthPass: "secret"}
	return NewServer(cfg, ctrl, opts...)
}

func doRequest(s *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthzAndReadyz(t *testing.T) {
	s := testServer(t, newFakeController())

	if w := doRequest(s, http.MethodGet, "/healthz", "", false); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
	// 未配置Redis时直接就绪
	if w := doRequest(s, http.MethodGet, "/readyz", "", false); w.Code != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, newFakeController())
	doRequest(s, http.MethodGet, "/healthz", "", false)

	w := doRequest(s, http.MethodGet, "/metrics", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "nofx_http_requests_total") {
		t.Errorf("metrics output missing http request counter")
	}
}

func TestAPIRequiresBasicAuth(t *testing.T) {
	s := testServer(t, newFakeController())

	if w := doRequest(s, http.MethodGet, "/api/status", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("status without auth = %d, want 401", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/status", "", true); w.Code != http.StatusOK {
		t.Errorf("status with auth = %d, want 200", w.Code)
	}
}

func TestStatusIsCachedUntilStateChanges(t *testing.T) {
	ctrl := newFakeController()
	s := testServer(t, ctrl)

	doRequest(s, http.MethodGet, "/api/status", "", true)
	doRequest(s, http.MethodGet, "/api/status", "", true)
	if ctrl.statuses != 1 {
		t.Errorf("Status called %d times, want 1", ctrl.statuses)
	}

	if w := doRequest(s, http.MethodPost, "/api/engine/start", "", true); w.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", w.Code)
	}

	w := doRequest(s, http.MethodGet, "/api/status", "", true)
	var status bot.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Errorf("status after start should report running")
	}

	doRequest(s, http.MethodPost, "/api/engine/stop", "", true)
	w = doRequest(s, http.MethodGet, "/api/status", "", true)
	_ = json.Unmarshal(w.Body.Bytes(), &status)
	if status.Running {
		t.Errorf("status after stop should not report running")
	}
}

func TestStartFailure(t *testing.T) {
	ctrl := newFakeController()
	ctrl.startErr = errors.New("adopt positions: boom")
	s := testServer(t, ctrl)

	w := doRequest(s, http.MethodPost, "/api/engine/start", "", true)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("start status = %d, want 500", w.Code)
	}
}

func TestPatchConfig(t *testing.T) {
	ctrl := newFakeController()
	s := testServer(t, ctrl)

	w := doRequest(s, http.MethodPatch, "/api/config", `{"risk":{"daily_loss_cap":0.03}}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body=%s", w.Code, w.Body.String())
	}
	if len(ctrl.updated) != 1 || ctrl.updated[0]["risk"]["daily_loss_cap"] != 0.03 {
		t.Errorf("unexpected update: %+v", ctrl.updated)
	}
	var snap config.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Version != 1 {
		t.Errorf("version = %d, want 1", snap.Version)
	}

	if w := doRequest(s, http.MethodPatch, "/api/config", `{"bogus":{"x":1}}`, true); w.Code != http.StatusBadRequest {
		t.Errorf("invalid section status = %d, want 400", w.Code)
	}
	if w := doRequest(s, http.MethodPatch, "/api/config", `not json`, true); w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}
}

func TestGetConfig(t *testing.T) {
	s := testServer(t, newFakeController())

	w := doRequest(s, http.MethodGet, "/api/config", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("config status = %d", w.Code)
	}
	var snap config.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Risk.MaxConcurrentTrades != 3 {
		t.Errorf("max concurrent = %d, want 3", snap.Risk.MaxConcurrentTrades)
	}
}

func TestOrdersAndClose(t *testing.T) {
	ctrl := newFakeController()
	s := testServer(t, ctrl)

	w := doRequest(s, http.MethodGet, "/api/orders", "", true)
	var body struct {
		Items []types.TradeOrder `json:"items"`
		Count int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode orders: %v", err)
	}
	if body.Count != 1 || body.Items[0].ID != "o-1" {
		t.Errorf("unexpected orders: %+v", body)
	}

	w = doRequest(s, http.MethodPost, "/api/orders/o-1/close", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d, body=%s", w.Code, w.Body.String())
	}
	if len(ctrl.closed) != 1 || ctrl.closed[0] != "o-1" {
		t.Errorf("closed = %v", ctrl.closed)
	}

	if w := doRequest(s, http.MethodPost, "/api/orders/missing/close", "", true); w.Code != http.StatusNotFound {
		t.Errorf("missing order status = %d, want 404", w.Code)
	}

	ctrl.closeErr = errors.New("live close failed")
	if w := doRequest(s, http.MethodPost, "/api/orders/o-1/close", "", true); w.Code != http.StatusConflict {
		t.Errorf("failed close status = %d, want 409", w.Code)
	}
}

func TestConfigAudit(t *testing.T) {
	auditor := &fakeAuditor{}
	s := testServer(t, newFakeController(), WithConfigAuditor(auditor))

	w := doRequest(s, http.MethodGet, "/api/config/audit?limit=5", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d", w.Code)
	}
	if auditor.limit != 5 {
		t.Errorf("limit = %d, want 5", auditor.limit)
	}

	doRequest(s, http.MethodGet, "/api/config/audit?limit=99999", "", true)
	if auditor.limit != 100 {
		t.Errorf("out of range limit = %d, want default 100", auditor.limit)
	}

	// 未配置审计源时返回空列表
	s = testServer(t, newFakeController())
	w = doRequest(s, http.MethodGet, "/api/config/audit", "", true)
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}
