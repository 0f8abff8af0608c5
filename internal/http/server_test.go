package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ledger/internal/core"
	"ledger/internal/ledger"
	applog "ledger/internal/log"
	"ledger/internal/metrics"
)

func newTestServer(t *testing.T, opts Options) (*Server, *ledger.Session) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.Config{Output: io.Discard})
	}
	session := ledger.NewSession(ledger.NewStore())
	srv := NewServer(":0", session, opts)
	t.Cleanup(srv.rateLimiter.stop)
	return srv, session
}

func do(srv *Server, method, path string, form url.Values, htmx bool) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func apiLedgerOf(t *testing.T, srv *Server) apiLedger {
	t.Helper()
	rr := do(srv, http.MethodGet, "/api/ledger", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("api status=%d", rr.Code)
	}
	var out apiLedger
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode api ledger: %v", err)
	}
	return out
}

func TestIndexAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Expense Ledger") {
		t.Fatalf("index body missing heading")
	}
	if !strings.Contains(rr.Body.String(), "No categories yet") {
		t.Fatalf("index body missing empty state")
	}
	if !strings.Contains(rr.Body.String(), "<title>Expense Ledger ($0.00)</title>") {
		t.Fatalf("index title should carry the grand total")
	}
	if js := do(srv, http.MethodGet, "/static/app.js", nil, false).Body.String(); !strings.Contains(js, `"ledger:changed"`) {
		t.Fatalf("app.js should listen for ledger:changed")
	}

	for _, path := range []string{"/healthz", "/readyz", "/static/app.css"} {
		rr := do(srv, http.MethodGet, path, nil, false)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	if rr := do(srv, http.MethodGet, "/nope", nil, false); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path status=%d, want 404", rr.Code)
	}
}

func TestMissingTemplates(t *testing.T) {
	srv, _ := newTestServer(t, Options{Web: fstest.MapFS{}})

	if rr := do(srv, http.MethodGet, "/", nil, false); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing templates, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/readyz", nil, false); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from readyz, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/healthz", nil, false); rr.Code != http.StatusOK {
		t.Fatalf("healthz should not depend on templates, got %d", rr.Code)
	}
}

func TestAddCategory(t *testing.T) {
	t.Run("htmx gets partial and triggers", func(t *testing.T) {
		srv, _ := newTestServer(t, Options{})
		rr := do(srv, http.MethodPost, "/categories", url.Values{"name": {"  Groceries  "}}, true)
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "Groceries") {
			t.Errorf("partial missing new category: %s", rr.Body.String())
		}
		if strings.Contains(rr.Body.String(), "<html") {
			t.Errorf("htmx response should be the partial only")
		}
		trigger := rr.Header().Get("HX-Trigger")
		for _, part := range []string{`"ledger:changed"`, `"total":"$0.00"`, `"type":"success"`} {
			if !strings.Contains(trigger, part) {
				t.Errorf("HX-Trigger missing %q: %s", part, trigger)
			}
		}
	})

	t.Run("plain form post redirects", func(t *testing.T) {
		srv, session := newTestServer(t, Options{})
		rr := do(srv, http.MethodPost, "/categories", url.Values{"name": {"Rent"}}, false)
		if rr.Code != http.StatusSeeOther {
			t.Fatalf("status=%d, want 303", rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != "/" {
			t.Errorf("Location=%q, want /", loc)
		}
		if got := len(session.Store().Categories()); got != 1 {
			t.Errorf("categories=%d, want 1", got)
		}
	})

	t.Run("empty name is rejected and nothing changes", func(t *testing.T) {
		srv, session := newTestServer(t, Options{})
		rr := do(srv, http.MethodPost, "/categories", url.Values{"name": {"   "}}, true)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status=%d, want 422", rr.Code)
		}
		trigger := rr.Header().Get("HX-Trigger")
		if !strings.Contains(trigger, `"type":"error"`) || strings.Contains(trigger, "ledger:changed") {
			t.Errorf("unexpected HX-Trigger: %s", trigger)
		}
		if !strings.Contains(rr.Body.String(), `id="ledger"`) {
			t.Errorf("rejected htmx request should re-render the partial")
		}
		if got := len(session.Store().Categories()); got != 0 {
			t.Errorf("categories=%d, want 0", got)
		}
	})
}

func TestExpenseFlow(t *testing.T) {
	srv, session := newTestServer(t, Options{})

	do(srv, http.MethodPost, "/categories", url.Values{"name": {"Food"}}, true)
	do(srv, http.MethodPost, "/categories", url.Values{"name": {"Travel"}}, true)
	food := session.Store().Categories()[0]

	// No selection yet.
	if rr := do(srv, http.MethodPost, "/expenses", url.Values{"name": {"Bread"}, "amount": {"2.50"}}, true); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("add expense without selection status=%d, want 422", rr.Code)
	}

	if rr := do(srv, http.MethodPost, "/categories/1/select", nil, true); rr.Code != http.StatusOK {
		t.Fatalf("select status=%d", rr.Code)
	}
	if rr := do(srv, http.MethodPost, "/expenses", url.Values{"name": {"Bread"}, "amount": {"2.50"}}, true); rr.Code != http.StatusOK {
		t.Fatalf("add expense status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr := do(srv, http.MethodPost, "/expenses", url.Values{"name": {"Cheese"}, "amount": {"7,25"}}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("add expense status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), `"total":"$9.75"`) {
		t.Errorf("ledger:changed should carry the new total: %s", rr.Header().Get("HX-Trigger"))
	}

	got := apiLedgerOf(t, srv)
	if got.TotalCents != 975 || got.Total != "9.75" {
		t.Fatalf("total=%d (%s), want 975", got.TotalCents, got.Total)
	}
	if got.Categories[0].ID != food.ID || got.Categories[0].TotalCents != 975 {
		t.Fatalf("food total=%d, want 975", got.Categories[0].TotalCents)
	}
	if got.Categories[1].TotalCents != 0 {
		t.Fatalf("travel total=%d, want 0", got.Categories[1].TotalCents)
	}

	// Edit the bread: 2.50 -> 3.00.
	if rr := do(srv, http.MethodPost, "/expenses/1/edit", nil, true); rr.Code != http.StatusOK {
		t.Fatalf("edit status=%d", rr.Code)
	}
	if rr := do(srv, http.MethodPost, "/expenses/save", url.Values{"name": {"Bread"}, "amount": {"0"}}, true); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("save zero amount status=%d, want 422", rr.Code)
	}
	if v := session.View(); v.EditingExpense == nil {
		t.Fatalf("edit mode should survive a rejected save")
	}
	if rr := do(srv, http.MethodPost, "/expenses/save", url.Values{"name": {"Bread"}, "amount": {"3"}}, true); rr.Code != http.StatusOK {
		t.Fatalf("save status=%d", rr.Code)
	}
	if got := apiLedgerOf(t, srv); got.Categories[0].TotalCents != 1025 {
		t.Fatalf("food total after edit=%d, want 1025", got.Categories[0].TotalCents)
	}

	if rr := do(srv, http.MethodPost, "/expenses/2/delete", nil, true); rr.Code != http.StatusOK {
		t.Fatalf("delete expense status=%d", rr.Code)
	}
	if got := apiLedgerOf(t, srv); got.Categories[0].TotalCents != 300 || len(got.Expenses) != 1 {
		t.Fatalf("after delete: total=%d expenses=%d", got.Categories[0].TotalCents, len(got.Expenses))
	}

	if rr := do(srv, http.MethodPost, "/categories/1/delete", nil, true); rr.Code != http.StatusOK {
		t.Fatalf("delete category status=%d", rr.Code)
	}
	got = apiLedgerOf(t, srv)
	if len(got.Categories) != 1 || len(got.Expenses) != 0 || got.TotalCents != 0 {
		t.Fatalf("cascade delete left %+v", got)
	}
	if session.View().Selected != nil {
		t.Fatalf("selection should be cleared with its category")
	}
}

func TestRenameCategory(t *testing.T) {
	srv, session := newTestServer(t, Options{})
	do(srv, http.MethodPost, "/categories", url.Values{"name": {"Fod"}}, true)

	if rr := do(srv, http.MethodPost, "/categories/save", url.Values{"name": {"Food"}}, true); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("save without edit mode status=%d, want 422", rr.Code)
	}

	rr := do(srv, http.MethodPost, "/categories/1/edit", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `action="/categories/save"`) {
		t.Errorf("edit partial should show the rename form")
	}

	if rr := do(srv, http.MethodPost, "/edit/cancel", nil, false); rr.Code != http.StatusSeeOther {
		t.Fatalf("cancel status=%d, want 303", rr.Code)
	}
	if session.View().EditingCategory != nil {
		t.Fatalf("cancel should leave edit mode")
	}

	do(srv, http.MethodPost, "/categories/1/edit", nil, true)
	if rr := do(srv, http.MethodPost, "/categories/save", url.Values{"name": {"Food"}}, true); rr.Code != http.StatusOK {
		t.Fatalf("save status=%d", rr.Code)
	}
	if c, _ := session.Store().Category(1); c.Name != "Food" {
		t.Fatalf("name=%q, want Food", c.Name)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	do(srv, http.MethodPost, "/categories", url.Values{"name": {"Food"}}, true)
	do(srv, http.MethodPost, "/categories/1/select", nil, true)

	tests := []struct {
		name       string
		method     string
		path       string
		form       url.Values
		wantStatus int
		wantBody   string
	}{
		{"unknown category", http.MethodPost, "/categories/99/select", nil, http.StatusNotFound, "Category not found"},
		{"unknown expense", http.MethodPost, "/expenses/42/delete", nil, http.StatusNotFound, "Expense not found"},
		{"malformed id", http.MethodPost, "/categories/abc/delete", nil, http.StatusBadRequest, "Invalid identifier"},
		{"negative id", http.MethodPost, "/expenses/-1/edit", nil, http.StatusBadRequest, "Invalid identifier"},
		{"invalid amount", http.MethodPost, "/expenses", url.Values{"name": {"x"}, "amount": {"abc"}}, http.StatusUnprocessableEntity, "valid amount"},
		{"zero amount", http.MethodPost, "/expenses", url.Values{"name": {"x"}, "amount": {"0.00"}}, http.StatusUnprocessableEntity, "must not be zero"},
		{"huge amount", http.MethodPost, "/expenses", url.Values{"name": {"x"}, "amount": {"90000000000000000"}}, http.StatusUnprocessableEntity, "too large"},
		{"long name", http.MethodPost, "/categories", url.Values{"name": {strings.Repeat("a", core.MaxNameLength+1)}}, http.StatusUnprocessableEntity, "too long"},
		{"wrong method", http.MethodGet, "/categories", nil, http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(srv, tt.method, tt.path, tt.form, false)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status=%d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body %q missing %q", rr.Body.String(), tt.wantBody)
			}
		})
	}

	if got := apiLedgerOf(t, srv); len(got.Categories) != 1 || len(got.Expenses) != 0 {
		t.Fatalf("rejected requests changed the ledger: %+v", got)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(srv, http.MethodGet, "/", nil, false)
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Referrer-Policy"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing security header %s", h)
		}
	}
	if _, err := uuid.Parse(rr.Header().Get(requestIDHeader)); err != nil {
		t.Errorf("response request id is not a uuid: %q", rr.Header().Get(requestIDHeader))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(requestIDHeader); got != id {
		t.Errorf("request id = %q, want caller's %q", got, id)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "not-a-uuid\nforged=1")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get(requestIDHeader); got == "not-a-uuid\nforged=1" {
		t.Errorf("invalid request id should be replaced")
	}
}

func TestRateLimitAndMetrics(t *testing.T) {
	session := ledger.NewSession(ledger.NewStore())
	m := metrics.New(session.Store())
	srv := NewServer(":0", session, Options{
		RateLimitPerMinute: 2,
		Logger:             applog.New(applog.Config{Output: io.Discard}),
		Metrics:            m,
	})
	t.Cleanup(srv.rateLimiter.stop)

	for i, want := range []int{http.StatusOK, http.StatusUnprocessableEntity, http.StatusTooManyRequests} {
		name := "Food"
		if i == 1 {
			name = ""
		}
		rr := do(srv, http.MethodPost, "/categories", url.Values{"name": {name}}, true)
		if rr.Code != want {
			t.Fatalf("request %d status=%d, want %d", i, rr.Code, want)
		}
		if want != http.StatusTooManyRequests {
			continue
		}
		if got := rr.Header().Get("Retry-After"); got != "60" {
			t.Errorf("Retry-After = %q, want 60", got)
		}
		if trigger := rr.Header().Get("HX-Trigger"); !strings.Contains(trigger, `"type":"warning"`) {
			t.Errorf("429 should trigger a warning notification: %s", trigger)
		}
	}

	// GETs are not limited.
	if rr := do(srv, http.MethodGet, "/ui/ledger", nil, true); rr.Code != http.StatusOK {
		t.Fatalf("partial status=%d", rr.Code)
	}

	if got := testutil.ToFloat64(m.RateLimitHits); got != 1 {
		t.Errorf("rate limit hits=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("add_category", metrics.OutcomeOK)); got != 1 {
		t.Errorf("ok operations=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("add_category", metrics.OutcomeRejected)); got != 1 {
		t.Errorf("rejected operations=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodPost, "POST /categories", "429")); got != 1 {
		t.Errorf("429 requests=%v, want 1", got)
	}

	rr := do(srv, http.MethodGet, "/metrics", nil, false)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ledger_categories 1") {
		t.Fatalf("metrics status=%d, missing category gauge", rr.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2)
	defer rl.stop()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a") {
		t.Fatal("third request within a minute should be limited")
	}
	if !rl.allow("b") {
		t.Fatal("other clients have their own budget")
	}

	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Fatal("budget should reset after a minute")
	}

	now = now.Add(11 * time.Minute)
	rl.cleanupStaleEntries()
	if n := rl.activeClients(); n != 0 {
		t.Fatalf("stale clients=%d, want 0", n)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", "203.0.113.7:1234", "", "", "203.0.113.7"},
		{"untrusted peer cannot forge", "203.0.113.7:1234", "1.2.3.4", "", "203.0.113.7"},
		{"trusted proxy xff", "10.0.0.2:80", "198.51.100.9, 10.0.0.2", "", "198.51.100.9"},
		{"trusted proxy real ip", "127.0.0.1:80", "", "198.51.100.10", "198.51.100.10"},
		{"trusted proxy garbage header", "192.168.1.1:80", "nonsense", "", "192.168.1.1"},
		{"no port", "203.0.113.8", "", "", "203.0.113.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSuspiciousRequestsAreCounted(t *testing.T) {
	session := ledger.NewSession(ledger.NewStore())
	m := metrics.New(nil)
	srv := NewServer(":0", session, Options{
		Logger:  applog.New(applog.Config{Output: io.Discard}),
		Metrics: m,
	})
	t.Cleanup(srv.rateLimiter.stop)

	do(srv, http.MethodGet, "/wp-admin/setup.php", nil, false)
	do(srv, http.MethodGet, "/ui/ledger?q=union+select", nil, false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7")
	srv.Handler.ServeHTTP(httptest.NewRecorder(), req)

	do(srv, http.MethodGet, "/healthz", nil, false)

	if got := testutil.ToFloat64(m.Suspicious); got != 3 {
		t.Fatalf("suspicious=%v, want 3", got)
	}
}
