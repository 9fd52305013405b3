package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tripwise/gatekeeper/internal/admission"
	"github.com/tripwise/gatekeeper/internal/config"
	"github.com/tripwise/gatekeeper/internal/ratelimit"
	"github.com/tripwise/gatekeeper/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testJWT = config.JWTConfig{Secret: "test-secret", Expiry: time.Hour}

func testConfig(limit int, blocking bool) *ratelimit.Config {
	return &ratelimit.Config{
		ID:      "default-cfg",
		Version: 1,
		Active:  true,
		Rules: []ratelimit.Rule{{
			RuleID:    "ip-baseline",
			Scope:     ratelimit.ScopeIP,
			Algorithm: ratelimit.AlgorithmSlidingWindow,
			Limit:     limit,
			Window:    time.Minute,
			Enabled:   true,
			Blocking:  blocking,
		}},
	}
}

func newTestServer(t *testing.T, cfg *ratelimit.Config) (*Server, *gin.Engine) {
	t.Helper()
	reg := registry.New()
	if cfg != nil {
		if err := reg.Load(registry.KeyDefault, cfg); err != nil {
			t.Fatalf("load config: %v", err)
		}
	}
	engine := admission.NewEngine(reg, admission.Options{})
	srv := New(engine, nil, testJWT, nil)
	return srv, srv.Router()
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := IssueOperatorToken(testJWT, "ops")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestHealthz(t *testing.T) {
	_, router := newTestServer(t, testConfig(5, true))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestDecideRequiresIdentifier(t *testing.T) {
	_, router := newTestServer(t, testConfig(5, true))
	w := httptest.NewRecorder()
	body := strings.NewReader(`{"endpoint":"/search"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/decide", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDecideBlocksPastLimit(t *testing.T) {
	_, router := newTestServer(t, testConfig(5, true))

	var last admission.Decision
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		body := strings.NewReader(`{"identifier":"203.0.113.7","endpoint":"/search","context":{"ip":"203.0.113.7"}}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/decide", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d (%s)", i+1, w.Code, w.Body.String())
		}
		if err := json.Unmarshal(w.Body.Bytes(), &last); err != nil {
			t.Fatalf("request %d: decode decision: %v", i+1, err)
		}
		if i < 5 && last.Verdict != admission.VerdictAllow {
			t.Fatalf("request %d: expected ALLOW, got %s", i+1, last.Verdict)
		}
		if i == 5 {
			if last.Verdict != admission.VerdictBlock {
				t.Fatalf("request 6: expected BLOCK, got %s", last.Verdict)
			}
			if w.Header().Get("Retry-After") == "" {
				t.Fatalf("request 6: expected Retry-After header")
			}
		}
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	_, router := newTestServer(t, testConfig(5, true))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/configs", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/configs", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/configs", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestOperatorAPIDisabledWithoutSecret(t *testing.T) {
	reg := registry.New()
	engine := admission.NewEngine(reg, admission.Options{})
	srv := New(engine, nil, config.JWTConfig{}, nil)
	router := srv.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/configs", nil)
	req.Header.Set("Authorization", "Bearer anything")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestPutConfigInstallsDocument(t *testing.T) {
	srv, router := newTestServer(t, nil)

	doc := `
id: search-cfg
version: 2
active: true
rules:
  - rule-id: search-ip
    scope: ip
    algorithm: fixed_window
    limit: 100
    window: 60s
    enabled: true
    blocking: true
`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/configs/tier:premium", strings.NewReader(doc))
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	snap := srv.engine.Registry().Snapshot()
	if snap.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", snap.Generation)
	}
	installed := snap.Lookup("tier:premium")
	if installed == nil || installed.ID != "search-cfg" {
		t.Fatalf("expected installed config under tier:premium, got %+v", installed)
	}
}

func TestPutConfigRejectsInvalidDocument(t *testing.T) {
	srv, router := newTestServer(t, nil)

	doc := `
id: broken-cfg
active: true
rules:
  - rule-id: r1
    scope: ip
    algorithm: leaky_bucket
    limit: 10
    window: 60s
    enabled: true
`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/configs/default", strings.NewReader(doc))
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%s)", w.Code, w.Body.String())
	}
	if gen := srv.engine.Registry().Snapshot().Generation; gen != 0 {
		t.Fatalf("rejected config must not advance generation, got %d", gen)
	}
}

func TestDeleteConfig(t *testing.T) {
	_, router := newTestServer(t, testConfig(5, true))
	token := operatorToken(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/v1/configs/missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing key: expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/configs/"+registry.KeyDefault, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("existing key: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestResetStateUnblocksIdentifier(t *testing.T) {
	_, router := newTestServer(t, testConfig(1, true))
	token := operatorToken(t)

	decide := func() admission.Decision {
		w := httptest.NewRecorder()
		body := strings.NewReader(`{"identifier":"user-9","endpoint":"/search","context":{"ip":"198.51.100.4"}}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/decide", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		var d admission.Decision
		if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
			t.Fatalf("decode decision: %v", err)
		}
		return d
	}

	if d := decide(); d.Verdict != admission.VerdictAllow {
		t.Fatalf("first request: expected ALLOW, got %s", d.Verdict)
	}
	if d := decide(); d.Verdict != admission.VerdictBlock {
		t.Fatalf("second request: expected BLOCK, got %s", d.Verdict)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/v1/state?identifier=198.51.100.4", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	if d := decide(); d.Verdict != admission.VerdictAllow {
		t.Fatalf("after reset: expected ALLOW, got %s", d.Verdict)
	}
}

func TestResetStateRequiresIdentifier(t *testing.T) {
	_, router := newTestServer(t, testConfig(5, true))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/v1/state", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMetricsReflectDecisions(t *testing.T) {
	_, router := newTestServer(t, testConfig(5, true))
	token := operatorToken(t)

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"identifier":"user-1","endpoint":"/search","context":{"ip":"192.0.2.1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/decide", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "default-cfg") {
		t.Fatalf("expected counters keyed by config scope, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/metrics/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics reset: expected 200, got %d", w.Code)
	}
}

func TestAdmissionMiddlewareEnforcesVerdicts(t *testing.T) {
	reg := registry.New()
	if err := reg.Load(registry.KeyDefault, testConfig(2, true)); err != nil {
		t.Fatalf("load config: %v", err)
	}
	engine := admission.NewEngine(reg, admission.Options{})

	app := gin.New()
	app.Use(Admission(engine))
	app.GET("/search", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "served"})
	})

	call := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		req.RemoteAddr = "203.0.113.50:4321"
		app.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		w := call()
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d (%s)", i+1, w.Code, w.Body.String())
		}
		if got := w.Header().Get("X-Admission-Verdict"); got != string(admission.VerdictAllow) {
			t.Fatalf("request %d: expected ALLOW header, got %q", i+1, got)
		}
	}

	w := call()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d (%s)", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("third request: expected Retry-After header")
	}
}

func TestAdmissionMiddlewareUsesUserHeader(t *testing.T) {
	reg := registry.New()
	cfg := &ratelimit.Config{
		ID:      "user-cfg",
		Version: 1,
		Active:  true,
		Rules: []ratelimit.Rule{{
			RuleID:    "per-user",
			Scope:     ratelimit.ScopeUser,
			Algorithm: ratelimit.AlgorithmFixedWindow,
			Limit:     1,
			Window:    time.Minute,
			Enabled:   true,
			Blocking:  true,
		}},
	}
	if err := reg.Load(registry.KeyDefault, cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}
	engine := admission.NewEngine(reg, admission.Options{})

	app := gin.New()
	app.Use(Admission(engine))
	app.GET("/search", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(user string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		req.RemoteAddr = "203.0.113.51:4321"
		req.Header.Set("X-User-ID", user)
		app.ServeHTTP(w, req)
		return w.Code
	}

	if code := call("alice"); code != http.StatusOK {
		t.Fatalf("alice first: expected 200, got %d", code)
	}
	if code := call("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("alice second: expected 429, got %d", code)
	}
	if code := call("bob"); code != http.StatusOK {
		t.Fatalf("bob first: expected 200, got %d", code)
	}
}

func TestIssueOperatorTokenRequiresSecret(t *testing.T) {
	if _, err := IssueOperatorToken(config.JWTConfig{}, "ops"); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{999, "1"},
		{1000, "1"},
		{1001, "2"},
		{60000, "60"},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.ms); got != tc.want {
			t.Fatalf("retryAfterSeconds(%d) = %s, want %s", tc.ms, got, tc.want)
		}
	}
}
