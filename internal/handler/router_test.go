package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/sitewatch/internal/middleware"
)

// newTestRouterDeps はテスト用のRouterDepsを構築するヘルパー。
// レート制限はデフォルト設定で、フィードディレクトリは空のテンポラリを使う。
func newTestRouterDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: "https://ops.example.com",
		RateLimiter:       rl,
		StateService:      &mockStateService{},
		SyncRunner:        &mockSyncRunner{},
		DB:                &mockDBPinger{},
		Sites:             testSites(),
		FeedDir:           t.TempDir(),
	}
}

func TestNewRouter_HealthzEndpoint(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	deps := newTestRouterDeps(t)
	deps.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# HELP sitewatch_sites_tracked\n"))
	})

	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestNewRouter_MetricsNotRegisteredWhenNil(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestNewRouter_SiteEndpoints(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	tests := []struct {
		method     string
		target     string
		wantStatus int
	}{
		{http.MethodGet, "/api/sites", http.StatusOK},
		{http.MethodGet, "/api/sites/example-blog/stats", http.StatusOK},
		{http.MethodPost, "/api/sites/example-blog/sync", http.StatusAccepted},
		{http.MethodPost, "/api/sites/example-blog/reset", http.StatusOK},
		{http.MethodGet, "/api/sites/ghost-site/stats", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, nil)
		req.RemoteAddr = "203.0.113.50:40000"
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != tt.wantStatus {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.target, w.Code, tt.wantStatus)
		}
	}
}

func TestNewRouter_FeedEndpoint(t *testing.T) {
	deps := newTestRouterDeps(t)
	writeFeedFile(t, deps.FeedDir, "feeds/example-blog.xml", testFeedXML)

	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/feeds/example-blog.xml", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /feeds/example-blog.xml status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if w.Body.String() != testFeedXML {
		t.Errorf("body = %q, want %q", w.Body.String(), testFeedXML)
	}
}

func TestNewRouter_SecurityHeadersApplied(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want %q", got, "DENY")
	}
}

func TestNewRouter_CORSHeadersApplied(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://ops.example.com")
	}
}

func TestNewRouter_PreflightShortCircuits(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/sites/example-blog/sync", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestNewRouter_SyncTriggerHasStricterLimit(t *testing.T) {
	deps := newTestRouterDeps(t)
	// 同期トリガーのバーストを1にして2回目で制限にかかるようにする
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		SyncRate:        middleware.DefaultRateLimiterConfig().SyncRate,
		SyncBurst:       1,
		CleanupInterval: middleware.DefaultRateLimiterConfig().CleanupInterval,
	})
	t.Cleanup(rl.Stop)
	deps.RateLimiter = rl

	router := NewRouter(deps)

	first := httptest.NewRequest(http.MethodPost, "/api/sites/example-blog/sync", nil)
	first.RemoteAddr = "203.0.113.77:40000"
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, first)
	if w1.Code != http.StatusAccepted {
		t.Errorf("first sync status = %d, want %d", w1.Code, http.StatusAccepted)
	}

	second := httptest.NewRequest(http.MethodPost, "/api/sites/example-blog/sync", nil)
	second.RemoteAddr = "203.0.113.77:40000"
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, second)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second sync status = %d, want %d", w2.Code, http.StatusTooManyRequests)
	}

	// 一般APIは同期トリガーの制限に影響されない
	list := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	list.RemoteAddr = "203.0.113.77:40000"
	w3 := httptest.NewRecorder()
	router.ServeHTTP(w3, list)
	if w3.Code != http.StatusOK {
		t.Errorf("list after sync limit status = %d, want %d", w3.Code, http.StatusOK)
	}
}

func TestNewRouter_HealthzOutsideRateLimit(t *testing.T) {
	deps := newTestRouterDeps(t)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     middleware.DefaultRateLimiterConfig().GeneralRate,
		GeneralBurst:    1,
		SyncRate:        middleware.DefaultRateLimiterConfig().SyncRate,
		SyncBurst:       1,
		CleanupInterval: middleware.DefaultRateLimiterConfig().CleanupInterval,
	})
	t.Cleanup(rl.Stop)
	deps.RateLimiter = rl

	router := NewRouter(deps)

	// 一般バーストを使い切る
	apiReq := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	apiReq.RemoteAddr = "203.0.113.88:40000"
	router.ServeHTTP(httptest.NewRecorder(), apiReq)

	exhausted := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	exhausted.RemoteAddr = "203.0.113.88:40000"
	we := httptest.NewRecorder()
	router.ServeHTTP(we, exhausted)
	if we.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted api status = %d, want %d", we.Code, http.StatusTooManyRequests)
	}

	// ヘルスチェックはレート制限の外
	for i := 0; i < 5; i++ {
		health := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		health.RemoteAddr = "203.0.113.88:40000"
		wh := httptest.NewRecorder()
		router.ServeHTTP(wh, health)
		if wh.Code != http.StatusOK {
			t.Errorf("healthz request %d status = %d, want %d", i+1, wh.Code, http.StatusOK)
		}
	}
}

func TestNewRouter_UnknownRoute_Returns404(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /api/unknown status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestNewRouter_RequestLogged(t *testing.T) {
	var buf bytes.Buffer
	deps := newTestRouterDeps(t)
	deps.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["path"] != "/api/sites" {
		t.Errorf("log path = %v, want %q", entry["path"], "/api/sites")
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("log status = %v, want %d", entry["status"], http.StatusOK)
	}
}
