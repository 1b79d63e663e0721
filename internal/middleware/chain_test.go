package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestMiddlewareChain_FullStack は全ミドルウェアを重ねた状態で
// リクエストが処理され、各層の効果が揃うことを検証する。
// 順序はルーターと同じ: Logging -> Recovery -> SecurityHeaders -> CORS -> RateLimit。
func TestMiddlewareChain_FullStack(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     10,
		GeneralBurst:    10,
		SyncRate:        1,
		SyncBurst:       1,
		CleanupInterval: 1 * time.Minute,
	})
	defer rl.Stop()

	handler := NewLoggingMiddleware(logger)(
		NewRecoveryMiddleware(logger)(
			NewSecurityHeadersMiddleware()(
				NewCORSMiddleware("http://localhost:3000")(
					rl.GeneralMiddleware()(
						http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
							w.WriteHeader(http.StatusOK)
						}))))))

	req := newRequestFrom(http.MethodGet, "/api/sites", "203.0.113.70")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, logBuf.String())
	}
	if entry["path"] != "/api/sites" {
		t.Errorf("logged path = %q, want %q", entry["path"], "/api/sites")
	}
	if status := int(entry["status"].(float64)); status != 200 {
		t.Errorf("logged status = %d, want 200", status)
	}
}

// TestMiddlewareChain_PanicRecovered はハンドラのpanicがRecoveryで500に変換され、
// Loggingミドルウェアがその500を記録することを検証する。
func TestMiddlewareChain_PanicRecovered(t *testing.T) {
	var accessBuf, panicBuf bytes.Buffer
	accessLogger := slog.New(slog.NewJSONHandler(&accessBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	panicLogger := slog.New(slog.NewJSONHandler(&panicBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(accessLogger)(
		NewRecoveryMiddleware(panicLogger)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("boom")
			})))

	req := httptest.NewRequest(http.MethodGet, "/api/sites", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}

	var panicEntry map[string]interface{}
	if err := json.Unmarshal(panicBuf.Bytes(), &panicEntry); err != nil {
		t.Fatalf("failed to parse panic log: %v", err)
	}
	if panicEntry["msg"] != "panic recovered" {
		t.Errorf("panic log msg = %q, want %q", panicEntry["msg"], "panic recovered")
	}

	var accessEntry map[string]interface{}
	if err := json.Unmarshal(accessBuf.Bytes(), &accessEntry); err != nil {
		t.Fatalf("failed to parse access log: %v", err)
	}
	if status := int(accessEntry["status"].(float64)); status != 500 {
		t.Errorf("logged status = %d, want 500", status)
	}
	if accessEntry["level"] != "ERROR" {
		t.Errorf("access log level = %q, want %q", accessEntry["level"], "ERROR")
	}
}

// TestMiddlewareChain_OptionsDoesNotConsumeRateLimit はCORSがレート制限より外側にあるため、
// OPTIONSプリフライトがレートトークンを消費しないことを検証する。
func TestMiddlewareChain_OptionsDoesNotConsumeRateLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1, // バースト1: 実リクエストは1回だけ通る
		SyncRate:        1,
		SyncBurst:       1,
		CleanupInterval: 1 * time.Minute,
	})
	defer rl.Stop()

	handler := NewCORSMiddleware("http://localhost:3000")(
		rl.GeneralMiddleware()(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})))

	// OPTIONSを2回送ってもトークンは消費されない
	for i := 0; i < 2; i++ {
		req := newRequestFrom(http.MethodOptions, "/api/sites", "203.0.113.71")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusNoContent {
			t.Errorf("OPTIONS %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusNoContent)
		}
	}

	// 実リクエストはまだ通る
	req := newRequestFrom(http.MethodGet, "/api/sites", "203.0.113.71")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("GET after OPTIONS: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}
