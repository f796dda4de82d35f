package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthportal/portal/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid, _ := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "acct-1", "prof-1", nil))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Logger(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"request_id":"req-123"`, `"path":"/api/v1/records"`, `"user_id":"acct-1"`, `"status":200`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestLogger_RecordsHTTPErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/missing", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	if err := Logger(zerolog.New(&buf))(handler)(c); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if !strings.Contains(buf.String(), `"status":404`) {
		t.Errorf("expected status 404 in log, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	err := Recovery(zerolog.Nop())(handler)(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Recovery(zerolog.Nop())(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/records", nil), rec)

	if err := SecurityHeaders(false)(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected no-store cache control")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("expected DENY framing, got %q", rec.Header().Get("X-Frame-Options"))
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("expected no HSTS without secure transport")
	}
}

func TestSecurityHeaders_FileDownload(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/records/abc/file", nil), rec)

	if err := SecurityHeaders(true)(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Errorf("expected SAMEORIGIN framing for files, got %q", rec.Header().Get("X-Frame-Options"))
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS with secure transport")
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1M", 1 << 20},
		{"25MB", 25 << 20},
		{"512K", 512 << 10},
		{"2G", 2 << 30},
		{"100", 100},
		{"", 1 << 20},
		{"garbage", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.in); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBodyLimit_RejectsLargeContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consultations", strings.NewReader(strings.Repeat("x", 2048)))
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit("1K", "1M")(func(c echo.Context) error { return nil })(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_UploadsUseLargerLimit(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(strings.Repeat("x", 2048)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=abc")
	c := e.NewContext(req, httptest.NewRecorder())

	var read int
	handler := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		read = len(b)
		return err
	}
	if err := BodyLimit("1K", "1M")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if read != 2048 {
		t.Errorf("expected to read 2048 bytes, got %d", read)
	}
}

func TestRequestTimeout(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/slow", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}

	err := RequestTimeout(10 * time.Millisecond)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func tightLimits() RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerSecond, cfg.BurstSize = 0.001, 1
	cfg.WriteRequestsPerSecond, cfg.WriteBurstSize = 0.001, 1
	return cfg
}

func rateLimitedCall(mw echo.MiddlewareFunc, method, path, user string) error {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), user, "", nil))
	}
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	return mw(ok)(e.NewContext(req, httptest.NewRecorder()))
}

func expectTooMany(t *testing.T, err error) {
	t.Helper()
	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestRateLimit_KeysByUser(t *testing.T) {
	mw := RateLimit(tightLimits())

	if err := rateLimitedCall(mw, http.MethodGet, "/api/v1/records", "alice"); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := rateLimitedCall(mw, http.MethodGet, "/api/v1/records", "bob"); err != nil {
		t.Fatalf("other user should have own bucket: %v", err)
	}
	expectTooMany(t, rateLimitedCall(mw, http.MethodGet, "/api/v1/records", "alice"))
}

func TestRateLimit_WritesHaveOwnBudget(t *testing.T) {
	cfg := tightLimits()
	cfg.RequestsPerSecond, cfg.BurstSize = 100, 100
	mw := RateLimit(cfg)

	if err := rateLimitedCall(mw, http.MethodPost, "/api/v1/consents", "alice"); err != nil {
		t.Fatalf("first write should pass: %v", err)
	}
	expectTooMany(t, rateLimitedCall(mw, http.MethodPost, "/api/v1/records", "alice"))

	// Reads and writes elsewhere still use the general budget.
	for _, call := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/records"},
		{http.MethodPut, "/api/v1/notifications/read-all"},
		{http.MethodPost, "/api/v1/consultations"},
	} {
		if err := rateLimitedCall(mw, call.method, call.path, "alice"); err != nil {
			t.Errorf("%s %s should use the read budget: %v", call.method, call.path, err)
		}
	}
}

func TestRateLimit_EvictsIdleCallers(t *testing.T) {
	cfg := tightLimits()
	cfg.IdleTTL = 5 * time.Millisecond
	mw := RateLimit(cfg)

	if err := rateLimitedCall(mw, http.MethodGet, "/api/v1/records", "alice"); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	// Any later request sweeps buckets idle past the TTL.
	if err := rateLimitedCall(mw, http.MethodGet, "/api/v1/records", "bob"); err != nil {
		t.Fatalf("bob should pass: %v", err)
	}
	if err := rateLimitedCall(mw, http.MethodGet, "/api/v1/records", "alice"); err != nil {
		t.Fatalf("expected alice to get a fresh bucket after idling, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		perSecond float64
		want      string
	}{
		{100, "1"},
		{0.5, "2"},
		{0.1, "10"},
		{0, "1"},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.perSecond); got != tt.want {
			t.Errorf("retryAfter(%v) = %s, want %s", tt.perSecond, got, tt.want)
		}
	}
}

func TestRequestTimeout_StreamingNotCutOff(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/records/abc/file", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on streaming requests")
		}
		time.Sleep(30 * time.Millisecond)
		return nil
	}

	if err := RequestTimeout(10 * time.Millisecond)(handler)(c); err != nil {
		t.Fatalf("expected download to finish, got %v", err)
	}
}

func TestRecovery_LogsRoute(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/records", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/records")
	c.Set("request_id", "req-1")

	handler := func(c echo.Context) error {
		panic("boom")
	}
	Recovery(zerolog.New(&buf))(handler)(c)

	for _, want := range []string{`"request_id":"req-1"`, `"route":"/api/v1/records"`, `"panic":"boom"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %s in log, got %s", want, buf.String())
		}
	}
}
