package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// Test that the RequestID middleware sets a header and context value.
func TestRequestID(t *testing.T) {
	cfg := Config{Env: "test"}
	a := NewApp(cfg, nil, nil, nil, nil)
	a.R.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get("request_id")
		if id == "" {
			t.Errorf("missing request_id in context")
		}
		c.JSON(200, gin.H{"ok": true})
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	const inbound = "0b7c2a34-7f3e-4a61-9df1-6f0c2f7f2a10"
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", inbound)
	a.R.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") != inbound {
		t.Fatalf("expected inbound request id to be kept, got %q", rr.Header().Get("X-Request-ID"))
	}
}

// Test that the rate limiter blocks excessive requests.
func TestRateLimit(t *testing.T) {
	cfg := Config{Env: "test", RateLimitRPS: 1, RateLimitBurst: 1}
	a := NewApp(cfg, nil, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || env.Error == nil || env.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited envelope, got %s", rr.Body.String())
	}
}

// Test that the rate limiter is disabled when no configuration is provided.
func TestRateLimitDisabledByDefault(t *testing.T) {
	cfg := Config{Env: "test"}
	a := NewApp(cfg, nil, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		a.R.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
}

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

func TestErrorsEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewApp(Config{Env: "test"}, nil, nil, nil, nil)
	a.R.POST("/things", func(c *gin.Context) {
		var in struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			AbortBind(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/things", nil)
	req.Header.Set("Content-Type", "application/json")
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/things", jsonBody(`{}`))
	req.Header.Set("Content-Type", "application/json")
	a.R.ServeHTTP(rr, req)
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "validation_failed" || env.Error.FieldErrors["name"] != "required" {
		t.Fatalf("unexpected envelope: %s", rr.Body.String())
	}
}

func TestGetConfigSLA(t *testing.T) {
	t.Setenv("SLA_TIMEZONE", "America/New_York")
	t.Setenv("SLA_CALENDAR_TTL_SECONDS", "0")
	cfg := GetConfig()
	if cfg.CalendarTTL != 0 || cfg.SLATimezone != "America/New_York" {
		t.Fatalf("unexpected sla config: %+v", cfg)
	}
	if _, err := cfg.Location(); err != nil {
		t.Skip("tzdata unavailable")
	}
	cfg.SLATimezone = "Mars/Olympus"
	if _, err := cfg.Location(); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
