package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(CORSOptions{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/settings", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := CORS(CORSOptions{AllowedOrigins: []string{"http://app.local"}})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/personas", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerRecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/session", nil))

	entries := logs.FilterMessage("request").All()
	if assert.Len(t, entries, 1) {
		assert.EqualValues(t, http.StatusTeapot, entries[0].ContextMap()["status"])
		assert.Equal(t, "/api/session", entries[0].ContextMap()["path"])
	}
}
