package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed())).RegisterRoutes(r)
	return r
}

func TestListPersonas(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != len(persona.Seed()) {
		t.Fatalf("expected %d personas, got %d", len(persona.Seed()), len(got))
	}
	if _, leaked := got[0]["prompt"]; leaked {
		t.Fatalf("prompt must not be exposed")
	}
}

func TestGetPersona(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/gandalf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/nobody", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
