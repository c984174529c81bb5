package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/roleplay/internal/analysis/emotion"
	chatmodel "github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/ai"
	chatService "github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
)

type stubGenerator struct {
	err error
}

func (g *stubGenerator) Generate(_ context.Context, utterance string, p persona.Persona, _ []chatmodel.Message) (ai.Reply, error) {
	if g.err != nil {
		return ai.Reply{}, g.err
	}
	speech := "smiles"
	return ai.Reply{Text: "*smiles* You said " + utterance, Emotion: emotion.Happy, SpeechText: &speech}, nil
}

func setupRouter(gen chatService.Generator) (*chi.Mux, *chatService.Session) {
	session := chatService.NewSession(gen, chatService.Options{})
	store := persona.NewMemoryStore(persona.Seed())
	handler := New(session, store, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, session
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSwitchPersonaValid(t *testing.T) {
	r, session := setupRouter(&stubGenerator{})

	resp := doJSON(r, http.MethodPost, "/session/persona", map[string]string{"personaId": "sherlock"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	p, ok := session.Persona()
	if !ok || p.ID != "sherlock" {
		t.Fatalf("expected sherlock selected, got %+v", p)
	}
}

func TestSwitchPersonaInvalid(t *testing.T) {
	r, _ := setupRouter(&stubGenerator{})

	tests := []struct {
		name string
		body any
	}{
		{name: "unknown persona", body: map[string]string{"personaId": "non-existent"}},
		{name: "missing persona id", body: map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(r, http.MethodPost, "/session/persona", tt.body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
		})
	}
}

func TestSubmitRequiresPersona(t *testing.T) {
	r, _ := setupRouter(&stubGenerator{})

	resp := doJSON(r, http.MethodPost, "/session/messages", map[string]string{"text": "hello"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(chatService.ErrNoPersona.Error())) {
		t.Fatalf("expected no persona error, got %s", resp.Body.String())
	}
}

func TestSubmitEmptyText(t *testing.T) {
	r, _ := setupRouter(&stubGenerator{})
	doJSON(r, http.MethodPost, "/session/persona", map[string]string{"personaId": "gandalf"})

	resp := doJSON(r, http.MethodPost, "/session/messages", map[string]string{"text": "   "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSubmitReturnsReply(t *testing.T) {
	r, _ := setupRouter(&stubGenerator{})
	doJSON(r, http.MethodPost, "/session/persona", map[string]string{"personaId": "gandalf"})

	resp := doJSON(r, http.MethodPost, "/session/messages", map[string]string{"text": "hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var msg chatmodel.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sender != chatmodel.SenderAssistant || msg.Emotion != "happy" {
		t.Fatalf("unexpected reply %+v", msg)
	}
	if msg.SpeechText == nil || *msg.SpeechText != "smiles" {
		t.Fatalf("expected speech text smiles, got %v", msg.SpeechText)
	}

	resp = doJSON(r, http.MethodGet, "/session/", nil)
	var view struct {
		Messages []chatmodel.Message `json:"messages"`
		Emotion  string              `json:"currentEmotion"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Messages) != 2 || view.Emotion != "happy" {
		t.Fatalf("unexpected session view %+v", view)
	}
}

func TestSubmitFailureIsInCharacterAndDismissable(t *testing.T) {
	r, session := setupRouter(&stubGenerator{err: errors.New("backend down")})
	doJSON(r, http.MethodPost, "/session/persona", map[string]string{"personaId": "gandalf"})

	resp := doJSON(r, http.MethodPost, "/session/messages", map[string]string{"text": "hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var msg chatmodel.Message
	_ = json.Unmarshal(resp.Body.Bytes(), &msg)
	if !msg.Error || msg.Emotion != "thinking" {
		t.Fatalf("expected fallback reply, got %+v", msg)
	}
	if session.Err() == nil {
		t.Fatalf("expected error slot set")
	}

	resp = doJSON(r, http.MethodDelete, "/session/error", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if session.Err() != nil {
		t.Fatalf("expected error slot cleared")
	}
}

func TestResetStatsExport(t *testing.T) {
	r, session := setupRouter(&stubGenerator{})
	doJSON(r, http.MethodPost, "/session/persona", map[string]string{"personaId": "robot"})
	doJSON(r, http.MethodPost, "/session/messages", map[string]string{"text": "beep"})

	resp := doJSON(r, http.MethodGet, "/session/stats", nil)
	var stats chatmodel.Stats
	_ = json.Unmarshal(resp.Body.Bytes(), &stats)
	if stats.Total != 2 || stats.User != 1 || stats.Assistant != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	resp = doJSON(r, http.MethodGet, "/session/emotions", nil)
	var points []chatmodel.EmotionPoint
	_ = json.Unmarshal(resp.Body.Bytes(), &points)
	if len(points) != 1 || points[0].Emotion != "happy" {
		t.Fatalf("unexpected emotion history %+v", points)
	}

	resp = doJSON(r, http.MethodGet, "/session/export", nil)
	if resp.Header().Get("Content-Disposition") == "" {
		t.Fatalf("expected attachment header")
	}
	var export chatmodel.Export
	_ = json.Unmarshal(resp.Body.Bytes(), &export)
	if export.Persona.ID != "robot" || len(export.Messages) != 2 {
		t.Fatalf("unexpected export %+v", export)
	}

	resp = doJSON(r, http.MethodPost, "/session/reset", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if len(session.Messages()) != 0 {
		t.Fatalf("expected empty log after reset")
	}
}
