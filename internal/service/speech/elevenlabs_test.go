package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

var testVoice = persona.Voice{ID: "voice-a", Settings: persona.VoiceSettings{
	Stability: 0.6, SimilarityBoost: 0.8, Style: 0.3, UseSpeakerBoost: true,
}}

func TestClientSynthesizeSendsVoiceSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/text-to-speech/voice-a", r.URL.Path)
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "waves", body["text"])
		assert.Equal(t, DefaultModelID, body["model_id"])
		settings := body["voice_settings"].(map[string]any)
		assert.Equal(t, 0.8, settings["similarity_boost"])
		assert.Equal(t, true, settings["use_speaker_boost"])

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{APIKey: "secret", BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	audio, err := client.Synthesize(context.Background(), "waves", testVoice)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), audio)
}

func TestClientSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"bad key"}`, wantKind: KindCredentials},
		{name: "server error", status: http.StatusInternalServerError, body: "oops", wantKind: KindBackend},
		{name: "empty body", status: http.StatusOK, body: "", wantKind: KindEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL}, nil)
			_, err := client.Synthesize(context.Background(), "hi", testVoice)

			var se *SynthesisError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.wantKind, se.Kind)
		})
	}
}

func TestClientMissingCredentials(t *testing.T) {
	client := NewClient(ClientConfig{}, nil)
	_, err := client.Synthesize(context.Background(), "hi", testVoice)

	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindCredentials, se.Kind)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestClientVoicesAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/voices":
			_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel","labels":{"accent":"american"}}]}`))
		case "/v1/user/subscription":
			_, _ = w.Write([]byte(`{"character_count":420,"character_limit":20000,"can_extend_character_limit":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL}, nil)

	voices, err := client.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "Rachel", voices[0].Name)
	assert.Equal(t, "american", voices[0].Labels["accent"])

	usage, err := client.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Usage{Used: 420, Limit: 20000, CanExtend: true}, usage)
}

func TestClientUsageFallsBackToDefaultLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	usage, err := client.Usage(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Usage{Limit: DefaultCharacterLimit}, usage)
}
