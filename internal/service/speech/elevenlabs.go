package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
)

const (
	DefaultBaseURL        = "https://api.elevenlabs.io"
	DefaultModelID        = "eleven_monolingual_v1"
	DefaultCharacterLimit = 10000

	// TestSentence is spoken by connectivity checks.
	TestSentence = "Hello, this is a test of the text-to-speech system."

	maxErrorBody = 4 << 10
)

// ClientConfig 描述 ElevenLabs 客户端配置。
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	ModelID    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the ElevenLabs REST API.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a Client, filling defaults for empty fields.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("elevenlabs")}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Synthesize requests MP3 audio for text in the given voice.
func (c *Client) Synthesize(ctx context.Context, text string, voice persona.Voice) ([]byte, error) {
	if !c.Configured() {
		return nil, &SynthesisError{Kind: KindCredentials, Err: ErrMissingCredentials}
	}
	if voice.ID == "" {
		return nil, &SynthesisError{Kind: KindBackend, Err: fmt.Errorf("voice id is required")}
	}

	payload, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       voice.Settings.Stability,
			SimilarityBoost: voice.Settings.SimilarityBoost,
			Style:           voice.Settings.Style,
			UseSpeakerBoost: voice.Settings.UseSpeakerBoost,
		},
	})
	if err != nil {
		return nil, &SynthesisError{Kind: KindBackend, Err: fmt.Errorf("encode request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.cfg.BaseURL, voice.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &SynthesisError{Kind: KindBackend, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SynthesisError{Kind: KindBackend, Err: fmt.Errorf("elevenlabs request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		kind := KindBackend
		if resp.StatusCode == http.StatusUnauthorized {
			kind = KindCredentials
		}
		return nil, &SynthesisError{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("elevenlabs error: %s", strings.TrimSpace(string(body)))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Kind: KindBackend, Err: fmt.Errorf("read audio: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &SynthesisError{Kind: KindEmpty, Err: fmt.Errorf("elevenlabs returned no audio")}
	}

	c.logger.Debug("synthesized speech",
		zap.String("voice", voice.ID),
		zap.Int("chars", len([]rune(text))),
		zap.Int("bytes", len(audio)),
		zap.Duration("latency", time.Since(start)),
	)
	return audio, nil
}

// VoiceInfo is one entry of the voices catalog.
type VoiceInfo struct {
	ID         string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	PreviewURL string            `json:"preview_url,omitempty"`
}

// Voices lists the voices available to the account.
func (c *Client) Voices(ctx context.Context) ([]VoiceInfo, error) {
	var out struct {
		Voices []VoiceInfo `json:"voices"`
	}
	if err := c.getJSON(ctx, "/v1/voices", &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// Usage 描述当前计费周期内的字符用量。
type Usage struct {
	Used      int   `json:"characterCount"`
	Limit     int   `json:"characterLimit"`
	CanExtend bool  `json:"canExtend"`
	ResetUnix int64 `json:"nextResetUnix,omitempty"`
}

// Usage reads the subscription usage. It never fails: when the endpoint is
// unreachable it returns zero usage against DefaultCharacterLimit together
// with the underlying error for logging.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	fallback := Usage{Limit: DefaultCharacterLimit}

	var out struct {
		CharacterCount int   `json:"character_count"`
		CharacterLimit int   `json:"character_limit"`
		CanExtend      bool  `json:"can_extend_character_limit"`
		NextReset      int64 `json:"next_character_count_reset_unix"`
	}
	if err := c.getJSON(ctx, "/v1/user/subscription", &out); err != nil {
		return fallback, err
	}

	usage := Usage{
		Used:      out.CharacterCount,
		Limit:     out.CharacterLimit,
		CanExtend: out.CanExtend,
		ResetUnix: out.NextReset,
	}
	if usage.Limit <= 0 {
		usage.Limit = DefaultCharacterLimit
	}
	return usage, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	if !c.Configured() {
		return ErrMissingCredentials
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("elevenlabs error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
