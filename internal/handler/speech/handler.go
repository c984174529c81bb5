package speech

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/playback"
	speechsvc "github.com/zhouzirui/z-tavern/roleplay/internal/service/speech"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

// Player 抽象语音播放器，便于测试与替换实现
type Player interface {
	Request(ctx context.Context, text string, voice persona.Voice)
	Stop()
	State() playback.State
	Enabled() bool
	SyncUsage(ctx context.Context) (playback.Usage, error)
	NearLimit() bool
}

// VoiceCatalog lists the voices of the speech account.
type VoiceCatalog interface {
	Voices(ctx context.Context) ([]speechsvc.VoiceInfo, error)
}

// ActivePersona reports the persona of the current conversation.
type ActivePersona interface {
	Persona() (persona.Persona, bool)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	player  Player
	voices  VoiceCatalog
	active  ActivePersona
	timeout time.Duration
	logger  *zap.Logger
}

// New 创建语音处理器。voices 为空时 /speech/voices 返回 503。
func New(player Player, voices VoiceCatalog, active ActivePersona, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		player:  player,
		voices:  voices,
		active:  active,
		timeout: 10 * time.Second,
		logger:  logger.Named("speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(sr chi.Router) {
		sr.Get("/", h.handleStatus)
		sr.Post("/stop", h.handleStop)
		sr.Post("/test", h.handleTest)
		sr.Get("/voices", h.handleVoices)
		sr.Get("/usage", h.handleUsage)
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"state":     h.player.State(),
		"isEnabled": h.player.Enabled(),
	})
}

// handleStop 停止当前播放
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.player.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// handleTest 用当前角色或指定声音朗读测试语句
func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		VoiceID string `json:"voiceId"`
		Text    string `json:"text"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	voice := persona.Voice{ID: strings.TrimSpace(payload.VoiceID)}
	if p, ok := h.active.Persona(); ok {
		if voice.ID == "" {
			voice = p.Voice
		} else {
			voice.Settings = p.Voice.Settings
		}
	}
	if voice.ID == "" {
		utils.RespondError(w, http.StatusBadRequest, "voiceId is required when no persona is selected")
		return
	}
	if !h.player.Enabled() {
		utils.RespondError(w, http.StatusConflict, "speech is disabled")
		return
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		text = speechsvc.TestSentence
	}
	h.player.Request(r.Context(), text, voice)
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "voiceId": voice.ID})
}

// handleVoices 列出可用声音
func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	if h.voices == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	voices, err := h.voices.Voices(ctx)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, speechsvc.ErrMissingCredentials) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("list voices failed", zap.Error(err))
		utils.RespondError(w, status, err.Error())
		return
	}
	if voices == nil {
		voices = []speechsvc.VoiceInfo{}
	}
	utils.RespondJSON(w, http.StatusOK, voices)
}

// handleUsage 返回字符用量，远端不可用时返回本地计数
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	usage, err := h.player.SyncUsage(ctx)
	resp := map[string]any{
		"characterCount": usage.Used,
		"characterLimit": usage.Limit,
		"nearLimit":      h.player.NearLimit(),
		"synced":         err == nil,
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
