package settings

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/event"
	"github.com/zhouzirui/z-tavern/roleplay/internal/settings"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

// Channel 是可调节开关和音量的音频通道
type Channel interface {
	SetEnabled(enabled bool)
	SetVolume(v float64)
}

// Handler serves and persists the audio preferences.
type Handler struct {
	store   settings.Store
	speech  Channel
	effects Channel
	events  event.Publisher
	logger  *zap.Logger

	mu    sync.Mutex
	state settings.State
}

// New creates the handler and pushes initial to both channels.
func New(store settings.Store, initial settings.State, speech, effects Channel, events event.Publisher, logger *zap.Logger) *Handler {
	if events == nil {
		events = event.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		store:   store,
		speech:  speech,
		effects: effects,
		events:  events,
		logger:  logger.Named("settings"),
		state:   initial.Normalized(),
	}
	h.push(h.state)
	return h
}

// RegisterRoutes 注册设置相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.handleGet)
	r.Patch("/settings", h.handlePatch)
}

// State returns the active preferences.
func (h *Handler) State() settings.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.State())
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	next := h.state.Apply(patch)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	err := settings.Save(ctx, h.store, next)
	cancel()
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("save settings failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	h.state = next
	h.push(next)
	h.mu.Unlock()

	h.events.Publish(event.New(event.TypeSettingsChange, map[string]any{"settings": next}))
	utils.RespondJSON(w, http.StatusOK, next)
}

func (h *Handler) push(st settings.State) {
	if h.speech != nil {
		h.speech.SetEnabled(st.Speech.Enabled)
		h.speech.SetVolume(st.Speech.Volume)
	}
	if h.effects != nil {
		h.effects.SetEnabled(st.Effects.Enabled)
		h.effects.SetVolume(st.Effects.Volume)
	}
}
