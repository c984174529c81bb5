package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatmodel "github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	chatService "github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

// Handler 会话服务的HTTP处理器
type Handler struct {
	session      *chatService.Session
	personaStore persona.Store
	logger       *zap.Logger
}

// New 创建会话处理器
func New(session *chatService.Session, personaStore persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		session:      session,
		personaStore: personaStore,
		logger:       logger.Named("session"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(sr chi.Router) {
		sr.Get("/", h.handleGetSession)
		sr.Post("/persona", h.handleSwitchPersona)
		sr.Post("/messages", h.handleSubmit)
		sr.Post("/reset", h.handleReset)
		sr.Delete("/error", h.handleDismissError)
		sr.Get("/stats", h.handleStats)
		sr.Get("/export", h.handleExport)
		sr.Get("/emotions", h.handleEmotions)
	})
}

type sessionView struct {
	Persona  *persona.Persona    `json:"character"`
	Messages []chatmodel.Message `json:"messages"`
	Emotion  string              `json:"currentEmotion"`
	Typing   bool                `json:"isTyping"`
	Error    string              `json:"error,omitempty"`
}

// handleGetSession 返回当前会话快照
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view := sessionView{
		Messages: h.session.Messages(),
		Emotion:  string(h.session.Emotion()),
		Typing:   h.session.Typing(),
	}
	if view.Messages == nil {
		view.Messages = []chatmodel.Message{}
	}
	if p, ok := h.session.Persona(); ok {
		view.Persona = &p
	}
	if err := h.session.Err(); err != nil {
		view.Error = err.Error()
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

// handleSwitchPersona 切换角色并清空会话
func (h *Handler) handleSwitchPersona(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PersonaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	p, ok := h.personaStore.FindByID(payload.PersonaID)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	h.session.SwitchPersona(p)
	h.logger.Debug("persona selected", zap.String("persona", p.ID))
	utils.RespondJSON(w, http.StatusOK, p)
}

// handleSubmit 提交一条用户消息并返回角色回复
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.session.Submit(r.Context(), payload.Text)
	if err != nil {
		var ve *chatService.ValidationError
		switch {
		case errors.As(err, &ve):
			utils.RespondError(w, http.StatusBadRequest, ve.Err.Error())
		case errors.Is(err, chatService.ErrTurnDiscarded):
			utils.RespondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("submit failed", zap.Error(err))
			utils.RespondError(w, http.StatusInternalServerError, "submit failed")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, msg)
}

// handleReset 清空当前会话
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// handleDismissError 清除错误提示
func (h *Handler) handleDismissError(w http.ResponseWriter, r *http.Request) {
	h.session.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

// handleStats 返回会话统计
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.session.Stats())
}

// handleExport 以附件形式导出会话
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export := h.session.Export()
	name := "chat-export.json"
	if export.Persona.ID != "" {
		name = "chat-" + export.Persona.ID + "-" + export.ExportedAt.Format("2006-01-02") + ".json"
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	utils.RespondJSON(w, http.StatusOK, export)
}

// handleEmotions 返回角色情绪变化历史
func (h *Handler) handleEmotions(w http.ResponseWriter, r *http.Request) {
	history := h.session.EmotionHistory()
	if history == nil {
		history = []chatmodel.EmotionPoint{}
	}
	utils.RespondJSON(w, http.StatusOK, history)
}
