package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/library-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/library-chat/backend/internal/service/chat"
	"github.com/zhouzirui/library-chat/backend/pkg/utils"
)

// Handler 会话记录的只读 HTTP 接口，供工作人员查看转人工前的对话。
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/history", h.handleGetHistory)
}

type sessionResponse struct {
	Session chat.Session `json:"session"`
	Turns   int          `json:"turns"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		respondLookupError(w, err)
		return
	}
	turns, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		respondLookupError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionResponse{Session: session, Turns: len(turns)})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondLookupError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

func respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
