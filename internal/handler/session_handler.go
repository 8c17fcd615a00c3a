package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfchat/internal/pkg/response"
	"github.com/xxxsen/pdfchat/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	sess, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, CreateSessionResponse{SessionID: sess.ID})
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sess)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Empty(c, http.StatusNoContent)
}

func (h *SessionHandler) DetachDocument(c *gin.Context) {
	if err := h.sessions.DetachDocument(c.Request.Context(), c.Param("id"), c.Param("doc_id")); err != nil {
		handleError(c, err)
		return
	}
	response.Empty(c, http.StatusNoContent)
}
