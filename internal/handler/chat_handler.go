package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
	"github.com/xxxsen/pdfchat/internal/service"
)

const (
	HeaderChatSources = "X-Chat-Sources"
	HeaderStreamError = "X-Stream-Error"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Stream writes the answer as chunked text. Errors found before the first byte get a normal
// error response; a failure mid-answer is reported in the X-Stream-Error trailer.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req service.ChatRequest
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxChatBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			handleError(c, errTooLarge("chat request", maxChatBodySize))
			return
		}
		handleError(c, fmt.Errorf("%w: invalid json body", appErr.ErrInvalid))
		return
	}
	ctx := c.Request.Context()
	stream, err := h.chat.Answer(ctx, req)
	if err != nil {
		handleError(c, err)
		return
	}

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("X-Accel-Buffering", "no")
	header.Set(HeaderChatSources, strings.Join(stream.DocumentIDs, ","))
	header.Set("Trailer", HeaderStreamError)
	c.Status(http.StatusOK)
	w.WriteHeaderNow()
	w.Flush()

	logger := logutil.GetLogger(ctx).With(zap.String("session_id", req.SessionID))
	for fragment, err := range stream.Fragments(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("chat stream failed", zap.Error(err))
			header.Set(HeaderStreamError, err.Error())
			return
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			logger.Warn("write chat fragment failed", zap.Error(err))
			return
		}
		w.Flush()
	}
}
