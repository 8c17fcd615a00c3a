package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/middleware"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
	"github.com/xxxsen/pdfchat/internal/pkg/response"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{appErr.ErrUploadTooLarge, http.StatusRequestEntityTooLarge},
	{appErr.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
	{appErr.ErrEmbeddingUnavailable, http.StatusServiceUnavailable},
	{appErr.ErrInvalidConfig, http.StatusBadRequest},
	{appErr.ErrInvalid, http.StatusBadRequest},
	{appErr.ErrSessionNotFound, http.StatusNotFound},
	{appErr.ErrDocumentNotFound, http.StatusNotFound},
	{appErr.ErrNotFound, http.StatusNotFound},
	{appErr.ErrGenerationFailed, http.StatusBadGateway},
}

// statusOf maps an error to its status and the detail shown to clients.
func statusOf(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, appErr.ErrUploadTooLarge.Error()
	}
	for _, item := range errorStatus {
		if errors.Is(err, item.err) {
			return item.status, err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	status, detail := statusOf(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Error(err))
	}
	response.Error(c, status, detail)
}
