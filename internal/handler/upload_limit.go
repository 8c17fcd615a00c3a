package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

const (
	// multipartOverhead covers boundaries and form fields around the file parts.
	multipartOverhead = 1 << 20
	maxChatBodySize   = 1 << 20
)

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

func limitBody(c *gin.Context, limit int64) {
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}
}

func errTooLarge(what string, limit int64) error {
	return fmt.Errorf("%w: %s too large (max %s)", appErr.ErrUploadTooLarge, what, formatUploadLimit(limit))
}
