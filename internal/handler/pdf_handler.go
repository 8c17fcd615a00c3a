package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/pdfchat/internal/config"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
	"github.com/xxxsen/pdfchat/internal/pkg/response"
	"github.com/xxxsen/pdfchat/internal/service"
)

type PDFHandler struct {
	documents *service.DocumentService
	limits    config.UploadConfig
}

func NewPDFHandler(documents *service.DocumentService, limits config.UploadConfig) *PDFHandler {
	return &PDFHandler{documents: documents, limits: limits}
}

type UploadPDFResponse struct {
	DocumentIDs []string `json:"document_ids"`
	TotalPages  int      `json:"total_pages"`
	SessionID   string   `json:"session_id"`
}

func (h *PDFHandler) Upload(c *gin.Context) {
	limitBody(c, h.limits.MaxFileSize*int64(h.limits.MaxFiles))
	form, err := c.MultipartForm()
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			handleError(c, errTooLarge("upload", h.limits.MaxFileSize*int64(h.limits.MaxFiles)))
			return
		}
		handleError(c, fmt.Errorf("%w: multipart form is required", appErr.ErrInvalid))
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := append(append([]*multipart.FileHeader{}, form.File["files"]...), form.File["file"]...)
	if len(headers) == 0 {
		handleError(c, fmt.Errorf("%w: no files uploaded", appErr.ErrInvalid))
		return
	}
	if h.limits.MaxFiles > 0 && len(headers) > h.limits.MaxFiles {
		handleError(c, fmt.Errorf("%w: at most %d files per upload", appErr.ErrUploadTooLarge, h.limits.MaxFiles))
		return
	}
	uploads := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		if h.limits.MaxFileSize > 0 && fh.Size > h.limits.MaxFileSize {
			handleError(c, errTooLarge(fh.Filename, h.limits.MaxFileSize))
			return
		}
		f, err := fh.Open()
		if err != nil {
			handleError(c, fmt.Errorf("%w: open %s", appErr.ErrInvalid, fh.Filename))
			return
		}
		defer f.Close()
		uploads = append(uploads, service.UploadFile{Filename: fh.Filename, Reader: f, Size: fh.Size})
	}
	sessionID := ""
	if values := form.Value["session_id"]; len(values) > 0 {
		sessionID = values[0]
	}

	res, err := h.documents.Ingest(c.Request.Context(), sessionID, uploads)
	if err != nil {
		handleError(c, err)
		return
	}
	ids := make([]string, 0, len(res.Documents))
	for _, doc := range res.Documents {
		ids = append(ids, doc.ID)
	}
	response.Success(c, UploadPDFResponse{DocumentIDs: ids, TotalPages: res.TotalPages, SessionID: res.SessionID})
}

func (h *PDFHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *PDFHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Empty(c, http.StatusNoContent)
}
