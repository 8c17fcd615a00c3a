package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
	"github.com/xxxsen/pdfchat/internal/pkg/response"
	"github.com/xxxsen/pdfchat/internal/service"
)

type ModelHandler struct {
	models       *service.ModelService
	maxModelSize int64
}

func NewModelHandler(models *service.ModelService, maxModelSize int64) *ModelHandler {
	return &ModelHandler{models: models, maxModelSize: maxModelSize}
}

type UploadModelResponse struct {
	ModelPath string `json:"model_path"`
}

// Configure decodes the request over the configured defaults, so omitted fields keep their default.
func (h *ModelHandler) Configure(c *gin.Context) {
	cfg := h.models.Defaults()
	if err := json.NewDecoder(c.Request.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		handleError(c, fmt.Errorf("%w: %s", appErr.ErrInvalidConfig, err.Error()))
		return
	}
	if _, err := h.models.Set(c.Request.Context(), cfg); err != nil {
		handleError(c, err)
		return
	}
	response.Empty(c, http.StatusOK)
}

func (h *ModelHandler) Config(c *gin.Context) {
	response.Success(c, h.models.Get())
}

func (h *ModelHandler) UploadLocal(c *gin.Context) {
	limitBody(c, h.maxModelSize)
	fh, err := c.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			handleError(c, errTooLarge("model file", h.maxModelSize))
			return
		}
		handleError(c, fmt.Errorf("%w: file is required", appErr.ErrInvalid))
		return
	}
	if h.maxModelSize > 0 && fh.Size > h.maxModelSize {
		handleError(c, errTooLarge("model file", h.maxModelSize))
		return
	}
	f, err := fh.Open()
	if err != nil {
		handleError(c, fmt.Errorf("%w: open %s", appErr.ErrInvalid, fh.Filename))
		return
	}
	defer f.Close()
	path, err := h.models.UploadLocal(c.Request.Context(), fh.Filename, f, fh.Size)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, UploadModelResponse{ModelPath: path})
}
