package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/pdfchat/internal/filestore"
	"github.com/xxxsen/pdfchat/internal/model"
	appErr "github.com/xxxsen/pdfchat/internal/pkg/errors"
)

const localModelExt = ".gguf"

// ModelService holds the active model configuration. Readers receive copies.
type ModelService struct {
	mu           sync.RWMutex
	current      model.ModelConfig
	defaults     model.ModelConfig
	models       *filestore.LocalStore
	maxModelSize int64
	validate     *validator.Validate
}

func NewModelService(defaults model.ModelConfig, models *filestore.LocalStore, maxModelSize int64) *ModelService {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	defaults = defaults.Normalize()
	return &ModelService{
		current:      defaults,
		defaults:     defaults,
		models:       models,
		maxModelSize: maxModelSize,
		validate:     v,
	}
}

func (s *ModelService) Get() model.ModelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Defaults is the base that omitted request fields fall back to.
func (s *ModelService) Defaults() model.ModelConfig {
	return s.defaults
}

func (s *ModelService) Set(ctx context.Context, cfg model.ModelConfig) (model.ModelConfig, error) {
	cfg, err := s.Validate(ctx, cfg)
	if err != nil {
		return model.ModelConfig{}, err
	}
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	logutil.GetLogger(ctx).Info("model config updated",
		zap.String("model_type", string(cfg.ModelType)),
		zap.String("model_path", cfg.ModelPath),
	)
	return cfg, nil
}

// Validate normalises cfg and checks its ranges. A local config must name an artifact in the model dir.
func (s *ModelService) Validate(ctx context.Context, cfg model.ModelConfig) (model.ModelConfig, error) {
	cfg = cfg.Normalize()
	if err := s.validate.Struct(cfg); err != nil {
		return model.ModelConfig{}, fmt.Errorf("%w: %s", appErr.ErrInvalidConfig, describeValidation(err))
	}
	if cfg.ModelType != model.ModelTypeLocal {
		return cfg, nil
	}
	path, err := s.resolveArtifact(ctx, cfg.ModelPath)
	if err != nil {
		return model.ModelConfig{}, err
	}
	cfg.ModelPath = path
	return cfg, nil
}

func (s *ModelService) resolveArtifact(ctx context.Context, modelPath string) (string, error) {
	if s.models == nil {
		return "", fmt.Errorf("%w: local models are not enabled", appErr.ErrInvalidConfig)
	}
	name := filepath.Base(modelPath)
	if filepath.IsAbs(modelPath) && filepath.Clean(filepath.Dir(modelPath)) != s.models.Dir() {
		return "", fmt.Errorf("%w: model_path must be inside the model directory", appErr.ErrInvalidConfig)
	}
	ok, err := s.models.Exists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", appErr.ErrInvalidConfig, err.Error())
	}
	if !ok {
		return "", fmt.Errorf("%w: model file not found: %s", appErr.ErrInvalidConfig, name)
	}
	return s.models.Path(name), nil
}

// UploadLocal stores a model artifact and returns its absolute path.
func (s *ModelService) UploadLocal(ctx context.Context, filename string, r io.ReadSeeker, size int64) (string, error) {
	if s.models == nil {
		return "", fmt.Errorf("%w: local models are not enabled", appErr.ErrInvalidConfig)
	}
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || strings.TrimSuffix(name, filepath.Ext(name)) == "" {
		return "", fmt.Errorf("%w: model file name is required", appErr.ErrInvalid)
	}
	if strings.ToLower(filepath.Ext(name)) != localModelExt {
		return "", fmt.Errorf("%w: model file must have the %s extension", appErr.ErrUnsupportedFormat, localModelExt)
	}
	if s.maxModelSize > 0 && size > s.maxModelSize {
		return "", fmt.Errorf("%w: model file exceeds %d bytes", appErr.ErrUploadTooLarge, s.maxModelSize)
	}
	if err := s.models.Save(ctx, name, r, size); err != nil {
		logutil.GetLogger(ctx).Error("save local model failed", zap.String("file", name), zap.Error(err))
		return "", err
	}
	path := s.models.Path(name)
	logutil.GetLogger(ctx).Info("local model uploaded", zap.String("model_path", path), zap.Int64("size", size))
	return path, nil
}

// LocalModelName is the runtime model name of an artifact: its base name without the extension.
func LocalModelName(modelPath string) string {
	base := filepath.Base(modelPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required_if":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "gte":
			parts = append(parts, fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param()))
		case "lte":
			parts = append(parts, fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
