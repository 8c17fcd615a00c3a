package model

import "strings"

type ModelType string

const (
	ModelTypeHosted ModelType = "hosted"
	ModelTypeLocal  ModelType = "local"
)

// ParseModelType accepts "openai" as an alias of hosted.
func ParseModelType(s string) ModelType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hosted", "openai":
		return ModelTypeHosted
	case "local":
		return ModelTypeLocal
	default:
		return ModelType(strings.ToLower(strings.TrimSpace(s)))
	}
}

type EmbeddingType string

const (
	EmbeddingTypeHosted EmbeddingType = "hosted"
	EmbeddingTypeLocal  EmbeddingType = "local"
)

type ModelConfig struct {
	ModelType     ModelType     `json:"model_type" validate:"oneof=hosted local"`
	ModelPath     string        `json:"model_path,omitempty" validate:"required_if=ModelType local"`
	Temperature   float64       `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens     int           `json:"max_tokens" validate:"gte=1"`
	TopP          float64       `json:"top_p" validate:"gte=0,lte=1"`
	RepeatPenalty float64       `json:"repeat_penalty" validate:"gte=1"`
	NCtx          int           `json:"n_ctx" validate:"gte=1"`
	GPULayers     int           `json:"gpu_layers" validate:"gte=-1"`
	EmbeddingType EmbeddingType `json:"embedding_type"`
}

// Normalize canonicalises model_type and recomputes embedding_type from it.
func (c ModelConfig) Normalize() ModelConfig {
	c.ModelType = ParseModelType(string(c.ModelType))
	c.ModelPath = strings.TrimSpace(c.ModelPath)
	c.EmbeddingType = EmbeddingTypeFor(c.ModelType)
	return c
}

func EmbeddingTypeFor(t ModelType) EmbeddingType {
	if t == ModelTypeLocal {
		return EmbeddingTypeLocal
	}
	return EmbeddingTypeHosted
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelType:     ModelTypeHosted,
		Temperature:   0.1,
		MaxTokens:     512,
		TopP:          0.95,
		RepeatPenalty: 1.2,
		NCtx:          4096,
		GPULayers:     -1,
		EmbeddingType: EmbeddingTypeHosted,
	}
}
