package errors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalid              = errors.New("invalid request")
	ErrInternal             = errors.New("internal")
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
	ErrInvalidConfig        = errors.New("invalid config")
	ErrSessionNotFound      = errors.New("session not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrGenerationFailed     = errors.New("generation failed")
	ErrUploadTooLarge       = errors.New("upload too large")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrDocumentNotFound)
}
