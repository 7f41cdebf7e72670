package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidStage    = errors.New("invalid stage")
	ErrEmptyInput      = errors.New("empty input")
	ErrMissingArtifact = errors.New("missing artifact")
	ErrPathViolation   = errors.New("path violation")
	ErrConflict        = errors.New("concurrency conflict")
	ErrInvalidArea     = errors.New("invalid area bounds")
	ErrAreaOwnership   = errors.New("area does not belong to service")
	ErrInvalidLanguage = errors.New("unsupported language")
	ErrInvalidMode     = errors.New("unsupported mode")
)
