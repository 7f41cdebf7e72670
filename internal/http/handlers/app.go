package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"pictrans/internal/domain"
	"pictrans/internal/pipeline"
	"pictrans/internal/storage"
)

// App bundles the handler dependencies.
type App struct {
	Pipe   *pipeline.Pipeline
	Images domain.ImageRepository
	Store  storage.Store
	Logger zerolog.Logger
}

// NewApp creates the handler set.
func NewApp(pipe *pipeline.Pipeline, images domain.ImageRepository, store storage.Store, logger zerolog.Logger) *App {
	return &App{Pipe: pipe, Images: images, Store: store, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": slug, "message": message}})
}

// fail translates a domain error into its HTTP shape.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrInvalidStage):
		a.error(w, http.StatusBadRequest, "invalid_stage", "operation not allowed in the current stage")
	case errors.Is(err, domain.ErrEmptyInput):
		a.error(w, http.StatusBadRequest, "empty_input", "input must not be empty")
	case errors.Is(err, domain.ErrInvalidArea):
		a.error(w, http.StatusBadRequest, "invalid_area", "area coordinates are invalid")
	case errors.Is(err, domain.ErrAreaOwnership):
		a.error(w, http.StatusBadRequest, "area_ownership", "area does not belong to this service")
	case errors.Is(err, domain.ErrMissingArtifact):
		a.error(w, http.StatusBadRequest, "missing_artifact", "required artifact is missing")
	case errors.Is(err, domain.ErrPathViolation):
		a.error(w, http.StatusBadRequest, "path_violation", "filename is not allowed")
	case errors.Is(err, domain.ErrInvalidLanguage):
		a.error(w, http.StatusBadRequest, "invalid_language", "unsupported language")
	case errors.Is(err, domain.ErrInvalidMode):
		a.error(w, http.StatusBadRequest, "invalid_mode", "unsupported mode")
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", "concurrent modification, retry the request")
	default:
		a.Logger.Error().Err(err).Msg("unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
