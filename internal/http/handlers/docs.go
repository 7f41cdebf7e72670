package handlers

import (
	"net/http"

	"pictrans/internal/domain"
)

// DocsEnums exposes the pipeline vocabulary so clients can render
// human-readable labels without hardcoding them.
func (a *App) DocsEnums(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"steps":     domain.StepDescriptions,
		"statuses":  domain.StatusDescriptions,
		"modes":     domain.ModeDescriptions,
		"languages": domain.LanguageDescriptions,
	})
}
