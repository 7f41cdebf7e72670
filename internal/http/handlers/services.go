package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pictrans/internal/domain"
)

type serviceView struct {
	ID              int64            `json:"id"`
	Mode            domain.Mode      `json:"mode"`
	Step            domain.Step      `json:"step"`
	Status          domain.Status    `json:"status"`
	OriginLanguage  domain.Language  `json:"origin_language"`
	TargetLanguage  *domain.Language `json:"target_language,omitempty"`
	OriginImageID   int64            `json:"origin_image_id"`
	ComposedImageID *int64           `json:"composed_image_id,omitempty"`
}

func newServiceView(svc *domain.Service) serviceView {
	return serviceView{
		ID:              svc.ID,
		Mode:            svc.Mode,
		Step:            svc.Step,
		Status:          svc.Status,
		OriginLanguage:  svc.OriginLanguage,
		TargetLanguage:  svc.TargetLanguage,
		OriginImageID:   svc.OriginImageID,
		ComposedImageID: svc.ComposedImageID,
	}
}

type areaView struct {
	ID             int64       `json:"id"`
	Rect           domain.Rect `json:"rect"`
	CropFilename   string      `json:"crop_filename"`
	OriginText     *string     `json:"origin_text,omitempty"`
	TranslatedText *string     `json:"translated_text,omitempty"`
}

func newAreaView(a *domain.Area) areaView {
	return areaView{
		ID:             a.ID,
		Rect:           a.Rect,
		CropFilename:   a.CropFilename,
		OriginText:     a.OriginText,
		TranslatedText: a.TranslatedText,
	}
}

func (a *App) serviceID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (a *App) areaID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "areaID"), 10, 64)
	return id, err == nil && id > 0
}

type createServiceRequest struct {
	Filename       string `json:"filename"`
	OriginLanguage string `json:"origin_language"`
	Mode           string `json:"mode"`
}

// ServicesCreate starts a new localization pipeline for an uploaded image.
func (a *App) ServicesCreate(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	lang, err := domain.ParseLanguage(req.OriginLanguage)
	if err != nil {
		a.fail(w, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		a.fail(w, err)
		return
	}

	svc, err := a.Pipe.StartService(r.Context(), req.Filename, lang, mode)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, newServiceView(svc))
}

// ServicesGet returns the raw service record.
func (a *App) ServicesGet(w http.ResponseWriter, r *http.Request) {
	id, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	svc, err := a.Pipe.GetService(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, newServiceView(svc))
}

// ServicesStatus returns the polling snapshot with stage output.
func (a *App) ServicesStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	snap, err := a.Pipe.GetStatus(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, snap)
}

type areasRequest struct {
	Areas []domain.Rect `json:"areas"`
}

// ServicesAreas submits the bounding boxes and moves the service into
// detection.
func (a *App) ServicesAreas(w http.ResponseWriter, r *http.Request) {
	id, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	var req areasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	areas, err := a.Pipe.AdvanceToDetecting(r.Context(), id, req.Areas)
	if err != nil {
		a.fail(w, err)
		return
	}
	views := make([]areaView, len(areas))
	for i := range areas {
		views[i] = newAreaView(&areas[i])
	}
	a.json(w, http.StatusCreated, map[string]any{"areas": views})
}

type translateRequest struct {
	TargetLanguage string `json:"target_language"`
}

// ServicesTranslate moves a reviewed detection into translation.
func (a *App) ServicesTranslate(w http.ResponseWriter, r *http.Request) {
	id, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	target, err := domain.ParseLanguage(req.TargetLanguage)
	if err != nil {
		a.fail(w, err)
		return
	}

	svc, err := a.Pipe.AdvanceToTranslating(r.Context(), id, target)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, newServiceView(svc))
}

// ServicesCompose moves a reviewed translation into composition.
func (a *App) ServicesCompose(w http.ResponseWriter, r *http.Request) {
	id, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	svc, err := a.Pipe.AdvanceToComposing(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, newServiceView(svc))
}

// ServicesRetry re-runs a failed stage.
func (a *App) ServicesRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	svc, err := a.Pipe.RetryStage(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, newServiceView(svc))
}

type textRequest struct {
	Text string `json:"text"`
}

// AreasUpdateOriginText corrects detected text during detection review.
func (a *App) AreasUpdateOriginText(w http.ResponseWriter, r *http.Request) {
	a.updateAreaText(w, r, a.Pipe.UpdateOriginText)
}

// AreasUpdateTranslatedText corrects a translation during translation review.
func (a *App) AreasUpdateTranslatedText(w http.ResponseWriter, r *http.Request) {
	a.updateAreaText(w, r, a.Pipe.UpdateTranslatedText)
}

func (a *App) updateAreaText(w http.ResponseWriter, r *http.Request, update func(ctx context.Context, serviceID, areaID int64, text string) (*domain.Area, error)) {
	serviceID, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	areaID, ok := a.areaID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid area id")
		return
	}
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	area, err := update(r.Context(), serviceID, areaID, req.Text)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, newAreaView(area))
}

// AreasDelete removes a misdetected area during detection review.
func (a *App) AreasDelete(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := a.serviceID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid service id")
		return
	}
	areaID, ok := a.areaID(r)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid area id")
		return
	}
	if err := a.Pipe.DeleteArea(r.Context(), serviceID, areaID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
