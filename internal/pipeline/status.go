package pipeline

import (
	"context"
	"fmt"
	"strings"

	"pictrans/internal/domain"
)

// AreaView is the client-facing projection of an area. TranslatedText is
// only populated once the service has reached the translation stage.
type AreaView struct {
	ID             int64       `json:"id"`
	Rect           domain.Rect `json:"rect"`
	OriginText     string      `json:"origin_text,omitempty"`
	TranslatedText string      `json:"translated_text,omitempty"`
}

// StatusSnapshot is what a polling client sees: the current phase, a
// ready flag, and whatever stage output is reviewable right now.
type StatusSnapshot struct {
	ServiceID        int64         `json:"service_id"`
	Step             domain.Step   `json:"step"`
	Status           domain.Status `json:"status"`
	Ready            bool          `json:"ready"`
	Areas            []AreaView    `json:"areas,omitempty"`
	ComposedFilename string        `json:"composed_filename,omitempty"`
}

// GetService returns the raw service record.
func (p *Pipeline) GetService(ctx context.Context, serviceID int64) (*domain.Service, error) {
	return p.services.GetByID(ctx, serviceID)
}

// GetStatus assembles the polling snapshot. While a step is PROCESSING
// the snapshot carries only the phase; once a step rests at PENDING its
// output becomes visible for review, and the terminal state exposes the
// composed image.
func (p *Pipeline) GetStatus(ctx context.Context, serviceID int64) (*StatusSnapshot, error) {
	svc, err := p.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	snap := &StatusSnapshot{
		ServiceID: svc.ID,
		Step:      svc.Step,
		Status:    svc.Status,
	}

	switch {
	case svc.Phase() == phase(domain.StepDetecting, domain.StatusPending):
		snap.Ready = true
		snap.Areas, err = p.areaViews(ctx, serviceID, false)
	case svc.Phase() == phase(domain.StepTranslating, domain.StatusPending):
		snap.Ready = true
		snap.Areas, err = p.areaViews(ctx, serviceID, true)
	case svc.Phase() == phase(domain.StepComposing, domain.StatusCompleted):
		snap.Ready = true
		if svc.ComposedImageID != nil {
			img, imgErr := p.images.GetByID(ctx, *svc.ComposedImageID)
			if imgErr != nil {
				return nil, fmt.Errorf("resolve composed image: %w", imgErr)
			}
			snap.ComposedFilename = img.Filename
		}
	case svc.Phase() == phase(domain.StepBounding, domain.StatusPending):
		snap.Ready = true
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (p *Pipeline) areaViews(ctx context.Context, serviceID int64, withTranslation bool) ([]AreaView, error) {
	areas, err := p.areas.ListByService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	views := make([]AreaView, len(areas))
	for i, a := range areas {
		v := AreaView{ID: a.ID, Rect: a.Rect}
		if a.OriginText != nil {
			v.OriginText = *a.OriginText
		}
		if withTranslation && a.TranslatedText != nil {
			v.TranslatedText = *a.TranslatedText
		}
		views[i] = v
	}
	return views, nil
}

// UpdateOriginText lets a reviewer correct detected text while the
// service rests at (DETECTING, PENDING).
func (p *Pipeline) UpdateOriginText(ctx context.Context, serviceID, areaID int64, text string) (*domain.Area, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyInput
	}
	if err := p.requireAreaEditable(ctx, serviceID, areaID, domain.StepDetecting); err != nil {
		return nil, err
	}
	return p.areas.UpdateFields(ctx, areaID, domain.AreaUpdate{OriginText: &text})
}

// UpdateTranslatedText lets a reviewer correct a translation while the
// service rests at (TRANSLATING, PENDING).
func (p *Pipeline) UpdateTranslatedText(ctx context.Context, serviceID, areaID int64, text string) (*domain.Area, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyInput
	}
	if err := p.requireAreaEditable(ctx, serviceID, areaID, domain.StepTranslating); err != nil {
		return nil, err
	}
	return p.areas.UpdateFields(ctx, areaID, domain.AreaUpdate{TranslatedText: &text})
}

// DeleteArea drops a misdetected area during detection review. Once the
// service has advanced past detection the area set is frozen.
func (p *Pipeline) DeleteArea(ctx context.Context, serviceID, areaID int64) error {
	if err := p.requireAreaEditable(ctx, serviceID, areaID, domain.StepDetecting); err != nil {
		return err
	}
	return p.areas.Delete(ctx, areaID)
}

// RecordDetectedText is the worker-facing write path for one detection
// result. When the write leaves no area of the cohort without text, the
// whole stage completes.
func (p *Pipeline) RecordDetectedText(ctx context.Context, serviceID, areaID int64, text string) error {
	if _, err := p.areas.UpdateFields(ctx, areaID, domain.AreaUpdate{OriginText: &text}); err != nil {
		return err
	}
	missing, err := p.areas.CountMissingOriginText(ctx, serviceID)
	if err != nil {
		return err
	}
	if missing > 0 {
		return nil
	}
	return p.ReportDetectionComplete(ctx, serviceID)
}

// RecordTranslations is the worker-facing write path for a finished
// translation batch, keyed by area id.
func (p *Pipeline) RecordTranslations(ctx context.Context, serviceID int64, translations map[int64]string) error {
	for areaID, text := range translations {
		text := text
		if _, err := p.areas.UpdateFields(ctx, areaID, domain.AreaUpdate{TranslatedText: &text}); err != nil {
			return err
		}
	}
	return p.ReportTranslationComplete(ctx, serviceID)
}

func (p *Pipeline) requireAreaEditable(ctx context.Context, serviceID, areaID int64, step domain.Step) error {
	svc, err := p.services.GetByID(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.Phase() != phase(step, domain.StatusPending) {
		return fmt.Errorf("service %d is at %s: %w", serviceID, svc.Phase(), domain.ErrInvalidStage)
	}
	area, err := p.areas.GetByID(ctx, areaID)
	if err != nil {
		return err
	}
	if area.ServiceID != serviceID {
		return fmt.Errorf("area %d belongs to service %d: %w", areaID, area.ServiceID, domain.ErrAreaOwnership)
	}
	return nil
}
