package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"pictrans/internal/domain"
)

// Dispatcher hands work to the asynchronous execution layer. Emission is
// fire-and-forget: the pipeline never blocks on worker completion.
type Dispatcher interface {
	DispatchDetection(ctx context.Context, task domain.DetectionTask) error
	DispatchTranslation(ctx context.Context, task domain.TranslationTask) error
	DispatchComposition(ctx context.Context, task domain.CompositionTask) error
}

// Cropper produces the per-area crop artifacts from the origin image.
// Discard removes already-saved crops when a later step of the same unit
// of work fails, so the whole unit can retry from scratch.
type Cropper interface {
	Crop(ctx context.Context, originFilename string, r domain.Rect) (string, error)
	Discard(ctx context.Context, filenames []string)
}

// Pipeline is the state machine driving a service through its four
// stages. All coordination happens through the persisted records: the
// repositories' guarded transitions serialize concurrent mutations of
// the same service.
type Pipeline struct {
	services   domain.ServiceRepository
	areas      domain.AreaRepository
	images     domain.ImageRepository
	cropper    Cropper
	dispatcher Dispatcher
	logger     zerolog.Logger
}

// New wires a pipeline over its collaborators.
func New(
	services domain.ServiceRepository,
	areas domain.AreaRepository,
	images domain.ImageRepository,
	cropper Cropper,
	dispatcher Dispatcher,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		services:   services,
		areas:      areas,
		images:     images,
		cropper:    cropper,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func phase(step domain.Step, status domain.Status) domain.Phase {
	return domain.Phase{Step: step, Status: status}
}

// StartService accepts an uploaded image into the pipeline, creating a
// service at (BOUNDING, PENDING).
func (p *Pipeline) StartService(ctx context.Context, originFilename string, lang domain.Language, mode domain.Mode) (*domain.Service, error) {
	if !lang.Valid() {
		return nil, domain.ErrInvalidLanguage
	}
	if !mode.Valid() {
		return nil, domain.ErrInvalidMode
	}

	img, err := p.images.GetByFilename(ctx, originFilename)
	if err != nil {
		return nil, fmt.Errorf("resolve origin image %q: %w", originFilename, err)
	}

	svc, err := p.services.Create(ctx, &domain.Service{
		OriginImageID:  img.ID,
		Mode:           mode,
		Step:           domain.StepBounding,
		Status:         domain.StatusPending,
		OriginLanguage: lang,
	})
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}

	p.logger.Info().Int64("service_id", svc.ID).Str("mode", string(mode)).Msg("service started")
	return svc, nil
}

// AdvanceToDetecting creates the service's areas from the given
// rectangle definitions, produces one crop artifact per area, moves the
// service to (DETECTING, PROCESSING), and emits one detection task per
// area with the service id as the cohort key.
//
// The crop production, the area inserts, and the transition are one
// logical unit of work: if anything fails partway, already-saved crops
// are discarded and the persisted state is untouched.
func (p *Pipeline) AdvanceToDetecting(ctx context.Context, serviceID int64, defs []domain.Rect) ([]domain.Area, error) {
	if len(defs) == 0 {
		return nil, domain.ErrEmptyInput
	}
	for _, r := range defs {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("area %+v: %w", r, err)
		}
	}

	svc, err := p.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Phase() != phase(domain.StepBounding, domain.StatusPending) {
		return nil, fmt.Errorf("service %d is at %s: %w", serviceID, svc.Phase(), domain.ErrInvalidStage)
	}

	origin, err := p.images.GetByID(ctx, svc.OriginImageID)
	if err != nil {
		return nil, fmt.Errorf("resolve origin image: %w", err)
	}

	crops := make([]string, 0, len(defs))
	for _, r := range defs {
		name, err := p.cropper.Crop(ctx, origin.Filename, r)
		if err != nil {
			p.cropper.Discard(ctx, crops)
			return nil, fmt.Errorf("crop %+v: %w", r, err)
		}
		crops = append(crops, name)
	}

	drafts := make([]domain.AreaDraft, len(defs))
	for i, r := range defs {
		drafts[i] = domain.AreaDraft{Rect: r, CropFilename: crops[i]}
	}

	areas, err := p.services.TransitionWithAreas(ctx, serviceID,
		phase(domain.StepBounding, domain.StatusPending),
		phase(domain.StepDetecting, domain.StatusProcessing),
		drafts,
	)
	if err != nil {
		p.cropper.Discard(ctx, crops)
		return nil, err
	}

	for _, a := range areas {
		task := domain.DetectionTask{
			ServiceID:    serviceID,
			AreaID:       a.ID,
			CropFilename: a.CropFilename,
			Language:     svc.OriginLanguage,
		}
		if err := p.dispatcher.DispatchDetection(ctx, task); err != nil {
			return areas, p.dispatchFailed(ctx, serviceID, err)
		}
	}

	p.logger.Info().Int64("service_id", serviceID).Int("areas", len(areas)).Msg("detection dispatched")
	return areas, nil
}

// ReportDetectionComplete records that every area of the cohort carries
// detected text, moving the service to (DETECTING, PENDING). Repeated
// calls for an already-completed cohort are a no-op: dispatch payloads
// cross a process boundary and a second delivery must not corrupt state.
func (p *Pipeline) ReportDetectionComplete(ctx context.Context, serviceID int64) error {
	return p.reportStageDone(ctx, serviceID, domain.StepDetecting)
}

// AdvanceToTranslating moves a reviewed detection result into the
// translation stage and emits one translation task for the service.
func (p *Pipeline) AdvanceToTranslating(ctx context.Context, serviceID int64, target domain.Language) (*domain.Service, error) {
	if !target.Valid() {
		return nil, domain.ErrInvalidLanguage
	}

	svc, err := p.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	err = p.services.Transition(ctx, serviceID,
		phase(domain.StepDetecting, domain.StatusPending),
		phase(domain.StepTranslating, domain.StatusProcessing),
		domain.TransitionUpdate{TargetLanguage: &target},
	)
	if err != nil {
		return nil, err
	}

	task := domain.TranslationTask{ServiceID: serviceID, Origin: svc.OriginLanguage, Target: target}
	if err := p.dispatcher.DispatchTranslation(ctx, task); err != nil {
		return nil, p.dispatchFailed(ctx, serviceID, err)
	}

	p.logger.Info().Int64("service_id", serviceID).Str("target", string(target)).Msg("translation dispatched")
	return p.services.GetByID(ctx, serviceID)
}

// ReportTranslationComplete moves the service to (TRANSLATING, PENDING).
// Idempotent like ReportDetectionComplete.
func (p *Pipeline) ReportTranslationComplete(ctx context.Context, serviceID int64) error {
	return p.reportStageDone(ctx, serviceID, domain.StepTranslating)
}

// AdvanceToComposing moves a reviewed translation into the composition
// stage and emits one composition task.
func (p *Pipeline) AdvanceToComposing(ctx context.Context, serviceID int64) (*domain.Service, error) {
	svc, err := p.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	err = p.services.Transition(ctx, serviceID,
		phase(domain.StepTranslating, domain.StatusPending),
		phase(domain.StepComposing, domain.StatusProcessing),
		domain.TransitionUpdate{},
	)
	if err != nil {
		return nil, err
	}

	task := domain.CompositionTask{ServiceID: serviceID, Mode: svc.Mode}
	if err := p.dispatcher.DispatchComposition(ctx, task); err != nil {
		return nil, p.dispatchFailed(ctx, serviceID, err)
	}

	p.logger.Info().Int64("service_id", serviceID).Msg("composition dispatched")
	return p.services.GetByID(ctx, serviceID)
}

// ReportCompositionComplete stores the composed image reference and
// moves the service into its terminal (COMPOSING, COMPLETED) state.
func (p *Pipeline) ReportCompositionComplete(ctx context.Context, serviceID, composedImageID int64) error {
	if composedImageID <= 0 {
		return fmt.Errorf("composition reported without image: %w", domain.ErrMissingArtifact)
	}
	return p.services.Transition(ctx, serviceID,
		phase(domain.StepComposing, domain.StatusProcessing),
		phase(domain.StepComposing, domain.StatusCompleted),
		domain.TransitionUpdate{ComposedImageID: &composedImageID},
	)
}

// MarkStageFailed is the worker failure path: whichever step is
// currently PROCESSING flips to FAILED. The attempt stays failed until
// an operator retries it.
func (p *Pipeline) MarkStageFailed(ctx context.Context, serviceID int64) error {
	return p.services.FailProcessing(ctx, serviceID)
}

// RetryStage is the operator recovery capability: a FAILED step
// re-enters PROCESSING and the stage's dispatch payloads are re-emitted.
func (p *Pipeline) RetryStage(ctx context.Context, serviceID int64) (*domain.Service, error) {
	svc, err := p.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Status != domain.StatusFailed {
		return nil, fmt.Errorf("service %d is at %s: %w", serviceID, svc.Phase(), domain.ErrInvalidStage)
	}

	err = p.services.Transition(ctx, serviceID,
		phase(svc.Step, domain.StatusFailed),
		phase(svc.Step, domain.StatusProcessing),
		domain.TransitionUpdate{},
	)
	if err != nil {
		return nil, err
	}

	switch svc.Step {
	case domain.StepDetecting:
		areas, err := p.areas.ListByService(ctx, serviceID)
		if err != nil {
			return nil, err
		}
		for _, a := range areas {
			task := domain.DetectionTask{
				ServiceID:    serviceID,
				AreaID:       a.ID,
				CropFilename: a.CropFilename,
				Language:     svc.OriginLanguage,
			}
			if err := p.dispatcher.DispatchDetection(ctx, task); err != nil {
				return nil, p.dispatchFailed(ctx, serviceID, err)
			}
		}
	case domain.StepTranslating:
		if svc.TargetLanguage == nil {
			return nil, fmt.Errorf("service %d has no target language: %w", serviceID, domain.ErrInvalidStage)
		}
		task := domain.TranslationTask{ServiceID: serviceID, Origin: svc.OriginLanguage, Target: *svc.TargetLanguage}
		if err := p.dispatcher.DispatchTranslation(ctx, task); err != nil {
			return nil, p.dispatchFailed(ctx, serviceID, err)
		}
	case domain.StepComposing:
		task := domain.CompositionTask{ServiceID: serviceID, Mode: svc.Mode}
		if err := p.dispatcher.DispatchComposition(ctx, task); err != nil {
			return nil, p.dispatchFailed(ctx, serviceID, err)
		}
	default:
		return nil, fmt.Errorf("step %s has no dispatch to retry: %w", svc.Step, domain.ErrInvalidStage)
	}

	p.logger.Info().Int64("service_id", serviceID).Str("step", string(svc.Step)).Msg("stage retried")
	return p.services.GetByID(ctx, serviceID)
}

// reportStageDone performs the PROCESSING→PENDING flip for the given
// step. A service already resting at (step, PENDING) reports success, so
// duplicate completion reports collapse into a no-op.
func (p *Pipeline) reportStageDone(ctx context.Context, serviceID int64, step domain.Step) error {
	err := p.services.Transition(ctx, serviceID,
		phase(step, domain.StatusProcessing),
		phase(step, domain.StatusPending),
		domain.TransitionUpdate{},
	)
	if err == nil || !errors.Is(err, domain.ErrInvalidStage) {
		return err
	}

	svc, getErr := p.services.GetByID(ctx, serviceID)
	if getErr != nil {
		return getErr
	}
	if svc.Phase() == phase(step, domain.StatusPending) {
		return nil
	}
	return err
}

// dispatchFailed flips the freshly-entered PROCESSING stage to FAILED so
// a broker outage never leaves a service invisibly stuck, then returns
// the original error.
func (p *Pipeline) dispatchFailed(ctx context.Context, serviceID int64, cause error) error {
	if err := p.services.FailProcessing(ctx, serviceID); err != nil {
		p.logger.Error().Err(err).Int64("service_id", serviceID).Msg("could not mark dispatch failure")
	}
	return fmt.Errorf("dispatch: %w", cause)
}
