package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pictrans/internal/domain"
	"pictrans/internal/providers/compose"
	"pictrans/internal/storage"
)

// Recognizer extracts text from one crop image.
type Recognizer interface {
	Recognize(ctx context.Context, crop io.Reader, filename string, lang domain.Language) (string, error)
}

// Translator converts a batch of texts between languages, preserving
// order and length.
type Translator interface {
	Translate(ctx context.Context, texts []string, source, target domain.Language) ([]string, error)
}

// LocalComposer renders patches onto a decoded image in-process.
type LocalComposer interface {
	Compose(ctx context.Context, src image.Image, patches []compose.Patch) (image.Image, error)
}

// BridgeComposer delegates composition to an external service.
type BridgeComposer interface {
	Compose(ctx context.Context, origin []byte, patches []compose.Patch) ([]byte, error)
}

// pipelineOps is the slice of pipeline behavior the worker drives.
type pipelineOps interface {
	GetService(ctx context.Context, serviceID int64) (*domain.Service, error)
	RecordDetectedText(ctx context.Context, serviceID, areaID int64, text string) error
	RecordTranslations(ctx context.Context, serviceID int64, translations map[int64]string) error
	ReportCompositionComplete(ctx context.Context, serviceID, composedImageID int64) error
	MarkStageFailed(ctx context.Context, serviceID int64) error
}

// Worker executes the three asynchronous pipeline stages. A failed
// attempt marks the service's stage FAILED and consumes the message;
// recovery happens through the operator retry path, not redelivery.
type Worker struct {
	pipe       pipelineOps
	areas      domain.AreaRepository
	images     domain.ImageRepository
	store      storage.Store
	recognizer Recognizer
	translator Translator
	renderer   LocalComposer
	bridge     BridgeComposer
	logger     zerolog.Logger
}

// Options wires the worker's collaborators. Bridge may be nil when the
// deployment has no AI composition backend.
type Options struct {
	Pipeline   pipelineOps
	Areas      domain.AreaRepository
	Images     domain.ImageRepository
	Store      storage.Store
	Recognizer Recognizer
	Translator Translator
	Renderer   LocalComposer
	Bridge     BridgeComposer
	Logger     zerolog.Logger
}

// New creates a worker.
func New(opts Options) *Worker {
	return &Worker{
		pipe:       opts.Pipeline,
		areas:      opts.Areas,
		images:     opts.Images,
		store:      opts.Store,
		recognizer: opts.Recognizer,
		translator: opts.Translator,
		renderer:   opts.Renderer,
		bridge:     opts.Bridge,
		logger:     opts.Logger,
	}
}

// HandleDetection runs OCR for one area's crop and records the result.
func (w *Worker) HandleDetection(ctx context.Context, task domain.DetectionTask) error {
	err := w.detect(ctx, task)
	if err != nil {
		w.logger.Error().Err(err).Int64("service_id", task.ServiceID).Int64("area_id", task.AreaID).Msg("detection failed")
		return w.fail(ctx, task.ServiceID)
	}
	return nil
}

func (w *Worker) detect(ctx context.Context, task domain.DetectionTask) error {
	crop, err := w.store.Load(ctx, storage.BucketCrop, task.CropFilename)
	if err != nil {
		return fmt.Errorf("load crop: %w", err)
	}
	defer crop.Close()

	text, err := w.recognizer.Recognize(ctx, crop, task.CropFilename, task.Language)
	if err != nil {
		return fmt.Errorf("recognize: %w", err)
	}
	return w.pipe.RecordDetectedText(ctx, task.ServiceID, task.AreaID, text)
}

// HandleTranslation translates every area's detected text in one batch.
func (w *Worker) HandleTranslation(ctx context.Context, task domain.TranslationTask) error {
	err := w.translate(ctx, task)
	if err != nil {
		w.logger.Error().Err(err).Int64("service_id", task.ServiceID).Msg("translation failed")
		return w.fail(ctx, task.ServiceID)
	}
	return nil
}

func (w *Worker) translate(ctx context.Context, task domain.TranslationTask) error {
	areas, err := w.areas.ListByService(ctx, task.ServiceID)
	if err != nil {
		return fmt.Errorf("list areas: %w", err)
	}

	texts := make([]string, len(areas))
	for i, a := range areas {
		if a.OriginText != nil {
			texts[i] = *a.OriginText
		}
	}

	translated, err := w.translator.Translate(ctx, texts, task.Origin, task.Target)
	if err != nil {
		return fmt.Errorf("translate batch: %w", err)
	}
	if len(translated) != len(areas) {
		return fmt.Errorf("got %d translations for %d areas", len(translated), len(areas))
	}

	results := make(map[int64]string, len(areas))
	for i, a := range areas {
		results[a.ID] = translated[i]
	}
	return w.pipe.RecordTranslations(ctx, task.ServiceID, results)
}

// HandleComposition renders the final image and records its reference.
func (w *Worker) HandleComposition(ctx context.Context, task domain.CompositionTask) error {
	err := w.composeService(ctx, task)
	if err != nil {
		w.logger.Error().Err(err).Int64("service_id", task.ServiceID).Msg("composition failed")
		return w.fail(ctx, task.ServiceID)
	}
	return nil
}

func (w *Worker) composeService(ctx context.Context, task domain.CompositionTask) error {
	svc, err := w.pipe.GetService(ctx, task.ServiceID)
	if err != nil {
		return fmt.Errorf("get service: %w", err)
	}
	origin, err := w.images.GetByID(ctx, svc.OriginImageID)
	if err != nil {
		return fmt.Errorf("resolve origin image: %w", err)
	}

	areas, err := w.areas.ListByService(ctx, task.ServiceID)
	if err != nil {
		return fmt.Errorf("list areas: %w", err)
	}
	patches := make([]compose.Patch, len(areas))
	for i, a := range areas {
		p := compose.Patch{Rect: a.Rect}
		if a.TranslatedText != nil {
			p.Text = *a.TranslatedText
		}
		patches[i] = p
	}

	src, err := w.store.Load(ctx, storage.BucketOrigin, origin.Filename)
	if err != nil {
		return fmt.Errorf("load origin: %w", err)
	}
	defer src.Close()

	var composed []byte
	switch task.Mode {
	case domain.ModeAI:
		if w.bridge == nil {
			return fmt.Errorf("no composition backend for mode %s", task.Mode)
		}
		originBytes, err := io.ReadAll(src)
		if err != nil {
			return fmt.Errorf("read origin: %w", err)
		}
		composed, err = w.bridge.Compose(ctx, originBytes, patches)
		if err != nil {
			return fmt.Errorf("bridge compose: %w", err)
		}
	default:
		img, err := imaging.Decode(src)
		if err != nil {
			return fmt.Errorf("decode origin: %w", err)
		}
		result, err := w.renderer.Compose(ctx, img, patches)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		buf := new(bytes.Buffer)
		if err := imaging.Encode(buf, result, imaging.PNG); err != nil {
			return fmt.Errorf("encode composed image: %w", err)
		}
		composed = buf.Bytes()
	}

	filename := uuid.NewString() + ".png"
	if _, err := w.store.Save(ctx, storage.BucketCompose, filename, bytes.NewReader(composed)); err != nil {
		return fmt.Errorf("save composed image: %w", err)
	}

	img, err := w.images.Create(ctx, filename)
	if err != nil {
		return fmt.Errorf("record composed image: %w", err)
	}
	return w.pipe.ReportCompositionComplete(ctx, task.ServiceID, img.ID)
}

// fail flips the stage to FAILED and consumes the message. A transient
// error on the flip itself propagates so the broker redelivers and the
// flip is retried.
func (w *Worker) fail(ctx context.Context, serviceID int64) error {
	err := w.pipe.MarkStageFailed(ctx, serviceID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidStage), errors.Is(err, domain.ErrNotFound):
		// The service already moved on; nothing to mark.
		return nil
	default:
		return fmt.Errorf("mark stage failed: %w", err)
	}
}
