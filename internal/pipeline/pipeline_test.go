package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pictrans/internal/domain"
)

// memState backs the in-memory repositories. The single mutex gives the
// same serialization the database's conditional UPDATE provides.
type memState struct {
	mu        sync.Mutex
	services  map[int64]*domain.Service
	areas     map[int64]*domain.Area
	images    map[int64]*domain.Image
	nextSvc   int64
	nextArea  int64
	nextImage int64
}

func newMemState() *memState {
	return &memState{
		services: make(map[int64]*domain.Service),
		areas:    make(map[int64]*domain.Area),
		images:   make(map[int64]*domain.Image),
	}
}

func (s *memState) addImage(filename string) *domain.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextImage++
	img := &domain.Image{ID: s.nextImage, Filename: filename, CreatedAt: time.Now()}
	s.images[img.ID] = img
	return img
}

type memServices struct{ s *memState }

func (m *memServices) Create(_ context.Context, svc *domain.Service) (*domain.Service, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextSvc++
	cp := *svc
	cp.ID = m.s.nextSvc
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.s.services[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memServices) GetByID(_ context.Context, id int64) (*domain.Service, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	svc, ok := m.s.services[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

func (m *memServices) Transition(_ context.Context, id int64, from, to domain.Phase, upd domain.TransitionUpdate) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.transitionLocked(id, from, to, upd)
}

func (m *memServices) transitionLocked(id int64, from, to domain.Phase, upd domain.TransitionUpdate) error {
	svc, ok := m.s.services[id]
	if !ok {
		return domain.ErrNotFound
	}
	if svc.Phase() != from {
		return fmt.Errorf("expected phase %s: %w", from, domain.ErrInvalidStage)
	}
	svc.Step = to.Step
	svc.Status = to.Status
	if upd.TargetLanguage != nil {
		svc.TargetLanguage = upd.TargetLanguage
	}
	if upd.ComposedImageID != nil {
		svc.ComposedImageID = upd.ComposedImageID
	}
	svc.UpdatedAt = time.Now()
	return nil
}

func (m *memServices) TransitionWithAreas(_ context.Context, id int64, from, to domain.Phase, drafts []domain.AreaDraft) ([]domain.Area, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.transitionLocked(id, from, to, domain.TransitionUpdate{}); err != nil {
		return nil, err
	}
	areas := make([]domain.Area, 0, len(drafts))
	for _, d := range drafts {
		m.s.nextImage++
		m.s.images[m.s.nextImage] = &domain.Image{ID: m.s.nextImage, Filename: d.CropFilename, CreatedAt: time.Now()}
		m.s.nextArea++
		a := domain.Area{
			ID:           m.s.nextArea,
			ServiceID:    id,
			Rect:         d.Rect,
			CropImageID:  m.s.nextImage,
			CropFilename: d.CropFilename,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		cp := a
		m.s.areas[a.ID] = &cp
		areas = append(areas, a)
	}
	return areas, nil
}

func (m *memServices) FailProcessing(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	svc, ok := m.s.services[id]
	if !ok {
		return domain.ErrNotFound
	}
	if svc.Status != domain.StatusProcessing {
		return domain.ErrInvalidStage
	}
	svc.Status = domain.StatusFailed
	return nil
}

type memAreas struct{ s *memState }

func (m *memAreas) GetByID(_ context.Context, id int64) (*domain.Area, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.areas[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAreas) ListByService(_ context.Context, serviceID int64) ([]domain.Area, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Area
	for id := int64(1); id <= m.s.nextArea; id++ {
		if a, ok := m.s.areas[id]; ok && a.ServiceID == serviceID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memAreas) UpdateFields(_ context.Context, id int64, upd domain.AreaUpdate) (*domain.Area, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.areas[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.OriginText != nil {
		a.OriginText = upd.OriginText
	}
	if upd.TranslatedText != nil {
		a.TranslatedText = upd.TranslatedText
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memAreas) Delete(_ context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.areas[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.s.areas, id)
	return nil
}

func (m *memAreas) CountMissingOriginText(_ context.Context, serviceID int64) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for _, a := range m.s.areas {
		if a.ServiceID == serviceID && a.OriginText == nil {
			n++
		}
	}
	return n, nil
}

type memImages struct{ s *memState }

func (m *memImages) Create(_ context.Context, filename string) (*domain.Image, error) {
	return m.s.addImage(filename), nil
}

func (m *memImages) GetByID(_ context.Context, id int64) (*domain.Image, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	img, ok := m.s.images[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (m *memImages) GetByFilename(_ context.Context, filename string) (*domain.Image, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for id := m.s.nextImage; id >= 1; id-- {
		if img, ok := m.s.images[id]; ok && img.Filename == filename {
			cp := *img
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeCropper struct {
	mu        sync.Mutex
	n         int
	failAfter int // fail on the (failAfter+1)-th crop; 0 disables
	discarded []string
}

func (c *fakeCropper) Crop(_ context.Context, _ string, _ domain.Rect) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter > 0 && c.n >= c.failAfter {
		return "", errors.New("crop backend unavailable")
	}
	c.n++
	return fmt.Sprintf("crop-%d.png", c.n), nil
}

func (c *fakeCropper) Discard(_ context.Context, filenames []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded = append(c.discarded, filenames...)
}

type fakeDispatcher struct {
	mu           sync.Mutex
	detections   []domain.DetectionTask
	translations []domain.TranslationTask
	compositions []domain.CompositionTask
	err          error
}

func (d *fakeDispatcher) DispatchDetection(_ context.Context, t domain.DetectionTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.detections = append(d.detections, t)
	return nil
}

func (d *fakeDispatcher) DispatchTranslation(_ context.Context, t domain.TranslationTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.translations = append(d.translations, t)
	return nil
}

func (d *fakeDispatcher) DispatchComposition(_ context.Context, t domain.CompositionTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.compositions = append(d.compositions, t)
	return nil
}

type fixture struct {
	p          *Pipeline
	state      *memState
	cropper    *fakeCropper
	dispatcher *fakeDispatcher
}

func newFixture() *fixture {
	state := newMemState()
	cropper := &fakeCropper{}
	dispatcher := &fakeDispatcher{}
	p := New(
		&memServices{s: state},
		&memAreas{s: state},
		&memImages{s: state},
		cropper,
		dispatcher,
		zerolog.Nop(),
	)
	return &fixture{p: p, state: state, cropper: cropper, dispatcher: dispatcher}
}

func (f *fixture) mustStart(t *testing.T) *domain.Service {
	t.Helper()
	f.state.addImage("origin.png")
	svc, err := f.p.StartService(context.Background(), "origin.png", domain.LanguageEN, domain.ModeMachine)
	if err != nil {
		t.Fatalf("StartService: %v", err)
	}
	return svc
}

func (f *fixture) mustPhase(t *testing.T, id int64, want domain.Phase) {
	t.Helper()
	svc, err := f.p.GetService(context.Background(), id)
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if svc.Phase() != want {
		t.Fatalf("phase = %s, want %s", svc.Phase(), want)
	}
}

func twoRects() []domain.Rect {
	return []domain.Rect{
		{X1: 0, Y1: 0, X2: 100, Y2: 40},
		{X1: 10, Y1: 50, X2: 200, Y2: 90},
	}
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepBounding, Status: domain.StatusPending})

	areas, err := f.p.AdvanceToDetecting(ctx, svc.ID, twoRects())
	if err != nil {
		t.Fatalf("AdvanceToDetecting: %v", err)
	}
	if len(areas) != 2 {
		t.Fatalf("areas = %d, want 2", len(areas))
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepDetecting, Status: domain.StatusProcessing})
	if len(f.dispatcher.detections) != 2 {
		t.Fatalf("detection tasks = %d, want 2", len(f.dispatcher.detections))
	}
	for _, task := range f.dispatcher.detections {
		if task.ServiceID != svc.ID || task.Language != domain.LanguageEN {
			t.Fatalf("unexpected detection task %+v", task)
		}
	}

	// First result arrives: cohort not yet complete.
	if err := f.p.RecordDetectedText(ctx, svc.ID, areas[0].ID, "hello"); err != nil {
		t.Fatalf("RecordDetectedText: %v", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepDetecting, Status: domain.StatusProcessing})

	if err := f.p.RecordDetectedText(ctx, svc.ID, areas[1].ID, "world"); err != nil {
		t.Fatalf("RecordDetectedText: %v", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepDetecting, Status: domain.StatusPending})

	snap, err := f.p.GetStatus(ctx, svc.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !snap.Ready || len(snap.Areas) != 2 {
		t.Fatalf("snapshot = %+v, want ready with 2 areas", snap)
	}
	if snap.Areas[0].OriginText != "hello" || snap.Areas[0].TranslatedText != "" {
		t.Fatalf("detection review area = %+v", snap.Areas[0])
	}

	if _, err := f.p.AdvanceToTranslating(ctx, svc.ID, domain.LanguageKO); err != nil {
		t.Fatalf("AdvanceToTranslating: %v", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepTranslating, Status: domain.StatusProcessing})
	if len(f.dispatcher.translations) != 1 {
		t.Fatalf("translation tasks = %d, want 1", len(f.dispatcher.translations))
	}
	if got := f.dispatcher.translations[0]; got.Origin != domain.LanguageEN || got.Target != domain.LanguageKO {
		t.Fatalf("translation task = %+v", got)
	}

	err = f.p.RecordTranslations(ctx, svc.ID, map[int64]string{
		areas[0].ID: "안녕",
		areas[1].ID: "세계",
	})
	if err != nil {
		t.Fatalf("RecordTranslations: %v", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepTranslating, Status: domain.StatusPending})

	snap, err = f.p.GetStatus(ctx, svc.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Areas[0].TranslatedText != "안녕" {
		t.Fatalf("translation review area = %+v", snap.Areas[0])
	}

	if _, err := f.p.AdvanceToComposing(ctx, svc.ID); err != nil {
		t.Fatalf("AdvanceToComposing: %v", err)
	}
	if len(f.dispatcher.compositions) != 1 || f.dispatcher.compositions[0].Mode != domain.ModeMachine {
		t.Fatalf("composition tasks = %+v", f.dispatcher.compositions)
	}

	composed := f.state.addImage("composed.png")
	if err := f.p.ReportCompositionComplete(ctx, svc.ID, composed.ID); err != nil {
		t.Fatalf("ReportCompositionComplete: %v", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepComposing, Status: domain.StatusCompleted})

	snap, err = f.p.GetStatus(ctx, svc.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !snap.Ready || snap.ComposedFilename != "composed.png" {
		t.Fatalf("terminal snapshot = %+v", snap)
	}
}

func TestStartServiceValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.state.addImage("origin.png")

	if _, err := f.p.StartService(ctx, "origin.png", "de", domain.ModeMachine); !errors.Is(err, domain.ErrInvalidLanguage) {
		t.Fatalf("err = %v, want ErrInvalidLanguage", err)
	}
	if _, err := f.p.StartService(ctx, "origin.png", domain.LanguageEN, "magic"); !errors.Is(err, domain.ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
	if _, err := f.p.StartService(ctx, "missing.png", domain.LanguageEN, domain.ModeMachine); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAdvanceToDetectingRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)

	if _, err := f.p.AdvanceToDetecting(ctx, svc.ID, nil); !errors.Is(err, domain.ErrEmptyInput) {
		t.Fatalf("empty input err = %v, want ErrEmptyInput", err)
	}
	bad := []domain.Rect{{X1: 50, Y1: 0, X2: 10, Y2: 40}}
	if _, err := f.p.AdvanceToDetecting(ctx, svc.ID, bad); !errors.Is(err, domain.ErrInvalidArea) {
		t.Fatalf("inverted rect err = %v, want ErrInvalidArea", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepBounding, Status: domain.StatusPending})
}

func TestAdvanceOutOfOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)

	if _, err := f.p.AdvanceToTranslating(ctx, svc.ID, domain.LanguageKO); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("translate from bounding err = %v, want ErrInvalidStage", err)
	}
	if _, err := f.p.AdvanceToComposing(ctx, svc.ID); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("compose from bounding err = %v, want ErrInvalidStage", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepBounding, Status: domain.StatusPending})
}

func TestConcurrentAdvanceSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)

	areas, err := f.p.AdvanceToDetecting(ctx, svc.ID, twoRects())
	if err != nil {
		t.Fatalf("AdvanceToDetecting: %v", err)
	}
	for _, a := range areas {
		if err := f.p.RecordDetectedText(ctx, svc.ID, a.ID, "text"); err != nil {
			t.Fatalf("RecordDetectedText: %v", err)
		}
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.p.AdvanceToTranslating(ctx, svc.ID, domain.LanguageKO)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, invalid int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidStage):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Fatalf("winners = %d, losers = %d; want exactly one of each", ok, invalid)
	}
	if len(f.dispatcher.translations) != 1 {
		t.Fatalf("translation tasks = %d, want 1", len(f.dispatcher.translations))
	}
}

func TestCropFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.cropper.failAfter = 1
	svc := f.mustStart(t)

	_, err := f.p.AdvanceToDetecting(ctx, svc.ID, twoRects())
	if err == nil {
		t.Fatal("expected crop failure")
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepBounding, Status: domain.StatusPending})
	if len(f.cropper.discarded) != 1 || f.cropper.discarded[0] != "crop-1.png" {
		t.Fatalf("discarded = %v, want the first crop", f.cropper.discarded)
	}
	areas, _ := f.p.areas.ListByService(ctx, svc.ID)
	if len(areas) != 0 {
		t.Fatalf("areas persisted despite failure: %v", areas)
	}
	if len(f.dispatcher.detections) != 0 {
		t.Fatalf("tasks emitted despite failure: %v", f.dispatcher.detections)
	}
}

func TestDispatchFailureMarksStageFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.dispatcher.err = errors.New("broker down")
	svc := f.mustStart(t)

	if _, err := f.p.AdvanceToDetecting(ctx, svc.ID, twoRects()); err == nil {
		t.Fatal("expected dispatch failure")
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepDetecting, Status: domain.StatusFailed})

	// Operator retries once the broker is back.
	f.dispatcher.err = nil
	retried, err := f.p.RetryStage(ctx, svc.ID)
	if err != nil {
		t.Fatalf("RetryStage: %v", err)
	}
	if retried.Phase() != (domain.Phase{Step: domain.StepDetecting, Status: domain.StatusProcessing}) {
		t.Fatalf("phase after retry = %s", retried.Phase())
	}
	if len(f.dispatcher.detections) != 2 {
		t.Fatalf("re-emitted tasks = %d, want 2", len(f.dispatcher.detections))
	}
}

func TestRetryStageRequiresFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)

	if _, err := f.p.RetryStage(ctx, svc.ID); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("err = %v, want ErrInvalidStage", err)
	}
	if _, err := f.p.RetryStage(ctx, svc.ID+99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReportDetectionCompleteIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)

	areas, err := f.p.AdvanceToDetecting(ctx, svc.ID, twoRects())
	if err != nil {
		t.Fatalf("AdvanceToDetecting: %v", err)
	}
	for _, a := range areas {
		if err := f.p.RecordDetectedText(ctx, svc.ID, a.ID, "text"); err != nil {
			t.Fatalf("RecordDetectedText: %v", err)
		}
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepDetecting, Status: domain.StatusPending})

	// A duplicate delivery of the completion signal is harmless.
	if err := f.p.ReportDetectionComplete(ctx, svc.ID); err != nil {
		t.Fatalf("duplicate report: %v", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepDetecting, Status: domain.StatusPending})
}

func TestReportCompositionRequiresArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)

	if err := f.p.ReportCompositionComplete(ctx, svc.ID, 0); !errors.Is(err, domain.ErrMissingArtifact) {
		t.Fatalf("err = %v, want ErrMissingArtifact", err)
	}
	f.mustPhase(t, svc.ID, domain.Phase{Step: domain.StepBounding, Status: domain.StatusPending})
}

func TestAreaEditsGatedByPhase(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := f.mustStart(t)

	areas, err := f.p.AdvanceToDetecting(ctx, svc.ID, twoRects())
	if err != nil {
		t.Fatalf("AdvanceToDetecting: %v", err)
	}

	// Still PROCESSING: no edits allowed.
	if _, err := f.p.UpdateOriginText(ctx, svc.ID, areas[0].ID, "fixed"); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("edit while processing err = %v, want ErrInvalidStage", err)
	}

	for _, a := range areas {
		if err := f.p.RecordDetectedText(ctx, svc.ID, a.ID, "text"); err != nil {
			t.Fatalf("RecordDetectedText: %v", err)
		}
	}

	if _, err := f.p.UpdateOriginText(ctx, svc.ID, areas[0].ID, "  "); !errors.Is(err, domain.ErrEmptyInput) {
		t.Fatalf("blank text err = %v, want ErrEmptyInput", err)
	}
	if _, err := f.p.UpdateOriginText(ctx, svc.ID, areas[0].ID, "fixed"); err != nil {
		t.Fatalf("UpdateOriginText: %v", err)
	}

	// An area from another service is rejected even in the right phase.
	other := f.mustStart(t)
	otherAreas, err := f.p.AdvanceToDetecting(ctx, other.ID, twoRects())
	if err != nil {
		t.Fatalf("AdvanceToDetecting(other): %v", err)
	}
	if _, err := f.p.UpdateOriginText(ctx, svc.ID, otherAreas[0].ID, "x"); !errors.Is(err, domain.ErrAreaOwnership) {
		t.Fatalf("cross-service edit err = %v, want ErrAreaOwnership", err)
	}

	if err := f.p.DeleteArea(ctx, svc.ID, areas[1].ID); err != nil {
		t.Fatalf("DeleteArea: %v", err)
	}

	if _, err := f.p.AdvanceToTranslating(ctx, svc.ID, domain.LanguageJP); err != nil {
		t.Fatalf("AdvanceToTranslating: %v", err)
	}

	// Past detection the area set is frozen.
	if err := f.p.DeleteArea(ctx, svc.ID, areas[0].ID); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("late delete err = %v, want ErrInvalidStage", err)
	}
	if _, err := f.p.UpdateTranslatedText(ctx, svc.ID, areas[0].ID, "x"); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("edit while translating-processing err = %v, want ErrInvalidStage", err)
	}
}
