package domain

import "time"

// Mode selects which composition engine renders the final image.
type Mode string

const (
	ModeMachine Mode = "MACHINE"
	ModeAI      Mode = "AI"
)

// Step enumerates the ordered pipeline stages a service moves through.
type Step string

const (
	StepBounding    Step = "BOUNDING"
	StepDetecting   Step = "DETECTING"
	StepTranslating Step = "TRANSLATING"
	StepComposing   Step = "COMPOSING"
)

// Status enumerates the sub-state within the current step. The pair
// (Step, Status) is only meaningful in combination: PENDING under
// DETECTING means "OCR finished, awaiting review", not "not started".
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Service is one end-to-end localization pipeline instance for a single
// source image.
type Service struct {
	ID              int64
	OriginImageID   int64
	ComposedImageID *int64
	Mode            Mode
	Step            Step
	Status          Status
	OriginLanguage  Language
	TargetLanguage  *Language
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Phase pairs a step with its status sub-state.
type Phase struct {
	Step   Step
	Status Status
}

func (p Phase) String() string {
	return string(p.Step) + "/" + string(p.Status)
}

// Phase returns the service's current (step, status) pair.
func (s *Service) Phase() Phase {
	return Phase{Step: s.Step, Status: s.Status}
}

var stepOrder = map[Step]int{
	StepBounding:    0,
	StepDetecting:   1,
	StepTranslating: 2,
	StepComposing:   3,
}

// Index returns the position of the step in the pipeline ordering.
// Unknown steps sort before BOUNDING.
func (s Step) Index() int {
	if i, ok := stepOrder[s]; ok {
		return i
	}
	return -1
}

// Valid reports whether the step is one of the four pipeline stages.
func (s Step) Valid() bool {
	_, ok := stepOrder[s]
	return ok
}

// Valid reports whether the mode is a known composition mode.
func (m Mode) Valid() bool {
	return m == ModeMachine || m == ModeAI
}

// Valid reports whether the status is a known sub-state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", ErrInvalidMode
	}
	return m, nil
}

// TransitionUpdate carries the optional field writes that accompany a
// guarded phase transition.
type TransitionUpdate struct {
	TargetLanguage  *Language
	ComposedImageID *int64
}
