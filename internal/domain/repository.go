package domain

import "context"

// ServiceRepository defines persistence for service rows, including the
// guarded phase transitions that serialize concurrent mutations.
type ServiceRepository interface {
	Create(ctx context.Context, svc *Service) (*Service, error)
	GetByID(ctx context.Context, id int64) (*Service, error)

	// Transition moves the service from one phase to another as a single
	// conditional write. It returns ErrNotFound when the service does not
	// exist and ErrInvalidStage when the current phase does not match from.
	Transition(ctx context.Context, id int64, from, to Phase, upd TransitionUpdate) error

	// TransitionWithAreas performs the bounding→detecting transition and
	// the bulk area insert in one transaction. Created areas are returned
	// in draft order. On a guard failure nothing is written.
	TransitionWithAreas(ctx context.Context, id int64, from, to Phase, drafts []AreaDraft) ([]Area, error)

	// FailProcessing flips the status to FAILED for whichever step is
	// currently PROCESSING.
	FailProcessing(ctx context.Context, id int64) error
}

// AreaRepository defines persistence for area rows. The repository has
// no stage awareness; callers enforce step/status gates.
type AreaRepository interface {
	GetByID(ctx context.Context, id int64) (*Area, error)
	ListByService(ctx context.Context, serviceID int64) ([]Area, error)
	UpdateFields(ctx context.Context, id int64, upd AreaUpdate) (*Area, error)
	Delete(ctx context.Context, id int64) error

	// CountMissingOriginText reports how many areas of the service still
	// lack detected text. Detection workers use it to join the cohort.
	CountMissingOriginText(ctx context.Context, serviceID int64) (int, error)
}

// ImageRepository defines persistence for image references.
type ImageRepository interface {
	Create(ctx context.Context, filename string) (*Image, error)
	GetByID(ctx context.Context, id int64) (*Image, error)
	GetByFilename(ctx context.Context, filename string) (*Image, error)
}
