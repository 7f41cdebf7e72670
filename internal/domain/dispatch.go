package domain

// TaskKind identifies which worker a dispatch payload is addressed to.
type TaskKind string

const (
	TaskDetect    TaskKind = "detect"
	TaskTranslate TaskKind = "translate"
	TaskCompose   TaskKind = "compose"
)

// DetectionTask is the per-area unit of OCR work. One task is emitted
// per area when a service leaves the bounding stage; the service id acts
// as the cohort key.
type DetectionTask struct {
	ServiceID    int64    `json:"service_id"`
	AreaID       int64    `json:"area_id"`
	CropFilename string   `json:"crop_filename"`
	Language     Language `json:"language"`
}

// TranslationTask covers a whole service; the translation worker pulls
// the area set itself.
type TranslationTask struct {
	ServiceID int64    `json:"service_id"`
	Origin    Language `json:"origin_language"`
	Target    Language `json:"target_language"`
}

// CompositionTask covers a whole service. Mode is carried so the worker
// can pick a composer without an extra read; it is immutable on the
// service row.
type CompositionTask struct {
	ServiceID int64 `json:"service_id"`
	Mode      Mode  `json:"mode"`
}
