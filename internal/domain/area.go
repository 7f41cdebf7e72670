package domain

import "time"

// Rect is a bounding box in origin-image pixel coordinates.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Validate enforces that the rectangle has positive extent.
func (r Rect) Validate() error {
	if r.X1 >= r.X2 || r.Y1 >= r.Y2 {
		return ErrInvalidArea
	}
	return nil
}

// Area is one bounding-box sub-region of a service. It carries the text
// detected inside the region and its translation. An area is strictly
// owned by its service and never reassigned.
type Area struct {
	ID             int64
	ServiceID      int64
	Rect           Rect
	CropImageID    int64
	CropFilename   string
	OriginText     *string
	TranslatedText *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AreaDraft describes an area to be created when a service leaves the
// bounding stage. The crop artifact is produced before the draft is
// persisted.
type AreaDraft struct {
	Rect         Rect
	CropFilename string
}

// AreaUpdate applies only the non-nil fields.
type AreaUpdate struct {
	OriginText     *string
	TranslatedText *string
}
