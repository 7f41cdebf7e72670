package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pictrans/internal/domain"
	"pictrans/internal/storage"
)

// Cropper cuts per-area rectangles out of an origin image and stores
// them in the crop bucket. Crop filenames are uuid-generated so retries
// of the same rectangle never collide.
type Cropper struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewCropper creates a cropper over the given store.
func NewCropper(store storage.Store, logger zerolog.Logger) *Cropper {
	return &Cropper{store: store, logger: logger}
}

// Crop loads the origin image, extracts the rectangle, and saves the
// result as a PNG in the crop bucket. It returns the stored filename.
func (c *Cropper) Crop(ctx context.Context, originFilename string, r domain.Rect) (string, error) {
	src, err := c.store.Load(ctx, storage.BucketOrigin, originFilename)
	if err != nil {
		return "", fmt.Errorf("load origin image: %w", err)
	}
	defer src.Close()

	img, err := imaging.Decode(src)
	if err != nil {
		return "", fmt.Errorf("decode origin image: %w", err)
	}

	bounds := img.Bounds()
	rect := image.Rect(r.X1, r.Y1, r.X2, r.Y2)
	if !rect.In(bounds) {
		return "", fmt.Errorf("rect %v outside image bounds %v: %w", rect, bounds, domain.ErrInvalidArea)
	}

	cropped := imaging.Crop(img, rect)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, cropped, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}

	filename := uuid.NewString() + ".png"
	if _, err := c.store.Save(ctx, storage.BucketCrop, filename, buf); err != nil {
		return "", fmt.Errorf("save crop: %w", err)
	}
	return filename, nil
}

// Discard removes crop artifacts left behind by a failed unit of work.
// Removal is best effort: an orphaned crop wastes space but corrupts
// nothing.
func (c *Cropper) Discard(ctx context.Context, filenames []string) {
	for _, name := range filenames {
		if err := c.store.Delete(ctx, storage.BucketCrop, name); err != nil {
			c.logger.Warn().Err(err).Str("filename", name).Msg("could not discard crop")
		}
	}
}
