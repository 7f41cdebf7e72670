package compose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog"

	"pictrans/internal/domain"
)

// Patch is one region to overwrite: the original text's bounding box and
// the translated text to render inside it.
type Patch struct {
	Rect domain.Rect `json:"rect"`
	Text string      `json:"text"`
}

// ErrMissingFont indicates the renderer was configured without a font file.
var ErrMissingFont = errors.New("compose: font path is required")

const (
	textInset   = 5.0
	minFontSize = 8.0
)

// RendererOptions configures the local composition renderer.
type RendererOptions struct {
	FontPath string
	Logger   *zerolog.Logger
}

// Renderer paints translated text over the origin image. Each patch
// region is blanked with a white box and the text is drawn at the
// largest font size that still fits the box width.
type Renderer struct {
	fontPath string
	logger   zerolog.Logger
}

// NewRenderer constructs a renderer for the given font.
func NewRenderer(opts RendererOptions) (*Renderer, error) {
	fontPath := strings.TrimSpace(opts.FontPath)
	if fontPath == "" {
		return nil, ErrMissingFont
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Renderer{fontPath: fontPath, logger: logger}, nil
}

// Compose renders all patches onto a copy of src and returns the result.
func (r *Renderer) Compose(ctx context.Context, src image.Image, patches []Patch) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dc := gg.NewContextForImage(src)
	for _, p := range patches {
		if err := r.renderPatch(dc, p); err != nil {
			return nil, err
		}
	}
	return dc.Image(), nil
}

func (r *Renderer) renderPatch(dc *gg.Context, p Patch) error {
	x := float64(p.Rect.X1)
	y := float64(p.Rect.Y1)
	w := float64(p.Rect.X2 - p.Rect.X1)
	h := float64(p.Rect.Y2 - p.Rect.Y1)

	dc.SetColor(color.White)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil
	}

	size, err := r.fitFontSize(dc, text, w-2*textInset, h-2*textInset)
	if err != nil {
		return err
	}

	dc.SetColor(color.Black)
	// DrawString anchors at the baseline; offset by the font size so the
	// glyphs start just inside the box.
	dc.DrawString(text, x+textInset, y+textInset+size)
	return nil
}

// fitFontSize walks the size down from the box height until the text
// fits the available width, bottoming out at a readable minimum.
func (r *Renderer) fitFontSize(dc *gg.Context, text string, maxWidth, maxHeight float64) (float64, error) {
	size := maxHeight
	if size < minFontSize {
		size = minFontSize
	}
	for {
		if err := dc.LoadFontFace(r.fontPath, size); err != nil {
			return 0, fmt.Errorf("compose: load font %s: %w", r.fontPath, err)
		}
		width, _ := dc.MeasureString(text)
		if width <= maxWidth || size <= minFontSize {
			if width > maxWidth {
				r.logger.Warn().Str("text", text).Float64("size", size).Msg("text exceeds box at minimum font size")
			}
			return size, nil
		}
		size -= 1
	}
}
