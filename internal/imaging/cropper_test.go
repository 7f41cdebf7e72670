package imaging

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"pictrans/internal/domain"
	"pictrans/internal/storage"
)

func newTestStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func saveOrigin(t *testing.T, store *storage.FileStore, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode origin: %v", err)
	}
	name, err := store.Save(context.Background(), storage.BucketOrigin, "origin.png", buf)
	if err != nil {
		t.Fatalf("save origin: %v", err)
	}
	return name
}

func TestCropSavesRectangle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	origin := saveOrigin(t, store, 200, 100)
	c := NewCropper(store, zerolog.Nop())

	name, err := c.Crop(ctx, origin, domain.Rect{X1: 10, Y1: 20, X2: 60, Y2: 80})
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	if !strings.HasSuffix(name, ".png") {
		t.Fatalf("crop filename = %q, want .png suffix", name)
	}

	rc, err := store.Load(ctx, storage.BucketCrop, name)
	if err != nil {
		t.Fatalf("load crop: %v", err)
	}
	defer rc.Close()

	img, err := png.Decode(rc)
	if err != nil {
		t.Fatalf("decode crop: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 50 || b.Dy() != 60 {
		t.Fatalf("crop size = %dx%d, want 50x60", b.Dx(), b.Dy())
	}
}

func TestCropRejectsOutOfBounds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	origin := saveOrigin(t, store, 50, 50)
	c := NewCropper(store, zerolog.Nop())

	_, err := c.Crop(ctx, origin, domain.Rect{X1: 10, Y1: 10, X2: 100, Y2: 100})
	if !errors.Is(err, domain.ErrInvalidArea) {
		t.Fatalf("err = %v, want ErrInvalidArea", err)
	}
}

func TestCropMissingOrigin(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := NewCropper(store, zerolog.Nop())

	_, err := c.Crop(ctx, "missing.png", domain.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDiscardRemovesCrops(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	origin := saveOrigin(t, store, 100, 100)
	c := NewCropper(store, zerolog.Nop())

	name, err := c.Crop(ctx, origin, domain.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}

	c.Discard(ctx, []string{name, "never-existed.png"})

	if _, err := store.Load(ctx, storage.BucketCrop, name); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("crop still present after discard: %v", err)
	}
}
