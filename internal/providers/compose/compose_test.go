package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"pictrans/internal/domain"
)

func TestNewRendererRequiresFont(t *testing.T) {
	if _, err := NewRenderer(RendererOptions{}); !errors.Is(err, ErrMissingFont) {
		t.Fatalf("err = %v, want ErrMissingFont", err)
	}
}

func TestComposeBlanksPatchRegions(t *testing.T) {
	// A blank-text patch exercises the box fill without touching the
	// font, so the test needs no font file on disk.
	r, err := NewRenderer(RendererOptions{FontPath: "unused.ttf"})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	src := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}

	out, err := r.Compose(context.Background(), src, []Patch{
		{Rect: domain.Rect{X1: 10, Y1: 10, X2: 30, Y2: 30}, Text: "  "},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	cr, cg, cb, _ := out.At(20, 20).RGBA()
	if cr>>8 != 255 || cg>>8 != 255 || cb>>8 != 255 {
		t.Fatalf("patched pixel = %v, want white", out.At(20, 20))
	}
	or, _, _, _ := out.At(5, 5).RGBA()
	if or>>8 != 200 {
		t.Fatalf("unpatched pixel changed: %v", out.At(5, 5))
	}
}

func TestBridgeCompose(t *testing.T) {
	composed := []byte{0x89, 'P', 'N', 'G'}
	var gotReq bridgeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/compose" {
			t.Errorf("path = %q, want /compose", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(composed)
	}))
	defer srv.Close()

	b, err := NewBridge(BridgeOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}

	patches := []Patch{{Rect: domain.Rect{X1: 1, Y1: 2, X2: 3, Y2: 4}, Text: "hi"}}
	out, err := b.Compose(context.Background(), []byte("origin"), patches)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !bytes.Equal(out, composed) {
		t.Fatalf("out = %v", out)
	}
	if string(gotReq.Image) != "origin" || len(gotReq.Patches) != 1 || gotReq.Patches[0].Text != "hi" {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestBridgeErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"model unavailable"}`))
	}))
	defer srv.Close()

	b, err := NewBridge(BridgeOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}

	_, err = b.Compose(context.Background(), []byte("x"), nil)
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("model unavailable")) {
		t.Fatalf("err = %v, want bridge message", err)
	}
}
