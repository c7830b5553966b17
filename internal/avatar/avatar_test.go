package avatar

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/talkinghead/internal/frame"
)

func img(w, h int) frame.Image {
	return frame.Image{Width: w, Height: h, Pixels: make([]byte, w*h*4), Format: FormatRGBA}
}

// writeSprites writes n solid-colour PNGs whose red channel encodes the
// sprite index.
func writeSprites(t *testing.T, dir string, n, w, h int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := range h {
			for x := range w {
				img.Set(x, y, color.NRGBA{R: uint8(i), A: 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("robot%02d.png", i)))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoad_PingPong(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSprites(t, dir, 3, 4, 2)

	a, err := Load(dir, 3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(a.Sprites) != 6 {
		t.Fatalf("sprites = %d, want 6", len(a.Sprites))
	}
	want := []uint8{1, 2, 3, 3, 2, 1}
	for i, s := range a.Sprites {
		if s.Pixels[0] != want[i] {
			t.Errorf("sprite %d red = %d, want %d", i, s.Pixels[0], want[i])
		}
		if s.Width != 4 || s.Height != 2 || s.Format != FormatRGBA || len(s.Pixels) != 4*2*4 {
			t.Errorf("sprite %d = %dx%d %s (%d bytes)", i, s.Width, s.Height, s.Format, len(s.Pixels))
		}
	}
	if a.Quiet().Pixels[0] != 1 {
		t.Error("Quiet() is not the first sprite")
	}
	if got := len(a.Talking().Images); got != 6 {
		t.Errorf("Talking() images = %d, want 6", got)
	}
}

func TestLoad_MissingSprite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSprites(t, dir, 2, 2, 2)
	if _, err := Load(dir, 3); err == nil {
		t.Fatal("expected error for missing robot03.png")
	}
}

func TestLoad_NotPNG(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "robot01.png"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, 1); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAssets_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		assets  Assets
		wantErr bool
	}{
		{name: "empty", assets: Assets{}, wantErr: true},
		{name: "size mismatch", assets: Assets{Sprites: []frame.Image{img(2, 2), img(3, 2)}}, wantErr: true},
		{name: "short pixels", assets: Assets{Sprites: []frame.Image{{Width: 2, Height: 2, Pixels: make([]byte, 3)}}}, wantErr: true},
		{name: "ok", assets: Assets{Sprites: []frame.Image{img(2, 2), img(2, 2)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.assets.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
