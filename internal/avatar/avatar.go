// Package avatar loads the sprite sheet that animates the bot's camera feed.
package avatar

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/MrWong99/talkinghead/internal/frame"
)

// DefaultSpriteCount is the number of robot sprites shipped with the bot.
const DefaultSpriteCount = 25

// FormatRGBA is the pixel format of every loaded sprite.
const FormatRGBA = "RGBA"

// Assets is the immutable set of images an animation stage plays.
type Assets struct {
	// Sprites is the talking loop in playback order.
	Sprites []frame.Image
}

// Quiet returns the static frame shown while the bot is silent.
func (a Assets) Quiet() frame.Image {
	return a.Sprites[0]
}

// Talking returns the talking loop as one sequence.
func (a Assets) Talking() frame.SpriteSequence {
	return frame.SpriteSequence{Images: append([]frame.Image(nil), a.Sprites...)}
}

// Validate reports whether the assets can drive an animation.
func (a Assets) Validate() error {
	if len(a.Sprites) == 0 {
		return errors.New("avatar: no sprites")
	}
	w, h := a.Sprites[0].Width, a.Sprites[0].Height
	for i, s := range a.Sprites {
		if s.Width != w || s.Height != h {
			return fmt.Errorf("avatar: sprite %d is %dx%d, want %dx%d", i, s.Width, s.Height, w, h)
		}
		if len(s.Pixels) != s.Width*s.Height*4 {
			return fmt.Errorf("avatar: sprite %d has %d bytes, want %d", i, len(s.Pixels), s.Width*s.Height*4)
		}
	}
	return nil
}

// Load reads robot01.png … robotNN.png from dir and builds a ping-pong loop:
// the sprites forward followed by the same sprites reversed, so n files
// yield 2n frames.
func Load(dir string, n int) (Assets, error) {
	if n <= 0 {
		n = DefaultSpriteCount
	}
	forward := make([]frame.Image, 0, n)
	for i := 1; i <= n; i++ {
		img, err := loadPNG(filepath.Join(dir, fmt.Sprintf("robot%02d.png", i)))
		if err != nil {
			return Assets{}, err
		}
		forward = append(forward, img)
	}

	sprites := make([]frame.Image, 0, 2*n)
	sprites = append(sprites, forward...)
	for i := len(forward) - 1; i >= 0; i-- {
		sprites = append(sprites, forward[i])
	}
	a := Assets{Sprites: sprites}
	if err := a.Validate(); err != nil {
		return Assets{}, err
	}
	return a, nil
}

func loadPNG(path string) (frame.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return frame.Image{}, fmt.Errorf("avatar: %w", err)
	}
	defer f.Close()

	src, err := png.Decode(f)
	if err != nil {
		return frame.Image{}, fmt.Errorf("avatar: decode %s: %w", filepath.Base(path), err)
	}
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}
	return frame.Image{
		Pixels: rgba.Pix,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: FormatRGBA,
	}, nil
}
