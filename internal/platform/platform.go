// internal/platform/platform.go
package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"
)

// Screenshot is one observation of the agent's surface: encoded pixels plus
// the dimensions coordinate resolution works against.
type Screenshot struct {
	PNG    []byte
	Width  int
	Height int
}

// Base64 returns the PNG payload encoded for transport to a planner backend.
func (s *Screenshot) Base64() string {
	return base64.StdEncoding.EncodeToString(s.PNG)
}

// Meta returns a human-readable dimensions string for prompt metadata.
func (s *Screenshot) Meta() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Adapter is the boundary to the observable, drivable surface. Capture
// produces observations; the remaining operations actuate the pointer and
// keyboard at absolute pixel coordinates and are fire-and-forget from the
// pipeline's perspective.
type Adapter interface {
	Capture(ctx context.Context) (*Screenshot, error)
	ScreenSize(ctx context.Context) (width, height int, err error)

	Move(ctx context.Context, x, y int) error
	Click(ctx context.Context, x, y, clicks int) error
	Drag(ctx context.Context, startX, startY, endX, endY int) error
	Scroll(ctx context.Context, dx, dy int) error
	TypeText(ctx context.Context, text string) error
	Keypress(ctx context.Context, keys []string, repeat int, holdMillis int) error
}

// NullAdapter is a deterministic stand-in surface: it serves a fixed dark
// frame and swallows all input. Used when no real surface is attached and
// throughout the tests.
type NullAdapter struct {
	width  int
	height int

	once  sync.Once
	frame []byte
}

// NewNullAdapter returns a null surface of the given size; non-positive
// dimensions fall back to 1280x720.
func NewNullAdapter(width, height int) *NullAdapter {
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	return &NullAdapter{width: width, height: height}
}

func (a *NullAdapter) Capture(ctx context.Context) (*Screenshot, error) {
	var encodeErr error
	a.once.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, a.width, a.height))
		dark := color.RGBA{R: 24, G: 24, B: 24, A: 255}
		for y := 0; y < a.height; y++ {
			for x := 0; x < a.width; x++ {
				img.SetRGBA(x, y, dark)
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			encodeErr = err
			return
		}
		a.frame = buf.Bytes()
	})
	if encodeErr != nil {
		return nil, fmt.Errorf("failed to encode null frame: %w", encodeErr)
	}
	return &Screenshot{PNG: a.frame, Width: a.width, Height: a.height}, nil
}

func (a *NullAdapter) ScreenSize(ctx context.Context) (int, int, error) {
	return a.width, a.height, nil
}

func (a *NullAdapter) Move(ctx context.Context, x, y int) error          { return nil }
func (a *NullAdapter) Click(ctx context.Context, x, y, clicks int) error { return nil }
func (a *NullAdapter) Scroll(ctx context.Context, dx, dy int) error      { return nil }
func (a *NullAdapter) TypeText(ctx context.Context, text string) error   { return nil }

func (a *NullAdapter) Drag(ctx context.Context, startX, startY, endX, endY int) error {
	return nil
}

func (a *NullAdapter) Keypress(ctx context.Context, keys []string, repeat int, holdMillis int) error {
	return nil
}

// sleepCtx blocks for d or until the context is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
