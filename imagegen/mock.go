package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
)

// mockSize caps the rendered image so local runs stay fast
const mockSize = 64

// MockBackend renders a solid-color PNG derived from the seed. It needs no
// credentials and is selected with IMAGE_BACKEND=mock.
type MockBackend struct{}

// NewMockBackend creates a mock image backend
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// Name returns "mock"
func (b *MockBackend) Name() string {
	return "mock"
}

// Generate renders the image without any network call
func (b *MockBackend) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	w, h := clamp(req.Width), clamp(req.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{
		R: uint8(req.Seed >> 16),
		G: uint8(req.Seed >> 8),
		B: uint8(req.Seed),
		A: 0xff,
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func clamp(n int) int {
	if n <= 0 || n > mockSize {
		return mockSize
	}
	return n
}
