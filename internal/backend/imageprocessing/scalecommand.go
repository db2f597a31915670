package imageprocessing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// ErrImageTooLarge is returned for sources whose dimensions exceed the decode limit.
var ErrImageTooLarge = errors.New("image dimensions too large")

// ScaleCommand shrinks an image to a maximum width while preserving aspect ratio.
// Images that already fit are re-encoded at their original size; it never upscales.
type ScaleCommand struct {
	maxWidth     int
	maxSrcPixels int64
}

// NewScaleCommand creates a scale command for the given maximum width. Sources larger
// than maxSrcPixels are refused before decoding; zero disables the check.
func NewScaleCommand(maxWidth int, maxSrcPixels int64) (*ScaleCommand, error) {
	if maxWidth <= 0 {
		return nil, fmt.Errorf("width must be positive, got %d", maxWidth)
	}
	if maxSrcPixels < 0 {
		return nil, fmt.Errorf("pixel limit must not be negative, got %d", maxSrcPixels)
	}
	return &ScaleCommand{maxWidth: maxWidth, maxSrcPixels: maxSrcPixels}, nil
}

func (c *ScaleCommand) Name() string {
	return "ScaleCommand"
}

// Execute decodes PNG or JPEG input and returns a PNG
func (c *ScaleCommand) Execute(imageData []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	if c.maxSrcPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > c.maxSrcPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, c.maxSrcPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := computeScaledDimensions(bounds.Dx(), bounds.Dy(), c.maxWidth)
	if width == bounds.Dx() && height == bounds.Dy() {
		slog.Debug("ScaleCommand: image already fits; skipping scaling")
		return encodePNG(img)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	slog.Debug("ScaleCommand: scaled image",
		"original_width", bounds.Dx(),
		"original_height", bounds.Dy(),
		"scaled_width", width,
		"scaled_height", height)

	return encodePNG(dst)
}

// computeScaledDimensions fits width into maxWidth keeping the aspect ratio; height is at least 1
func computeScaledDimensions(width, height, maxWidth int) (int, int) {
	if width <= maxWidth {
		return width, height
	}
	scaledHeight := int(float64(height) * float64(maxWidth) / float64(width))
	if scaledHeight < 1 {
		scaledHeight = 1
	}
	return maxWidth, scaledHeight
}
