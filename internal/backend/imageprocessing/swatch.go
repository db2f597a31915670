package imageprocessing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jo-hoe/palettebox/internal/backend/database"
)

const (
	DefaultSwatchWidth  = 600
	DefaultSwatchHeight = 120
	DefaultThumbWidth   = 320
	MaxThumbWidth       = 1024
)

var swatchHexPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// SwatchSVG draws the palette as equal vertical stripes in palette order.
func SwatchSVG(colors []database.Color, width, height int) ([]byte, error) {
	if len(colors) == 0 {
		return nil, errors.New("palette has no colors")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid swatch dimensions: %dx%d", width, height)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		width, height, width, height)

	stripe := float64(width) / float64(len(colors))
	for i, c := range colors {
		fill := c.Hex
		if !swatchHexPattern.MatchString(fill) {
			fill = "#000000"
		}
		// Overlap by one unit to avoid anti-aliased seams between stripes
		fmt.Fprintf(&sb, `<rect x="%.3f" y="0" width="%.3f" height="%d" fill="%s"/>`,
			float64(i)*stripe, stripe+1, height, fill)
	}
	sb.WriteString(`</svg>`)
	return []byte(sb.String()), nil
}

// RenderSwatchPNG renders the palette swatch to PNG
func RenderSwatchPNG(colors []database.Color, width, height int) ([]byte, error) {
	svg, err := SwatchSVG(colors, width, height)
	if err != nil {
		return nil, err
	}
	return NewCommandInvoker(NewPngConverterCommand(width, height)).Execute(svg)
}

// Thumbnail produces a PNG no wider than width. Sources above maxSrcPixels fail with
// ErrImageTooLarge without being decoded.
func Thumbnail(imageData []byte, width int, maxSrcPixels int64) ([]byte, error) {
	if width > MaxThumbWidth {
		width = MaxThumbWidth
	}
	scale, err := NewScaleCommand(width, maxSrcPixels)
	if err != nil {
		return nil, err
	}
	return NewCommandInvoker(scale).Execute(imageData)
}
