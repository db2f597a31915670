package imageprocessing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// PngConverterCommand renders SVG input into PNG bytes
type PngConverterCommand struct {
	svgWidth  int
	svgHeight int
}

// NewPngConverterCommand creates a converter that renders at the given size
func NewPngConverterCommand(svgWidth, svgHeight int) *PngConverterCommand {
	return &PngConverterCommand{svgWidth: svgWidth, svgHeight: svgHeight}
}

func (c *PngConverterCommand) Name() string {
	return "PngConverterCommand"
}

func (c *PngConverterCommand) Execute(imageData []byte) ([]byte, error) {
	if !isSVGData(imageData) {
		return nil, errors.New("input is not an SVG document")
	}
	return renderSVGToPNG(imageData, c.svgWidth, c.svgHeight)
}

// isSVGData looks for an svg root element in the first few KB
func isSVGData(data []byte) bool {
	n := len(data)
	if n > 4096 {
		n = 4096
	}
	header := bytes.ToLower(bytes.TrimSpace(data[:n]))
	return bytes.Contains(header, []byte("<svg"))
}

// renderSVGToPNG renders an SVG byte slice into a PNG with the given target dimensions.
func renderSVGToPNG(svgData []byte, targetW, targetH int) ([]byte, error) {
	if targetW <= 0 || targetH <= 0 {
		return nil, fmt.Errorf("invalid target dimensions for SVG rendering: %dx%d", targetW, targetH)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}

	// Set drawing target rectangle
	icon.SetTarget(0, 0, float64(targetW), float64(targetH))

	// Prepare target canvas (white background)
	dst := createTargetCanvas(targetW, targetH, color.RGBA{255, 255, 255, 255})

	// Rasterize SVG into the target canvas
	scanner := rasterx.NewScannerGV(targetW, targetH, dst, dst.Bounds())
	dasher := rasterx.NewDasher(targetW, targetH, scanner)
	icon.Draw(dasher, 1.0)

	return encodePNG(dst)
}

func createTargetCanvas(width, height int, background color.Color) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)
	return canvas
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}
