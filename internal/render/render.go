// Package render draws face bounding boxes onto stored images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"

	// decoders for stored uploads
	_ "image/png"

	"github.com/example/faces-api/internal/detector"
)

// StrokeWidth is the outline thickness of every drawn rectangle.
const StrokeWidth = 2

// JPEGQuality matches the encoder default of the imaging library the service replaced.
const JPEGQuality = 75

// SelectFaces returns the faces whose token is in tokens. An empty tokens list selects every face.
func SelectFaces(faces []detector.Face, tokens []string) []detector.Face {
	if len(tokens) == 0 {
		return faces
	}
	wanted := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		wanted[t] = struct{}{}
	}
	selected := make([]detector.Face, 0, len(tokens))
	for _, f := range faces {
		if _, ok := wanted[f.Token()]; ok {
			selected = append(selected, f)
		}
	}
	return selected
}

// DrawFaces copies src into an RGBA canvas and outlines each face that has a rectangle.
// It returns the canvas and the number of rectangles drawn.
func DrawFaces(src image.Image, faces []detector.Face, c color.Color) (*image.RGBA, int) {
	bounds := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Src)

	drawn := 0
	for _, f := range faces {
		rect, ok := f.Rectangle()
		if !ok {
			continue
		}
		StrokeRect(canvas, rect.Left, rect.Top, rect.Left+rect.Width, rect.Top+rect.Height, StrokeWidth, c)
		drawn++
	}
	return canvas, drawn
}

// StrokeRect outlines the inclusive box (x0,y0)-(x1,y1) with a border growing inwards, clipped to dst.
func StrokeRect(dst draw.Image, x0, y0, x1, y1, width int, c color.Color) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	uniform := image.NewUniform(c)
	fill := func(r image.Rectangle) {
		r = r.Intersect(dst.Bounds())
		if !r.Empty() {
			draw.Draw(dst, r, uniform, image.Point{}, draw.Src)
		}
	}
	for i := 0; i < width; i++ {
		if x0+i > x1-i || y0+i > y1-i {
			break
		}
		fill(image.Rect(x0+i, y0+i, x1-i+1, y0+i+1)) // top
		fill(image.Rect(x0+i, y1-i, x1-i+1, y1-i+1)) // bottom
		fill(image.Rect(x0+i, y0+i, x0+i+1, y1-i+1)) // left
		fill(image.Rect(x1-i, y0+i, x1-i+1, y1-i+1)) // right
	}
}

// Render decodes a JPEG or PNG image, draws the selected faces and writes the result as JPEG.
func Render(w io.Writer, r io.Reader, faces []detector.Face, tokens []string, c color.Color) (int, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	canvas, drawn := DrawFaces(src, SelectFaces(faces, tokens), c)

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, canvas, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return 0, fmt.Errorf("encode jpeg: %w", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return 0, err
	}
	return drawn, nil
}
