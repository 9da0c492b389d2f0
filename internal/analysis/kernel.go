// Package analysis implements the analysis kernel (C3 in spec.md): a
// pure function mapping one captured image plus its ROI table to
// per-ROI fit statistics. It has no knowledge of the manifest, the
// filesystem layout beyond the one image path it is given, or the
// pipeline's service lifecycle.
package analysis

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/disintegration/imaging"

	"phorest/internal/config"
	"phorest/internal/roigen"
)

func grayOf(v float64) color.Gray {
	return color.Gray{Y: uint8(v + 0.5)}
}

// minImageBytes rejects captures that are obviously truncated or
// corrupt before even attempting to decode them (spec.md §4.2 step 1).
const minImageBytes = 64

// ErrImageMissing, ErrImageTooSmall, and ErrImageDecode are the
// whole-image rejection reasons of spec.md §4.2 step 1; each maps to
// processing_status=failed on the manifest entry (spec.md §7 item 5).
var (
	ErrImageMissing  = errors.New("analysis: image file is missing")
	ErrImageTooSmall = errors.New("analysis: image file is below the minimum byte threshold")
	ErrImageDecode   = errors.New("analysis: image failed to decode")
)

// RowResult is one entry in the kernel's output list: either the
// prelude record ({brightness, contrast}) or one ROI's record.
type RowResult map[string]any

// Options configures one run of the kernel, mirroring the
// [Data_Analysis] config section plus the debug flag.
type Options struct {
	Method        config.AnalysisMethod
	NumberSubROIs int
	Debug         bool
}

// ProcessImage implements spec.md §4.2 end to end: decode, prelude
// stats, normalize, de-rotate, then per-ROI extraction/reduction/fit/
// postprocess.
func ProcessImage(imagePath string, roiTable roigen.Table, opts Options) ([]RowResult, error) {
	info, err := os.Stat(imagePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrImageMissing, imagePath)
	}
	if err != nil {
		return nil, fmt.Errorf("analysis: stat %s: %w", imagePath, err)
	}
	if info.Size() < minImageBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrImageTooSmall, imagePath, info.Size())
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("analysis: open %s: %w", imagePath, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImageDecode, imagePath, err)
	}

	gray := toGrayMatrix(img)

	results := make([]RowResult, 0, len(roiTable.ROIs)+1)
	results = append(results, RowResult{
		"brightness": round3(mean(flatten(gray))),
		"contrast":   round3(quantile(flatten(gray), 0.95) - quantile(flatten(gray), 0.05)),
	})

	normalized := normalize8Bit(gray)
	rotated := rotateMatrix(normalized, -roiTable.ImageAngle)

	for key, roi := range roiTable.ROIs {
		rec, err := processROI(rotated, key, roi, opts)
		if err != nil {
			// A single ROI's failure does not abort the whole image;
			// spec.md §4.2 only specifies whole-image rejection for
			// missing/corrupt files, so a malformed ROI rectangle is
			// recorded and skipped.
			rec = RowResult{"ROI-label": roi.Label, "error": err.Error()}
		}
		results = append(results, rec)
	}

	return results, nil
}

// matrix is a dense row-major grayscale pixel buffer; index [y][x].
type matrix [][]float64

func toGrayMatrix(img image.Image) matrix {
	b := img.Bounds()
	out := make(matrix, b.Dy())
	for y := 0; y < b.Dy(); y++ {
		out[y] = make([]float64, b.Dx())
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// Standard luma weighting; inputs are already near-grayscale
			// captures so this only matters for synthetic RGB fixtures.
			out[y][x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
	}
	return out
}

func flatten(m matrix) []float64 {
	var out []float64
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

// normalize8Bit rescales m's value range to [0, 255] by min-max
// normalization (spec.md §4.2 step 3).
func normalize8Bit(m matrix) matrix {
	vals := flatten(m)
	lo, hi := minMax(vals)
	span := hi - lo
	out := make(matrix, len(m))
	for y, row := range m {
		out[y] = make([]float64, len(row))
		for x, v := range row {
			if span == 0 {
				out[y][x] = 0
				continue
			}
			out[y][x] = (v - lo) / span * 255
		}
	}
	return out
}

// rotateMatrix rotates m by angleRad about its centre using a
// similarity warp (spec.md §4.2 step 4), via disintegration/imaging's
// rotation over an intermediate gray image.
func rotateMatrix(m matrix, angleRad float64) matrix {
	if angleRad == 0 || len(m) == 0 {
		return m
	}
	h := len(m)
	w := len(m[0])
	gimg := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m[y][x]
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			gimg.SetGray(x, y, grayOf(v))
		}
	}
	degrees := angleRad * 180 / math.Pi
	rotated := imaging.Rotate(gimg, degrees, image.Black)
	rb := rotated.Bounds()
	out := make(matrix, rb.Dy())
	for y := 0; y < rb.Dy(); y++ {
		out[y] = make([]float64, rb.Dx())
		for x := 0; x < rb.Dx(); x++ {
			r, _, _, _ := rotated.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			out[y][x] = float64(r >> 8)
		}
	}
	return out
}

func minMax(vals []float64) (lo, hi float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
