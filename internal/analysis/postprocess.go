package analysis

import (
	"fmt"
	"image"
	"log"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"phorest/internal/roigen"
)

// processROI implements spec.md §4.2 step 5 and the postprocess
// statistics: slice the ROI out of the rotated image, optionally flip
// and sub-ROI-reduce it, fit every row, then summarize across rows.
func processROI(rotated matrix, key string, roi roigen.ROI, opts Options) (RowResult, error) {
	y0, x0 := roi.Coord[0], roi.Coord[1]
	h, w := roi.Size[0], roi.Size[1]
	if y0 < 0 || x0 < 0 || h <= 0 || w <= 0 || y0+h > len(rotated) || (len(rotated) > 0 && x0+w > len(rotated[0])) {
		return nil, fmt.Errorf("ROI %s rectangle is out of bounds", key)
	}

	slice := sliceMatrix(rotated, y0, x0, h, w)
	if roi.Flip {
		slice = flipLeftRight(slice)
	}

	reduced := reduceSubROIs(slice, opts.NumberSubROIs)

	perParam := map[string][]float64{}
	skipped := 0
	for _, row := range reduced {
		params, ok := fitRow(row, opts.Method)
		if !ok {
			skipped++
			continue
		}
		for k, v := range params {
			perParam[k] = append(perParam[k], v)
		}
	}

	if len(reduced) > 0 && float64(skipped)/float64(len(reduced)) > 0.5 {
		// Warn, then still produce a record from whatever rows survived.
		log.Printf("[analysis] warning: ROI %s: %d of %d rows rejected by the %s fit", key, skipped, len(reduced), opts.Method)
	}

	rec := RowResult{
		"ROI-label":       roi.Label,
		"Analysis-method": string(opts.Method),
	}
	for param, values := range perParam {
		rec[param] = summarize(values, opts.Debug)
	}
	return rec, nil
}

func sliceMatrix(m matrix, y0, x0, h, w int) matrix {
	out := make(matrix, h)
	for y := 0; y < h; y++ {
		out[y] = append([]float64(nil), m[y0+y][x0:x0+w]...)
	}
	return out
}

func flipLeftRight(m matrix) matrix {
	out := make(matrix, len(m))
	for y, row := range m {
		rev := make([]float64, len(row))
		for x, v := range row {
			rev[len(row)-1-x] = v
		}
		out[y] = rev
	}
	return out
}

// reduceSubROIs resizes m to numRows rows by linear interpolation, or
// returns m unchanged if numRows == 0 ("one row per pixel row", per
// spec.md §4.2 step 5 and the boundary behaviour in §8).
func reduceSubROIs(m matrix, numRows int) matrix {
	if numRows == 0 || numRows == len(m) || len(m) == 0 {
		return m
	}

	h := len(m)
	w := len(m[0])
	gimg := image.NewGray(image.Rect(0, 0, w, h))
	lo, hi := minMax(flatten(m))
	span := hi - lo
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m[y][x]
			if span != 0 {
				v = (v - lo) / span * 255
			}
			gimg.SetGray(x, y, grayOf(v))
		}
	}
	resized := imaging.Resize(gimg, w, numRows, imaging.Linear)

	out := make(matrix, numRows)
	for y := 0; y < numRows; y++ {
		out[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			r, _, _, _ := resized.At(x, y).RGBA()
			v := float64(r >> 8)
			if span != 0 {
				v = v/255*span + lo
			}
			out[y][x] = v
		}
	}
	return out
}

// summarize computes the postprocess statistics of spec.md §4.2 for
// one fit parameter across its surviving rows: mean, std, Q1, median,
// Q3, max, min, smoothness. All rounded to 3 decimals; raw values are
// dropped unless debug is set.
func summarize(values []float64, debug bool) map[string]any {
	out := map[string]any{}
	if debug {
		out["Values"] = roundAll(values)
	}
	if len(values) == 0 {
		out["Mean"] = 0.0
		out["STD"] = 0.0
		out["LQ"] = 0.0
		out["Median"] = 0.0
		out["UQ"] = 0.0
		out["Max"] = 0.0
		out["Min"] = 0.0
		out["Smoothness"] = 0.0
		return out
	}

	lo, hi := minMax(values)
	out["Mean"] = round3(mean(values))
	out["STD"] = round3(stddev(values))
	out["LQ"] = round3(quantile(values, 0.25))
	out["Median"] = round3(quantile(values, 0.5))
	out["UQ"] = round3(quantile(values, 0.75))
	out["Max"] = round3(hi)
	out["Min"] = round3(lo)
	out["Smoothness"] = round3(smoothness(values, lo, hi))
	return out
}

// smoothness is std(diff(values))/range, defined as 0 when range is 0
// (spec.md §4.2).
func smoothness(values []float64, lo, hi float64) float64 {
	rangeV := hi - lo
	if rangeV == 0 || len(values) < 2 {
		return 0
	}
	diffs := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs[i-1] = values[i] - values[i-1]
	}
	return stddev(diffs) / rangeV
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, v := range xs {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// quantile computes the q-th quantile (0<=q<=1) by linear
// interpolation between closest ranks, the common "type 7" method.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func roundAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = round3(v)
	}
	return out
}
