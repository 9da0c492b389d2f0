package roigen

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// unsharpMask applies spec.md §4.3 step 3's preprocessing:
// 1.5*window - 0.5*blur(25x25).
func unsharpMask(window *image.Gray) *image.Gray {
	blurred := imaging.Blur(window, 12.5) // sigma approximating a 25x25 box
	bounds := window.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			w := float64(window.GrayAt(x, y).Y)
			br, _, _, _ := blurred.At(x, y).RGBA()
			b := float64(br >> 8)
			v := 1.5*w - 0.5*b
			out.SetGray(x, y, toGray(v))
		}
	}
	return out
}

func toGray(v float64) color.Gray {
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return color.Gray{Y: uint8(v + 0.5)}
}

// otsuThreshold computes Otsu's global threshold from a grayscale
// histogram, the standard maximum-between-class-variance method.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	bounds := img.Bounds()
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[img.GrayAt(x, y).Y]++
			total++
		}
	}
	if total == 0 {
		return 128
	}

	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var sumB, wB float64
	var best uint8
	maxVar := -1.0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			best = uint8(t)
		}
	}
	return best
}

// binarize applies a hard threshold: pixels >= t become 255, else 0.
func binarize(img *image.Gray, t uint8) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.GrayAt(x, y).Y >= t {
				out.SetGray(x, y, color.Gray{Y: 255})
			} else {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}

// matchResult is the outcome of template-matching one template against
// one search window.
type matchResult struct {
	PeakX, PeakY int     // top-left corner of the best match, window coords
	Quality      float64 // peak / mean(response)
}

// normalizedCrossCorrelate slides template over window and returns the
// location and quality of the best match. quality = peak / mean(response),
// the acceptance statistic of spec.md §4.3 step 3 ("quality > 1.5").
func normalizedCrossCorrelate(window, tmpl *image.Gray) matchResult {
	wb, tb := window.Bounds(), tmpl.Bounds()
	ww, wh := wb.Dx(), wb.Dy()
	tw, th := tb.Dx(), tb.Dy()

	if tw > ww || th > wh || tw == 0 || th == 0 {
		return matchResult{}
	}

	tmplMean := meanGray(tmpl)
	var tmplNorm float64
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			d := float64(tmpl.GrayAt(tb.Min.X+x, tb.Min.Y+y).Y) - tmplMean
			tmplNorm += d * d
		}
	}
	tmplNorm = math.Sqrt(tmplNorm)

	outW, outH := ww-tw+1, wh-th+1
	if outW <= 0 || outH <= 0 {
		return matchResult{}
	}
	responses := make([]float64, outW*outH)

	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			winMean := meanGrayRegion(window, wb.Min.X+ox, wb.Min.Y+oy, tw, th)
			var num, winNorm float64
			for y := 0; y < th; y++ {
				for x := 0; x < tw; x++ {
					wv := float64(window.GrayAt(wb.Min.X+ox+x, wb.Min.Y+oy+y).Y) - winMean
					tv := float64(tmpl.GrayAt(tb.Min.X+x, tb.Min.Y+y).Y) - tmplMean
					num += wv * tv
					winNorm += wv * wv
				}
			}
			denom := math.Sqrt(winNorm) * tmplNorm
			resp := 0.0
			if denom > 1e-9 {
				resp = num / denom
			}
			responses[oy*outW+ox] = resp
		}
	}

	peakIdx := 0
	peak := responses[0]
	var sum float64
	for i, r := range responses {
		sum += r
		if r > peak {
			peak = r
			peakIdx = i
		}
	}
	meanResp := sum / float64(len(responses))
	quality := 0.0
	if meanResp != 0 {
		quality = peak / meanResp
	}

	return matchResult{
		PeakX:   peakIdx % outW,
		PeakY:   peakIdx / outW,
		Quality: quality,
	}
}

func meanGray(img *image.Gray) float64 {
	b := img.Bounds()
	return meanGrayRegion(img, b.Min.X, b.Min.Y, b.Dx(), b.Dy())
}

func meanGrayRegion(img *image.Gray, x0, y0, w, h int) float64 {
	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += float64(img.GrayAt(x0+x, y0+y).Y)
		}
	}
	return sum / float64(w*h)
}
