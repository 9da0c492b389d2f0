package roigen

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// TemplateLoader loads the template image for (chipType, label), per
// spec.md §4.3 "a directory of template images per (chip_type, label)".
type TemplateLoader func(chipType, label string) (image.Image, error)

// qualityThreshold is the template-match acceptance gate of spec.md
// §4.3 step 3: "Accept if quality > 1.5".
const qualityThreshold = 1.5

// searchWindowFactor is the 1.5x-template search-window size of
// spec.md §4.3 step 3.
const searchWindowFactor = 1.5

// Generate runs the full two-pass registration algorithm (spec.md §4.3)
// and emits the ROI table. userLandmarks gives the operator's clicked
// pixel coordinates for >=2 labels; chipMap is the design-space
// geometry for the chip under test; loadTemplate fetches the reference
// template image for a (chipType, label) pair.
func Generate(refImage image.Image, userLandmarks map[string][2]float64, chipMap ChipMap, loadTemplate TemplateLoader) (Table, error) {
	if len(userLandmarks) < 2 {
		return Table{}, ErrTooFewLandmarks
	}

	gray := imaging.Grayscale(refImage)
	grayImg := toGrayImage(gray)
	centre := imageCentre(grayImg)

	// Step 1: initial transform from user points.
	angle0, scale0, err := solveAngleAndScale(chipMap.Landmarks, userLandmarks)
	if err != nil {
		return Table{}, err
	}

	// Step 2: rotate image by the negated initial rotation.
	rotated1 := rotateAboutCentre(grayImg, -angle0)

	// Step 3: first refinement pass.
	refined1, err := refineLandmarks(rotated1, centre, userLandmarks, angle0, scale0, chipMap, loadTemplate)
	if err != nil {
		return Table{}, err
	}

	// Step 4: recompute rotation/scale from the refined landmarks.
	refinedPts1 := locatedPixelCoords(refined1)
	angle1Delta, scale1, err := solveAngleAndScale(chipMap.Landmarks, refinedPts1)
	if err != nil {
		return Table{}, err
	}
	accumAngle := angle0 + angle1Delta

	// Step 5: second refinement pass over the re-rotated image.
	rotated2 := rotateAboutCentre(grayImg, -accumAngle)
	refined2, err := refineLandmarks(rotated2, centre, userLandmarks, accumAngle, scale1, chipMap, loadTemplate)
	if err != nil {
		return Table{}, err
	}
	refinedPts2 := locatedPixelCoords(refined2)
	angle2Delta, scale2, err := solveAngleAndScale(chipMap.Landmarks, refinedPts2)
	if err == nil {
		accumAngle += angle2Delta
	}

	// Step 6: chip offset from the final refined landmarks.
	offset := solveOffset(chipMap.Landmarks, refinedPts2, scale2)

	// Step 7 + 8: apply to gratings, split into ROI halves, emit table.
	bounds := grayImg.Bounds()
	table := Table{ImageAngle: accumAngle, ROIs: map[string]ROI{}}
	for _, g := range chipMap.Gratings {
		originPx := [2]float64{
			g.Origin[0]*scale2 + offset[0],
			g.Origin[1]*scale2 + offset[1],
		}
		sizePx := [2]float64{g.Size[0] * scale2, g.Size[1] * scale2}

		for key, roi := range splitGrating(g.Label, originPx, sizePx, chipMap.IsIMECII2()) {
			if !roiInBounds(roi, bounds) {
				continue // dropped: falls outside image bounds (spec.md §4.3 step 8)
			}
			table.ROIs[key] = roi
		}
	}

	return table, nil
}

func imageCentre(img *image.Gray) [2]float64 {
	b := img.Bounds()
	return [2]float64{float64(b.Dx()) / 2, float64(b.Dy()) / 2}
}

func toGrayImage(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func rotateAboutCentre(img *image.Gray, angleRad float64) *image.Gray {
	degrees := angleRad * 180 / math.Pi
	rotated := imaging.Rotate(img, degrees, image.Black)
	return toGrayImage(rotated)
}

// refineLandmarks implements spec.md §4.3 step 3: for each user
// landmark, rotate its coordinate, cut a search window around it in
// the already-rotated image, preprocess (unsharp + Otsu), template
// match, and accept if quality exceeds the threshold.
func refineLandmarks(rotatedImg *image.Gray, centre [2]float64, userLandmarks map[string][2]float64, angle, scale float64, chipMap ChipMap, loadTemplate TemplateLoader) (map[string]Landmark, error) {
	out := map[string]Landmark{}
	bounds := rotatedImg.Bounds()

	for label, userPx := range userLandmarks {
		rotatedPx := rotatePoint(userPx, centre, angle)

		tmplImg, err := loadTemplate(chipMap.ChipType, label)
		if err != nil {
			return nil, fmt.Errorf("roigen: load template for %q/%q: %w", chipMap.ChipType, label, err)
		}
		tb := tmplImg.Bounds()
		scaledW := int(float64(tb.Dx())*scale + 0.5)
		scaledH := int(float64(tb.Dy())*scale + 0.5)
		if scaledW < 1 {
			scaledW = 1
		}
		if scaledH < 1 {
			scaledH = 1
		}
		tmplScaled := toGrayImage(imaging.Resize(tmplImg, scaledW, scaledH, imaging.Linear))

		winW := int(float64(scaledW) * searchWindowFactor)
		winH := int(float64(scaledH) * searchWindowFactor)
		x0 := clampInt(int(rotatedPx[0])-winW/2, bounds.Min.X, bounds.Max.X)
		y0 := clampInt(int(rotatedPx[1])-winH/2, bounds.Min.Y, bounds.Max.Y)
		x1 := clampInt(x0+winW, bounds.Min.X, bounds.Max.X)
		y1 := clampInt(y0+winH, bounds.Min.Y, bounds.Max.Y)
		if x1 <= x0 || y1 <= y0 {
			out[label] = Landmark{Label: label, PixelXY: rotatedPx, Located: false}
			continue
		}

		window := cropGray(rotatedImg, image.Rect(x0, y0, x1, y1))
		preprocessed := binarize(unsharpMask(window), otsuThreshold(window))
		tmplPreprocessed := binarize(unsharpMask(tmplScaled), otsuThreshold(tmplScaled))

		result := normalizedCrossCorrelate(preprocessed, tmplPreprocessed)

		lm := Landmark{Label: label, Quality: result.Quality}
		if result.Quality > qualityThreshold {
			lm.Located = true
			lm.PixelXY = [2]float64{
				float64(x0 + result.PeakX + tmplPreprocessed.Bounds().Dx()/2),
				float64(y0 + result.PeakY + tmplPreprocessed.Bounds().Dy()/2),
			}
		} else {
			lm.PixelXY = rotatedPx
		}
		out[label] = lm
	}
	return out, nil
}

func locatedPixelCoords(landmarks map[string]Landmark) map[string][2]float64 {
	out := map[string][2]float64{}
	for label, lm := range landmarks {
		if lm.Located {
			out[label] = lm.PixelXY
		}
	}
	return out
}

func cropGray(img *image.Gray, rect image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.SetGray(x, y, img.GrayAt(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// splitGrating splits one grating's pixel rectangle into its two ROI
// halves, per spec.md §3: A/B (x-split) for standard chips, N/S
// (y-split) for the IMECII_2 family. The first half has flip=true.
func splitGrating(label string, originPx, sizePx [2]float64, imecii2 bool) map[string]ROI {
	x, y := originPx[0], originPx[1]
	w, h := sizePx[0], sizePx[1]

	if imecii2 {
		halfH := h / 2
		return map[string]ROI{
			fmt.Sprintf("ROI_%s_N", label): {
				Label: label, Flip: true,
				Coord: [2]int{round(y), round(x)},
				Size:  [2]int{round(halfH), round(w)},
			},
			fmt.Sprintf("ROI_%s_S", label): {
				Label: label, Flip: false,
				Coord: [2]int{round(y + halfH), round(x)},
				Size:  [2]int{round(halfH), round(w)},
			},
		}
	}

	halfW := w / 2
	return map[string]ROI{
		fmt.Sprintf("ROI_%s_A", label): {
			Label: label, Flip: true,
			Coord: [2]int{round(y), round(x)},
			Size:  [2]int{round(h), round(halfW)},
		},
		fmt.Sprintf("ROI_%s_B", label): {
			Label: label, Flip: false,
			Coord: [2]int{round(y), round(x + halfW)},
			Size:  [2]int{round(h), round(halfW)},
		},
	}
}

func round(v float64) int {
	return int(math.Round(v))
}

func roiInBounds(roi ROI, bounds image.Rectangle) bool {
	y, x := roi.Coord[0], roi.Coord[1]
	h, w := roi.Size[0], roi.Size[1]
	if x < bounds.Min.X || y < bounds.Min.Y {
		return false
	}
	if x+w > bounds.Max.X || y+h > bounds.Max.Y {
		return false
	}
	return true
}
