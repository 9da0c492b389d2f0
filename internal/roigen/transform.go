package roigen

import (
	"errors"
	"math"
	"sort"
)

// ErrTooFewLandmarks is returned when fewer than two landmarks are
// available to solve a similarity transform (spec.md §8 boundary
// behaviour: "zero landmarks fails fast ... one landmark also fails").
var ErrTooFewLandmarks = errors.New("roigen: at least two landmarks are required to solve a transform")

// pairAngleAndDistance returns the angle (radians, relative to +x) and
// Euclidean distance between two 2-D points.
func pairAngleAndDistance(a, b [2]float64) (angle, dist float64) {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	return math.Atan2(dy, dx), math.Hypot(dx, dy)
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Transform is the solved 2-D similarity mapping chip-space coordinates
// to image pixel coordinates: image = chip*scale (rotated by Angle) + Offset.
type Transform struct {
	Angle  float64 // radians, accumulated rotation applied to the image
	Scale  float64
	Offset [2]float64
}

// solveAngleAndScale computes, from pairs of matched (chip-space,
// image-space) landmark coordinates, the median per-pair rotation
// (chip_angle - image_angle) and median per-pair scale
// (image_distance / chip_distance). Robust to one bad landmark by
// construction (median, not mean), per spec.md §4.3 step 1.
func solveAngleAndScale(chipPts, imgPts map[string][2]float64) (angle, scale float64, err error) {
	labels := make([]string, 0, len(chipPts))
	for l := range chipPts {
		if _, ok := imgPts[l]; ok {
			labels = append(labels, l)
		}
	}
	if len(labels) < 2 {
		return 0, 0, ErrTooFewLandmarks
	}
	sort.Strings(labels)

	var angles, scales []float64
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			li, lj := labels[i], labels[j]
			chipAngle, chipDist := pairAngleAndDistance(chipPts[li], chipPts[lj])
			imgAngle, imgDist := pairAngleAndDistance(imgPts[li], imgPts[lj])
			if chipDist == 0 {
				continue
			}
			angles = append(angles, chipAngle-imgAngle)
			scales = append(scales, imgDist/chipDist)
		}
	}
	if len(angles) == 0 {
		return 0, 0, ErrTooFewLandmarks
	}
	return median(angles), median(scales), nil
}

// solveOffset computes the per-axis median offset between refined
// image-pixel landmarks and their chip coordinates scaled by scale,
// per spec.md §4.3 step 6.
func solveOffset(chipPts, imgPts map[string][2]float64, scale float64) [2]float64 {
	var xs, ys []float64
	for label, chip := range chipPts {
		img, ok := imgPts[label]
		if !ok {
			continue
		}
		xs = append(xs, img[0]-chip[0]*scale)
		ys = append(ys, img[1]-chip[1]*scale)
	}
	return [2]float64{median(xs), median(ys)}
}

// rotatePoint rotates p by angle (radians) about centre.
func rotatePoint(p, centre [2]float64, angle float64) [2]float64 {
	dx := p[0] - centre[0]
	dy := p[1] - centre[1]
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	return [2]float64{
		centre[0] + dx*cosA - dy*sinA,
		centre[1] + dx*sinA + dy*cosA,
	}
}
