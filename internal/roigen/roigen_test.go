package roigen

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolveAngleAndScaleRequiresTwoLandmarks(t *testing.T) {
	_, _, err := solveAngleAndScale(
		map[string][2]float64{"a": {0, 0}},
		map[string][2]float64{"a": {0, 0}},
	)
	require.ErrorIs(t, err, ErrTooFewLandmarks)
}

func TestSolveAngleAndScaleIdentity(t *testing.T) {
	chip := map[string][2]float64{
		"a": {0, 0},
		"b": {100, 0},
		"c": {0, 100},
	}
	// Image points identical to chip points: zero rotation, unit scale.
	angle, scale, err := solveAngleAndScale(chip, chip)
	require.NoError(t, err)
	require.InDelta(t, 0, angle, 1e-9)
	require.InDelta(t, 1.0, scale, 1e-9)
}

func TestSolveAngleAndScaleIsRobustToOneOutlier(t *testing.T) {
	// Five landmarks: a bad one touches 4 of the 10 pairs (a minority),
	// so the per-pair median should still land near the true scale.
	chip := map[string][2]float64{
		"a": {0, 0},
		"b": {100, 0},
		"c": {0, 100},
		"d": {100, 100},
		"e": {50, 50},
	}
	img := map[string][2]float64{
		"a": {0, 0},
		"b": {200, 0},
		"c": {0, 200},
		"d": {200, 200},
		"e": {9999, 9999}, // bad landmark
	}
	_, scale, err := solveAngleAndScale(chip, img)
	require.NoError(t, err)
	// Median over ten pairs should land near 2.0 despite the outlier.
	require.InDelta(t, 2.0, scale, 0.2)
}

func TestSplitGratingEastWest(t *testing.T) {
	rois := splitGrating("L1", [2]float64{10, 20}, [2]float64{40, 100}, false)
	require.Contains(t, rois, "ROI_L1_A")
	require.Contains(t, rois, "ROI_L1_B")
	require.True(t, rois["ROI_L1_A"].Flip)
	require.False(t, rois["ROI_L1_B"].Flip)
	require.Equal(t, [2]int{100, 20}, rois["ROI_L1_A"].Size)
}

func TestSplitGratingNorthSouthForIMECII2(t *testing.T) {
	rois := splitGrating("L1", [2]float64{10, 20}, [2]float64{40, 100}, true)
	require.Contains(t, rois, "ROI_L1_N")
	require.Contains(t, rois, "ROI_L1_S")
}

func TestROIOutsideBoundsIsDropped(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	inside := ROI{Coord: [2]int{0, 0}, Size: [2]int{50, 50}}
	outside := ROI{Coord: [2]int{90, 90}, Size: [2]int{50, 50}}
	require.True(t, roiInBounds(inside, bounds))
	require.False(t, roiInBounds(outside, bounds))
}

func TestChipMapIMECII2Detection(t *testing.T) {
	require.True(t, ChipMap{ChipType: "IMECII_2_RevA"}.IsIMECII2())
	require.False(t, ChipMap{ChipType: "StandardChipV1"}.IsIMECII2())
}

func TestTableJSONRoundTrip(t *testing.T) {
	table := Table{
		ImageAngle: 0.123,
		ROIs: map[string]ROI{
			"ROI_L1_A": {Label: "L1", Flip: true, Coord: [2]int{1, 2}, Size: [2]int{3, 4}},
		},
	}
	data, err := table.MarshalJSON()
	require.NoError(t, err)

	var got Table
	require.NoError(t, got.UnmarshalJSON(data))
	require.InDelta(t, table.ImageAngle, got.ImageAngle, 1e-9)
	require.Equal(t, table.ROIs, got.ROIs)
}
