// Package roigen implements the ROI generator (C4 in spec.md): a
// one-shot computer-vision routine that locates feature labels by
// template matching, solves a 2-D similarity transform, and emits
// per-grating ROI rectangles.
package roigen

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ROI is one region of interest: one half of one grating.
type ROI struct {
	Label string  `json:"label"`
	Flip  bool    `json:"flip"`
	Coord [2]int  `json:"coords"` // [y, x]
	Size  [2]int  `json:"size"`   // [h, w]
}

// Table is the ROI table: C4's output, C3's input (spec.md §3).
// Keys look like "ROI_<label>_<suffix>"; ImageAngle is the accumulated
// rotation (radians) applied to straighten the chip.
type Table struct {
	ImageAngle float64        `json:"image_angle"`
	ROIs       map[string]ROI `json:"-"`
}

// MarshalJSON flattens Table into the ROI_<label>_<suffix> + top-level
// image_angle shape spec.md §3 specifies, rather than a nested object.
func (t Table) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.ROIs)+1)
	for k, v := range t.ROIs {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("roigen: marshal ROI %q: %w", k, err)
		}
		out[k] = b
	}
	angle, err := json.Marshal(t.ImageAngle)
	if err != nil {
		return nil, err
	}
	out["image_angle"] = angle
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (t *Table) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.ROIs = map[string]ROI{}
	if a, ok := raw["image_angle"]; ok {
		if err := json.Unmarshal(a, &t.ImageAngle); err != nil {
			return fmt.Errorf("roigen: decode image_angle: %w", err)
		}
	}
	delete(raw, "image_angle")

	for k, v := range raw {
		if !strings.HasPrefix(k, "ROI") {
			continue
		}
		var roi ROI
		if err := json.Unmarshal(v, &roi); err != nil {
			return fmt.Errorf("roigen: decode %q: %w", k, err)
		}
		t.ROIs[k] = roi
	}
	return nil
}

// Landmark is a user-clicked or template-refined fiducial location.
type Landmark struct {
	Label string
	// PixelXY is the location in image pixel coordinates (x, y).
	PixelXY [2]float64
	// Quality is the template-match quality (peak/mean); zero until a
	// refinement pass has run.
	Quality float64
	// Located is false once a label fails the quality > 1.5 gate.
	Located bool
}

// ChipGrating is one grating's known design-space geometry for a chip
// type, in chip-map coordinates (arbitrary physical units, consistent
// with the landmark coordinates of the same chip map).
type ChipGrating struct {
	Label  string
	Origin [2]float64 // chip-space (x, y)
	Size   [2]float64 // chip-space (w, h)
}

// ChipMap is the known design geometry of one chip type: its landmark
// coordinates (for solving the transform) and its grating coordinates
// (for emitting ROIs).
type ChipMap struct {
	ChipType  string
	Landmarks map[string][2]float64 // label -> chip-space (x, y)
	Gratings  []ChipGrating
}

// IsIMECII2 reports whether this chip type's gratings split north/south
// rather than the default east/west (spec.md §3).
func (c ChipMap) IsIMECII2() bool {
	return strings.Contains(c.ChipType, "IMECII_2")
}
