// Command roigen is the one-shot ROI generator (C4 in spec.md): it
// registers a reference chip image against a known chip-map geometry
// and emits the ROI table the Processor consumes.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"

	"phorest/internal/config"
	"phorest/internal/lockfile"
	"phorest/internal/roigen"
)

// chipMapFile is the on-disk JSON shape of a chip's design geometry,
// the Go analogue of the original pipeline's Chip_map.json.
type chipMapFile struct {
	ChipType  string                   `json:"chip_type"`
	Landmarks map[string][2]float64    `json:"landmarks"`
	Gratings  []roigen.ChipGrating     `json:"gratings"`
}

// landmarksFile is the operator's clicked fiducial locations, the Go
// analogue of the original pipeline's Feature_locations.toml.
type landmarksFile map[string][2]float64

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	imagePath := flag.String("image", "", "reference chip image to register")
	chipMapPath := flag.String("chipmap", "", "chip-map JSON file (chip_type, landmarks, gratings)")
	landmarksPath := flag.String("landmarks", "", "operator-clicked landmark JSON file (label -> [x, y])")
	templatesDir := flag.String("templates", "", "directory of per-(chip_type,label) template images")
	outPath := flag.String("out", "", "output ROI manifest path (defaults to the configured roi_manifest_filename)")
	flag.Parse()

	if *imagePath == "" || *chipMapPath == "" || *landmarksPath == "" || *templatesDir == "" {
		log.Fatal("[roigen] -image, -chipmap, -landmarks, and -templates are all required")
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[roigen] failed to load config: %v", err)
	}

	dest := *outPath
	if dest == "" {
		dest = cfg.ROIManifestPath()
	}

	refImage, err := loadImage(*imagePath)
	if err != nil {
		log.Fatalf("[roigen] failed to load reference image: %v", err)
	}

	chipMap, err := loadChipMap(*chipMapPath)
	if err != nil {
		log.Fatalf("[roigen] failed to load chip map: %v", err)
	}

	landmarks, err := loadLandmarks(*landmarksPath)
	if err != nil {
		log.Fatalf("[roigen] failed to load landmarks: %v", err)
	}

	table, err := roigen.Generate(refImage, landmarks, chipMap, templateLoader(*templatesDir))
	if err != nil {
		log.Fatalf("[roigen] registration failed: %v", err)
	}

	if err := writeTable(dest, table); err != nil {
		log.Fatalf("[roigen] failed to write ROI manifest: %v", err)
	}
	fmt.Printf("ROI manifest written to %s (%d ROIs, image_angle=%.4f rad)\n", dest, len(table.ROIs), table.ImageAngle)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func loadChipMap(path string) (roigen.ChipMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return roigen.ChipMap{}, err
	}
	var raw chipMapFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return roigen.ChipMap{}, fmt.Errorf("decode chip map: %w", err)
	}
	return roigen.ChipMap{ChipType: raw.ChipType, Landmarks: raw.Landmarks, Gratings: raw.Gratings}, nil
}

func loadLandmarks(path string) (map[string][2]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lm landmarksFile
	if err := json.Unmarshal(data, &lm); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}
	return lm, nil
}

// templateLoader resolves templates as <dir>/<chipType>_<label>.png,
// matching the per-(chip_type,label) template directory spec.md §4.3
// describes.
func templateLoader(dir string) roigen.TemplateLoader {
	return func(chipType, label string) (image.Image, error) {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", chipType, label))
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("roigen: open template %s: %w", path, err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		return img, err
	}
}

func writeTable(path string, table roigen.Table) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return lockfile.WithLock(path, func() error {
		return os.WriteFile(path, data, 0o644)
	})
}
