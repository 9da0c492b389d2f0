// Package camera defines the capture-driver interface (C5 in spec.md)
// and its implementations. spec.md §9 places the actual camera
// hardware out of scope as an external collaborator; only the
// interface and a handful of host-side drivers (dummy, file-importer,
// and a subprocess-based Hawkeye driver) live here.
package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Frame is one acquired capture: its path on disk plus the raw
// dimensions the driver reports, independent of any analysis.
type Frame struct {
	Filename string
	Filepath string
	Width    int
	Height   int
}

// Metadata is driver-reported capture metadata folded into the
// manifest's CameraData entry.
type Metadata struct {
	CameraIndex int
	CapturedAt  time.Time
}

// Driver is the capture abstraction the Collector depends on. Each
// implementation owns its own hardware/subprocess lifecycle; Collector
// only ever calls AcquireFrame once per cycle.
type Driver interface {
	// AcquireFrame captures one frame into outDir/filename and reports
	// its metadata. Implementations must leave outDir/filename absent
	// or incomplete on error, never a truncated file.
	AcquireFrame(ctx context.Context, outDir, filename string) (Frame, Metadata, error)
	Close() error
}

// DummyDriver produces a fixed synthetic 8-bit grayscale frame with a
// bright vertical stripe, matching scenario 1 of spec.md §8 ("happy
// path, everything enabled") without any real hardware.
type DummyDriver struct {
	Width, Height int
	CameraIndex   int
}

// NewDummyDriver returns a DummyDriver with spec.md's reference frame
// size (640x480), used whenever [Camera] camera_type is DUMMY.
func NewDummyDriver(cameraIndex int) *DummyDriver {
	return &DummyDriver{Width: 640, Height: 480, CameraIndex: cameraIndex}
}

func (d *DummyDriver) AcquireFrame(ctx context.Context, outDir, filename string) (Frame, Metadata, error) {
	w, h := d.Width, d.Height
	if w == 0 {
		w = 640
	}
	if h == 0 {
		h = 480
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	stripe := w / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(30)
			if x >= stripe-5 && x <= stripe+5 {
				v = 230
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	path := filepath.Join(outDir, filename)
	if err := writeJPEG(path, img); err != nil {
		return Frame{}, Metadata{}, fmt.Errorf("camera: dummy driver write %s: %w", path, err)
	}

	return Frame{Filename: filename, Filepath: path, Width: w, Height: h},
		Metadata{CameraIndex: d.CameraIndex, CapturedAt: time.Now()}, nil
}

func (d *DummyDriver) Close() error { return nil }

// FileImporterDriver copies a pre-seeded image from SourceDir into the
// Collector's capture directory in place of driving real hardware —
// the Go analogue of the original's file-importer controller, useful
// for replaying a fixed set of captures through the pipeline.
type FileImporterDriver struct {
	SourceDir   string
	CameraIndex int

	names []string
	next  int
}

// NewFileImporterDriver lists sourceDir once at construction time and
// replays its entries in lexical order, cycling back to the start once
// exhausted.
func NewFileImporterDriver(sourceDir string, cameraIndex int) (*FileImporterDriver, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("camera: file importer: read %s: %w", sourceDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("camera: file importer: %s contains no importable files", sourceDir)
	}
	return &FileImporterDriver{SourceDir: sourceDir, CameraIndex: cameraIndex, names: names}, nil
}

func (d *FileImporterDriver) AcquireFrame(ctx context.Context, outDir, filename string) (Frame, Metadata, error) {
	src := filepath.Join(d.SourceDir, d.names[d.next%len(d.names)])
	d.next++

	dst := filepath.Join(outDir, filename)
	if err := copyFile(src, dst); err != nil {
		return Frame{}, Metadata{}, fmt.Errorf("camera: file importer copy %s -> %s: %w", src, dst, err)
	}

	cfg, _, err := decodeConfig(dst)
	if err != nil {
		return Frame{}, Metadata{}, fmt.Errorf("camera: file importer decode %s: %w", dst, err)
	}

	return Frame{Filename: filename, Filepath: dst, Width: cfg.Width, Height: cfg.Height},
		Metadata{CameraIndex: d.CameraIndex, CapturedAt: time.Now()}, nil
}

func (d *FileImporterDriver) Close() error { return nil }

// HawkeyeDriver shells out to rpicam-jpeg, kept as a subprocess
// capability per spec.md §9's re-architecture advisory (camera drivers
// are external collaborators, not an inlined library).
type HawkeyeDriver struct {
	BinPath     string
	CameraIndex int
	Exposure    int
	Gain        int
	Brightness  int
	Contrast    int
	Timeout     time.Duration
}

// NewHawkeyeDriver returns a driver invoking rpicam-jpeg on PATH.
func NewHawkeyeDriver(cameraIndex, exposure, gain, brightness, contrast int) *HawkeyeDriver {
	return &HawkeyeDriver{
		BinPath:     "rpicam-jpeg",
		CameraIndex: cameraIndex,
		Exposure:    exposure,
		Gain:        gain,
		Brightness:  brightness,
		Contrast:    contrast,
		Timeout:     15 * time.Second,
	}
}

func (d *HawkeyeDriver) AcquireFrame(ctx context.Context, outDir, filename string) (Frame, Metadata, error) {
	path := filepath.Join(outDir, filename)

	runCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := []string{
		"--camera", fmt.Sprintf("%d", d.CameraIndex),
		"--shutter", fmt.Sprintf("%d", d.Exposure),
		"--gain", fmt.Sprintf("%d", d.Gain),
		"--brightness", fmt.Sprintf("%d", d.Brightness),
		"--contrast", fmt.Sprintf("%d", d.Contrast),
		"--nopreview",
		"--output", path,
	}
	cmd := exec.CommandContext(runCtx, d.BinPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return Frame{}, Metadata{}, fmt.Errorf("camera: rpicam-jpeg failed: %w (output: %s)", err, out)
	}

	cfg, _, err := decodeConfig(path)
	if err != nil {
		return Frame{}, Metadata{}, fmt.Errorf("camera: decode captured frame %s: %w", path, err)
	}

	return Frame{Filename: filename, Filepath: path, Width: cfg.Width, Height: cfg.Height},
		Metadata{CameraIndex: d.CameraIndex, CapturedAt: time.Now()}, nil
}

func (d *HawkeyeDriver) Close() error { return nil }

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 92})
}

func decodeConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	return image.DecodeConfig(f)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
