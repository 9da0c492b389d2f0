package camera

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDummyDriverAcquireFrame(t *testing.T) {
	dir := t.TempDir()
	d := NewDummyDriver(0)

	frame, meta, err := d.AcquireFrame(context.Background(), dir, "frame.jpg")
	require.NoError(t, err)
	require.Equal(t, 640, frame.Width)
	require.Equal(t, 480, frame.Height)
	require.FileExists(t, frame.Filepath)
	require.Equal(t, 0, meta.CameraIndex)
}

func TestFileImporterDriverCyclesThroughSource(t *testing.T) {
	src := t.TempDir()
	writePNG(t, filepath.Join(src, "a.png"), 10, 10)
	writePNG(t, filepath.Join(src, "b.png"), 10, 10)

	d, err := NewFileImporterDriver(src, 1)
	require.NoError(t, err)

	out := t.TempDir()
	f1, _, err := d.AcquireFrame(context.Background(), out, "out1.png")
	require.NoError(t, err)
	f2, _, err := d.AcquireFrame(context.Background(), out, "out2.png")
	require.NoError(t, err)
	f3, _, err := d.AcquireFrame(context.Background(), out, "out3.png")
	require.NoError(t, err)

	require.FileExists(t, f1.Filepath)
	require.FileExists(t, f2.Filepath)
	// Cycles back to the first source file after exhausting the list.
	require.Equal(t, f1.Width, f3.Width)
}

func TestFileImporterDriverRejectsEmptySource(t *testing.T) {
	_, err := NewFileImporterDriver(t.TempDir(), 0)
	require.Error(t, err)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 128})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}
