package debug

import (
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// bottomUp returns a 2x2 frame whose bottom row is red and top row blue,
// stored bottom row first.
func bottomUp() []byte {
	red := []byte{255, 0, 0, 255}
	blue := []byte{0, 0, 255, 255}

	var pixels []byte
	pixels = append(pixels, red...)
	pixels = append(pixels, red...)
	pixels = append(pixels, blue...)
	pixels = append(pixels, blue...)
	return pixels
}

func TestFlipRows(t *testing.T) {
	img, err := FlipRows(bottomUp(), 2, 2)
	if err != nil {
		t.Fatalf("FlipRows() error = %v", err)
	}

	if got := img.RGBAAt(1, 0); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("top row = %v, want blue", got)
	}
	if got := img.RGBAAt(0, 1); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("bottom row = %v, want red", got)
	}
}

func TestFlipRowsSizeMismatch(t *testing.T) {
	if _, err := FlipRows(make([]byte, 10), 2, 2); err == nil {
		t.Error("FlipRows() with short data succeeded")
	}
}

func TestScreenshotsSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	s := NewScreenshots(dir, "megaview")
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	name, err := s.Save(bottomUp(), 2, 2)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	want := filepath.Join(dir, "megaview_2024-03-01_12-30-00.000.png")
	if name != want {
		t.Errorf("Save() = %s, want %s", name, want)
	}

	f, err := os.Open(name)
	if err != nil {
		t.Fatalf("opening capture: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding capture: %v", err)
	}
	r, _, b, _ := img.At(0, 0).RGBA()
	if r != 0 || b != 0xffff {
		t.Errorf("top-left pixel = %v, want blue", img.At(0, 0))
	}
}

func TestScreenshotsFilenameWithoutDir(t *testing.T) {
	s := NewScreenshots("", "shot")
	if name := s.Filename(); strings.ContainsRune(name, filepath.Separator) || !strings.HasPrefix(name, "shot_") {
		t.Errorf("Filename() = %s", name)
	}
}
