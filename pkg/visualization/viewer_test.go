package visualization

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"medimagetools/internal/models"
)

func testImage(width, height, depth int) *models.Image {
	g := models.NewGeometry([3]int{width, height, depth}, [3]float64{1, 1, 1}, [3]float64{})
	img := models.NewImage(g, models.CT)
	// each slice along Z has a unique value
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(x, y, z, float64(z))
			}
		}
	}
	return img
}

// TestNewViewer verifies that a new viewer is created with the correct parameters
func TestNewViewer(t *testing.T) {
	viewer := NewViewer(testImage(10, 8, 5))

	if viewer.width != 10 || viewer.height != 8 || viewer.depth != 5 {
		t.Errorf("Expected dimensions 10x8x5, got %dx%dx%d", viewer.width, viewer.height, viewer.depth)
	}
	if viewer.low != 0 || viewer.high != 4 {
		t.Errorf("Expected window [0, 4], got [%f, %f]", viewer.low, viewer.high)
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewViewer(testImage(width, height, depth))

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		b := img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", width, height, b.Dx(), b.Dy())
		}
		r, _, _, _ := img.At(3, 3).RGBA()
		want := uint32(float64(z) / 4 * 65535)
		if diff := int(r) - int(want); diff < -1 || diff > 1 {
			t.Errorf("Slice %d: expected intensity %d, got %d", z, want, r)
		}
	}

	img, err := viewer.ExtractSlice("x", 2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	img, err = viewer.ExtractSlice("y", 2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out-of-range position")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position")
	}
	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
}

func TestBusiestSlice(t *testing.T) {
	g := models.NewGeometry([3]int{4, 4, 3}, [3]float64{1, 1, 1}, [3]float64{})
	m := models.NewMask(g)
	if z := BusiestSlice(m); z != -1 {
		t.Errorf("Expected -1 for empty mask, got %d", z)
	}
	m.Set(0, 0, 0)
	m.Set(1, 1, 2)
	m.Set(2, 2, 2)
	if z := BusiestSlice(m); z != 2 {
		t.Errorf("Expected busiest slice 2, got %d", z)
	}
}

// TestSnapshot verifies that a mask overlay is written as a PNG
func TestSnapshot(t *testing.T) {
	img := testImage(6, 4, 3)
	m := models.NewMask(img.Geometry)
	m.Set(1, 1, 1)
	m.Set(2, 1, 1)

	path := filepath.Join(t.TempDir(), "qa", "GTV.png")
	z, err := Snapshot(path, img, m)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if z != 1 {
		t.Errorf("Expected slice 1, got %d", z)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Snapshot file missing: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Snapshot is not a PNG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 6 || b.Dy() != 4 {
		t.Errorf("Expected 6x4 snapshot, got %dx%d", b.Dx(), b.Dy())
	}
	r, g, _, _ := decoded.At(1, 1).RGBA()
	if r <= g {
		t.Errorf("Expected masked pixel to be tinted red, got r=%d g=%d", r, g)
	}
	r, g, _, _ = decoded.At(0, 0).RGBA()
	if r != g {
		t.Errorf("Expected unmasked pixel to stay gray, got r=%d g=%d", r, g)
	}

	empty := models.NewMask(img.Geometry)
	emptyPath := filepath.Join(t.TempDir(), "empty.png")
	if z, err := Snapshot(emptyPath, img, empty); err != nil || z != -1 {
		t.Errorf("Expected no snapshot for empty mask, got z=%d err=%v", z, err)
	}
	if _, err := os.Stat(emptyPath); !os.IsNotExist(err) {
		t.Error("Expected no file for empty mask")
	}
}
