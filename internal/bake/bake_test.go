package bake

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/megatex/internal/assets"
	"github.com/Faultbox/megatex/internal/engine/texture"
	"github.com/Faultbox/megatex/internal/megatexture"
)

const testScene = `
name: yard
surfaces:
  - name: wall
    image: wall.png
    origin: [0, 1, 0]
    right: [2, 0, 0]
    up: [0, -1, 0]
    sort_group: 2
    color_key: [255, 0, 255]
`

var (
	red     = color.NRGBA{R: 255, A: 255}
	magenta = color.NRGBA{R: 255, B: 255, A: 255}
)

// createTestImage returns a red w x h image with a magenta 4x4 block at the
// origin.
func createTestImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < 4 && y < 4 {
				img.SetNRGBA(x, y, magenta)
			} else {
				img.SetNRGBA(x, y, red)
			}
		}
	}
	return img
}

func writeScene(t *testing.T, scene string, img image.Image) string {
	t.Helper()
	dir := t.TempDir()

	f, err := os.Create(filepath.Join(dir, "wall.png"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	f.Close()

	path := filepath.Join(dir, "yard.yaml")
	if err := os.WriteFile(path, []byte(scene), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestBake_EndToEnd(t *testing.T) {
	scenePath := writeScene(t, testScene, createTestImage(64, 32))

	scene, err := LoadScene(scenePath)
	if err != nil {
		t.Fatalf("LoadScene failed: %v", err)
	}

	packPath := filepath.Join(t.TempDir(), "out.mtpk")
	if err := NewBaker(2, nil).Bake(context.Background(), []*Scene{scene}, packPath); err != nil {
		t.Fatalf("Bake failed: %v", err)
	}

	m, err := assets.NewManager(packPath, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	level, err := m.LoadLevel("yard")
	if err != nil {
		t.Fatalf("LoadLevel failed: %v", err)
	}
	if len(level.Surfaces) != 1 {
		t.Fatalf("expected 1 surface, got %d", len(level.Surfaces))
	}

	s := level.Surfaces[0]
	if s.Name != "wall" || s.SortGroup != 2 {
		t.Errorf("unexpected surface %q group %d", s.Name, s.SortGroup)
	}
	if len(s.Layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(s.Layers))
	}
	if s.Layers[0].Image.XTiles != 2 || s.Layers[0].Image.YTiles != 1 {
		t.Errorf("layer 0 grid = %dx%d, want 2x1", s.Layers[0].Image.XTiles, s.Layers[0].Image.YTiles)
	}
	if s.Layers[0].Image.AlwaysLoaded || !s.Layers[1].Image.AlwaysLoaded {
		t.Error("only the coarsest layer should be always loaded")
	}
	if s.Basis.Normal.Z < 0.999 {
		t.Errorf("normal = %+v, want +Z", s.Basis.Normal)
	}
	if s.TexelSize != 1.0/32 {
		t.Errorf("texel size = %v, want %v", s.TexelSize, 1.0/32)
	}
	if s.Bounds.Min.Y != 0 || s.Bounds.Max.X != 2 || s.Bounds.Max.Y != 1 {
		t.Errorf("bounds = %+v", s.Bounds)
	}

	page := make([]byte, megatexture.TileBytes)
	if _, err := level.Source.ReadAt(page, int64(s.Layers[0].Image.TileAddr(0, 0))); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	tile := texture.DecodeTile(page)

	if got := tile.NRGBAAt(1, 1); got.A != 0 {
		t.Errorf("color keyed texel = %+v, want transparent", got)
	}
	if got := tile.NRGBAAt(10, 10); got.R < 240 || got.G != 0 || got.B != 0 || got.A != 255 {
		t.Errorf("texel = %+v, want opaque red", got)
	}
}

func TestBakeSurface_DoesNotModifySource(t *testing.T) {
	img := createTestImage(32, 32)
	desc := &SurfaceDesc{
		Name:     "floor",
		Right:    [3]float32{1, 0, 0},
		Up:       [3]float32{0, 0, 1},
		ColorKey: &[3]uint8{255, 0, 255},
	}

	surface, pages, err := NewBaker(1, nil).BakeSurface(context.Background(), desc, img, 16)
	if err != nil {
		t.Fatalf("BakeSurface failed: %v", err)
	}
	if img.NRGBAAt(0, 0) != magenta {
		t.Error("source image was modified")
	}
	if len(surface.Layers) != 1 || len(pages) != megatexture.TileBytes {
		t.Errorf("got %d layers and %d bytes, want 1 layer of one tile", len(surface.Layers), len(pages))
	}
}

func TestBakeSurface_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	desc := &SurfaceDesc{Name: "floor", Right: [3]float32{1, 0, 0}, Up: [3]float32{0, 0, 1}}
	_, _, err := NewBaker(1, nil).BakeSurface(ctx, desc, createTestImage(64, 64), 16)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLayerSizes(t *testing.T) {
	tests := []struct {
		x, y int
		want []layerSize
	}{
		{1, 1, []layerSize{{1, 1}}},
		{4, 2, []layerSize{{4, 2}, {2, 1}, {1, 1}}},
		{8, 1, []layerSize{{8, 1}, {4, 1}, {2, 1}, {1, 1}}},
	}

	for _, tt := range tests {
		got := layerSizes(tt.x, tt.y)
		if len(got) != len(tt.want) {
			t.Errorf("layerSizes(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("layerSizes(%d, %d)[%d] = %v, want %v", tt.x, tt.y, i, got[i], tt.want[i])
			}
		}
	}
}

func TestLayerSizes_Bounded(t *testing.T) {
	if got := len(layerSizes(1<<20, 1)); got != megatexture.MaxLayers {
		t.Errorf("got %d layers, want %d", got, megatexture.MaxLayers)
	}
}

func TestBuildLayer(t *testing.T) {
	basis := megatexture.UVBasis{
		Right: vec3([3]float32{4, 0, 0}),
		Up:    vec3([3]float32{0, 2, 0}),
	}
	layer := buildLayer(basis, layerSize{2, 1})

	if len(layer.Tiles) != 2 || len(layer.Vertices) != 8 || len(layer.Indices) != 12 {
		t.Fatalf("got %d tiles %d vertices %d indices", len(layer.Tiles), len(layer.Vertices), len(layer.Indices))
	}
	if layer.Tiles[1].StartVertex != 4 || layer.Tiles[1].StartIndex != 6 {
		t.Errorf("tile 1 = %+v", layer.Tiles[1])
	}

	v := layer.Vertices[5] // tile 1, corner (2, 0)
	if v.Pos != [3]float32{4, 0, 0} || v.UV != [2]float32{64, 0} {
		t.Errorf("vertex = %+v, want pos (4,0,0) uv (64,0)", v)
	}
	v = layer.Vertices[6] // tile 1, corner (2, 1)
	if v.Pos != [3]float32{4, 2, 0} || v.UV != [2]float32{64, 32} {
		t.Errorf("vertex = %+v, want pos (4,2,0) uv (64,32)", v)
	}
}

func TestParseScene_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		scene string
	}{
		{"no name", "surfaces: [{image: a.png, right: [1,0,0], up: [0,1,0]}]"},
		{"no surfaces", "name: x"},
		{"no image", "name: x\nsurfaces: [{right: [1,0,0], up: [0,1,0]}]"},
		{"zero edge", "name: x\nsurfaces: [{image: a.png, right: [0,0,0], up: [0,1,0]}]"},
		{"skewed", "name: x\nsurfaces: [{image: a.png, right: [1,0,0], up: [1,1,0]}]"},
		{"duplicate", "name: x\nsurfaces: [{name: a, image: a.png, right: [1,0,0], up: [0,1,0]}, {name: a, image: b.png, right: [1,0,0], up: [0,1,0]}]"},
		{"bad max tiles", "name: x\noptions: {max_tiles: 3}\nsurfaces: [{image: a.png, right: [1,0,0], up: [0,1,0]}]"},
		{"negative preload", "name: x\nsurfaces: [{image: a.png, right: [1,0,0], up: [0,1,0], preload_layers: -1}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScene([]byte(tt.scene)); !errors.Is(err, ErrInvalidScene) {
				t.Errorf("expected ErrInvalidScene, got %v", err)
			}
		})
	}
}

func TestParseScene_Defaults(t *testing.T) {
	scene, err := ParseScene([]byte("name: x\nsurfaces: [{image: a.png, right: [1,0,0], up: [0,1,0]}]"))
	if err != nil {
		t.Fatalf("ParseScene failed: %v", err)
	}
	if scene.Options.MaxTiles != defaultMaxTiles {
		t.Errorf("max tiles = %d, want %d", scene.Options.MaxTiles, defaultMaxTiles)
	}
	if scene.Surfaces[0].Name != "surface0" {
		t.Errorf("name = %q, want surface0", scene.Surfaces[0].Name)
	}
	if got := scene.Surfaces[0].preloadLayers(); got != defaultPreloadLayers {
		t.Errorf("preload layers = %d, want %d", got, defaultPreloadLayers)
	}
}
