package assets

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Faultbox/megatex/internal/megatexture"
	"github.com/Faultbox/megatex/pkg/formats"
	"github.com/Faultbox/megatex/pkg/mtpack"
)

func quad(x float32) []formats.LevelVertex {
	return []formats.LevelVertex{
		{Pos: [3]float32{x, 0, 0}, UV: [2]float32{x * 32, 0}},
		{Pos: [3]float32{x + 1, 0, 0}, UV: [2]float32{(x + 1) * 32, 0}},
		{Pos: [3]float32{x + 1, 1, 0}, UV: [2]float32{(x + 1) * 32, 32}},
		{Pos: [3]float32{x, 1, 0}, UV: [2]float32{x * 32, 32}},
	}
}

func createTestLevel() *formats.Level {
	fine := formats.LevelLayer{
		LevelLayerHeader: formats.LevelLayerHeader{XTiles: 2, YTiles: 1, MaxTileX: 2, MaxTileY: 1},
		Vertices:         append(quad(0), quad(1)...),
		Indices:          []uint8{0, 1, 2, 0, 2, 3, 0, 1, 2, 0, 2, 3},
		Tiles: []formats.LevelTile{
			{StartVertex: 0, VertexCount: 4, StartIndex: 0, IndexCount: 6},
			{StartVertex: 4, VertexCount: 4, StartIndex: 6, IndexCount: 6},
		},
	}

	coarse := formats.LevelLayer{
		LevelLayerHeader: formats.LevelLayerHeader{
			XTiles: 1, YTiles: 1, MaxTileX: 1, MaxTileY: 1,
			Flags:      formats.LayerAlwaysLoaded,
			TileOffset: 2 * megatexture.TileBytes,
		},
		Vertices: quad(0),
		Indices:  []uint8{0, 1, 2, 0, 2, 3},
		Tiles:    []formats.LevelTile{{VertexCount: 4, IndexCount: 6}},
	}

	return &formats.Level{
		Version: formats.LevelVersion,
		Surfaces: []formats.LevelSurface{{
			Name: "floor",
			LevelSurfaceHeader: formats.LevelSurfaceHeader{
				Right:     [3]float32{2, 0, 0},
				Up:        [3]float32{0, 1, 0},
				Normal:    [3]float32{0, 0, 1},
				BoundsMax: [3]float32{2, 1, 0},
				TexelSize: 1.0 / 64,
				SortGroup: 3,
			},
			Layers: []formats.LevelLayer{fine, coarse},
		}},
	}
}

// createTestPack writes a pack with one level and returns its path.
func createTestPack(t *testing.T, name string, level *formats.Level, tiles []byte) string {
	t.Helper()

	var buf bytes.Buffer
	if err := formats.WriteLevel(&buf, level); err != nil {
		t.Fatalf("WriteLevel failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.mtpk")
	w, err := mtpack.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.AddCompressed(LevelPath(name), buf.Bytes()); err != nil {
		t.Fatalf("AddCompressed failed: %v", err)
	}
	if err := w.AddRaw(TilePath(name), tiles); err != nil {
		t.Fatalf("AddRaw failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func tilePages(count int) []byte {
	data := make([]byte, count*megatexture.TileBytes)
	for i := range data {
		data[i] = byte(i / megatexture.TileBytes)
	}
	return data
}

func TestManager_LoadLevel(t *testing.T) {
	path := createTestPack(t, "yard", createTestLevel(), tilePages(3))

	m, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if names := m.Levels(); len(names) != 1 || names[0] != "yard" {
		t.Fatalf("Levels() = %v, want [yard]", names)
	}

	level, err := m.LoadLevel("yard")
	if err != nil {
		t.Fatalf("LoadLevel failed: %v", err)
	}
	if len(level.Surfaces) != 1 {
		t.Fatalf("expected 1 surface, got %d", len(level.Surfaces))
	}

	s := level.Surfaces[0]
	if s.Name != "floor" || s.SortGroup != 3 || len(s.Layers) != 2 {
		t.Errorf("unexpected surface: name=%q group=%d layers=%d", s.Name, s.SortGroup, len(s.Layers))
	}
	if s.Basis.Right.X != 2 || s.Basis.Normal.Z != 1 {
		t.Errorf("basis not converted: %+v", s.Basis)
	}
	if !s.Layers[1].Image.AlwaysLoaded || s.Layers[0].Image.AlwaysLoaded {
		t.Error("always loaded flag not carried over")
	}

	// tile addresses must read the baked pages in place
	page := make([]byte, megatexture.TileBytes)
	checks := []struct {
		name string
		addr megatexture.TileAddr
		want byte
	}{
		{"fine 0,0", s.Layers[0].Image.TileAddr(0, 0), 0},
		{"fine 1,0", s.Layers[0].Image.TileAddr(1, 0), 1},
		{"coarse 0,0", s.Layers[1].Image.TileAddr(0, 0), 2},
	}
	for _, c := range checks {
		if _, err := level.Source.ReadAt(page, int64(c.addr)); err != nil {
			t.Fatalf("%s: ReadAt failed: %v", c.name, err)
		}
		if page[0] != c.want || page[len(page)-1] != c.want {
			t.Errorf("%s: page starts with %d, want %d", c.name, page[0], c.want)
		}
	}

	// second load is served from the cache
	if _, err := m.LoadLevel("yard"); err != nil {
		t.Fatalf("second LoadLevel failed: %v", err)
	}
	if hits, misses := m.cache.Stats(); hits != 1 || misses != 1 {
		t.Errorf("cache stats = %d hits %d misses, want 1/1", hits, misses)
	}
}

func TestManager_LoadLevel_Missing(t *testing.T) {
	path := createTestPack(t, "yard", createTestLevel(), tilePages(3))

	m, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if _, err := m.LoadLevel("cave"); !errors.Is(err, mtpack.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_LoadLevel_ShortTileStream(t *testing.T) {
	path := createTestPack(t, "yard", createTestLevel(), tilePages(2))

	m, err := NewManager(path, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if _, err := m.LoadLevel("yard"); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestBuildSurfaces_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*formats.Level)
	}{
		{"misaligned tiles", func(l *formats.Level) {
			l.Surfaces[0].Layers[1].TileOffset = 100
		}},
		{"too many vertices", func(l *formats.Level) {
			l.Surfaces[0].Layers[0].Tiles[0].VertexCount = megatexture.MaxVertexWindow + 1
		}},
		{"index past tile vertices", func(l *formats.Level) {
			l.Surfaces[0].Layers[0].Indices[2] = 7
		}},
		{"coarse layer too small", func(l *formats.Level) {
			fine := &l.Surfaces[0].Layers[0]
			fine.XTiles, fine.MaxTileX = 4, 4
			fine.Tiles = append(fine.Tiles, fine.Tiles...)
			l.Surfaces[0].Layers[1].TileOffset = 4 * megatexture.TileBytes
		}},
		{"too many layers", func(l *formats.Level) {
			layers := l.Surfaces[0].Layers
			for len(layers) <= megatexture.MaxLayers {
				layers = append(layers, layers[len(layers)-1])
			}
			l.Surfaces[0].Layers = layers
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level := createTestLevel()
			tt.modify(level)

			_, err := BuildSurfaces(level, 0, 16*megatexture.TileBytes)
			if !errors.Is(err, ErrInvalidLevel) {
				t.Errorf("expected ErrInvalidLevel, got %v", err)
			}
		})
	}
}

func TestBuildSurfaces_TileBase(t *testing.T) {
	surfaces, err := BuildSurfaces(createTestLevel(), 8192, 3*megatexture.TileBytes)
	if err != nil {
		t.Fatalf("BuildSurfaces failed: %v", err)
	}

	layers := surfaces[0].Layers
	if got := layers[0].Image.Source; got != 8192 {
		t.Errorf("fine source = %d, want 8192", got)
	}
	if got := layers[1].Image.Source; got != 8192+2*megatexture.TileBytes {
		t.Errorf("coarse source = %d, want %d", got, 8192+2*megatexture.TileBytes)
	}
	if got := layers[0].Tile(1, 0).StartVertex; got != 4 {
		t.Errorf("tile 1 start vertex = %d, want 4", got)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()

	if _, ok := c.Get("a"); ok {
		t.Error("empty cache returned a level")
	}
	c.Set("a", createTestLevel())
	if _, ok := c.Get("a"); !ok {
		t.Error("stored level not found")
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}

	c.Clear()
	if _, ok := c.Get("a"); ok {
		t.Error("level survived Clear")
	}
}
