// Package assets loads levels from asset packs into renderable surfaces.
package assets

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/megatexture"
	"github.com/Faultbox/megatex/pkg/formats"
	"github.com/Faultbox/megatex/pkg/math"
	"github.com/Faultbox/megatex/pkg/mtpack"
)

// Pack entry naming.
const (
	LevelDir  = "levels"
	TileDir   = "tiles"
	LevelExt  = ".mtlv"
	TileExt   = ".tiles"
	tileAlign = megatexture.TileBytes
)

// ErrInvalidLevel is returned when a level parses but cannot be rendered.
var ErrInvalidLevel = errors.New("invalid level")

// LevelPath returns the pack entry of a level definition.
func LevelPath(name string) string {
	return path.Join(LevelDir, name+LevelExt)
}

// TilePath returns the pack entry holding a level's tile pages.
func TilePath(name string) string {
	return path.Join(TileDir, name+TileExt)
}

// Level is a loaded level. Tile addresses of its surfaces are absolute
// offsets into Source.
type Level struct {
	Name     string
	Surfaces []megatexture.Surface
	Source   io.ReaderAt
}

// Manager serves levels from one pack.
type Manager struct {
	archive *mtpack.Archive
	cache   *Cache
	log     *zap.Logger
	mu      sync.Mutex
}

// NewManager opens the pack at path.
func NewManager(packPath string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}

	archive, err := mtpack.Open(packPath)
	if err != nil {
		return nil, fmt.Errorf("opening pack %s: %w", packPath, err)
	}

	log.Info("pack opened", zap.String("path", packPath), zap.Int("entries", len(archive.List())))

	return &Manager{archive: archive, cache: NewCache(), log: log}, nil
}

// Levels lists the level names in the pack.
func (m *Manager) Levels() []string {
	var names []string
	for _, entry := range m.archive.List() {
		if strings.HasPrefix(entry, LevelDir+"/") && strings.HasSuffix(entry, LevelExt) {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(entry, LevelDir+"/"), LevelExt))
		}
	}
	return names
}

// LoadLevel reads, validates and converts a level.
func (m *Manager) LoadLevel(name string) (*Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.cache.Get(name)
	if !ok {
		data, err := m.archive.Read(LevelPath(name))
		if err != nil {
			return nil, fmt.Errorf("loading level %s: %w", name, err)
		}

		def, err = formats.ParseLevel(data)
		if err != nil {
			return nil, fmt.Errorf("parsing level %s: %w", name, err)
		}
		m.cache.Set(name, def)
	}

	base, err := m.archive.StreamOffset(TilePath(name))
	if err != nil {
		return nil, fmt.Errorf("level %s tiles: %w", name, err)
	}
	entry, err := m.archive.Stat(TilePath(name))
	if err != nil {
		return nil, fmt.Errorf("level %s tiles: %w", name, err)
	}

	surfaces, err := BuildSurfaces(def, base, entry.Size)
	if err != nil {
		return nil, fmt.Errorf("level %s: %w", name, err)
	}

	m.log.Info("level loaded",
		zap.String("level", name),
		zap.Int("surfaces", len(surfaces)),
		zap.Uint64("tile_bytes", entry.Size))

	return &Level{Name: name, Surfaces: surfaces, Source: m.archive.ReaderAt()}, nil
}

// ClearCache drops parsed level definitions so the next load rereads them.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Clear()
}

// Close closes the pack.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.archive != nil {
		m.archive.Close()
		m.archive = nil
	}
	m.cache.Clear()
}

// BuildSurfaces converts a level definition into surfaces whose tile
// addresses start at tileBase. tileSize is the size of the tile stream and
// bounds every layer's tiles.
func BuildSurfaces(def *formats.Level, tileBase, tileSize uint64) ([]megatexture.Surface, error) {
	surfaces := make([]megatexture.Surface, len(def.Surfaces))

	for i := range def.Surfaces {
		src := &def.Surfaces[i]
		if len(src.Layers) > megatexture.MaxLayers {
			return nil, fmt.Errorf("%w: surface %q has %d layers", ErrInvalidLevel, src.Name, len(src.Layers))
		}

		s := megatexture.Surface{
			Name: src.Name,
			Basis: megatexture.UVBasis{
				Origin: vec3(src.Origin),
				Right:  vec3(src.Right),
				Up:     vec3(src.Up),
				Normal: vec3(src.Normal),
			},
			Bounds:    math.Box3{Min: vec3(src.BoundsMin), Max: vec3(src.BoundsMax)},
			TexelSize: src.TexelSize,
			SortGroup: int(src.SortGroup),
			Layers:    make([]megatexture.Layer, len(src.Layers)),
		}

		for lod := range src.Layers {
			layer, err := buildLayer(&src.Layers[lod], tileBase, tileSize)
			if err != nil {
				return nil, fmt.Errorf("%w: surface %q layer %d: %v", ErrInvalidLevel, src.Name, lod, err)
			}
			s.Layers[lod] = layer
		}

		// a coarser tile must exist for every finer tile pair
		for lod := 1; lod < len(s.Layers); lod++ {
			finer, coarser := &s.Layers[lod-1].Image, &s.Layers[lod].Image
			if (finer.XTiles-1)>>1 >= coarser.XTiles || (finer.YTiles-1)>>1 >= coarser.YTiles {
				return nil, fmt.Errorf("%w: surface %q layer %d does not halve layer %d",
					ErrInvalidLevel, src.Name, lod, lod-1)
			}
		}

		surfaces[i] = s
	}

	return surfaces, nil
}

func vec3(v [3]float32) math.Vec3 {
	return math.Vec3{X: v[0], Y: v[1], Z: v[2]}
}

func buildLayer(src *formats.LevelLayer, tileBase, tileSize uint64) (megatexture.Layer, error) {
	tiles := uint64(src.XTiles) * uint64(src.YTiles)

	if src.TileOffset%tileAlign != 0 {
		return megatexture.Layer{}, fmt.Errorf("tile offset %d not aligned", src.TileOffset)
	}
	if src.TileOffset+tiles*megatexture.TileBytes > tileSize {
		return megatexture.Layer{}, fmt.Errorf("tiles end at %d, past the %d byte tile stream",
			src.TileOffset+tiles*megatexture.TileBytes, tileSize)
	}

	mesh := megatexture.MeshLayer{
		Vertices: make([]megatexture.Vertex, len(src.Vertices)),
		Indices:  src.Indices,
		Tiles:    make([]megatexture.MeshTile, len(src.Tiles)),
		MinTileX: int(src.MinTileX),
		MinTileY: int(src.MinTileY),
		MaxTileX: int(src.MaxTileX),
		MaxTileY: int(src.MaxTileY),
	}

	for i, v := range src.Vertices {
		mesh.Vertices[i] = megatexture.Vertex{Pos: v.Pos, UV: v.UV}
	}

	for i, t := range src.Tiles {
		if t.VertexCount > megatexture.MaxVertexWindow {
			return megatexture.Layer{}, fmt.Errorf("tile %d has %d vertices, limit %d", i, t.VertexCount, megatexture.MaxVertexWindow)
		}
		for _, index := range src.Indices[t.StartIndex : t.StartIndex+uint32(t.IndexCount)] {
			if index >= t.VertexCount {
				return megatexture.Layer{}, fmt.Errorf("tile %d index %d past its %d vertices", i, index, t.VertexCount)
			}
		}
		mesh.Tiles[i] = megatexture.MeshTile{
			StartVertex: t.StartVertex,
			VertexCount: t.VertexCount,
			StartIndex:  t.StartIndex,
			IndexCount:  t.IndexCount,
		}
	}

	return megatexture.Layer{
		Image: megatexture.ImageLayer{
			XTiles:       int(src.XTiles),
			YTiles:       int(src.YTiles),
			Source:       megatexture.TileAddr(tileBase + src.TileOffset),
			AlwaysLoaded: src.AlwaysLoaded(),
		},
		Mesh: mesh,
	}, nil
}

// Cache keeps parsed level definitions so reloading a level does not read
// and inflate the pack entry again.
type Cache struct {
	data map[string]*formats.Level
	mu   sync.RWMutex

	hits   int
	misses int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string]*formats.Level)}
}

// Get retrieves a level definition.
func (c *Cache) Get(key string) (*formats.Level, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	level, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return level, ok
}

// Set stores a level definition.
func (c *Cache) Set(key string, level *formats.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = level
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*formats.Level)
	c.hits = 0
	c.misses = 0
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
