package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// MTLV format errors.
var (
	ErrInvalidLevelMagic       = errors.New("invalid level magic: expected 'MTLV'")
	ErrUnsupportedLevelVersion = errors.New("unsupported level version")
	ErrTruncatedLevelData      = errors.New("truncated level data")
	ErrCorruptLevel            = errors.New("corrupt level data")
)

// LevelVersion is the only level version written and accepted.
const LevelVersion = 1

// Limits checked while parsing.
const (
	MaxLevelSurfaces = 4096
	MaxLevelLayers   = 16
	MaxLevelNameLen  = 1024
)

// LayerAlwaysLoaded marks a layer whose tiles are pinned in the cache.
const LayerAlwaysLoaded = 1 << 0

var levelMagic = [4]byte{'M', 'T', 'L', 'V'}

// LevelVertex is one mesh vertex. UV is in texels of its layer.
type LevelVertex struct {
	Pos [3]float32
	UV  [2]float32
}

// LevelTile locates the geometry of one grid tile.
type LevelTile struct {
	StartVertex uint32
	VertexCount uint8
	StartIndex  uint32
	IndexCount  uint8
}

// LevelLayerHeader is the fixed part of a layer record.
type LevelLayerHeader struct {
	XTiles, YTiles uint16
	Flags          uint8
	TileOffset     uint64 // relative to the start of the tile stream

	// Active tile rectangle. Max is exclusive.
	MinTileX, MinTileY uint16
	MaxTileX, MaxTileY uint16
}

// LevelLayer is one LOD of a surface.
type LevelLayer struct {
	LevelLayerHeader
	Vertices []LevelVertex
	Indices  []uint8
	Tiles    []LevelTile // row-major, XTiles*YTiles
}

// AlwaysLoaded reports whether the layer is pinned at load time.
func (l *LevelLayer) AlwaysLoaded() bool {
	return l.Flags&LayerAlwaysLoaded != 0
}

// LevelSurfaceHeader is the fixed part of a surface record.
type LevelSurfaceHeader struct {
	Origin, Right, Up, Normal [3]float32
	BoundsMin, BoundsMax      [3]float32
	TexelSize                 float32
	SortGroup                 int16
	LayerCount                uint16
}

// LevelSurface is one megatextured mesh.
type LevelSurface struct {
	Name string
	LevelSurfaceHeader
	Layers []LevelLayer
}

// Level is a parsed MTLV file.
type Level struct {
	Version  uint32
	Surfaces []LevelSurface
}

// ParseLevel parses a level from raw bytes.
func ParseLevel(data []byte) (*Level, error) {
	if len(data) < 12 {
		return nil, ErrTruncatedLevelData
	}

	if !bytes.Equal(data[0:4], levelMagic[:]) {
		return nil, ErrInvalidLevelMagic
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version != LevelVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedLevelVersion, version)
	}

	count := binary.LittleEndian.Uint32(data[8:12])
	if count > MaxLevelSurfaces {
		return nil, fmt.Errorf("%w: %d surfaces", ErrCorruptLevel, count)
	}

	r := bytes.NewReader(data[12:])

	level := &Level{
		Version:  version,
		Surfaces: make([]LevelSurface, count),
	}

	for i := range level.Surfaces {
		surface, err := parseLevelSurface(r)
		if err != nil {
			return nil, fmt.Errorf("parsing surface %d: %w", i, err)
		}
		level.Surfaces[i] = surface
	}

	return level, nil
}

// ParseLevelFile parses a level file from disk.
func ParseLevelFile(path string) (*Level, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading level file: %w", err)
	}
	return ParseLevel(data)
}

func readString(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", fmt.Errorf("%w: reading name length", ErrTruncatedLevelData)
	}
	if length > MaxLevelNameLen {
		return "", fmt.Errorf("%w: name length %d", ErrCorruptLevel, length)
	}

	name := make([]byte, length)
	if _, err := io.ReadFull(r, name); err != nil {
		return "", fmt.Errorf("%w: reading name", ErrTruncatedLevelData)
	}
	return string(name), nil
}

// readCount reads a u32 element count and checks that count elements of
// size bytes can still be present.
func readCount(r *bytes.Reader, size int, what string) (int, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, fmt.Errorf("%w: reading %s count", ErrTruncatedLevelData, what)
	}
	if uint64(count)*uint64(size) > uint64(r.Len()) {
		return 0, fmt.Errorf("%w: %d %s", ErrTruncatedLevelData, count, what)
	}
	return int(count), nil
}

func parseLevelSurface(r *bytes.Reader) (LevelSurface, error) {
	var surface LevelSurface

	name, err := readString(r)
	if err != nil {
		return LevelSurface{}, err
	}
	surface.Name = name

	if err := binary.Read(r, binary.LittleEndian, &surface.LevelSurfaceHeader); err != nil {
		return LevelSurface{}, fmt.Errorf("%w: reading surface header", ErrTruncatedLevelData)
	}

	if surface.LayerCount == 0 || surface.LayerCount > MaxLevelLayers {
		return LevelSurface{}, fmt.Errorf("%w: %d layers", ErrCorruptLevel, surface.LayerCount)
	}

	surface.Layers = make([]LevelLayer, surface.LayerCount)
	for i := range surface.Layers {
		layer, err := parseLevelLayer(r)
		if err != nil {
			return LevelSurface{}, fmt.Errorf("layer %d: %w", i, err)
		}
		surface.Layers[i] = layer
	}

	return surface, nil
}

func parseLevelLayer(r *bytes.Reader) (LevelLayer, error) {
	var layer LevelLayer

	if err := binary.Read(r, binary.LittleEndian, &layer.LevelLayerHeader); err != nil {
		return LevelLayer{}, fmt.Errorf("%w: reading layer header", ErrTruncatedLevelData)
	}

	h := &layer.LevelLayerHeader
	if h.XTiles == 0 || h.YTiles == 0 {
		return LevelLayer{}, fmt.Errorf("%w: %dx%d tiles", ErrCorruptLevel, h.XTiles, h.YTiles)
	}
	if h.MinTileX > h.MaxTileX || h.MaxTileX > h.XTiles || h.MinTileY > h.MaxTileY || h.MaxTileY > h.YTiles {
		return LevelLayer{}, fmt.Errorf("%w: active rect (%d,%d)-(%d,%d) outside %dx%d",
			ErrCorruptLevel, h.MinTileX, h.MinTileY, h.MaxTileX, h.MaxTileY, h.XTiles, h.YTiles)
	}

	vertexCount, err := readCount(r, binary.Size(LevelVertex{}), "vertices")
	if err != nil {
		return LevelLayer{}, err
	}
	layer.Vertices = make([]LevelVertex, vertexCount)
	if err := binary.Read(r, binary.LittleEndian, layer.Vertices); err != nil {
		return LevelLayer{}, fmt.Errorf("%w: reading vertices", ErrTruncatedLevelData)
	}

	indexCount, err := readCount(r, 1, "indices")
	if err != nil {
		return LevelLayer{}, err
	}
	layer.Indices = make([]uint8, indexCount)
	if _, err := io.ReadFull(r, layer.Indices); err != nil {
		return LevelLayer{}, fmt.Errorf("%w: reading indices", ErrTruncatedLevelData)
	}

	tileCount := int(h.XTiles) * int(h.YTiles)
	if tileCount*binary.Size(LevelTile{}) > r.Len() {
		return LevelLayer{}, fmt.Errorf("%w: %d tiles", ErrTruncatedLevelData, tileCount)
	}
	layer.Tiles = make([]LevelTile, tileCount)
	if err := binary.Read(r, binary.LittleEndian, layer.Tiles); err != nil {
		return LevelLayer{}, fmt.Errorf("%w: reading tiles", ErrTruncatedLevelData)
	}

	for i, tile := range layer.Tiles {
		if uint64(tile.StartVertex)+uint64(tile.VertexCount) > uint64(len(layer.Vertices)) ||
			uint64(tile.StartIndex)+uint64(tile.IndexCount) > uint64(len(layer.Indices)) {
			return LevelLayer{}, fmt.Errorf("%w: tile %d references data outside its buffers", ErrCorruptLevel, i)
		}
	}

	return layer, nil
}

// WriteLevel writes level in MTLV format.
func WriteLevel(w io.Writer, level *Level) error {
	buf := new(bytes.Buffer)

	buf.Write(levelMagic[:])
	binary.Write(buf, binary.LittleEndian, uint32(LevelVersion))
	binary.Write(buf, binary.LittleEndian, uint32(len(level.Surfaces)))

	for i := range level.Surfaces {
		s := &level.Surfaces[i]

		if len(s.Name) > MaxLevelNameLen {
			return fmt.Errorf("surface %d: name too long", i)
		}
		if len(s.Layers) == 0 || len(s.Layers) > MaxLevelLayers {
			return fmt.Errorf("surface %q: %d layers", s.Name, len(s.Layers))
		}

		header := s.LevelSurfaceHeader
		header.LayerCount = uint16(len(s.Layers))

		binary.Write(buf, binary.LittleEndian, uint16(len(s.Name)))
		buf.WriteString(s.Name)
		binary.Write(buf, binary.LittleEndian, &header)

		for j := range s.Layers {
			l := &s.Layers[j]
			if len(l.Tiles) != int(l.XTiles)*int(l.YTiles) {
				return fmt.Errorf("surface %q layer %d: %d tiles for a %dx%d grid", s.Name, j, len(l.Tiles), l.XTiles, l.YTiles)
			}

			binary.Write(buf, binary.LittleEndian, &l.LevelLayerHeader)
			binary.Write(buf, binary.LittleEndian, uint32(len(l.Vertices)))
			binary.Write(buf, binary.LittleEndian, l.Vertices)
			binary.Write(buf, binary.LittleEndian, uint32(len(l.Indices)))
			buf.Write(l.Indices)
			binary.Write(buf, binary.LittleEndian, l.Tiles)
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}
