// Package megatexture streams and draws very large textured surfaces.
//
// Only the tiles that are visible, at the level of detail the screen needs,
// are resident at once. A frame clips every surface's UV footprint against
// the view frustum, picks LOD bands by screen-space texel size, requests the
// tiles under each band from a bounded LRU tile cache fed by one
// asynchronous bus, and emits draw commands into a bounded command buffer.
package megatexture

import (
	"github.com/Faultbox/megatex/pkg/math"
)

// Tile geometry. A tile is 32x32 texels of 16-bit RGBA5551.
const (
	TileTexels = 32
	TileBytes  = TileTexels * TileTexels * 2

	// tileAddrShift drops the address bits that are always zero for
	// tile-aligned sources before hashing.
	tileAddrShift = 11
)

// TileAddr is the byte offset of a tile in the streaming source.
type TileAddr uint64

// UVBasis maps world space onto a surface's [0,1]x[0,1] UV square.
// Right and Up are the world-space edge vectors of the surface, so
// UV (u, v) sits at Origin + Right*u + Up*v. Normal is unit length and
// points towards the visible side.
type UVBasis struct {
	Origin math.Vec3
	Right  math.Vec3
	Up     math.Vec3
	Normal math.Vec3
}

// WorldToUV projects a world point onto the surface.
func (b UVBasis) WorldToUV(p math.Vec3) math.Vec2 {
	rel := p.Sub(b.Origin)
	return math.Vec2{
		X: rel.Dot(b.Right) / b.Right.LengthSqr(),
		Y: rel.Dot(b.Up) / b.Up.LengthSqr(),
	}
}

// UVToWorld returns the world point at uv.
func (b UVBasis) UVToWorld(uv math.Vec2) math.Vec3 {
	return b.Origin.AddScaled(b.Right, uv.X).AddScaled(b.Up, uv.Y)
}

// ProjectPlane expresses a world plane as a line in UV space.
func (b UVBasis) ProjectPlane(p math.Plane) math.Plane2 {
	return math.Plane2{
		Normal: math.Vec2{X: p.Normal.Dot(b.Right), Y: p.Normal.Dot(b.Up)},
		D:      p.D + p.Normal.Dot(b.Origin),
	}
}

// Vertex is one mesh vertex. UV is in texels of the layer the mesh belongs to.
type Vertex struct {
	Pos [3]float32
	UV  [2]float32
}

// MeshTile locates the geometry of one grid tile inside its layer's buffers.
// Indices are relative to StartVertex.
type MeshTile struct {
	StartVertex uint32
	VertexCount uint8
	StartIndex  uint32
	IndexCount  uint8
}

// MeshLayer is the tile-grid geometry of one LOD.
type MeshLayer struct {
	Vertices []Vertex
	Indices  []uint8
	Tiles    []MeshTile // row-major, XTiles*YTiles

	// Active sub-rectangle holding non-degenerate geometry. Max is exclusive.
	MinTileX, MinTileY int
	MaxTileX, MaxTileY int
}

// ImageLayer is the tile-grid image of one LOD.
type ImageLayer struct {
	XTiles, YTiles int
	Source         TileAddr // address of tile (0, 0)
	AlwaysLoaded   bool
}

// TileAddr returns the source address of tile (x, y).
func (l *ImageLayer) TileAddr(x, y int) TileAddr {
	return l.Source + TileAddr(TileBytes*(x+y*l.XTiles))
}

// Layer pairs the image and mesh of one LOD.
type Layer struct {
	Image ImageLayer
	Mesh  MeshLayer
}

// Tile returns the mesh descriptor for tile (x, y).
func (l *Layer) Tile(x, y int) *MeshTile {
	return &l.Mesh.Tiles[x+y*l.Image.XTiles]
}

// Surface is one renderable megatextured mesh.
type Surface struct {
	Name      string
	Layers    []Layer // finest first
	Basis     UVBasis
	Bounds    math.Box3
	TexelSize float32 // world size of one LOD 0 texel

	// SortGroup < 0 renders first in index order. Other groups render after,
	// group by group, back to front.
	SortGroup int
}
