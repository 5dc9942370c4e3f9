package renderer

import (
	"errors"
	"fmt"

	"github.com/Faultbox/megatex/internal/megatexture"
	"github.com/Faultbox/megatex/pkg/math"
)

// ErrMalformedStream is returned for command streams that reference state
// they never set up.
var ErrMalformedStream = errors.New("malformed command stream")

const tileTexels = megatexture.TileTexels

// Atlas places every cache slot, plus one blank slot, in a grid of tiles
// inside a single texture.
type Atlas struct {
	Columns int
	Rows    int
	Blank   int // slot drawn for tiles that are not resident
}

// NewAtlas lays out an atlas for entries cache slots.
func NewAtlas(entries int) Atlas {
	slots := entries + 1
	columns := 1
	for columns*columns < slots {
		columns <<= 1
	}
	return Atlas{
		Columns: columns,
		Rows:    (slots + columns - 1) / columns,
		Blank:   entries,
	}
}

// Size returns the texture size in texels.
func (a Atlas) Size() (w, h int) {
	return a.Columns * tileTexels, a.Rows * tileTexels
}

// Origin returns the texel position of a slot's top-left corner.
func (a Atlas) Origin(slot int) (x, y int) {
	return (slot % a.Columns) * tileTexels, (slot / a.Columns) * tileTexels
}

// TexCoord maps a tile-local texel position into normalized atlas
// coordinates. Positions are kept half a texel inside the tile so linear
// filtering never reads a neighbor.
func (a Atlas) TexCoord(slot int, local [2]float32) [2]float32 {
	const lo, hi = 0.5, tileTexels - 0.5

	x, y := a.Origin(slot)
	w, h := a.Size()
	return [2]float32{
		(float32(x) + min(max(local[0], lo), hi)) / float32(w),
		(float32(y) + min(max(local[1], lo), hi)) / float32(h),
	}
}

// batchVertex is one triangle corner with its atlas coordinate. The layout
// matches the vertex buffer.
type batchVertex struct {
	Pos [3]float32
	UV  [2]float32
}

// segment is a run of vertices drawn with one projection.
type segment struct {
	Projection math.Mat4
	First      int32
	Count      int32
}

// Batch expands a command stream into triangles ready for one upload.
type Batch struct {
	atlas    Atlas
	vertices []batchVertex
	segments []segment
	slots    []int // resident slots referenced this frame
	seen     []uint64
	stamp    uint64
}

// NewBatch creates a batch for an atlas.
func NewBatch(atlas Atlas) *Batch {
	return &Batch{
		atlas: atlas,
		seen:  make([]uint64, atlas.Blank),
	}
}

// batchState is what the stream has set up so far.
type batchState struct {
	projection bool
	mesh       *megatexture.MeshLayer
	base       int
	count      int

	tile  bool
	slot  int
	lod   int // geometry lod
	ref   megatexture.TileRef
	scale float32 // tile texels per geometry texel
}

// Build replaces the batch contents with the triangles of cmds.
func (b *Batch) Build(cmds []megatexture.Command) error {
	b.vertices = b.vertices[:0]
	b.segments = b.segments[:0]
	b.slots = b.slots[:0]
	b.stamp++

	var st batchState
	for i := range cmds {
		cmd := &cmds[i]

		switch cmd.Op {
		case megatexture.OpNop:

		case megatexture.OpProjection:
			b.closeSegment()
			b.segments = append(b.segments, segment{Projection: cmd.Projection, First: int32(len(b.vertices))})
			st.projection = true

		case megatexture.OpVertices:
			if cmd.Mesh == nil || cmd.Start < 0 || cmd.Start+cmd.Count > len(cmd.Mesh.Vertices) {
				return fmt.Errorf("%w: command %d loads vertices outside its mesh", ErrMalformedStream, i)
			}
			st.mesh, st.base, st.count = cmd.Mesh, cmd.Start, cmd.Count

		case megatexture.OpTile:
			b.bindTile(&st, cmd)

		case megatexture.OpTriangles, megatexture.OpTriangle:
			n := 6
			if cmd.Op == megatexture.OpTriangle {
				n = 3
			}
			if err := b.emit(&st, cmd.Indices[:n]); err != nil {
				return fmt.Errorf("command %d: %w", i, err)
			}

		default:
			return fmt.Errorf("%w: command %d has unknown op %d", ErrMalformedStream, i, cmd.Op)
		}
	}
	b.closeSegment()
	return nil
}

func (b *Batch) bindTile(st *batchState, cmd *megatexture.Command) {
	st.tile = true
	st.lod = cmd.Lod
	st.ref = cmd.Tile

	if cmd.Tile.Blank() {
		st.slot = b.atlas.Blank
		st.scale = 0
		return
	}

	st.slot = cmd.Tile.Slot
	st.scale = 1 / float32(int(1)<<max(cmd.Tile.Lod-cmd.Lod, 0))

	if b.seen[st.slot] != b.stamp {
		b.seen[st.slot] = b.stamp
		b.slots = append(b.slots, st.slot)
	}
}

func (b *Batch) emit(st *batchState, indices []uint8) error {
	if !st.projection || st.mesh == nil || !st.tile {
		return fmt.Errorf("%w: triangles before projection, vertices and tile", ErrMalformedStream)
	}

	// tile origin in tile-lod texels
	ox := float32(st.ref.X * tileTexels)
	oy := float32(st.ref.Y * tileTexels)

	for _, index := range indices {
		if int(index) >= st.count {
			return fmt.Errorf("%w: index %d outside a %d vertex window", ErrMalformedStream, index, st.count)
		}
		v := &st.mesh.Vertices[st.base+int(index)]

		local := [2]float32{tileTexels / 2, tileTexels / 2}
		if st.scale != 0 {
			local = [2]float32{v.UV[0]*st.scale - ox, v.UV[1]*st.scale - oy}
		}
		b.vertices = append(b.vertices, batchVertex{Pos: v.Pos, UV: b.atlas.TexCoord(st.slot, local)})
	}
	return nil
}

func (b *Batch) closeSegment() {
	if n := len(b.segments); n > 0 {
		s := &b.segments[n-1]
		s.Count = int32(len(b.vertices)) - s.First
		if s.Count == 0 {
			b.segments = b.segments[:n-1]
		}
	}
}

// Vertices returns the expanded triangles.
func (b *Batch) Vertices() int {
	return len(b.vertices)
}

// Slots returns the cache slots the batch samples, each once.
func (b *Batch) Slots() []int {
	return b.slots
}

// TileSource exposes resident tile pages.
type TileSource interface {
	Generation(slot int) uint32
	TileData(slot int) []byte
}

// staleSlots returns the slots whose page changed since it was uploaded.
func staleSlots(slots []int, src TileSource, uploaded []uint32) []int {
	var stale []int
	for _, slot := range slots {
		if gen := src.Generation(slot); gen != 0 && gen != uploaded[slot] {
			stale = append(stale, slot)
		}
	}
	return stale
}
