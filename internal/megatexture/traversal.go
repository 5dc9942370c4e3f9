package megatexture

import (
	gomath "math"

	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/pkg/math"
)

// SurfaceResult is the outcome of drawing one surface.
type SurfaceResult uint8

const (
	// SurfaceCulled means nothing of the surface was visible.
	SurfaceCulled SurfaceResult = iota
	// SurfaceDrawn means the surface was emitted completely.
	SurfaceDrawn
	// SurfaceFailed means the command buffer ran out of room.
	SurfaceFailed
)

func (r SurfaceResult) String() string {
	switch r {
	case SurfaceCulled:
		return "culled"
	case SurfaceDrawn:
		return "drawn"
	case SurfaceFailed:
		return "failed"
	}
	return "unknown"
}

type traversalCounters struct {
	bands    int
	rows     int
	commands int
}

// Renderer turns visible parts of surfaces into tile requests and draw
// commands.
type Renderer struct {
	cache    *TileCache
	log      *zap.Logger
	counters traversalCounters
}

// NewRenderer creates a renderer that requests tiles from cache.
func NewRenderer(cache *TileCache, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{cache: cache, log: log}
}

func (r *Renderer) push(buf CommandBuffer, cmd Command) int {
	r.counters.commands++
	return buf.Push(cmd)
}

// RenderSurface draws the visible part of surface. Each LOD band gets its
// own projection whose depth range covers only that band.
func (r *Renderer) RenderSurface(surface *Surface, view *camera.View, bias float32, buf CommandBuffer) SurfaceResult {
	if len(surface.Layers) == 0 {
		return SurfaceCulled
	}

	basis := &surface.Basis

	// facing away
	if basis.Origin.Sub(view.Position).Dot(basis.Normal) >= 0 {
		return SurfaceCulled
	}

	if view.Frustum.IsBoxOutside(surface.Bounds) {
		return SurfaceCulled
	}

	var loop CullingLoop
	loop.Init(math.Vec2{}, math.Vec2{X: 1, Y: 1})

	if !loop.ClipAgainstFrustum(*basis, &view.Frustum) {
		return SurfaceCulled
	}

	mips := NewMipSelector(view).Select(surface, &loop, bias)

	for lod := mips.MinLod; lod <= mips.MaxLod; lod++ {
		band := &loop

		var nearPart CullingLoop
		if lod < mips.MaxLod {
			loop.Clip(basis.ProjectPlane(mips.BoundaryPlane(lod, view)), &nearPart)
			band = &nearPart
		}

		if !band.Empty() {
			near := mips.NearDepth(lod, view)
			far := mips.FarDepth(lod, view)

			if !r.renderBand(surface, lod, band, near, far, view, buf) {
				return SurfaceFailed
			}
		}

		if loop.Empty() {
			break
		}
	}

	return SurfaceDrawn
}

func floorInt(v float32) int {
	return int(gomath.Floor(float64(v)))
}

func ceilInt(v float32) int {
	return int(gomath.Ceil(float64(v)))
}

func (r *Renderer) renderBand(surface *Surface, lod int, band *CullingLoop, near, far float32, view *camera.View, buf CommandBuffer) bool {
	if !buf.Request(1) {
		return false
	}
	r.push(buf, Command{Op: OpProjection, Projection: view.Projection.WithDepthRange(near, far)})
	r.counters.bands++

	layer := &surface.Layers[lod]
	mesh := &layer.Mesh
	xTiles := float32(layer.Image.XTiles)
	yTiles := float32(layer.Image.YTiles)
	step := 1 / yTiles

	top := band.Point(band.TopIndex()).Y
	firstRow := max(mesh.MinTileY, floorInt(top*yTiles))
	lastRow := min(mesh.MaxTileY, ceilInt(band.Bottom()*yTiles))

	left := band.NewExtentCursor()
	right := left

	if start := float32(firstRow) * step; start > top {
		band.FindExtent(&left, start, 1)
		band.FindExtent(&right, start, -1)
	}

	for row := firstRow; row < lastRow; row++ {
		next := float32(row+1) * step

		minX := band.FindExtent(&left, next, 1)
		maxX := band.FindExtent(&right, next, -1)

		if minX >= maxX {
			continue
		}

		firstTile := max(mesh.MinTileX, floorInt(minX*xTiles))
		lastTile := min(mesh.MaxTileX, ceilInt(maxX*xTiles))

		if firstTile >= lastTile {
			continue
		}

		if !r.renderRow(surface, lod, row, firstTile, lastTile, buf) {
			return false
		}
	}

	return true
}

func verticesCommand(mesh *MeshLayer, start uint32, count int) Command {
	return Command{Op: OpVertices, Mesh: mesh, Start: int(start), Count: count}
}

// renderRow emits tiles [minX, maxX) of one row. Vertices are loaded in
// windows of at most MaxVertexWindow; the load command for a window is
// filled in once the window is closed.
func (r *Renderer) renderRow(surface *Surface, lod, row, minX, maxX int, buf CommandBuffer) bool {
	layer := &surface.Layers[lod]
	mesh := &layer.Mesh

	if !buf.Request(1) {
		return false
	}
	vertexCommand := r.push(buf, Command{Op: OpVertices, Mesh: mesh})
	r.counters.rows++

	startVertex := layer.Tile(minX, row).StartVertex
	vertexCount := 0

	for x := minX; x < maxX; x++ {
		tile := layer.Tile(x, row)
		if tile.IndexCount == 0 {
			continue
		}

		offset := int(tile.StartVertex) - int(startVertex)

		if offset < 0 || offset+int(tile.VertexCount) > MaxVertexWindow {
			if !buf.Request(1) {
				return false
			}
			buf.Set(vertexCommand, verticesCommand(mesh, startVertex, vertexCount))
			vertexCommand = r.push(buf, Command{Op: OpVertices, Mesh: mesh})
			startVertex = tile.StartVertex
			offset = 0
		}

		vertexCount = offset + int(tile.VertexCount)

		indexCount := int(tile.IndexCount)
		if !buf.Request(1 + indexCount/6 + (indexCount%6)/3) {
			return false
		}

		ref := r.cache.RequestTile(surface, x, row, lod)
		r.push(buf, Command{Op: OpTile, Tile: ref, Lod: lod})

		start := int(tile.StartIndex)
		indices := mesh.Indices[start : start+indexCount]
		base := uint8(offset)

		for ; len(indices) >= 6; indices = indices[6:] {
			cmd := Command{Op: OpTriangles}
			for i := range cmd.Indices {
				cmd.Indices[i] = indices[i] + base
			}
			r.push(buf, cmd)
		}

		if len(indices) >= 3 {
			cmd := Command{Op: OpTriangle}
			for i := 0; i < 3; i++ {
				cmd.Indices[i] = indices[i] + base
			}
			r.push(buf, cmd)
		}
	}

	buf.Set(vertexCommand, verticesCommand(mesh, startVertex, vertexCount))
	return true
}
