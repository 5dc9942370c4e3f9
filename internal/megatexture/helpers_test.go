package megatexture

import (
	"github.com/Faultbox/megatex/pkg/math"
)

// recordingBus completes every transfer immediately and fills the slot with
// the low byte of the tile address.
type recordingBus struct {
	transfers []Transfer
	err       error
}

func (b *recordingBus) Submit(t Transfer, done chan<- Completion) {
	b.transfers = append(b.transfers, t)
	for i := range t.Dst {
		t.Dst[i] = byte(t.Addr >> tileAddrShift)
	}
	done <- Completion{Slot: t.Slot, Err: b.err}
}

// gridSurface builds a surface with a full LOD chain whose finest layer has
// xTiles by yTiles tiles. Each layer gets a flat quad per tile. The surface
// covers [0, size] x [0, size] on the Z = 0 plane, facing +Z.
func gridSurface(xTiles, yTiles, layers int, size float32) *Surface {
	s := &Surface{
		Name:      "grid",
		TexelSize: size / float32(xTiles*TileTexels),
		Basis: UVBasis{
			Right:  math.Vec3{X: size},
			Up:     math.Vec3{Y: size},
			Normal: math.Vec3{Z: 1},
		},
		Bounds: math.Box3{Max: math.Vec3{X: size, Y: size}},
	}

	var source TileAddr
	for lod := 0; lod < layers; lod++ {
		layer := Layer{
			Image: ImageLayer{XTiles: xTiles, YTiles: yTiles, Source: source},
			Mesh:  flatMesh(xTiles, yTiles, size),
		}
		s.Layers = append(s.Layers, layer)

		source += TileAddr(xTiles * yTiles * TileBytes)
		xTiles = max(xTiles/2, 1)
		yTiles = max(yTiles/2, 1)
	}

	return s
}

func flatMesh(xTiles, yTiles int, size float32) MeshLayer {
	m := MeshLayer{MaxTileX: xTiles, MaxTileY: yTiles}

	for y := 0; y < yTiles; y++ {
		for x := 0; x < xTiles; x++ {
			tile := MeshTile{
				StartVertex: uint32(len(m.Vertices)),
				VertexCount: 4,
				StartIndex:  uint32(len(m.Indices)),
				IndexCount:  6,
			}
			for _, c := range [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}} {
				u := float32(x+c[0]) / float32(xTiles)
				v := float32(y+c[1]) / float32(yTiles)
				m.Vertices = append(m.Vertices, Vertex{
					Pos: [3]float32{u * size, v * size, 0},
					UV:  [2]float32{float32((x + c[0]) * TileTexels), float32((y + c[1]) * TileTexels)},
				})
			}
			m.Indices = append(m.Indices, 0, 1, 2, 0, 2, 3)
			m.Tiles = append(m.Tiles, tile)
		}
	}

	return m
}
