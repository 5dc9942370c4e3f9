package bake

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // source image format
	_ "image/jpeg" // source image format
	_ "image/png"  // source image format
	"os"
	"runtime"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp" // source image format
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // source image format
	_ "golang.org/x/image/webp" // source image format
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/megatex/internal/assets"
	"github.com/Faultbox/megatex/internal/engine/texture"
	"github.com/Faultbox/megatex/internal/megatexture"
	"github.com/Faultbox/megatex/pkg/formats"
	"github.com/Faultbox/megatex/pkg/math"
	"github.com/Faultbox/megatex/pkg/mtpack"
)

// Baker converts scenes into levels.
type Baker struct {
	log     *zap.Logger
	workers int
}

// NewBaker creates a baker that scales layers on up to workers goroutines.
// workers <= 0 uses one per CPU.
func NewBaker(workers int, log *zap.Logger) *Baker {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Baker{log: log, workers: workers}
}

// Level is a baked level: its definition and the tile pages its layers
// point into.
type Level struct {
	Name       string
	Definition *formats.Level
	Tiles      []byte
}

// BakeScene decodes every surface image of the scene and bakes it.
func (b *Baker) BakeScene(ctx context.Context, scene *Scene) (*Level, error) {
	level := &Level{
		Name:       scene.Name,
		Definition: &formats.Level{Version: formats.LevelVersion},
	}

	for i := range scene.Surfaces {
		desc := &scene.Surfaces[i]

		img, err := LoadImage(scene.imagePath(desc))
		if err != nil {
			return nil, fmt.Errorf("surface %q: %w", desc.Name, err)
		}

		surface, pages, err := b.BakeSurface(ctx, desc, img, scene.Options.MaxTiles)
		if err != nil {
			return nil, fmt.Errorf("surface %q: %w", desc.Name, err)
		}

		base := uint64(len(level.Tiles))
		for lod := range surface.Layers {
			surface.Layers[lod].TileOffset += base
		}
		level.Tiles = append(level.Tiles, pages...)
		level.Definition.Surfaces = append(level.Definition.Surfaces, *surface)
	}

	b.log.Info("level baked",
		zap.String("level", level.Name),
		zap.Int("surfaces", len(level.Definition.Surfaces)),
		zap.Int("tile_bytes", len(level.Tiles)))

	return level, nil
}

// LoadImage decodes any registered image format.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decoding %s: empty %s image", path, format)
	}
	return img, nil
}

// layerSize is the tile grid of one LOD.
type layerSize struct {
	xTiles, yTiles int
}

// layerSizes returns the LOD chain for a finest grid. Every layer halves
// the one before it until a single tile remains.
func layerSizes(xTiles, yTiles int) []layerSize {
	var sizes []layerSize
	for len(sizes) < megatexture.MaxLayers {
		sizes = append(sizes, layerSize{xTiles, yTiles})
		if xTiles == 1 && yTiles == 1 {
			break
		}
		xTiles = max(xTiles>>1, 1)
		yTiles = max(yTiles>>1, 1)
	}
	return sizes
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// BakeSurface builds every layer of one surface. The returned layers have
// tile offsets relative to the returned pages.
func (b *Baker) BakeSurface(ctx context.Context, desc *SurfaceDesc, img image.Image, maxTiles int) (*formats.LevelSurface, []byte, error) {
	src := texture.ToNRGBA(img)
	if desc.ColorKey != nil {
		if src == img {
			src = cloneImage(src)
		}
		key := color.NRGBA{R: desc.ColorKey[0], G: desc.ColorKey[1], B: desc.ColorKey[2], A: 255}
		texture.ApplyColorKey(src, key, desc.ColorKeyTolerance)
	}

	bounds := src.Bounds()
	sizes := layerSizes(
		min(nextPow2(texture.TileCount(bounds.Dx())), maxTiles),
		min(nextPow2(texture.TileCount(bounds.Dy())), maxTiles),
	)

	origin, right, up := vec3(desc.Origin), vec3(desc.Right), vec3(desc.Up)
	basis := megatexture.UVBasis{
		Origin: origin,
		Right:  right,
		Up:     up,
		// the image reads correctly from the side the normal points to
		Normal: up.Cross(right).Normalize(),
	}

	layers := make([]formats.LevelLayer, len(sizes))
	pages := make([][]byte, len(sizes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for lod, size := range sizes {
		lod, size := lod, size
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scaled := scaleImage(src, size.xTiles*texture.TileSize, size.yTiles*texture.TileSize)
			_, _, pages[lod] = texture.EncodeTiles(scaled)
			layers[lod] = buildLayer(basis, size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var data []byte
	preload := desc.preloadLayers()
	for lod := range layers {
		layers[lod].TileOffset = uint64(len(data))
		if lod >= len(layers)-preload {
			layers[lod].Flags |= formats.LayerAlwaysLoaded
		}
		data = append(data, pages[lod]...)
	}

	box := math.EmptyBox()
	for _, corner := range []math.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}} {
		box = box.Extend(basis.UVToWorld(corner))
	}

	finest := sizes[0]
	texel := max(
		right.Length()/float32(finest.xTiles*texture.TileSize),
		up.Length()/float32(finest.yTiles*texture.TileSize),
	)

	b.log.Debug("surface baked",
		zap.String("surface", desc.Name),
		zap.Int("layers", len(layers)),
		zap.Int("x_tiles", finest.xTiles),
		zap.Int("y_tiles", finest.yTiles))

	return &formats.LevelSurface{
		Name: desc.Name,
		LevelSurfaceHeader: formats.LevelSurfaceHeader{
			Origin:    desc.Origin,
			Right:     desc.Right,
			Up:        desc.Up,
			Normal:    array3(basis.Normal),
			BoundsMin: array3(box.Min),
			BoundsMax: array3(box.Max),
			TexelSize: texel,
			SortGroup: int16(desc.SortGroup),
		},
		Layers: layers,
	}, data, nil
}

func cloneImage(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}

// scaleImage resamples src to w x h.
func scaleImage(src *image.NRGBA, w, h int) image.Image {
	if src.Rect.Dx() == w && src.Rect.Dy() == h {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// buildLayer lays one quad per tile. UVs are in texels of the layer.
func buildLayer(basis megatexture.UVBasis, size layerSize) formats.LevelLayer {
	layer := formats.LevelLayer{
		LevelLayerHeader: formats.LevelLayerHeader{
			XTiles:   uint16(size.xTiles),
			YTiles:   uint16(size.yTiles),
			MaxTileX: uint16(size.xTiles),
			MaxTileY: uint16(size.yTiles),
		},
		Vertices: make([]formats.LevelVertex, 0, 4*size.xTiles*size.yTiles),
		Indices:  make([]uint8, 0, 6*size.xTiles*size.yTiles),
		Tiles:    make([]formats.LevelTile, 0, size.xTiles*size.yTiles),
	}

	for ty := 0; ty < size.yTiles; ty++ {
		for tx := 0; tx < size.xTiles; tx++ {
			layer.Tiles = append(layer.Tiles, formats.LevelTile{
				StartVertex: uint32(len(layer.Vertices)),
				VertexCount: 4,
				StartIndex:  uint32(len(layer.Indices)),
				IndexCount:  6,
			})

			for _, corner := range [4][2]int{{tx, ty}, {tx + 1, ty}, {tx + 1, ty + 1}, {tx, ty + 1}} {
				uv := math.Vec2{
					X: float32(corner[0]) / float32(size.xTiles),
					Y: float32(corner[1]) / float32(size.yTiles),
				}
				layer.Vertices = append(layer.Vertices, formats.LevelVertex{
					Pos: array3(basis.UVToWorld(uv)),
					UV:  [2]float32{float32(corner[0] * texture.TileSize), float32(corner[1] * texture.TileSize)},
				})
			}
			layer.Indices = append(layer.Indices, 0, 1, 2, 0, 2, 3)
		}
	}
	return layer
}

func vec3(v [3]float32) math.Vec3 {
	return math.Vec3{X: v[0], Y: v[1], Z: v[2]}
}

func array3(v math.Vec3) [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}

// WritePack stores baked levels in a new pack at path.
func WritePack(path string, levels []*Level) (err error) {
	w, err := mtpack.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	for _, level := range levels {
		var buf bytes.Buffer
		if err := formats.WriteLevel(&buf, level.Definition); err != nil {
			return fmt.Errorf("level %s: %w", level.Name, err)
		}
		if err := w.AddCompressed(assets.LevelPath(level.Name), buf.Bytes()); err != nil {
			return fmt.Errorf("level %s: %w", level.Name, err)
		}
		if err := w.AddRaw(assets.TilePath(level.Name), level.Tiles); err != nil {
			return fmt.Errorf("level %s tiles: %w", level.Name, err)
		}
	}
	return nil
}

// Bake bakes every scene and writes one pack holding all of them.
func (b *Baker) Bake(ctx context.Context, scenes []*Scene, path string) error {
	levels := make([]*Level, 0, len(scenes))
	for _, scene := range scenes {
		level, err := b.BakeScene(ctx, scene)
		if err != nil {
			return fmt.Errorf("scene %s: %w", scene.Name, err)
		}
		levels = append(levels, level)
	}

	if err := WritePack(path, levels); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	b.log.Info("pack written", zap.String("path", path), zap.Int("levels", len(levels)))
	return nil
}
