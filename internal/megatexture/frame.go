package megatexture

import (
	"cmp"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/engine/camera"
)

// sortGroupOffset keeps sort groups apart in the draw order key. It must be
// larger than any distance inside the view.
const sortGroupOffset = 1e6

// FrameRenderer draws all surfaces of a frame and closes the feedback loop.
type FrameRenderer struct {
	cache    *TileCache
	feedback *Feedback
	renderer *Renderer
	log      *zap.Logger

	frame uint64
	order []int
	keys  []float64
}

// NewFrameRenderer wires a cache and a feedback controller together.
func NewFrameRenderer(cache *TileCache, feedback *Feedback, log *zap.Logger) *FrameRenderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &FrameRenderer{
		cache:    cache,
		feedback: feedback,
		renderer: NewRenderer(cache, log),
		log:      log,
	}
}

// Cache returns the tile cache.
func (f *FrameRenderer) Cache() *TileCache {
	return f.cache
}

// Feedback returns the LOD bias controller.
func (f *FrameRenderer) Feedback() *Feedback {
	return f.feedback
}

// Preload pins every tile of the layers marked always loaded and waits for
// them. It returns the number of tiles pinned.
func (f *FrameRenderer) Preload(surfaces []Surface) int {
	pinned := 0

	for i := range surfaces {
		surface := &surfaces[i]
		for lod := range surface.Layers {
			image := &surface.Layers[lod].Image
			if !image.AlwaysLoaded {
				continue
			}

			for y := 0; y < image.YTiles; y++ {
				for x := 0; x < image.XTiles; x++ {
					if !f.cache.PreloadTile(surface, x, y, lod) {
						f.log.Warn("tile cache full, preload stopped",
							zap.String("surface", surface.Name),
							zap.Int("lod", lod),
							zap.Int("pinned", pinned))
						f.cache.WaitForTiles()
						return pinned
					}
					pinned++
				}
			}
		}
	}

	f.cache.WaitForTiles()
	f.log.Info("preloaded tiles", zap.Int("count", pinned))

	return pinned
}

// drawOrder returns surface indices in the order they are drawn: negative
// sort groups first in index order, then every other group from lowest to
// highest with the furthest surface first.
func (f *FrameRenderer) drawOrder(surfaces []Surface, view *camera.View) []int {
	f.order = f.order[:0]

	for i := range surfaces {
		if surfaces[i].SortGroup < 0 {
			f.order = append(f.order, i)
		}
	}

	sorted := len(f.order)

	f.keys = slices.Grow(f.keys[:0], len(surfaces))[:len(surfaces)]
	for i := range surfaces {
		s := &surfaces[i]
		if s.SortGroup < 0 {
			continue
		}

		support := s.Bounds.Support(view.Forward)
		distance := support.Sub(view.Position).Dot(view.Forward)
		f.keys[i] = float64(s.SortGroup)*sortGroupOffset - float64(distance)
		f.order = append(f.order, i)
	}

	slices.SortStableFunc(f.order[sorted:], func(a, b int) int {
		return cmp.Compare(f.keys[a], f.keys[b])
	})

	return f.order
}

// RenderFrame draws surfaces into buf. The first surface that runs out of
// command space aborts the rest of the frame. The tile cache is drained and
// the LOD bias updated before it returns.
func (f *FrameRenderer) RenderFrame(surfaces []Surface, view *camera.View, buf CommandBuffer) FrameStats {
	f.frame++
	f.cache.FrameStart()
	f.renderer.counters = traversalCounters{}

	stats := FrameStats{Frame: f.frame, Bias: f.feedback.Bias(), Success: true}

	for _, i := range f.drawOrder(surfaces, view) {
		result := f.renderer.RenderSurface(&surfaces[i], view, stats.Bias, buf)

		if result == SurfaceFailed {
			stats.Success = false
			break
		}
		if result == SurfaceDrawn {
			stats.SurfacesDrawn++
		} else {
			stats.SurfacesCulled++
		}
	}

	stats.Cache = f.cache.FrameEnd()
	stats.Bands = f.renderer.counters.bands
	stats.Rows = f.renderer.counters.rows
	stats.Commands = f.renderer.counters.commands

	bias := f.feedback.Update(stats.Cache, stats.Success)

	f.log.Debug("frame rendered",
		zap.Uint64("frame", stats.Frame),
		zap.Bool("success", stats.Success),
		zap.Int("drawn", stats.SurfacesDrawn),
		zap.Int("culled", stats.SurfacesCulled),
		zap.Int("commands", stats.Commands),
		zap.Int("hits", stats.Cache.Hits),
		zap.Int("misses", stats.Cache.Misses),
		zap.Int("loads", stats.Cache.Loads),
		zap.Float32("bias", bias))

	return stats
}
