package viewer

import (
	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/assets"
	"github.com/Faultbox/megatex/internal/config"
	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/internal/megatexture"
	"github.com/Faultbox/megatex/pkg/math"
)

// Session streams one loaded level: it owns the transfer bus, the tile
// cache and the per-frame command list. It makes no GL calls.
type Session struct {
	level  *assets.Level
	bus    *megatexture.ReaderAtBus
	frames *megatexture.FrameRenderer
	list   *megatexture.DisplayList
	log    *zap.Logger

	pinned int
}

// CacheConfig maps the viewer settings to tile cache sizes.
func CacheConfig(cfg *config.Config) megatexture.CacheConfig {
	return megatexture.CacheConfig{
		Entries:             cfg.Cache.EntryCount,
		QueueDepth:          cfg.Cache.QueueDepth,
		MaxRequestsPerFrame: cfg.Cache.MaxRequestsPerFrame,
	}
}

// FeedbackConfig maps the viewer settings to the LOD bias controller.
func FeedbackConfig(cfg *config.Config) megatexture.FeedbackConfig {
	f := cfg.Feedback
	return megatexture.FeedbackConfig{
		MinBias:         f.MinBias,
		MaxBias:         f.MaxBias,
		FailureStep:     f.FailureStep,
		IncreaseStep:    f.IncreaseStep,
		DecreaseStep:    f.DecreaseStep,
		SoftMinRequests: f.SoftMinRequests,
		SpareFraction:   f.SpareFraction,
	}
}

// NewSession starts streaming level and pins its always loaded layers.
func NewSession(level *assets.Level, cfg *config.Config, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("level", level.Name))

	bus := megatexture.NewReaderAtBus(level.Source, cfg.Cache.QueueDepth, log.Named("bus"))
	cache := megatexture.NewTileCache(CacheConfig(cfg), bus, log.Named("tilecache"))
	feedback := megatexture.NewFeedback(FeedbackConfig(cfg), log.Named("feedback"))

	s := &Session{
		level:  level,
		bus:    bus,
		frames: megatexture.NewFrameRenderer(cache, feedback, log.Named("frame")),
		list:   megatexture.NewDisplayList(cfg.Render.DisplayListLength),
		log:    log,
	}
	s.pinned = s.frames.Preload(level.Surfaces)

	return s
}

// Level returns the streamed level.
func (s *Session) Level() *assets.Level {
	return s.level
}

// Cache returns the tile cache. It doubles as the renderer's tile source.
func (s *Session) Cache() *megatexture.TileCache {
	return s.frames.Cache()
}

// Pinned returns the number of tiles pinned at load.
func (s *Session) Pinned() int {
	return s.pinned
}

// Bias returns the current LOD bias.
func (s *Session) Bias() float32 {
	return s.frames.Feedback().Bias()
}

// SetBias overrides the LOD bias. The controller keeps adjusting it from
// the next frame on.
func (s *Session) SetBias(bias float32) {
	s.frames.Feedback().SetBias(bias)
	s.log.Info("lod bias set", zap.Float32("bias", s.Bias()))
}

// RenderFrame builds the command list for view. Every tile referenced by
// Commands is resident when it returns.
func (s *Session) RenderFrame(view *camera.View) megatexture.FrameStats {
	s.list.Reset()
	return s.frames.RenderFrame(s.level.Surfaces, view, s.list)
}

// Commands returns the command list of the last frame.
func (s *Session) Commands() []megatexture.Command {
	return s.list.Commands()
}

// Close drains outstanding transfers and stops the bus.
func (s *Session) Close() error {
	s.Cache().WaitForTiles()
	return s.bus.Close()
}

// Bounds returns the box around every surface of the level.
func Bounds(surfaces []megatexture.Surface) (math.Box3, bool) {
	if len(surfaces) == 0 {
		return math.Box3{}, false
	}

	box := math.EmptyBox()
	for _, s := range surfaces {
		box = box.Extend(s.Bounds.Min).Extend(s.Bounds.Max)
	}
	return box, true
}

// FrameLevel places the camera in front of the first surface, looking at
// the center of the level.
func FrameLevel(c *camera.FlyCamera, surfaces []megatexture.Surface) {
	box, ok := Bounds(surfaces)
	if !ok {
		return
	}

	center := box.Center()
	extent := box.Max.Sub(box.Min).Length()

	normal := surfaces[0].Basis.Normal
	if normal.LengthSqr() == 0 {
		normal = math.Vec3{Z: 1}
	}

	c.Position = center.Add(normal.Scale(extent * 0.75))
	c.LookAt(center)
}
