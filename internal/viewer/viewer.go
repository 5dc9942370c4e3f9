// Package viewer implements the megatexture viewer loop.
package viewer

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/assets"
	"github.com/Faultbox/megatex/internal/config"
	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/internal/engine/debug"
	"github.com/Faultbox/megatex/internal/engine/input"
	"github.com/Faultbox/megatex/internal/engine/renderer"
	"github.com/Faultbox/megatex/internal/engine/window"
	"github.com/Faultbox/megatex/internal/megatexture"
	"github.com/Faultbox/megatex/internal/telemetry"
	"github.com/Faultbox/megatex/pkg/mtpack"
)

const (
	title         = "megatex"
	screenshotDir = "screenshots"

	// mouseSensitivity is radians per pixel of captured mouse motion.
	mouseSensitivity = 0.0025
	biasStep         = 0.5
)

// ErrNoLevels is returned when the pack holds no level.
var ErrNoLevels = errors.New("pack holds no levels")

// Viewer is the main viewer instance.
type Viewer struct {
	cfg      *config.Config
	log      *zap.Logger
	running  bool
	window   *window.Window
	renderer *renderer.Renderer
	input    *input.Input
	assets   *assets.Manager
	hub      *telemetry.Hub
	camera   *camera.FlyCamera
	shots    *debug.Screenshots

	session    *Session
	levels     []string
	levelIndex int

	mouseCaptured bool
	capture       bool         // save the next frame before it is presented
	frozen        *camera.View // culling view while frozen
}

// New opens the pack, creates the window and starts streaming the
// configured level.
func New(cfg *config.Config, log *zap.Logger) (*Viewer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("initializing viewer",
		zap.String("pack", cfg.Data.PackPath),
		zap.String("profile", cfg.Profile),
		zap.Int("width", cfg.Graphics.Width),
		zap.Int("height", cfg.Graphics.Height))

	v := &Viewer{cfg: cfg, log: log}

	var err error
	v.assets, err = assets.NewManager(cfg.Data.PackPath, log.Named("assets"))
	if err != nil {
		return nil, fmt.Errorf("opening pack: %w", err)
	}

	v.levels = v.assets.Levels()
	if len(v.levels) == 0 {
		v.Close()
		return nil, ErrNoLevels
	}
	if cfg.Data.Level != "" {
		v.levelIndex = slices.Index(v.levels, cfg.Data.Level)
		if v.levelIndex < 0 {
			v.Close()
			return nil, fmt.Errorf("level %q: %w", cfg.Data.Level, mtpack.ErrNotFound)
		}
	}

	// Window first: it creates the OpenGL context the renderer needs.
	v.window, err = window.New(window.Config{
		Title:      title,
		Width:      cfg.Graphics.Width,
		Height:     cfg.Graphics.Height,
		Fullscreen: cfg.Graphics.Fullscreen,
		VSync:      cfg.Graphics.VSync,
	}, log.Named("window"))
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	width, height := v.window.GetDrawableSize()
	v.renderer, err = renderer.New(renderer.Config{
		Width:        width,
		Height:       height,
		CacheEntries: cfg.Cache.EntryCount,
	}, log.Named("renderer"))
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	v.input = input.New()
	v.shots = debug.NewScreenshots(screenshotDir, "megaview")

	v.camera = camera.NewFlyCamera(cfg.Graphics.FOV, cfg.Graphics.Near, cfg.Graphics.Far)
	v.camera.MoveSpeed = cfg.Controls.MoveSpeed
	v.camera.TurnSpeed = cfg.Controls.TurnSpeed

	if err := v.loadLevel(v.levelIndex, true); err != nil {
		v.Close()
		return nil, err
	}

	if cfg.Telemetry.Listen != "" {
		v.hub = telemetry.NewHub(log.Named("telemetry"))
		addr, err := v.hub.Start(cfg.Telemetry.Listen)
		if err != nil {
			v.Close()
			return nil, fmt.Errorf("starting telemetry: %w", err)
		}
		log.Info("telemetry listening", zap.Stringer("addr", addr))
	}

	log.Info("viewer initialized", zap.Strings("levels", v.levels))
	return v, nil
}

// loadLevel replaces the streamed level. The camera is moved to frame the
// new level when reframe is set.
func (v *Viewer) loadLevel(index int, reframe bool) error {
	name := v.levels[index]

	level, err := v.assets.LoadLevel(name)
	if err != nil {
		return fmt.Errorf("loading level %q: %w", name, err)
	}

	if v.session != nil {
		if err := v.session.Close(); err != nil {
			v.log.Warn("closing session", zap.Error(err))
		}
	}

	start := time.Now()
	v.session = NewSession(level, v.cfg, v.log)
	v.renderer.Invalidate()
	v.levelIndex = index
	v.frozen = nil

	if reframe {
		FrameLevel(v.camera, level.Surfaces)
	}

	v.log.Info("streaming level",
		zap.String("level", name),
		zap.Int("surfaces", len(level.Surfaces)),
		zap.Int("pinned", v.session.Pinned()),
		zap.Duration("preload", time.Since(start)))

	return nil
}

// Run starts the main loop.
func (v *Viewer) Run() error {
	v.running = true

	lastTime := time.Now()
	frameCount := 0
	fpsTimer := time.Now()

	v.log.Info("starting viewer loop")

	for v.running {
		now := time.Now()
		dt := float32(now.Sub(lastTime).Seconds())
		lastTime = now

		if v.input.Update() {
			v.running = false
			break
		}

		if err := v.handleEvents(); err != nil {
			return err
		}

		v.update(dt)

		stats, err := v.render()
		if err != nil {
			return fmt.Errorf("render error: %w", err)
		}

		if v.capture {
			v.captureScreenshot()
			v.capture = false
		}

		v.window.SwapBuffers()

		if v.hub != nil {
			v.hub.Publish(stats)
			v.applyControls()
		}

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			v.window.SetTitle(Title(v.levels[v.levelIndex], frameCount, stats, v.frozen != nil))
			v.log.Debug("fps",
				zap.Int("count", frameCount),
				zap.Float32("bias", stats.Bias),
				zap.Int("pinned", stats.Cache.Pinned),
				zap.Int("lru", stats.Cache.LRUSlots))
			frameCount = 0
			fpsTimer = time.Now()
		}
	}

	return nil
}

func (v *Viewer) handleEvents() error {
	for _, event := range v.input.Events() {
		switch event.Type {
		case input.EventWindowResize:
			v.renderer.Resize(event.Width, event.Height)
		case input.EventKeyDown:
			if err := v.handleKey(event.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Viewer) handleKey(key sdl.Scancode) error {
	switch key {
	case sdl.SCANCODE_ESCAPE:
		v.running = false
	case sdl.SCANCODE_R:
		v.assets.ClearCache()
		return v.loadLevel(v.levelIndex, false)
	case sdl.SCANCODE_TAB:
		return v.loadLevel(NextLevel(len(v.levels), v.levelIndex), true)
	case sdl.SCANCODE_M:
		v.mouseCaptured = !v.mouseCaptured
		v.window.SetMouseCaptured(v.mouseCaptured)
	case sdl.SCANCODE_F:
		if v.frozen != nil {
			v.frozen = nil
		} else {
			view := v.setupView()
			v.frozen = &view
		}
		v.log.Info("culling view frozen", zap.Bool("frozen", v.frozen != nil))
	case sdl.SCANCODE_PAGEUP:
		v.session.SetBias(v.session.Bias() + biasStep)
	case sdl.SCANCODE_PAGEDOWN:
		v.session.SetBias(v.session.Bias() - biasStep)
	case sdl.SCANCODE_HOME:
		v.session.SetBias(v.cfg.Feedback.MinBias)
	case sdl.SCANCODE_F12:
		v.capture = true
	}
	return nil
}

// captureScreenshot saves the back buffer. Failures are logged only.
func (v *Viewer) captureScreenshot() {
	pixels, width, height := v.renderer.ReadPixels()
	name, err := v.shots.Save(pixels, width, height)
	if err != nil {
		v.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	v.log.Info("screenshot saved", zap.String("file", name))
}

// update moves the camera from held keys and mouse motion.
func (v *Viewer) update(dt float32) {
	m := Motion{
		Forward: v.input.Axis(sdl.SCANCODE_W, sdl.SCANCODE_S),
		Right:   v.input.Axis(sdl.SCANCODE_D, sdl.SCANCODE_A),
		Up:      v.input.Axis(sdl.SCANCODE_SPACE, sdl.SCANCODE_LCTRL),
		Yaw:     v.input.Axis(sdl.SCANCODE_LEFT, sdl.SCANCODE_RIGHT),
		Pitch:   v.input.Axis(sdl.SCANCODE_UP, sdl.SCANCODE_DOWN),
	}
	if v.mouseCaptured {
		m.MouseX, m.MouseY = v.input.MouseDelta()
	}
	if v.input.IsKeyDown(sdl.SCANCODE_LSHIFT) {
		m.Boost = true
	}

	m.Apply(v.camera, dt)
}

func (v *Viewer) setupView() camera.View {
	return v.camera.Setup(v.renderer.Aspect(), float32(v.renderer.Height()))
}

// render culls with the frozen view if one is set and draws with the live
// camera.
func (v *Viewer) render() (megatexture.FrameStats, error) {
	view := v.setupView()

	cull := &view
	if v.frozen != nil {
		cull = v.frozen
	}

	stats := v.session.RenderFrame(cull)

	v.renderer.Begin()
	err := v.renderer.Draw(&view, v.session.Commands(), v.session.Cache())

	return stats, err
}

// applyControls drains client requests without blocking.
func (v *Viewer) applyControls() {
	for {
		select {
		case c := <-v.hub.Controls():
			if c.Bias != nil {
				v.session.SetBias(*c.Bias)
			}
		default:
			return
		}
	}
}

// Close releases viewer resources in reverse creation order.
func (v *Viewer) Close() {
	v.log.Info("closing viewer")

	if v.hub != nil {
		if err := v.hub.Close(); err != nil {
			v.log.Warn("closing telemetry", zap.Error(err))
		}
	}
	if v.session != nil {
		if err := v.session.Close(); err != nil {
			v.log.Warn("closing session", zap.Error(err))
		}
	}
	if v.renderer != nil {
		v.renderer.Close()
	}
	if v.window != nil {
		v.window.Close()
	}
	if v.assets != nil {
		v.assets.Close()
	}
}

// Motion is one frame of camera input. Axes are within [-1, 1]; mouse
// motion is in pixels.
type Motion struct {
	Forward, Right, Up float32
	Yaw, Pitch         float32
	MouseX, MouseY     int
	Boost              bool
}

// Apply moves and turns c. Boost multiplies the move speed by four.
func (m Motion) Apply(c *camera.FlyCamera, dt float32) {
	speed := c.MoveSpeed
	if m.Boost {
		c.MoveSpeed *= 4
	}
	c.Move(m.Forward, m.Right, m.Up, dt)
	c.MoveSpeed = speed

	c.Turn(m.Yaw, m.Pitch, dt)

	if m.MouseX != 0 || m.MouseY != 0 {
		c.Yaw -= float32(m.MouseX) * mouseSensitivity
		c.Pitch -= float32(m.MouseY) * mouseSensitivity
		c.Pitch = min(max(c.Pitch, -c.MaxPitch), c.MaxPitch)
	}
}

// NextLevel cycles through count levels.
func NextLevel(count, current int) int {
	if count == 0 {
		return 0
	}
	return (current + 1) % count
}

// Title formats the window title from the last second of frames.
func Title(level string, fps int, stats megatexture.FrameStats, frozen bool) string {
	s := fmt.Sprintf("%s - %s - %d fps - bias %.2f - %d cmds - %d/%d misses",
		title, level, fps, stats.Bias, stats.Commands, stats.Cache.Misses, stats.Cache.Requests)
	if !stats.Success {
		s += " - overflow"
	}
	if frozen {
		s += " - frozen"
	}
	return s
}
