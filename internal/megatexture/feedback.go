package megatexture

import (
	"go.uber.org/zap"
)

// FeedbackConfig tunes how the LOD bias reacts to cache pressure.
type FeedbackConfig struct {
	MinBias float32
	MaxBias float32

	FailureStep  float32 // added after a frame that ran out of command space
	IncreaseStep float32 // added when misses reach the load budget
	DecreaseStep float32 // removed when the cache is comfortably idle

	SoftMinRequests int
	SpareFraction   float32
}

// DefaultFeedbackConfig returns the default tuning.
func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{
		MinBias:         0,
		MaxBias:         8,
		FailureStep:     0.5,
		IncreaseStep:    0.1,
		DecreaseStep:    0.02,
		SoftMinRequests: 8,
		SpareFraction:   0.25,
	}
}

// Feedback owns the LOD bias and adjusts it after every frame so the number
// of tile requests stays inside the cache's budget.
type Feedback struct {
	cfg  FeedbackConfig
	bias float32
	log  *zap.Logger
}

// NewFeedback starts with the bias at MinBias.
func NewFeedback(cfg FeedbackConfig, log *zap.Logger) *Feedback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feedback{cfg: cfg, bias: cfg.MinBias, log: log}
}

// Bias returns the current LOD bias.
func (f *Feedback) Bias() float32 {
	return f.bias
}

// SetBias overrides the bias, clamped to the configured range.
func (f *Feedback) SetBias(bias float32) {
	f.bias = min(max(bias, f.cfg.MinBias), f.cfg.MaxBias)
}

// Update adjusts the bias from one frame's outcome and returns the new value.
func (f *Feedback) Update(stats CacheStats, success bool) float32 {
	old := f.bias

	switch {
	case !success:
		f.SetBias(f.bias + f.cfg.FailureStep)
		f.log.Warn("frame ran out of command space, raising lod bias",
			zap.Float32("from", old),
			zap.Float32("to", f.bias))
	case stats.Misses >= stats.Budget:
		f.SetBias(f.bias + f.cfg.IncreaseStep)
	case stats.Misses < f.cfg.SoftMinRequests && f.hasSpare(stats):
		f.SetBias(f.bias - f.cfg.DecreaseStep)
	}

	return f.bias
}

func (f *Feedback) hasSpare(stats CacheStats) bool {
	spare := stats.LRUSlots - stats.Touched
	return float32(spare) > f.cfg.SpareFraction*float32(stats.LRUSlots)
}
