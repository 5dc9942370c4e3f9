package megatexture

import (
	"testing"
)

func TestFeedbackUpdate(t *testing.T) {
	idle := CacheStats{Misses: 0, Budget: 32, LRUSlots: 100, Touched: 10}
	busy := CacheStats{Misses: 32, Budget: 32, LRUSlots: 100, Touched: 90}
	full := CacheStats{Misses: 2, Budget: 32, LRUSlots: 100, Touched: 90}

	tests := []struct {
		name    string
		start   float32
		stats   CacheStats
		success bool
		want    float32
	}{
		{"failure raises", 1, idle, false, 1.5},
		{"budget reached raises", 1, busy, true, 1.1},
		{"idle lowers", 1, idle, true, 0.98},
		{"idle at floor stays", 0, idle, true, 0},
		{"no spare capacity holds", 1, full, true, 1},
		{"failure clamps at ceiling", 7.9, idle, false, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFeedback(DefaultFeedbackConfig(), nil)
			f.SetBias(tt.start)

			got := f.Update(tt.stats, tt.success)
			if !near(got, tt.want) {
				t.Errorf("Update() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeedbackFailureStrictlyIncreases(t *testing.T) {
	f := NewFeedback(DefaultFeedbackConfig(), nil)

	last := f.Bias()
	for i := 0; i < 10; i++ {
		got := f.Update(CacheStats{Budget: 32, LRUSlots: 10}, false)
		if got <= last {
			t.Fatalf("step %d: bias %v did not increase from %v", i, got, last)
		}
		last = got
	}
}

func TestFeedbackIdleConvergesToFloor(t *testing.T) {
	cfg := DefaultFeedbackConfig()
	cfg.MinBias = 0.5
	f := NewFeedback(cfg, nil)
	f.SetBias(2)

	idle := CacheStats{Budget: 32, LRUSlots: 100}
	for i := 0; i < 1000; i++ {
		f.Update(idle, true)
	}

	if f.Bias() != 0.5 {
		t.Errorf("bias = %v, want floor 0.5", f.Bias())
	}
}
