package megatexture

import (
	"slices"
	"testing"

	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/pkg/math"
)

func pointSurface(group int, z float32) Surface {
	p := math.Vec3{Z: z}
	return Surface{SortGroup: group, Bounds: math.Box3{Min: p, Max: p}}
}

func TestDrawOrder(t *testing.T) {
	view := &camera.View{Forward: math.Vec3{Z: -1}}

	tests := []struct {
		name     string
		surfaces []Surface
		want     []int
	}{
		{
			name: "groups then far to near",
			surfaces: []Surface{
				pointSurface(-1, 0),
				pointSurface(0, -5),
				pointSurface(0, -2),
				pointSurface(2, -1),
			},
			want: []int{0, 1, 2, 3},
		},
		{
			name: "near surface listed first",
			surfaces: []Surface{
				pointSurface(-1, 0),
				pointSurface(0, -2),
				pointSurface(0, -5),
				pointSurface(2, -1),
			},
			want: []int{0, 2, 1, 3},
		},
		{
			name: "negative groups keep index order",
			surfaces: []Surface{
				pointSurface(-1, -1),
				pointSurface(0, -1),
				pointSurface(-3, -9),
			},
			want: []int{0, 2, 1},
		},
		{
			name: "ties keep index order",
			surfaces: []Surface{
				pointSurface(1, -3),
				pointSurface(1, -3),
				pointSurface(0, -100),
			},
			want: []int{2, 0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFrameRenderer(nil, nil, nil)
			got := f.drawOrder(tt.surfaces, view)
			if !slices.Equal(got, tt.want) {
				t.Errorf("drawOrder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestFrameRenderer(entries int) (*FrameRenderer, *recordingBus) {
	c, bus := newTestCache(entries, 32, 16)
	return NewFrameRenderer(c, NewFeedback(DefaultFeedbackConfig(), nil), nil), bus
}

func TestRenderFrameSecondFrameHitsCache(t *testing.T) {
	f, bus := newTestFrameRenderer(64)
	surfaces := []Surface{*gridSurface(4, 4, 1, 4)}
	view := overheadView()
	buf := NewDisplayList(1000)

	first := f.RenderFrame(surfaces, view, buf)
	if !first.Success {
		t.Fatal("first frame failed")
	}
	if first.Rows != 4 {
		t.Errorf("rows = %d, want 4", first.Rows)
	}
	if first.Cache.Misses != 16 {
		t.Errorf("first frame misses = %d, want 16", first.Cache.Misses)
	}

	loads := len(bus.transfers)
	firstCommands := slices.Clone(buf.Commands())

	buf.Reset()
	second := f.RenderFrame(surfaces, view, buf)

	if second.Cache.Misses != 0 {
		t.Errorf("second frame misses = %d, want 0", second.Cache.Misses)
	}
	if second.Cache.Hits != 16 {
		t.Errorf("second frame hits = %d, want 16", second.Cache.Hits)
	}
	if len(bus.transfers) != loads {
		t.Errorf("second frame issued %d loads", len(bus.transfers)-loads)
	}
	if !slices.Equal(firstCommands, buf.Commands()) {
		t.Error("identical frames produced different commands")
	}
	if second.Frame != first.Frame+1 {
		t.Errorf("frame = %d, want %d", second.Frame, first.Frame+1)
	}
}

func TestRenderFrameFailureRaisesBias(t *testing.T) {
	f, _ := newTestFrameRenderer(64)
	surfaces := []Surface{*gridSurface(4, 4, 1, 4), *gridSurface(4, 4, 1, 4)}
	buf := NewDisplayList(12)

	stats := f.RenderFrame(surfaces, overheadView(), buf)

	if stats.Success {
		t.Fatal("frame succeeded with a 12 command display list")
	}
	if stats.SurfacesDrawn != 0 {
		t.Errorf("surfaces drawn = %d, want 0", stats.SurfacesDrawn)
	}
	if got := f.Feedback().Bias(); got <= stats.Bias {
		t.Errorf("bias after failure = %v, want > %v", got, stats.Bias)
	}
	if f.Cache().Pending() != 0 {
		t.Errorf("pending transfers after frame = %d, want 0", f.Cache().Pending())
	}
}

func TestRenderFrameCountsCulled(t *testing.T) {
	f, _ := newTestFrameRenderer(64)

	behind := *gridSurface(4, 4, 1, 4)
	behind.Basis.Normal = math.Vec3{Z: -1}

	surfaces := []Surface{*gridSurface(4, 4, 1, 4), behind}
	stats := f.RenderFrame(surfaces, overheadView(), NewDisplayList(1000))

	if stats.SurfacesDrawn != 1 || stats.SurfacesCulled != 1 {
		t.Errorf("drawn %d culled %d, want 1 and 1", stats.SurfacesDrawn, stats.SurfacesCulled)
	}
}

func TestPreload(t *testing.T) {
	f, bus := newTestFrameRenderer(16)

	s := gridSurface(4, 4, 3, 4)
	s.Layers[2].Image.AlwaysLoaded = true // 1x1
	s.Layers[1].Image.AlwaysLoaded = true // 2x2

	if got := f.Preload([]Surface{*s}); got != 5 {
		t.Fatalf("Preload() = %d, want 5", got)
	}
	if len(bus.transfers) != 5 {
		t.Errorf("transfers = %d, want 5", len(bus.transfers))
	}
	for _, tr := range bus.transfers {
		if f.Cache().State(tr.Slot) != SlotPinned {
			t.Errorf("slot %d state = %v, want pinned", tr.Slot, f.Cache().State(tr.Slot))
		}
	}
}

func TestPreloadStopsWhenFull(t *testing.T) {
	f, _ := newTestFrameRenderer(2)

	s := gridSurface(4, 4, 1, 4)
	s.Layers[0].Image.AlwaysLoaded = true

	if got := f.Preload([]Surface{*s}); got != 2 {
		t.Errorf("Preload() = %d, want 2", got)
	}
}
