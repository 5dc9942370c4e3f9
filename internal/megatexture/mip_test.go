package megatexture

import (
	"testing"

	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/pkg/math"
)

func facingSurface(layers int) *Surface {
	return &Surface{
		Layers:    make([]Layer, layers),
		TexelSize: 1,
		Basis: UVBasis{
			Origin: math.Vec3{X: -16, Y: -16},
			Right:  math.Vec3{X: 32},
			Up:     math.Vec3{Y: 32},
			Normal: math.Vec3{Z: 1},
		},
	}
}

func facingView(distance float32) *camera.View {
	return &camera.View{
		Position:     math.Vec3{Z: distance},
		Forward:      math.Vec3{Z: -1},
		CotFov:       1,
		Near:         0.1,
		Far:          1000,
		ScreenHeight: 64,
	}
}

func TestMipSelectFacing(t *testing.T) {
	tests := []struct {
		name     string
		distance float32
		bias     float32
		layers   int
		want     int
	}{
		{"one texel per pixel", 32, 0, 4, 0},
		{"twice as far", 64, 0, 4, 1},
		{"four times as far", 128, 0, 4, 2},
		{"closer than lod 0", 4, 0, 4, 0},
		{"bias", 32, 1, 4, 1},
		{"clamped to coarsest", 1000, 0, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			surface := facingSurface(tt.layers)
			loop := unitLoop()

			r := NewMipSelector(facingView(tt.distance)).Select(surface, &loop, tt.bias)

			if r.MinLod != tt.want || r.MaxLod != tt.want {
				t.Errorf("Select() = [%d, %d], want [%d, %d]", r.MinLod, r.MaxLod, tt.want, tt.want)
			}
		})
	}
}

// floorSurface is a 100x1000 strip one unit below a camera at the origin
// that looks along -Z. It starts at the camera and runs away from it.
func floorSurface(layers int) *Surface {
	return &Surface{
		Layers:    make([]Layer, layers),
		TexelSize: 0.1,
		Basis: UVBasis{
			Origin: math.Vec3{X: -50, Y: -1, Z: -1000},
			Right:  math.Vec3{X: 100},
			Up:     math.Vec3{Z: 1000},
			Normal: math.Vec3{Y: 1},
		},
	}
}

func floorView() *camera.View {
	return &camera.View{
		Forward:      math.Vec3{Z: -1},
		CotFov:       1,
		Near:         0.1,
		Far:          2000,
		ScreenHeight: 100,
	}
}

func TestMipSelectFloor(t *testing.T) {
	surface := floorSurface(4)
	view := floorView()
	loop := unitLoop()

	r := NewMipSelector(view).Select(surface, &loop, 0)

	if r.MinLod != 0 || r.MaxLod != 3 {
		t.Fatalf("Select() = [%d, %d], want [0, 3]", r.MinLod, r.MaxLod)
	}

	last := view.Near
	for lod := r.MinLod; lod < r.MaxLod; lod++ {
		b := r.Boundaries[lod]
		if b <= last || b >= view.Far {
			t.Errorf("boundary %d = %v, want in (%v, %v)", lod, b, last, view.Far)
		}
		last = b
	}

	if got := r.NearDepth(r.MinLod, view); got != view.Near {
		t.Errorf("NearDepth(min) = %v, want %v", got, view.Near)
	}
	if got := r.FarDepth(r.MaxLod, view); got != view.Far {
		t.Errorf("FarDepth(max) = %v, want %v", got, view.Far)
	}
	if r.FarDepth(1, view) != r.NearDepth(2, view) {
		t.Errorf("band 1 ends at %v but band 2 starts at %v", r.FarDepth(1, view), r.NearDepth(2, view))
	}
}

func TestMipSelectBiasCoarsens(t *testing.T) {
	surface := floorSurface(4)
	view := floorView()

	loop := unitLoop()
	sharp := NewMipSelector(view).Select(surface, &loop, 0)
	blurry := NewMipSelector(view).Select(surface, &loop, 10)

	if blurry.MinLod < sharp.MinLod {
		t.Errorf("biased MinLod = %d, want >= %d", blurry.MinLod, sharp.MinLod)
	}
	if blurry.MinLod != 3 || blurry.MaxLod != 3 {
		t.Errorf("biased range = [%d, %d], want [3, 3]", blurry.MinLod, blurry.MaxLod)
	}
}

func TestBoundaryPlaneSplitsLoop(t *testing.T) {
	surface := floorSurface(4)
	view := floorView()
	loop := unitLoop()

	r := NewMipSelector(view).Select(surface, &loop, 0)

	plane := surface.Basis.ProjectPlane(r.BoundaryPlane(r.MinLod, view))
	var band CullingLoop
	loop.Clip(plane, &band)

	if band.Empty() || loop.Empty() {
		t.Fatalf("split produced band %d points, remainder %d points", band.Len(), loop.Len())
	}

	// the remainder is the far part of the floor, which is low V
	for _, p := range loop.Points() {
		world := surface.Basis.UVToWorld(p)
		if depth := view.Forward.Dot(world.Sub(view.Position)); depth < r.Boundaries[r.MinLod]-0.01 {
			t.Errorf("remainder point %v at depth %v, want >= %v", p, depth, r.Boundaries[r.MinLod])
		}
	}
}

func TestInterpolateDepth(t *testing.T) {
	depths := [3]float32{1, 2, 4}
	metrics := [3]float32{0, 1, 3}

	tests := []struct {
		level float32
		want  float32
	}{
		{0.5, 1.5},
		{1, 2},
		{2, 3},
		{5, 4},
	}

	for _, tt := range tests {
		if got := interpolateDepth(tt.level, depths, metrics); got != tt.want {
			t.Errorf("interpolateDepth(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
