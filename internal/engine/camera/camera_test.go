package camera

import (
	gomath "math"
	"testing"

	"github.com/Faultbox/megatex/pkg/math"
)

func approx(a, b float32) bool {
	return gomath.Abs(float64(a-b)) < 1e-4
}

func TestFlyCameraForward(t *testing.T) {
	c := NewFlyCamera(60, 0.1, 100)

	f := c.Forward()
	if !approx(f.X, 0) || !approx(f.Y, 0) || !approx(f.Z, -1) {
		t.Errorf("default forward = %v, want (0,0,-1)", f)
	}

	c.Yaw = float32(gomath.Pi / 2)
	f = c.Forward()
	if !approx(f.X, -1) || !approx(f.Z, 0) {
		t.Errorf("forward after quarter yaw = %v, want (-1,0,0)", f)
	}
}

func TestTurnClampsPitch(t *testing.T) {
	c := NewFlyCamera(60, 0.1, 100)
	c.Turn(0, 100, 1)
	if c.Pitch != c.MaxPitch {
		t.Errorf("pitch = %v, want clamped to %v", c.Pitch, c.MaxPitch)
	}
}

func TestMoveStaysHorizontal(t *testing.T) {
	c := NewFlyCamera(60, 0.1, 100)
	c.Pitch = -1.2 // looking down
	c.Move(1, 0, 0, 1)

	if !approx(c.Position.Y, 0) {
		t.Errorf("forward movement changed height: %v", c.Position)
	}
	if !approx(c.Position.Z, -1) {
		t.Errorf("forward movement = %v, want z -1", c.Position)
	}
}

func TestSetupCotFov(t *testing.T) {
	c := NewFlyCamera(90, 0.1, 100)
	v := c.Setup(1, 480)

	if !approx(v.CotFov, 1) {
		t.Errorf("cot(45deg) = %v, want 1", v.CotFov)
	}
	if v.ScreenHeight != 480 {
		t.Errorf("screen height = %v, want 480", v.ScreenHeight)
	}
}

func TestFrustumPlanes(t *testing.T) {
	c := NewFlyCamera(90, 0.5, 50)
	v := c.Setup(1, 480)

	if v.Frustum.Count != MaxClippingPlanes {
		t.Fatalf("plane count = %d, want %d", v.Frustum.Count, MaxClippingPlanes)
	}

	inside := math.Vec3{Z: -10}
	for i := 0; i < v.Frustum.Count; i++ {
		if d := v.Frustum.Planes[i].Distance(inside); d <= 0 {
			t.Errorf("plane %d rejects a point straight ahead (distance %v)", i, d)
		}
	}

	// Near plane: point between camera and near plane is outside.
	if d := v.Frustum.Planes[4].Distance(math.Vec3{Z: -0.25}); d >= 0 {
		t.Errorf("near plane accepts point in front of near plane (distance %v)", d)
	}

	// With a 90 degree fov the left plane passes through (-10, 0, -10).
	if d := v.Frustum.Planes[0].Distance(math.Vec3{X: -10, Z: -10}); !approx(d, 0) {
		t.Errorf("left plane distance at edge = %v, want 0", d)
	}
}

func TestIsBoxOutside(t *testing.T) {
	c := NewFlyCamera(90, 0.5, 50)
	v := c.Setup(1, 480)

	tests := []struct {
		name string
		box  math.Box3
		want bool
	}{
		{"ahead", math.Box3{Min: math.Vec3{X: -1, Y: -1, Z: -6}, Max: math.Vec3{X: 1, Y: 1, Z: -4}}, false},
		{"behind", math.Box3{Min: math.Vec3{X: -1, Y: -1, Z: 4}, Max: math.Vec3{X: 1, Y: 1, Z: 6}}, true},
		{"far left", math.Box3{Min: math.Vec3{X: -40, Y: -1, Z: -6}, Max: math.Vec3{X: -30, Y: 1, Z: -4}}, true},
		{"straddles left plane", math.Box3{Min: math.Vec3{X: -10, Y: -1, Z: -6}, Max: math.Vec3{X: 0, Y: 1, Z: -4}}, false},
		{"beyond far", math.Box3{Min: math.Vec3{X: -1, Y: -1, Z: -80}, Max: math.Vec3{X: 1, Y: 1, Z: -60}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Frustum.IsBoxOutside(tt.box); got != tt.want {
				t.Errorf("IsBoxOutside = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLookAt(t *testing.T) {
	tests := []struct {
		name   string
		target math.Vec3
		want   math.Vec3
	}{
		{"ahead", math.Vec3{Z: -5}, math.Vec3{Z: -1}},
		{"left", math.Vec3{X: -3}, math.Vec3{X: -1}},
		{"behind", math.Vec3{Z: 2}, math.Vec3{Z: 1}},
		{"down", math.Vec3{Y: -1, Z: -1}, math.Vec3{Y: -0.70710677, Z: -0.70710677}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewFlyCamera(60, 0.1, 100)
			c.LookAt(tt.target)
			f := c.Forward()
			if !approx(f.X, tt.want.X) || !approx(f.Y, tt.want.Y) || !approx(f.Z, tt.want.Z) {
				t.Errorf("forward = %v, want %v", f, tt.want)
			}
		})
	}
}
