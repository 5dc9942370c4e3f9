// Package camera provides the fly camera and the per-frame view information
// consumed by the megatexture renderer.
package camera

import (
	gomath "math"

	"github.com/Faultbox/megatex/pkg/math"
)

// MaxClippingPlanes is the number of planes a frustum can hold.
const MaxClippingPlanes = 6

// Frustum holds camera-space clipping planes. The inside of the frustum is
// the front side of every plane.
type Frustum struct {
	Planes    [MaxClippingPlanes]math.Plane
	Count     int
	CameraPos math.Vec3
}

// IsBoxOutside reports whether the box is fully behind one of the planes.
// Only the box corner furthest along each plane normal is tested.
func (f *Frustum) IsBoxOutside(box math.Box3) bool {
	for i := 0; i < f.Count; i++ {
		plane := f.Planes[i]
		if plane.Distance(box.Support(plane.Normal)) < 0.00001 {
			return true
		}
	}
	return false
}

// IsSphereOutside reports whether a sphere is fully behind one of the planes.
func (f *Frustum) IsSphereOutside(center math.Vec3, radius float32) bool {
	for i := 0; i < f.Count; i++ {
		if f.Planes[i].Distance(center) < -radius {
			return true
		}
	}
	return false
}

// View is everything a frame needs to know about the camera.
type View struct {
	Frustum      Frustum
	Position     math.Vec3
	Forward      math.Vec3
	CotFov       float32 // cot(fovY/2)
	Near, Far    float32
	ScreenHeight float32

	ViewMatrix math.Mat4
	Projection math.Mat4
}

// ViewProjection returns Projection * ViewMatrix.
func (v *View) ViewProjection() math.Mat4 {
	return v.Projection.Mul(v.ViewMatrix)
}

// FlyCamera is a free camera controlled by yaw and pitch.
type FlyCamera struct {
	Position math.Vec3
	Yaw      float32 // radians, around +Y
	Pitch    float32 // radians, around the camera right axis

	FovY float32 // degrees
	Near float32
	Far  float32

	MaxPitch  float32
	MoveSpeed float32 // world units per second
	TurnSpeed float32 // radians per second
}

// NewFlyCamera creates a camera at the origin looking down -Z.
func NewFlyCamera(fovY, near, far float32) *FlyCamera {
	return &FlyCamera{
		FovY:      fovY,
		Near:      near,
		Far:       far,
		MaxPitch:  1.5,
		MoveSpeed: 1.0,
		TurnSpeed: 1.5,
	}
}

// Rotation returns the camera orientation.
func (c *FlyCamera) Rotation() math.Quat {
	yaw := math.QuatFromAxisAngle(math.Vec3{Y: 1}, c.Yaw)
	pitch := math.QuatFromAxisAngle(math.Vec3{X: 1}, c.Pitch)
	return yaw.Mul(pitch).Normalize()
}

// Forward returns the unit view direction.
func (c *FlyCamera) Forward() math.Vec3 {
	return c.Rotation().Rotate(math.Vec3{Z: -1})
}

// Right returns the unit right direction.
func (c *FlyCamera) Right() math.Vec3 {
	return c.Rotation().Rotate(math.Vec3{X: 1})
}

// LookAt turns the camera towards target. Roll is always zero.
func (c *FlyCamera) LookAt(target math.Vec3) {
	d := target.Sub(c.Position).Normalize()
	if d.LengthSqr() == 0 {
		return
	}
	c.Pitch = float32(gomath.Asin(float64(d.Y)))
	c.Yaw = float32(gomath.Atan2(float64(-d.X), float64(-d.Z)))
	c.Pitch = min(max(c.Pitch, -c.MaxPitch), c.MaxPitch)
}

// Move translates the camera. Forward and right movement stay in the
// horizontal plane so looking down does not slow the camera.
func (c *FlyCamera) Move(forward, right, up, dt float32) {
	f := c.Forward()
	f.Y = 0
	f = f.Normalize()
	r := c.Right()
	r.Y = 0
	r = r.Normalize()

	step := c.MoveSpeed * dt
	c.Position = c.Position.
		AddScaled(f, forward*step).
		AddScaled(r, right*step).
		AddScaled(math.Vec3{Y: 1}, up*step)
}

// Turn rotates the camera, clamping pitch.
func (c *FlyCamera) Turn(yaw, pitch, dt float32) {
	c.Yaw += yaw * c.TurnSpeed * dt
	c.Pitch += pitch * c.TurnSpeed * dt
	if c.Pitch > c.MaxPitch {
		c.Pitch = c.MaxPitch
	}
	if c.Pitch < -c.MaxPitch {
		c.Pitch = -c.MaxPitch
	}
}

// Setup builds the view for a frame.
func (c *FlyCamera) Setup(aspect, screenHeight float32) View {
	fovRad := float64(c.FovY) * gomath.Pi / 180.0
	forward := c.Forward()

	v := View{
		Position:     c.Position,
		Forward:      forward,
		CotFov:       float32(gomath.Cos(fovRad/2) / gomath.Sin(fovRad/2)),
		Near:         c.Near,
		Far:          c.Far,
		ScreenHeight: screenHeight,
		ViewMatrix:   math.LookAt(c.Position, c.Position.Add(forward), math.Vec3{Y: 1}),
		Projection:   math.Perspective(float32(fovRad), aspect, c.Near, c.Far),
	}
	v.Frustum = ExtractFrustum(v.ViewProjection(), c.Position)
	return v
}

// ExtractFrustum pulls the six clipping planes out of a combined
// view-projection matrix. Planes are normalized.
func ExtractFrustum(viewProj math.Mat4, cameraPos math.Vec3) Frustum {
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)

	rows := [MaxClippingPlanes]math.Vec4{
		r3.Add(r0), // left
		r3.Sub(r0), // right
		r3.Add(r1), // bottom
		r3.Sub(r1), // top
		r3.Add(r2), // near
		r3.Sub(r2), // far
	}

	f := Frustum{Count: MaxClippingPlanes, CameraPos: cameraPos}
	for i, row := range rows {
		normal := math.Vec3{X: row[0], Y: row[1], Z: row[2]}
		inv := 1 / normal.Length()
		f.Planes[i] = math.Plane{Normal: normal.Scale(inv), D: row[3] * inv}
	}
	return f
}
