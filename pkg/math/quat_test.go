package math

import (
	"math"
	"testing"
)

func TestQuatIdentity(t *testing.T) {
	q := QuatIdentity()
	if q.X != 0 || q.Y != 0 || q.Z != 0 || q.W != 1 {
		t.Errorf("Identity quaternion should be (0,0,0,1), got (%v,%v,%v,%v)", q.X, q.Y, q.Z, q.W)
	}
}

func TestQuatNormalize(t *testing.T) {
	q := Quat{X: 1, Y: 2, Z: 3, W: 4}
	n := q.Normalize()

	length := float32(math.Sqrt(float64(n.X*n.X + n.Y*n.Y + n.Z*n.Z + n.W*n.W)))
	if math.Abs(float64(length-1.0)) > 0.0001 {
		t.Errorf("Normalized quaternion length should be 1, got %v", length)
	}
}

func TestQuatRotate(t *testing.T) {
	q := QuatFromAxisAngle(Vec3{0, 1, 0}, float32(math.Pi/2))

	// Rotating -Z by 90 degrees around +Y gives -X.
	got := q.Rotate(Vec3{0, 0, -1})
	if math.Abs(float64(got.X+1)) > 1e-5 || math.Abs(float64(got.Z)) > 1e-5 {
		t.Errorf("Rotate: got %v, want (-1,0,0)", got)
	}
}

func TestQuatMulComposes(t *testing.T) {
	quarter := QuatFromAxisAngle(Vec3{0, 0, 1}, float32(math.Pi/2))
	half := quarter.Mul(quarter)

	got := half.Rotate(Vec3{1, 0, 0})
	if math.Abs(float64(got.X+1)) > 1e-5 || math.Abs(float64(got.Y)) > 1e-5 {
		t.Errorf("two quarter turns: got %v, want (-1,0,0)", got)
	}
}
