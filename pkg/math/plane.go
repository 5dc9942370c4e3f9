package math

// Plane is a 3D plane. Points with Distance >= 0 are on the front side.
type Plane struct {
	Normal Vec3
	D      float32
}

// Distance returns the signed distance from the plane to p.
// The result is only a true distance when Normal is unit length.
func (p Plane) Distance(point Vec3) float32 {
	return p.Normal.Dot(point) + p.D
}

// PlaneFromPointNormal builds a plane through point with the given normal.
func PlaneFromPointNormal(point, normal Vec3) Plane {
	return Plane{Normal: normal, D: -normal.Dot(point)}
}

// Plane2 is a line in 2D space, stored in plane form.
type Plane2 struct {
	Normal Vec2
	D      float32
}

// Distance returns the signed distance from the line to p.
func (p Plane2) Distance(point Vec2) float32 {
	return p.Normal.Dot(point) + p.D
}

// Box3 is an axis aligned bounding box.
type Box3 struct {
	Min, Max Vec3
}

// Support returns the corner of the box furthest along dir.
func (b Box3) Support(dir Vec3) Vec3 {
	result := b.Min
	if dir.X > 0 {
		result.X = b.Max.X
	}
	if dir.Y > 0 {
		result.Y = b.Max.Y
	}
	if dir.Z > 0 {
		result.Z = b.Max.Z
	}
	return result
}

// Center returns the midpoint of the box.
func (b Box3) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Extend grows the box to contain p.
func (b Box3) Extend(p Vec3) Box3 {
	return Box3{
		Min: Vec3{min(b.Min.X, p.X), min(b.Min.Y, p.Y), min(b.Min.Z, p.Z)},
		Max: Vec3{max(b.Max.X, p.X), max(b.Max.Y, p.Y), max(b.Max.Z, p.Z)},
	}
}

// EmptyBox returns a box that any Extend call will replace.
func EmptyBox() Box3 {
	return Box3{
		Min: Vec3{1e30, 1e30, 1e30},
		Max: Vec3{-1e30, -1e30, -1e30},
	}
}
