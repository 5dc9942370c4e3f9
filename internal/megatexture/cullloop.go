package megatexture

import (
	gomath "math"

	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/pkg/math"
)

const (
	// MaxCullingLoopSize bounds the loop: four corners plus one vertex per
	// frustum plane.
	MaxCullingLoopSize = 10

	clipEpsilon       = 0.00001
	degenerateEpsilon = 0.000001
)

// CullingLoop is a small convex polygon in UV space. The last point connects
// back to the first. After Init, walking forward from the top vertex follows
// the left (min X) boundary and walking backward follows the right one;
// clipping preserves that order.
type CullingLoop struct {
	points [MaxCullingLoopSize]math.Vec2
	size   int
}

// Init seeds the loop with the rectangle [min, max].
func (l *CullingLoop) Init(min, max math.Vec2) {
	l.points[0] = math.Vec2{X: min.X, Y: min.Y}
	l.points[1] = math.Vec2{X: min.X, Y: max.Y}
	l.points[2] = math.Vec2{X: max.X, Y: max.Y}
	l.points[3] = math.Vec2{X: max.X, Y: min.Y}
	l.size = 4
}

// Len returns the number of vertices. Zero means fully culled.
func (l *CullingLoop) Len() int {
	return l.size
}

// Empty reports whether nothing of the polygon is left.
func (l *CullingLoop) Empty() bool {
	return l.size == 0
}

// Point returns vertex i.
func (l *CullingLoop) Point(i int) math.Vec2 {
	return l.points[i]
}

// Points returns a copy of the vertices.
func (l *CullingLoop) Points() []math.Vec2 {
	return append([]math.Vec2(nil), l.points[:l.size]...)
}

// add appends p. Points past capacity are dropped.
func (l *CullingLoop) add(p math.Vec2) {
	if l == nil || l.size == MaxCullingLoopSize {
		return
	}
	l.points[l.size] = p
	l.size++
}

func (l *CullingLoop) wrap(i int) int {
	if i < 0 {
		return i + l.size
	}
	if i >= l.size {
		return i - l.size
	}
	return i
}

// Clip keeps the part of the polygon in front of plane. If behind is not
// nil it receives the part that was cut away. Points within clipEpsilon of
// the plane land in both halves. A half with fewer than three vertices has
// no area and is left empty.
func (l *CullingLoop) Clip(plane math.Plane2, behind *CullingLoop) {
	var front CullingLoop

	if behind != nil {
		behind.size = 0
	}

	for i := 0; i < l.size; i++ {
		current := l.points[i]
		next := l.points[l.wrap(i+1)]

		currentDistance := plane.Distance(current)

		if gomath.Abs(float64(currentDistance)) < clipEpsilon {
			behind.add(current)
			front.add(current)
			continue
		}

		if currentDistance < 0 {
			behind.add(current)
		} else {
			front.add(current)
		}

		nextDistance := plane.Distance(next)

		// An on-plane next point is added by its own iteration.
		if gomath.Abs(float64(nextDistance)) < clipEpsilon {
			continue
		}

		if currentDistance*nextDistance < 0 {
			crossing := current.Lerp(next, currentDistance/(currentDistance-nextDistance))
			behind.add(crossing)
			front.add(crossing)
		}
	}

	if front.size < 3 {
		front.size = 0
	}
	if behind != nil && behind.size < 3 {
		behind.size = 0
	}

	*l = front
}

// ClipAgainstFrustum clips the loop to the frustum planes projected into the
// surface's UV space. It returns false once nothing is left.
func (l *CullingLoop) ClipAgainstFrustum(basis UVBasis, frustum *camera.Frustum) bool {
	for i := 0; i < frustum.Count; i++ {
		plane := basis.ProjectPlane(frustum.Planes[i])

		if gomath.Abs(float64(plane.Normal.X)) < degenerateEpsilon && gomath.Abs(float64(plane.Normal.Y)) < degenerateEpsilon {
			if plane.D < 0 {
				// the whole surface is behind this plane
				l.size = 0
				return false
			}
			// the whole surface is in front of this plane
			continue
		}

		l.Clip(plane, nil)

		if l.size == 0 {
			return false
		}
	}

	return l.size > 0
}

// TopIndex returns the index of the vertex with the smallest Y.
func (l *CullingLoop) TopIndex() int {
	if l.size == 0 {
		return 0
	}

	result := 0
	for {
		prev := l.wrap(result - 1)
		if l.points[prev].Y < l.points[result].Y {
			result = prev
			continue
		}
		next := l.wrap(result + 1)
		if l.points[next].Y < l.points[result].Y {
			result = next
			continue
		}
		return result
	}
}

// Bottom returns the largest Y of the polygon.
func (l *CullingLoop) Bottom() float32 {
	var result float32 = -gomath.MaxFloat32
	for i := 0; i < l.size; i++ {
		result = max(result, l.points[i].Y)
	}
	return result
}

// ExtentCursor tracks an edge walk down one side of a loop.
type ExtentCursor struct {
	Index    int     // vertex the current edge starts at
	Boundary float32 // boundary X at the last requested Y
}

// NewExtentCursor starts a walk at the top vertex of the loop.
func (l *CullingLoop) NewExtentCursor() ExtentCursor {
	top := l.TopIndex()
	return ExtentCursor{Index: top, Boundary: l.points[top].X}
}

// FindExtent advances the cursor down one side of the polygon to untilY and
// returns the outermost X that side reaches between the previous call's Y
// and untilY. direction 1 walks the left side and yields the minimum X,
// direction -1 walks the right side and yields the maximum X. Calls must use
// non-decreasing Y; each call resumes where the last one stopped.
func (l *CullingLoop) FindExtent(cursor *ExtentCursor, untilY float32, direction int) float32 {
	pick := func(a, b float32) float32 {
		if direction > 0 {
			return min(a, b)
		}
		return max(a, b)
	}

	extent := cursor.Boundary

	// a loop with no height would otherwise be walked forever
	for steps := 0; steps < l.size; steps++ {
		current := l.points[cursor.Index]
		nextIndex := l.wrap(cursor.Index + direction)
		next := l.points[nextIndex]

		// stop at the bottom of the chain or past untilY
		if next.Y < current.Y || next.Y > untilY {
			break
		}
		cursor.Index = nextIndex
		extent = pick(extent, next.X)
	}

	current := l.points[cursor.Index]
	next := l.points[l.wrap(cursor.Index+direction)]

	boundary := current.X
	if next.Y > current.Y && untilY > current.Y {
		t := min((untilY-current.Y)/(next.Y-current.Y), 1)
		boundary = current.X + (next.X-current.X)*t
	}

	cursor.Boundary = boundary
	return pick(extent, boundary)
}

// FurthestPoint returns the vertex with the largest projection on dir.
func (l *CullingLoop) FurthestPoint(dir math.Vec2) math.Vec2 {
	if l.size == 0 {
		return math.Vec2{}
	}

	result := l.points[0]
	best := result.Dot(dir)
	for i := 1; i < l.size; i++ {
		if d := l.points[i].Dot(dir); d > best {
			best = d
			result = l.points[i]
		}
	}
	return result
}
