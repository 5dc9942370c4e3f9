package megatexture

import (
	gomath "math"

	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/pkg/math"
)

// MaxLayers is the largest LOD chain a surface may carry.
const MaxLayers = 16

const (
	// minForeshortening limits how much a grazing view angle can coarsen
	// the selected LOD.
	minForeshortening = 0.1

	flatGradientEpsilon = 0.00001
)

// MipRange is the set of LOD bands a surface needs this frame. Band k covers
// camera depths from Boundaries[k-1] (or the near plane) to Boundaries[k]
// (or the far plane).
type MipRange struct {
	MinLod, MaxLod int
	Boundaries     [MaxLayers]float32
}

// NearDepth returns the depth at which band lod starts.
func (r *MipRange) NearDepth(lod int, view *camera.View) float32 {
	if lod <= r.MinLod {
		return view.Near
	}
	return r.Boundaries[lod-1]
}

// FarDepth returns the depth at which band lod ends.
func (r *MipRange) FarDepth(lod int, view *camera.View) float32 {
	if lod >= r.MaxLod {
		return view.Far
	}
	return r.Boundaries[lod]
}

// BoundaryPlane returns the world plane at the far end of band lod. Points
// beyond it belong to coarser bands.
func (r *MipRange) BoundaryPlane(lod int, view *camera.View) math.Plane {
	return math.Plane{
		Normal: view.Forward,
		D:      -(view.Forward.Dot(view.Position) + r.Boundaries[lod]),
	}
}

// MipSelector picks LOD bands from the projected size of a texel.
type MipSelector struct {
	view *camera.View
}

// NewMipSelector returns a selector for one frame's view.
func NewMipSelector(view *camera.View) MipSelector {
	return MipSelector{view: view}
}

// texelScale is the depth at which one LOD 0 texel covers one pixel.
func (m MipSelector) texelScale(texelSize float32) float32 {
	return texelSize * m.view.CotFov * m.view.ScreenHeight * 0.5
}

// metric returns the ideal LOD for a texel at depth with the given cosine
// between the view ray and the surface normal.
func (m MipSelector) metric(scale, depth, cosine, bias float32) float32 {
	cosine = max(cosine, minForeshortening)
	ratio := scale / depth
	area := ratio * ratio * cosine
	return float32(-0.5*gomath.Log2(float64(area))) + bias
}

func (m MipSelector) depth(point math.Vec3) float32 {
	return max(m.view.Forward.Dot(point.Sub(m.view.Position)), m.view.Near)
}

func (m MipSelector) cosine(point math.Vec3, normal math.Vec3) float32 {
	ray := point.Sub(m.view.Position).Normalize()
	return float32(gomath.Abs(float64(ray.Dot(normal))))
}

func clampLod(metric float32, layerCount int) int {
	lod := int(gomath.Floor(float64(metric)))
	return min(max(lod, 0), layerCount-1)
}

// Select computes the LOD bands covering loop. The bias is added to every
// computed level before it is rounded down.
func (m MipSelector) Select(surface *Surface, loop *CullingLoop, bias float32) MipRange {
	var result MipRange

	layerCount := min(len(surface.Layers), MaxLayers)
	basis := &surface.Basis
	scale := m.texelScale(surface.TexelSize)
	forward := m.view.Forward

	gradient := math.Vec2{X: forward.Dot(basis.Right), Y: forward.Dot(basis.Up)}

	if gradient.LengthSqr() < flatGradientEpsilon*flatGradientEpsilon {
		// the surface is perpendicular to the view, so every point is at
		// the same depth
		depth := max(forward.Dot(basis.Origin.Sub(m.view.Position)), m.view.Near)
		lod := clampLod(m.metric(scale, depth, 1, bias), layerCount)
		result.MinLod = lod
		result.MaxLod = lod
		return result
	}

	nearUV := loop.FurthestPoint(gradient.Scale(-1))
	farUV := loop.FurthestPoint(gradient)

	var points [3]math.Vec3
	points[0] = basis.UVToWorld(nearUV)
	points[2] = basis.UVToWorld(farUV)
	points[1] = points[0].Add(points[2]).Scale(0.5)

	var depths, metrics [3]float32
	for i, p := range points {
		depths[i] = m.depth(p)
		metrics[i] = m.metric(scale, depths[i], m.cosine(p, basis.Normal), bias)
	}

	// further away is never finer
	metrics[1] = max(metrics[1], metrics[0])
	metrics[2] = max(metrics[2], metrics[1])

	result.MinLod = clampLod(metrics[0], layerCount)
	result.MaxLod = clampLod(metrics[2], layerCount)

	for lod := result.MinLod; lod < result.MaxLod; lod++ {
		result.Boundaries[lod] = interpolateDepth(float32(lod+1), depths, metrics)
	}

	return result
}

// interpolateDepth finds the depth at which the sampled metric reaches level.
func interpolateDepth(level float32, depths, metrics [3]float32) float32 {
	a, b := 0, 1
	if level > metrics[1] {
		a, b = 1, 2
	}

	span := metrics[b] - metrics[a]
	if span <= 0 {
		return depths[a]
	}

	t := min(max((level-metrics[a])/span, 0), 1)
	return depths[a] + (depths[b]-depths[a])*t
}
