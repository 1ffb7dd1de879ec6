package geom

import "fmt"

// AABB is an axis-aligned rectangle. Min is the top-left corner and Max the
// bottom-right one; both edges are inclusive.
type AABB struct {
	Min, Max Vec2
}

func NewAABB(min, max Vec2) AABB {
	return AABB{Min: min, Max: max}
}

// Rect builds an AABB from its origin and size.
func Rect(x, y, w, h float64) AABB {
	return AABB{Min: Vec2{x, y}, Max: Vec2{x + w, y + h}}
}

// Normalize swaps corners so that Min <= Max on both axes.
func (a AABB) Normalize() AABB {
	return AABB{Min: a.Min.Min(a.Max), Max: a.Min.Max(a.Max)}
}

func (a AABB) Size() Vec2   { return a.Max.Sub(a.Min) }
func (a AABB) Center() Vec2 { return a.Min.Add(a.Max).Scale(0.5) }

func (a AABB) Translate(d Vec2) AABB {
	return AABB{Min: a.Min.Add(d), Max: a.Max.Add(d)}
}

func (a AABB) Union(o AABB) AABB {
	return AABB{Min: a.Min.Min(o.Min), Max: a.Max.Max(o.Max)}
}

// Grow pads every side by by.
func (a AABB) Grow(by float64) AABB {
	d := Vec2{by, by}
	return AABB{Min: a.Min.Sub(d), Max: a.Max.Add(d)}
}

// Intersects reports overlap, counting touching edges.
func (a AABB) Intersects(o AABB) bool {
	return a.Min.X <= o.Max.X && o.Min.X <= a.Max.X &&
		a.Min.Y <= o.Max.Y && o.Min.Y <= a.Max.Y
}

// Contains reports whether o lies entirely inside a.
func (a AABB) Contains(o AABB) bool {
	return a.Min.X <= o.Min.X && o.Max.X <= a.Max.X &&
		a.Min.Y <= o.Min.Y && o.Max.Y <= a.Max.Y
}

func (a AABB) ContainsPoint(p Vec2) bool {
	return a.Min.X <= p.X && p.X <= a.Max.X && a.Min.Y <= p.Y && p.Y <= a.Max.Y
}

// SurfaceArea is the perimeter, the 2D analogue used by the BVH cost model.
func (a AABB) SurfaceArea() float64 {
	s := a.Size()
	return 2 * (s.X + s.Y)
}

// Range returns the extent of a along axis ax.
func (a AABB) Range(ax Axis) (lo, hi float64) {
	return a.Min.Get(ax), a.Max.Get(ax)
}

func (a AABB) String() string {
	return fmt.Sprintf("[%v-%v]", a.Min, a.Max)
}
