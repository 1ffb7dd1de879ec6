// Package geom holds the 2D vector and rectangle types shared by the
// collision code and the replicated world.
package geom

import (
	"fmt"
	"math"
)

type Axis int

const (
	AxisX Axis = iota
	AxisY
)

func (a Axis) Perp() Axis { return 1 - a }

func (a Axis) String() string {
	if a == AxisX {
		return "x"
	}
	return "y"
}

type Vec2 struct {
	X, Y float64
}

func V(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Neg() Vec2            { return Vec2{-v.X, -v.Y} }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Y*o.Y }
func (v Vec2) LenSquared() float64  { return v.Dot(v) }
func (v Vec2) Len() float64         { return math.Sqrt(v.LenSquared()) }
func (v Vec2) IsZero() bool         { return v.X == 0 && v.Y == 0 }
func (v Vec2) Min(o Vec2) Vec2      { return Vec2{math.Min(v.X, o.X), math.Min(v.Y, o.Y)} }
func (v Vec2) Max(o Vec2) Vec2      { return Vec2{math.Max(v.X, o.X), math.Max(v.Y, o.Y)} }
func (v Vec2) Floor() Vec2          { return Vec2{math.Floor(v.X), math.Floor(v.Y)} }
func (v Vec2) String() string       { return fmt.Sprintf("(%g, %g)", v.X, v.Y) }

func (v Vec2) Get(a Axis) float64 {
	if a == AxisX {
		return v.X
	}
	return v.Y
}

// With returns v with the component on axis a replaced by value.
func (v Vec2) With(a Axis, value float64) Vec2 {
	if a == AxisX {
		v.X = value
	} else {
		v.Y = value
	}
	return v
}

// Unit returns the unit vector along a with the given sign.
func Unit(a Axis, sign float64) Vec2 {
	return Vec2{}.With(a, sign)
}
