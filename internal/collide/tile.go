package collide

import (
	"math"

	"github.com/heatgun/hg/internal/geom"
)

// TileGrid is a Material made of square solid tiles laid out on a grid
// starting at Origin.
type TileGrid struct {
	Origin   geom.Vec2
	TileSize float64
	Width    int
	Height   int
	solid    []bool
}

func NewTileGrid(origin geom.Vec2, tileSize float64, w, h int) *TileGrid {
	return &TileGrid{
		Origin:   origin,
		TileSize: tileSize,
		Width:    w,
		Height:   h,
		solid:    make([]bool, w*h),
	}
}

func (g *TileGrid) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

func (g *TileGrid) Set(x, y int, solid bool) {
	if g.inBounds(x, y) {
		g.solid[y*g.Width+x] = solid
	}
}

func (g *TileGrid) Solid(x, y int) bool {
	return g.inBounds(x, y) && g.solid[y*g.Width+x]
}

// Bounds is the world-space rectangle covered by the grid.
func (g *TileGrid) Bounds() geom.AABB {
	return geom.Rect(g.Origin.X, g.Origin.Y, float64(g.Width)*g.TileSize, float64(g.Height)*g.TileSize)
}

// TileAABB returns the world-space rectangle of tile (x, y).
func (g *TileGrid) TileAABB(x, y int) geom.AABB {
	return geom.Rect(g.Origin.X+float64(x)*g.TileSize, g.Origin.Y+float64(y)*g.TileSize, g.TileSize, g.TileSize)
}

// tileRange converts a world rectangle to the inclusive tile range it covers,
// clamped to the grid.
func (g *TileGrid) tileRange(a geom.AABB) (x0, y0, x1, y1 int) {
	lo := a.Min.Sub(g.Origin).Scale(1 / g.TileSize)
	hi := a.Max.Sub(g.Origin).Scale(1 / g.TileSize)
	x0 = max(int(math.Floor(lo.X)), 0)
	y0 = max(int(math.Floor(lo.Y)), 0)
	x1 = min(int(math.Floor(hi.X)), g.Width-1)
	y1 = min(int(math.Floor(hi.Y)), g.Height-1)
	return
}

func (g *TileGrid) CheckAABB(aabb geom.AABB) bool {
	x0, y0, x1, y1 := g.tileRange(aabb)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if g.Solid(x, y) && g.TileAABB(x, y).Intersects(aabb) {
				return true
			}
		}
	}
	return false
}

// CastHull walks the tiles under the sweep in the direction of travel and
// casts against each solid one.
func (g *TileGrid) CastHull(req HullCastRequest) HullResult {
	result := Clear()
	x0, y0, x1, y1 := g.tileRange(req.Candidate())
	if x0 > x1 || y0 > y1 {
		return result
	}

	xs, xe, dx := x0, x1+1, 1
	if req.Delta.X < 0 {
		xs, xe, dx = x1, x0-1, -1
	}
	ys, ye, dy := y0, y1+1, 1
	if req.Delta.Y < 0 {
		ys, ye, dy = y1, y0-1, -1
	}
	for y := ys; y != ye; y += dy {
		for x := xs; x != xe; x += dx {
			if !g.Solid(x, y) {
				continue
			}
			result = result.Min(req.Cast(g.TileAABB(x, y)))
		}
	}
	return result
}
