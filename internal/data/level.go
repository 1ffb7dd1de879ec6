package data

import (
	"fmt"
	"os"

	"github.com/heatgun/hg/internal/collide"
	"github.com/heatgun/hg/internal/geom"
	"gopkg.in/yaml.v3"
)

// MaskWorld is the collider mask bit of static level geometry.
const MaskWorld = collide.Mask(1)

// Rect is a world-space rectangle given by its corner and size.
type Rect struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

func (r Rect) AABB() geom.AABB { return geom.Rect(r.X, r.Y, r.W, r.H) }

// TileLayer is a grid of solid ('#') and empty tiles. Rows run top to bottom
// in increasing Y.
type TileLayer struct {
	X        float64  `yaml:"x"`
	Y        float64  `yaml:"y"`
	TileSize float64  `yaml:"tile_size"`
	Rows     []string `yaml:"rows"`
}

// Spawn places one scripted actor.
type Spawn struct {
	Name   string  `yaml:"name"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	W      float64 `yaml:"w"`
	H      float64 `yaml:"h"`
	Script string  `yaml:"script"`
}

func (s Spawn) AABB() geom.AABB { return geom.Rect(s.X, s.Y, s.W, s.H) }

// Level holds the static geometry and actor spawns of one map, loaded from
// YAML.
type Level struct {
	Name   string      `yaml:"name"`
	Walls  []Rect      `yaml:"walls"`
	Tiles  []TileLayer `yaml:"tiles"`
	Spawns []Spawn     `yaml:"spawns"`
}

// LoadLevel loads a level file.
func LoadLevel(path string) (*Level, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level %s: %w", path, err)
	}
	return ParseLevel(raw)
}

func ParseLevel(raw []byte) (*Level, error) {
	var lvl Level
	if err := yaml.Unmarshal(raw, &lvl); err != nil {
		return nil, fmt.Errorf("parse level: %w", err)
	}
	for i, t := range lvl.Tiles {
		if t.TileSize <= 0 {
			return nil, fmt.Errorf("tile layer %d: tile_size must be positive", i)
		}
	}
	for i, w := range lvl.Walls {
		if w.W < 0 || w.H < 0 {
			return nil, fmt.Errorf("wall %d: negative size", i)
		}
	}
	return &lvl, nil
}

// Grid builds the tile material of the layer.
func (t TileLayer) Grid() *collide.TileGrid {
	w := 0
	for _, row := range t.Rows {
		w = max(w, len(row))
	}
	g := collide.NewTileGrid(geom.V(t.X, t.Y), t.TileSize, w, len(t.Rows))
	for y, row := range t.Rows {
		for x := range len(row) {
			if row[x] == '#' {
				g.Set(x, y, true)
			}
		}
	}
	return g
}

// Build registers every wall and tile layer with bus and returns the
// colliders it created.
func (l *Level) Build(bus *collide.Bus) []*collide.Collider {
	out := make([]*collide.Collider, 0, len(l.Walls)+len(l.Tiles))
	for i, w := range l.Walls {
		c := collide.NewCollider(fmt.Sprintf("%s/wall%d", l.Name, i), w.AABB(), MaskWorld)
		bus.Register(c)
		out = append(out, c)
	}
	for i, t := range l.Tiles {
		g := t.Grid()
		c := collide.NewCollider(fmt.Sprintf("%s/tiles%d", l.Name, i), g.Bounds(), MaskWorld)
		c.Kind = collide.MatCustom
		c.Custom = g
		bus.Register(c)
		out = append(out, c)
	}
	return out
}

// Arena is the level used when no level file exists: a walled box with
// actors spawned on a grid, cycling through movers. Actors get no script
// when movers is empty.
func Arena(actors int, movers []string) *Level {
	const (
		width, height = 640.0, 480.0
		wall          = 16.0
		size          = 16.0
		pitch         = 64.0
		perRow        = 9
	)
	lvl := &Level{
		Name: "arena",
		Walls: []Rect{
			{X: 0, Y: 0, W: width, H: wall},
			{X: 0, Y: height - wall, W: width, H: wall},
			{X: 0, Y: wall, W: wall, H: height - 2*wall},
			{X: width - wall, Y: wall, W: wall, H: height - 2*wall},
		},
	}
	for i := range actors {
		sp := Spawn{
			Name: fmt.Sprintf("actor%d", i),
			X:    wall + pitch/2 + float64(i%perRow)*pitch,
			Y:    wall + pitch/2 + float64(i/perRow)*pitch,
			W:    size,
			H:    size,
		}
		if len(movers) > 0 {
			sp.Script = movers[i%len(movers)]
		}
		lvl.Spawns = append(lvl.Spawns, sp)
	}
	return lvl
}
