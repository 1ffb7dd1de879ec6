package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/heatgun/hg/internal/collide"
	"github.com/heatgun/hg/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLevel = `
name: arena
walls:
  - {x: 0, y: 0, w: 100, h: 10}
tiles:
  - x: 200
    y: 0
    tile_size: 10
    rows:
      - "#."
      - ".#"
spawns:
  - {name: alice, x: 20, y: 40, w: 8, h: 8, script: wander.lua}
  - {name: bob, x: 60, y: 40, w: 8, h: 8}
`

func TestLoadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "level.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testLevel), 0o644))

	lvl, err := LoadLevel(path)
	require.NoError(t, err)
	assert.Equal(t, "arena", lvl.Name)
	require.Len(t, lvl.Spawns, 2)
	assert.Equal(t, "wander.lua", lvl.Spawns[0].Script)
	assert.Equal(t, geom.Rect(20, 40, 8, 8), lvl.Spawns[0].AABB())
	assert.Empty(t, lvl.Spawns[1].Script)

	bus := collide.NewBus(0)
	cols := lvl.Build(bus)
	assert.Len(t, cols, 2)
	assert.Equal(t, 2, bus.Len())

	solid := collide.MaskFilter(MaskWorld)
	assert.True(t, bus.CheckAABB(geom.Rect(50, 5, 5, 5), solid))
	assert.False(t, bus.CheckAABB(geom.Rect(50, 20, 5, 5), solid))
	assert.True(t, bus.CheckAABB(geom.Rect(201, 1, 2, 2), solid))
	assert.False(t, bus.CheckAABB(geom.Rect(211, 1, 2, 2), solid))
	assert.True(t, bus.CheckAABB(geom.Rect(212, 12, 2, 2), solid))
}

func TestParseLevelRejects(t *testing.T) {
	_, err := ParseLevel([]byte("tiles:\n  - {x: 0, y: 0, tile_size: 0}\n"))
	assert.ErrorContains(t, err, "tile_size")

	_, err = ParseLevel([]byte("walls:\n  - {x: 0, y: 0, w: -1, h: 1}\n"))
	assert.ErrorContains(t, err, "negative")

	_, err = ParseLevel([]byte("walls: [\n"))
	assert.ErrorContains(t, err, "parse level")

	_, err = LoadLevel(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestArena(t *testing.T) {
	lvl := Arena(12, []string{"east", "west"})
	require.Len(t, lvl.Spawns, 12)
	assert.Equal(t, "east", lvl.Spawns[0].Script)
	assert.Equal(t, "west", lvl.Spawns[1].Script)
	assert.Equal(t, "actor11", lvl.Spawns[11].Name)

	bus := collide.NewBus(0)
	lvl.Build(bus)
	solid := collide.MaskFilter(MaskWorld)
	for _, sp := range lvl.Spawns {
		assert.False(t, bus.CheckAABB(sp.AABB(), solid), sp.Name)
	}

	assert.Empty(t, Arena(1, nil).Spawns[0].Script)
}
