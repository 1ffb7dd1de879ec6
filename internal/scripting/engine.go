package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ErrNoMover is returned by Step for a mover name that was never loaded.
var ErrNoMover = errors.New("scripting: unknown mover")

// Engine wraps a single gopher-lua VM running mover scripts. Each script file
// gets its own environment and must define
//
//	function step(id, t, x, y) return vx, vy end
//
// Single-goroutine access only (game loop).
type Engine struct {
	vm     *lua.LState
	log    *zap.Logger
	movers map[string]*lua.LFunction
}

// NewEngine creates a Lua engine and loads every .lua file in scriptsDir. A
// missing directory loads nothing.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log.Named("lua"), movers: make(map[string]*lua.LFunction)}
	if scriptsDir == "" {
		return e, nil
	}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load mover scripts: %w", err)
	}
	return e, nil
}

func (e *Engine) Close() { e.vm.Close() }

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		fn, err := e.vm.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := e.install(entry.Name(), fn); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString compiles src as the mover called name, replacing any mover of
// the same name.
func (e *Engine) LoadString(name, src string) error {
	fn, err := e.vm.LoadString(src)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return e.install(name, fn)
}

// install runs chunk in a fresh environment that falls back to globals and
// keeps the step function it defines.
func (e *Engine) install(name string, chunk *lua.LFunction) error {
	env := e.vm.NewTable()
	meta := e.vm.NewTable()
	meta.RawSetString("__index", e.vm.Get(lua.GlobalsIndex))
	e.vm.SetMetatable(env, meta)
	e.vm.SetFEnv(chunk, env)

	e.vm.Push(chunk)
	if err := e.vm.PCall(0, lua.MultRet, nil); err != nil {
		return err
	}
	step, ok := env.RawGetString("step").(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%s does not define step", name)
	}
	e.movers[moverName(name)] = step
	return nil
}

func moverName(file string) string {
	return strings.TrimSuffix(file, ".lua")
}

func (e *Engine) Has(name string) bool {
	_, ok := e.movers[moverName(name)]
	return ok
}

// Names lists the loaded movers in sorted order.
func (e *Engine) Names() []string {
	out := make([]string, 0, len(e.movers))
	for n := range e.movers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Step asks mover name for the velocity of actor id at time t and position
// (x, y). Script errors are returned and leave the VM stack balanced.
func (e *Engine) Step(name string, id uint64, t, x, y float64) (vx, vy float64, err error) {
	fn, ok := e.movers[moverName(name)]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrNoMover, name)
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    2,
		Protect: true,
	}, lua.LNumber(id), lua.LNumber(t), lua.LNumber(x), lua.LNumber(y)); err != nil {
		return 0, 0, fmt.Errorf("mover %s: %w", name, err)
	}
	rx, ry := e.vm.Get(-2), e.vm.Get(-1)
	e.vm.Pop(2)
	return float64(lua.LVAsNumber(rx)), float64(lua.LVAsNumber(ry)), nil
}
