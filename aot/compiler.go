package aot

import (
	"context"
	"fmt"
	"sync"

	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/log"
	"go.opentelemetry.io/otel/trace"
)

type pendingUnit struct {
	mod       *Module
	cachePath string
	objPath   string
}

// Compiler is the bridge between ahead-of-time compilation and the
// executable memory runtime. Modules and object files are queued with
// Add* calls; Finalize processes the whole batch through the engine;
// afterwards installed symbols resolve by name. Batches are
// incremental: more units may be queued and finalized later.
type Compiler struct {
	mu        sync.Mutex
	eng       Engine
	cache     *Cache
	tp        trace.TracerProvider
	pending   []pendingUnit
	symbols   map[string]uintptr
	finalized bool
}

type Option func(*Compiler)

// WithSymbols preloads the link table with externally provided
// addresses, for generated code that calls back into the host.
func WithSymbols(link map[string]uintptr) Option {
	return func(c *Compiler) {
		for name, addr := range link {
			c.symbols[name] = addr
		}
	}
}

// WithCache attaches an object index used to track cached compiles.
func WithCache(cache *Cache) Option {
	return func(c *Compiler) {
		c.cache = cache
	}
}

// WithTracer enables a trace span around each finalize batch.
func WithTracer(tp trace.TracerProvider) Option {
	return func(c *Compiler) {
		c.tp = tp
	}
}

func NewCompiler(eng Engine, opts ...Option) *Compiler {
	c := &Compiler{
		eng:     eng,
		symbols: make(map[string]uintptr),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddModule queues a module for compilation at the next finalize.
func (c *Compiler) AddModule(mod Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pendingUnit{mod: &mod})
}

// AddModuleCached queues a module backed by an object file: a valid
// object at cachePath skips compilation, otherwise the compile result
// is written there for the next run.
func (c *Compiler) AddModuleCached(mod Module, cachePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pendingUnit{mod: &mod, cachePath: cachePath})
}

// AddObject queues a precompiled object file for installation.
func (c *Compiler) AddObject(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pendingUnit{objPath: path})
}

// Finalize compiles, loads and installs every queued unit in order.
// It stops at the first failing unit: earlier units stay installed,
// the failing unit and the ones after it remain queued.
func (c *Compiler) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = true

	if c.tp != nil {
		tracer := c.tp.Tracer("JitTracer")
		_, span := tracer.Start(context.Background(), fmt.Sprintf("finalize %d units", len(c.pending)))
		defer span.End()
	}

	if c.eng == nil && len(c.pending) > 0 {
		return jiterrors.ErrANoEngine
	}

	for i, u := range c.pending {
		if err := c.processLocked(u); err != nil {
			c.pending = c.pending[i:]
			return err
		}
	}
	c.pending = nil
	return nil
}

func (c *Compiler) processLocked(u pendingUnit) error {
	switch {
	case u.objPath != "":
		obj, err := ReadObjectFile(u.objPath)
		if err != nil {
			return err
		}
		return c.installLocked(obj)

	case u.cachePath != "":
		if CheckObjectFile(u.cachePath) {
			obj, err := ReadObjectFile(u.cachePath)
			if err == nil && obj.Target == c.eng.Target() && obj.Engine == c.eng.Version() {
				log.Debug(log.AOTMonitoring, "object cache hit", "module", u.mod.Name,
					"path", u.cachePath, "fingerprint", obj.Fingerprint.Hex())
				if c.cache != nil {
					if herr := c.cache.RecordHit(u.mod.Name); herr != nil {
						log.Warn(log.AOTMonitoring, "cache hit not recorded", "module", u.mod.Name, "err", herr)
					}
				}
				return c.installLocked(obj)
			}
			// Stale target or engine revision: recompile and overwrite
		}

		obj, err := c.eng.Compile(*u.mod)
		if err != nil {
			return err
		}
		if err := WriteObjectFile(u.cachePath, obj); err != nil {
			return err
		}
		log.Debug(log.AOTMonitoring, "object compiled and cached", "module", u.mod.Name,
			"path", u.cachePath, "fingerprint", obj.Fingerprint.Hex())
		if c.cache != nil {
			entry := CacheEntry{
				Module:      u.mod.Name,
				Path:        u.cachePath,
				Fingerprint: obj.Fingerprint.Hex(),
				Target:      obj.Target,
				Engine:      obj.Engine,
				Size:        objectCodeBytes(obj),
			}
			if serr := c.cache.RecordStore(entry); serr != nil {
				log.Warn(log.AOTMonitoring, "cache entry not recorded", "module", u.mod.Name, "err", serr)
			}
		}
		return c.installLocked(obj)

	default:
		obj, err := c.eng.Compile(*u.mod)
		if err != nil {
			return err
		}
		log.Debug(log.AOTMonitoring, "module compiled", "module", u.mod.Name, "symbols", len(obj.Symbols))
		return c.installLocked(obj)
	}
}

func (c *Compiler) installLocked(obj *Object) error {
	installed, err := c.eng.Install(obj)
	if err != nil {
		return err
	}
	for name, addr := range installed {
		if _, dup := c.symbols[name]; dup {
			return fmt.Errorf("symbol %s installed twice", name)
		}
		c.symbols[name] = addr
	}
	return nil
}

// Resolve returns the entry address of an installed symbol. Calling it
// before the first finalize is a caller bug; an unknown name afterwards
// is a NotFound error.
func (c *Compiler) Resolve(name string) (uintptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finalized {
		panic("aot: resolve before finalize")
	}
	addr, ok := c.symbols[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", jiterrors.ErrANotFound, name)
	}
	return addr, nil
}

// Symbols snapshots the resolved link table.
func (c *Compiler) Symbols() map[string]uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uintptr, len(c.symbols))
	for name, addr := range c.symbols {
		out[name] = addr
	}
	return out
}

func objectCodeBytes(obj *Object) int {
	total := 0
	for _, sym := range obj.Symbols {
		total += len(sym.Code)
	}
	return total
}
