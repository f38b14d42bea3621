package jit

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/colorfulnotion/jitrt/log"
)

// Record describes one generated function for profilers, debuggers and
// other observers: where it landed and under what name.
type Record struct {
	Addr uintptr
	Size int
	Name string
}

// SymbolSink receives a Record for every successful build. Announcements
// are fire-and-forget: a sink cannot veto or undo a build, and a sink
// panic is contained so one misbehaving observer cannot poison code
// generation.
type SymbolSink interface {
	Announce(rec Record)
}

// announce fans a record out to every registered sink.
func (rt *Runtime) announce(rec Record) {
	rt.mu.RLock()
	sinks := slices.Clone(rt.sinks)
	rt.mu.RUnlock()
	for _, s := range sinks {
		announceOne(s, rec)
	}
}

func announceOne(s SymbolSink, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn(log.BuildMonitoring, "symbol sink panicked", "name", rec.Name, "panic", r)
		}
	}()
	s.Announce(rec)
}

// Registry is the runtime's own record table, always the first sink. It
// answers address-to-name queries for crash dumps and the console tools.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Record
	ordered []Record
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Record)}
}

func (r *Registry) Announce(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[rec.Name] = rec
	r.ordered = append(r.ordered, rec)
}

// Lookup finds a record by build name.
func (r *Registry) Lookup(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byName[name]
	return rec, ok
}

// Resolve maps an address back to the record containing it.
func (r *Registry) Resolve(addr uintptr) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.ordered {
		if addr >= rec.Addr && addr < rec.Addr+uintptr(rec.Size) {
			return rec, true
		}
	}
	return Record{}, false
}

// Records returns all announcements sorted by address.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	out := slices.Clone(r.ordered)
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Record) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	return out
}

// Len reports how many builds have been announced.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// LogSink writes an info line per announced function, for operators
// watching a live process rather than querying the registry.
type LogSink struct{}

func (LogSink) Announce(rec Record) {
	log.Info(log.BuildMonitoring, "function announced",
		"name", rec.Name, "addr", fmt.Sprintf("%#x", rec.Addr), "size", rec.Size)
}
