package jit

import (
	"fmt"
	"os"
	"sync"

	"github.com/colorfulnotion/jitrt/log"
)

// PerfMapSink appends every announced function to the perf(1) symbol map
// for this process, /tmp/perf-<pid>.map, so sampling profilers can name
// generated frames. Lines are "addr size name" in hex.
type PerfMapSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewPerfMapSink opens (or creates) the perf map for the current pid.
func NewPerfMapSink() (*PerfMapSink, error) {
	path := fmt.Sprintf("%s/perf-%d.map", os.TempDir(), os.Getpid())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open perf map %s: %w", path, err)
	}
	return &PerfMapSink{f: f, path: path}, nil
}

// Path returns the map file location.
func (p *PerfMapSink) Path() string {
	return p.path
}

func (p *PerfMapSink) Announce(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return
	}
	if _, err := fmt.Fprintf(p.f, "%x %x %s\n", rec.Addr, rec.Size, rec.Name); err != nil {
		log.Warn(log.BuildMonitoring, "perf map write failed", "path", p.path, "err", err)
	}
}

// Close stops further writes and releases the file handle.
func (p *PerfMapSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}
