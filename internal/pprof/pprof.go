// Package pprof adds runtime profiling to the server: profile files written
// around a serve run, and the net/http/pprof handlers mounted on the admin
// router.
package pprof

import (
	"errors"
	"fmt"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"

	"github.com/julienschmidt/httprouter"
)

// Config holds the profile file paths. Empty paths are skipped.
type Config struct {
	CPUProfile       string // written continuously between Start and Stop
	HeapProfile      string // snapshot taken at Stop
	GoroutineProfile string // snapshot taken at Stop
}

// Enabled reports whether any profile file is configured
func (c Config) Enabled() bool {
	return c.CPUProfile != "" || c.HeapProfile != "" || c.GoroutineProfile != ""
}

// Profiler manages file based profiling
type Profiler struct {
	config  Config
	cpuFile *os.File

	mu       sync.Mutex
	stopping bool
}

// New creates a profiler for the given configuration
func New(config Config) *Profiler {
	return &Profiler{config: config}
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.Create(path)
}

// Start begins CPU profiling if configured
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.CPUProfile == "" {
		return nil
	}
	f, err := create(p.config.CPUProfile)
	if err != nil {
		return fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to start CPU profiling: %w", err)
	}
	p.cpuFile = f
	return nil
}

// Stop ends CPU profiling and writes the snapshot profiles. Only the first
// call has an effect.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopping {
		return nil
	}
	p.stopping = true

	var errs []error
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close CPU profile: %w", err))
		}
		p.cpuFile = nil
	}
	if p.config.HeapProfile != "" {
		if err := writeProfile("heap", p.config.HeapProfile); err != nil {
			errs = append(errs, err)
		}
	}
	if p.config.GoroutineProfile != "" {
		if err := writeProfile("goroutine", p.config.GoroutineProfile); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeProfile writes a named profile to a file
func writeProfile(name, path string) error {
	prof := pprof.Lookup(name)
	if prof == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	f, err := create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer f.Close()
	if err := prof.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}

// Register mounts the pprof handlers under /debug/pprof/ on router.
// httprouter cannot mix static and wildcard segments, so one catch-all route
// dispatches to the individual handlers.
func Register(router *httprouter.Router) {
	handle := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		switch ps.ByName("item") {
		case "/cmdline":
			netpprof.Cmdline(w, r)
		case "/profile":
			netpprof.Profile(w, r)
		case "/symbol":
			netpprof.Symbol(w, r)
		case "/trace":
			netpprof.Trace(w, r)
		default:
			// Index also serves named profiles such as /debug/pprof/heap
			netpprof.Index(w, r)
		}
	}
	router.GET("/debug/pprof/*item", handle)
	router.POST("/debug/pprof/*item", handle)
}
