// Package profiling writes pprof profiles around one CLI invocation.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Options names the profile files. Empty paths disable that profile.
type Options struct {
	CPUPath  string
	HeapPath string
}

// Session is a running profiling session.
type Session struct {
	opts    Options
	cpuFile *os.File
}

// Start begins CPU profiling if requested. Stop must be called to flush it
// and to write the heap profile.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}
	if opts.CPUPath == "" {
		return s, nil
	}
	f, err := os.Create(opts.CPUPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}
	s.cpuFile = f
	return s, nil
}

// Stop stops CPU profiling and writes the heap profile. Safe to call on a
// nil session and more than once.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := s.cpuFile.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close CPU profile: %w", err)
		}
		s.cpuFile = nil
	}
	if s.opts.HeapPath != "" {
		if err := writeHeap(s.opts.HeapPath); err != nil && firstErr == nil {
			firstErr = err
		}
		s.opts.HeapPath = ""
	}
	return firstErr
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect first so the profile reflects live objects.
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
