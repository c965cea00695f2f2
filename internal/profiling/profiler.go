// Package profiling captures CPU and heap profiles for a server run.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Session holds open profile files for one server run. Stop must be
// called before exit or the CPU profile is truncated.
type Session struct {
	cpuFile  *os.File
	heapPath string
}

// Start begins profiling. Either path may be empty to skip that
// profile. The heap profile is written at Stop time so it reflects
// the steady state, not startup.
func Start(cpuPath, heapPath string) (*Session, error) {
	s := &Session{heapPath: heapPath}

	if cpuPath != "" {
		f, err := os.Create(cpuPath)
		if err != nil {
			return nil, fmt.Errorf("create cpu profile %s: %w", cpuPath, err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("start cpu profile: %w", err)
		}
		s.cpuFile = f
	}
	return s, nil
}

// Stop flushes and closes all profiles. Safe to call on a nil session.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}

	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		if err := s.cpuFile.Close(); err != nil {
			return fmt.Errorf("close cpu profile: %w", err)
		}
		s.cpuFile = nil
	}

	if s.heapPath != "" {
		f, err := os.Create(s.heapPath)
		if err != nil {
			return fmt.Errorf("create heap profile %s: %w", s.heapPath, err)
		}
		defer func() { _ = f.Close() }()

		// Collect garbage first so the profile shows live objects.
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("write heap profile: %w", err)
		}
	}
	return nil
}
