package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileSink appends JSON lines to a file and rotates it when it grows past
// maxSize or when the calendar day changes.
type fileSink struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	rotate      bool
	maxSize     int64
	maxAgeDays  int
	size        int64
	lastRotated time.Time
}

func openFileSink(path string, rotate bool, maxSizeMB, maxAgeDays int) (*fileSink, error) {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	return &fileSink{
		file:        f,
		path:        path,
		rotate:      rotate,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxAgeDays:  maxAgeDays,
		size:        size,
		lastRotated: time.Now(),
	}, nil
}

func (s *fileSink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	if s.shouldRotate(time.Now()) {
		if err := s.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "logger: failed to rotate log file: %v\n", err)
		}
	}
	if s.file == nil {
		return
	}
	n, err := s.file.Write(line)
	if err == nil {
		s.size += int64(n)
	}
}

func (s *fileSink) shouldRotate(now time.Time) bool {
	if !s.rotate {
		return false
	}
	if s.maxSize > 0 && s.size >= s.maxSize {
		return true
	}
	if s.maxAgeDays > 0 {
		return now.YearDay() != s.lastRotated.YearDay() || now.Year() != s.lastRotated.Year()
	}
	return false
}

func (s *fileSink) rotateLocked() error {
	s.file.Close()

	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, rotated); err != nil {
		// keep logging into the original file
		if f, openErr := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); openErr == nil {
			s.file = f
		} else {
			s.file = nil
		}
		return fmt.Errorf("rename %s: %w", s.path, err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.file = nil
		return fmt.Errorf("failed to create new log file: %w", err)
	}
	s.file = f
	s.size = 0
	s.lastRotated = time.Now()

	go s.pruneRotated()
	return nil
}

func (s *fileSink) pruneRotated() {
	if s.maxAgeDays <= 0 {
		return
	}

	dir := filepath.Dir(s.path)
	prefix := filepath.Base(s.path) + "."
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func (s *fileSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
