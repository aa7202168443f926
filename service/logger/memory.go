package logger

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemorySink is a logrus hook that buffers every formatted line it sees.
// A handler attaches one per request so the full run log can be pinned to the
// content store afterwards without touching the process-wide logger.
type MemorySink struct {
	mu    sync.Mutex
	lines []string
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *MemorySink) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("[%s] %s", entry.Level, entry.Message)
	if len(entry.Data) > 0 {
		line = fmt.Sprintf("%s %v", line, entry.Data)
	}
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
	return nil
}

// Lines returns a copy of everything buffered so far.
func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}
