package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FilePresenceSink writes the presence log, one record per line:
//
//	1; 03 Nov 2023 14:22:05; alice; 10.0.0.1; 8800
type FilePresenceSink struct {
	path string
	mu   sync.Mutex
}

// NewFilePresenceSink truncates the presence log (the roster is empty at
// startup) and returns a sink writing to path.
func NewFilePresenceSink(path string) (*FilePresenceSink, error) {
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, fmt.Errorf("reset presence log: %w", err)
	}
	return &FilePresenceSink{path: path}, nil
}

func formatPresence(rec PresenceRecord) string {
	return fmt.Sprintf("%d; %s; %s; %s; %s\n", rec.Seq, rec.Timestamp, rec.Username, rec.IP, rec.UDPPort)
}

// Append adds one record to the end of the log.
func (s *FilePresenceSink) Append(rec PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open presence log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatPresence(rec)); err != nil {
		return fmt.Errorf("append presence log: %w", err)
	}
	return nil
}

// Rewrite replaces the log with the given compacted roster.
func (s *FilePresenceSink) Rewrite(recs []PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, rec := range recs {
		b.WriteString(formatPresence(rec))
	}
	if err := os.WriteFile(s.path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("rewrite presence log: %w", err)
	}
	return nil
}

// FileMessageSink writes a message log, one record per line:
//
//	1; 03 Nov 2023 14:22:05; bob; hello there
type FileMessageSink struct {
	path string
	mu   sync.Mutex
}

// NewFileMessageSink truncates the message log and returns a sink writing to
// path.
func NewFileMessageSink(path string) (*FileMessageSink, error) {
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, fmt.Errorf("reset message log: %w", err)
	}
	return &FileMessageSink{path: path}, nil
}

// Append adds one record to the end of the log.
func (s *FileMessageSink) Append(rec MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%d; %s; %s; %s\n", rec.Seq, rec.Timestamp, rec.Recipient, rec.Body)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}

// FileGroupSinks creates one <name>_messagelog.txt per group under dir.
type FileGroupSinks struct {
	dir   string
	mu    sync.Mutex
	sinks map[string]*FileMessageSink
}

// NewFileGroupSinks returns a GroupSinks writing group logs under dir.
func NewFileGroupSinks(dir string) *FileGroupSinks {
	return &FileGroupSinks{dir: dir, sinks: make(map[string]*FileMessageSink)}
}

// ForGroup returns the sink for the named group, creating its log file on
// first use.
func (g *FileGroupSinks) ForGroup(name string) (MessageSink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sink, ok := g.sinks[name]; ok {
		return sink, nil
	}
	sink, err := NewFileMessageSink(filepath.Join(g.dir, name+"_messagelog.txt"))
	if err != nil {
		return nil, err
	}
	g.sinks[name] = sink
	return sink, nil
}
