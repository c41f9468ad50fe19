// Package transcriptlog keeps an append-only, human-readable log of every
// accepted transcription. One line per result:
//
//	[2026-03-02T09:15:04Z] 123456789: login feature เสร็จแล้ว (accuracy: 95.0%)
package transcriptlog

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Line is one transcript log entry.
type Line struct {
	Timestamp  time.Time
	Speaker    string
	Text       string
	Confidence float64
}

// String renders l in the log file format.
func (l Line) String() string {
	text := strings.ReplaceAll(l.Text, "\n", " ")
	return fmt.Sprintf("[%s] %s: %s (accuracy: %.1f%%)",
		l.Timestamp.UTC().Format(time.RFC3339), l.Speaker, text, l.Confidence*100)
}

var linePattern = regexp.MustCompile(`^\[([^\]]+)\] (.+?): (.*) \(accuracy: ([0-9.]+)%\)$`)

// ParseLine parses one line produced by [Line.String].
func ParseLine(s string) (Line, error) {
	m := linePattern.FindStringSubmatch(s)
	if m == nil {
		return Line{}, fmt.Errorf("transcriptlog: malformed line %q", s)
	}
	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return Line{}, fmt.Errorf("transcriptlog: timestamp: %w", err)
	}
	pct, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Line{}, fmt.Errorf("transcriptlog: accuracy: %w", err)
	}
	return Line{Timestamp: ts, Speaker: m[2], Text: m[3], Confidence: pct / 100}, nil
}

// Log is a transcript file. It is safe for concurrent use within one process.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log writing to path, creating parent directories.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, errors.New("transcriptlog: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("transcriptlog: create directory: %w", err)
	}
	return &Log{path: path}, nil
}

// Path returns the file path.
func (l *Log) Path() string { return l.path }

// Append writes one line.
func (l *Log) Append(line Line) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcriptlog: open: %w", err)
	}
	if _, err := f.WriteString(line.String() + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("transcriptlog: write: %w", err)
	}
	return f.Close()
}

// Read returns every parsable line in file order. Malformed lines are
// skipped. A missing file reads as empty.
func (l *Log) Read() ([]Line, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcriptlog: open: %w", err)
	}
	defer f.Close()

	var lines []Line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ln, err := ParseLine(sc.Text()); err == nil {
			lines = append(lines, ln)
		}
	}
	if err := sc.Err(); err != nil {
		return lines, fmt.Errorf("transcriptlog: read: %w", err)
	}
	return lines, nil
}

// Latest returns the most recent line per speaker, ordered newest first.
func (l *Log) Latest() ([]Line, error) {
	lines, err := l.Read()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []Line
	for i := len(lines) - 1; i >= 0; i-- {
		if seen[lines[i].Speaker] {
			continue
		}
		seen[lines[i].Speaker] = true
		out = append(out, lines[i])
	}
	return out, nil
}

// Clear truncates the file.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(l.path, nil, 0o644); err != nil {
		return fmt.Errorf("transcriptlog: clear: %w", err)
	}
	return nil
}
