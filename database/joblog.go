package database

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogStore keeps one append-only text log per job under a directory
type LogStore struct {
	dir string
	mu  sync.Mutex
}

// NewLogStore creates the log directory if needed
func NewLogStore(dir string) (*LogStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job log directory: %v", err)
	}
	return &LogStore{dir: dir}, nil
}

// Path returns the log file location for a job
func (l *LogStore) Path(jobID string) string {
	return filepath.Join(l.dir, jobID+".log")
}

// Append writes one line to the job's log
func (l *LogStore) Append(jobID, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.Path(jobID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open job log: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write job log: %v", err)
	}
	return nil
}

// Appendf writes a timestamped line
func (l *LogStore) Appendf(jobID, format string, args ...interface{}) error {
	stamp := time.Now().Format("2006-01-02 15:04:05")
	return l.Append(jobID, fmt.Sprintf("[%s] %s", stamp, fmt.Sprintf(format, args...)))
}

// Tail returns the last n lines of a job's log, 200 when n is not positive.
// A missing log yields an empty result.
func (l *LogStore) Tail(jobID string, n int) ([]string, error) {
	f, err := os.Open(l.Path(jobID))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open job log: %v", err)
	}
	defer f.Close()

	if n <= 0 {
		n = 200
	}
	// ring holds the newest count lines, the oldest at head once full
	ring := make([]string, n)
	head, count := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if count < n {
			ring[count] = scanner.Text()
			count++
			continue
		}
		ring[head] = scanner.Text()
		head = (head + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job log: %v", err)
	}

	lines := make([]string, count)
	for i := range lines {
		lines[i] = ring[(head+i)%n]
	}
	return lines, nil
}

// Remove deletes a job's log
func (l *LogStore) Remove(jobID string) error {
	err := os.Remove(l.Path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove job log: %v", err)
	}
	return nil
}
