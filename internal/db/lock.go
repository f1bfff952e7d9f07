package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName   = "write.lock"
	defaultTimeout = 2 * time.Second
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// writeLocker serializes writers across processes (the CLI and the monitor)
// with an OS file lock. The OS drops the lock if the holder dies.
type writeLocker struct {
	path string
	f    *os.File
}

func newWriteLocker(dir string) *writeLocker {
	return &writeLocker{path: filepath.Join(dir, lockFileName)}
}

// acquire polls for the exclusive lock until timeout.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.f = f

	deadline := time.Now().Add(timeout)
	wait := initialBackoff
	for {
		if err := l.tryLock(); err == nil {
			l.stampHolder()
			return nil
		}
		if time.Now().After(deadline) {
			holder := l.holder()
			l.f.Close()
			l.f = nil
			return fmt.Errorf("local store busy: write lock not acquired within %v (holder %s)", timeout, holder)
		}
		time.Sleep(wait)
		wait = min(wait*2, maxBackoff)
	}
}

func (l *writeLocker) release() {
	if l.f == nil {
		return
	}
	l.f.Truncate(0)
	l.unlock()
	l.f.Close()
	l.f = nil
}

func (l *writeLocker) stampHolder() {
	l.f.Truncate(0)
	l.f.Seek(0, 0)
	fmt.Fprintf(l.f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
}

// holder describes the current lock holder for error messages.
func (l *writeLocker) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return "unknown"
	}
	pid, err := strconv.Atoi(fields[0])
	if err == nil && !isProcessAlive(pid) {
		return fmt.Sprintf("pid %d since %s, process gone", pid, fields[1])
	}
	return fmt.Sprintf("pid %s since %s", fields[0], fields[1])
}
