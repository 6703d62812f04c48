package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile enforces single-instance operation. It fails when the named
// file points at a live process, and otherwise claims it. The returned
// cleanup removes the file on shutdown.
func WritePIDFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
			if proc, err := os.FindProcess(pid); err == nil {
				if proc.Signal(syscall.Signal(0)) == nil {
					return nil, fmt.Errorf("another instance is running (pid %d)", pid)
				}
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return nil, fmt.Errorf("failed to write pid file %s: %v", path, err)
	}
	return func() { os.Remove(path) }, nil
}
