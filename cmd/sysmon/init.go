package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/system-monitor/internal/defaults"
)

// runInit writes a starter .env into dir. An existing .env is never
// overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, ".env")
	written, err := writeIfMissing(path, defaults.EnvFile, 0o600)
	if err != nil {
		return err
	}
	if !written {
		fmt.Fprintf(w, "  - %s exists, skipping\n", path)
		return nil
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set CLIENT_ID, MQTT_USERNAME and MQTT_PASSWORD, then run: sysmon serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist. It reports whether the file was written.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", path, err)
	}
	return true, nil
}
