package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const stampLayout = "20060102_150405"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ReportName is persona_<username>_<YYYYmmdd_HHMMSS>.<ext>.
func ReportName(username string, at time.Time, ext string) string {
	return fmt.Sprintf("persona_%s_%s.%s", unsafeName.ReplaceAllString(username, "_"), at.UTC().Format(stampLayout), ext)
}

// WriteFile writes data to dir/name through a temp file and rename, so
// readers never see a partial file.
func WriteFile(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".persona-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}

// Exchange is one prompt and response pair kept for debugging.
type Exchange struct {
	RunID    string    `json:"run_id"`
	Attempt  int       `json:"attempt"`
	Username string    `json:"username"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	At       time.Time `json:"at"`
	System   string    `json:"system"`
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	Error    string    `json:"error,omitempty"`
}

// SaveExchange writes ex under dir/exchanges as
// exchange_<username>_<YYYYmmdd_HHMMSS>_<run>_<attempt>.json, where run is
// the first block of the run id.
func SaveExchange(dir string, ex Exchange) (string, error) {
	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal exchange: %w", err)
	}
	run, _, _ := strings.Cut(ex.RunID, "-")
	if run == "" {
		run = "norun"
	}
	name := fmt.Sprintf("exchange_%s_%s_%s_%d.json",
		unsafeName.ReplaceAllString(ex.Username, "_"),
		ex.At.UTC().Format(stampLayout),
		unsafeName.ReplaceAllString(run, "_"),
		ex.Attempt,
	)
	return WriteFile(filepath.Join(dir, "exchanges"), name, data)
}
