// Package envfile edits the stack's .env file in place. Comments, blank
// lines and declaration order survive every write.
package envfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Editor serializes writes to one .env file.
type Editor struct {
	path string
	mu   sync.Mutex
}

// NewEditor targets path; the file is created on first write if missing.
func NewEditor(path string) *Editor {
	return &Editor{path: path}
}

// Path returns the file being edited.
func (e *Editor) Path() string {
	return e.path
}

// Set writes one KEY=value pair.
func (e *Editor) Set(key, value string) error {
	return e.SetAll(map[string]string{key: value})
}

// SetAll updates existing keys in place and appends new ones at the end,
// then writes the file atomically.
func (e *Editor) SetAll(values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lines, err := e.readLines()
	if err != nil {
		return err
	}

	pending := make(map[string]string, len(values))
	for k, v := range values {
		pending[k] = v
	}

	for i, line := range lines {
		key := declaredKey(line)
		if key == "" {
			continue
		}
		if v, ok := pending[key]; ok {
			lines[i] = key + "=" + quoteIfNeeded(v)
			delete(pending, key)
		}
	}

	// Append new keys in stable order.
	newKeys := make([]string, 0, len(pending))
	for k := range pending {
		newKeys = append(newKeys, k)
	}
	sort.Strings(newKeys)
	for _, k := range newKeys {
		lines = append(lines, k+"="+quoteIfNeeded(pending[k]))
	}

	return e.writeLines(lines)
}

// Values returns the current declarations.
func (e *Editor) Values() (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines, err := e.readLines()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for _, line := range lines {
		key := declaredKey(line)
		if key == "" {
			continue
		}
		_, raw, _ := strings.Cut(line, "=")
		values[key] = unquote(strings.TrimSpace(raw))
	}
	return values, nil
}

func (e *Editor) readLines() ([]string, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", e.path, err)
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil, nil
	}
	return strings.Split(content, "\n"), nil
}

// writeLines replaces the file via a rename so a crash never leaves a
// half-written .env behind.
func (e *Editor) writeLines(lines []string) error {
	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, ".env-*")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	tmpName := tmp.Name()

	content := strings.Join(lines, "\n") + "\n"
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp env file: %w", err)
	}
	if err := os.Rename(tmpName, e.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", e.path, err)
	}
	return nil
}

// declaredKey extracts the variable name from a KEY=value line, or "" for
// comments and blanks.
func declaredKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	key, _, found := strings.Cut(trimmed, "=")
	if !found {
		return ""
	}
	key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
	if key == "" || strings.ContainsAny(key, " \t") {
		return ""
	}
	return key
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " #\"'\n") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return strings.ReplaceAll(v[1:len(v)-1], `\"`, `"`)
	}
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	return v
}
