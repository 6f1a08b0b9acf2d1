//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	ErrScriptNotFound  = errors.New("automation: script not found")
	ErrInvalidScriptID = errors.New("automation: invalid script id")
)

const (
	scriptExt  = ".lua"
	metaPrefix = "-- {"
)

// Manager loads and saves scripts in a directory.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the scripts directory.
func (m *Manager) Dir() string { return m.dir }

// List returns every parseable script, sorted by id.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	var scripts []*Script
	for _, e := range entries {
		id, ok := scriptIDFromFile(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		s, err := m.read(id)
		if err != nil {
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

// Get returns a script by id.
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScriptID, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read(id)
}

// Save writes a script. A script without an id gets a unique one derived
// from its name.
func (m *Manager) Save(s *Script) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.uniqueID(slugify(s.Meta.Name))
	} else if !validScriptID(s.ID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScriptID, s.ID)
	}

	s.FilePath = m.path(s.ID)
	if err := os.WriteFile(s.FilePath, []byte(serializeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// Delete removes a script.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidScriptID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrScriptNotFound
		}
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

func (m *Manager) read(id string) (*Script, error) {
	path := m.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrScriptNotFound
		}
		return nil, err
	}
	s, err := parseScript(id, string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	s.FilePath = path
	return s, nil
}

func (m *Manager) uniqueID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for i := 1; ; i++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

// parseScript splits a script file into its metadata line and Lua body. A
// file without a metadata line is a disabled script named after its id.
func parseScript(id, content string) (*Script, error) {
	s := &Script{ID: id, Meta: ScriptMeta{Name: id}}
	body := content
	if strings.HasPrefix(content, metaPrefix) {
		line, rest, _ := strings.Cut(content, "\n")
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "-- ")), &s.Meta); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		body = rest
	}
	s.LuaCode = strings.TrimLeft(body, "\r\n")
	return s, nil
}

func serializeScript(s *Script) string {
	var b strings.Builder
	meta, _ := json.Marshal(s.Meta)
	b.WriteString("-- ")
	b.Write(meta)
	b.WriteString("\n")
	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// scriptIDFromFile returns the id for a script file name.
func scriptIDFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, scriptExt) || strings.HasPrefix(name, ".") {
		return "", false
	}
	id := strings.TrimSuffix(name, scriptExt)
	return id, validScriptID(id)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
