//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
)

var (
	ErrScriptNotFound  = errors.New("automation: script not found")
	ErrInvalidScriptID = errors.New("automation: invalid script id")
)

// Host is unused when automation is compiled out.
type Host any

// ScriptMeta is the metadata stored on a script's first line.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation stored as <id>.lua.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager is a no-op when automation is disabled.
type Manager struct{}

func NewManager(_ string) (*Manager, error)        { return nil, nil }
func (m *Manager) Dir() string                     { return "" }
func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error)   { return nil, ErrScriptNotFound }
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }
func (m *Manager) Delete(_ string) error           { return nil }

// Engine is a no-op when automation is disabled.
type Engine struct{}

func NewEngine(_ Host, _ *Manager, _ *slog.Logger) *Engine { return &Engine{} }
func (e *Engine) Start()                                   {}
func (e *Engine) Stop()                                    {}
func (e *Engine) Running(_ string) bool                    { return false }
func (e *Engine) ReloadScript(_ string) error              { return nil }
func (e *Engine) StopScript(_ string)                      {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{Error: "automation disabled"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{Error: "automation disabled"}
}
