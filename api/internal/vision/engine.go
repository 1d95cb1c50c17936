package vision

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Engine sends one image to one provider and returns its text answer.
type Engine interface {
	Name() string
	GetModel() string
	Classify(ctx context.Context, img UploadedImage) (string, error)
}

type Engines struct {
	Azure  Engine
	Gemini Engine
}

func (e *Engines) GetEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "azure", "openai", "gpt":
		if e.Azure == nil {
			return nil, fmt.Errorf("engine azure is not configured")
		}
		return e.Azure, nil
	case "gemini":
		if e.Gemini == nil {
			return nil, fmt.Errorf("engine gemini is not configured")
		}
		return e.Gemini, nil
	default:
		return nil, fmt.Errorf("unknown engine %q; use 'azure' or 'gemini'", name)
	}
}

// Available lists the configured engine names.
func (e *Engines) Available() []string {
	var out []string
	if e.Azure != nil {
		out = append(out, "azure")
	}
	if e.Gemini != nil {
		out = append(out, "gemini")
	}
	return out
}

// Manager keeps a per-chat engine choice on top of a default.
type Manager struct {
	def Engine
	m   sync.Map // chatID -> Engine
}

func NewManager(defaultEngine Engine) *Manager {
	return &Manager{def: defaultEngine}
}

func (m *Manager) Get(chatID int64) Engine {
	if v, ok := m.m.Load(chatID); ok {
		return v.(Engine)
	}
	return m.def
}

func (m *Manager) Set(chatID int64, e Engine) {
	m.m.Store(chatID, e)
}

func (m *Manager) Reset(chatID int64) {
	m.m.Delete(chatID)
}
