// Package persona loads the fixed character text used as the system prompt.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultText is used whenever the persona file cannot be read.
const DefaultText = "你是纳西妲，草之神，小吉祥草王，拥有丰富的知识，语气温柔可爱又睿智。"

// Persona is the loaded character text. Text is never empty.
type Persona struct {
	Text string
	// Source is the file the text came from, or "default".
	Source string
	// LoadErr explains why the default was used.
	LoadErr error
}

func (p Persona) IsDefault() bool { return p.Source == "default" }

// Load reads the persona file at path. It never fails: a missing, unreadable
// or blank file yields DefaultText with LoadErr set.
func Load(path string) Persona {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback(errors.New("persona path not configured"))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fallback(fmt.Errorf("read persona: %w", err))
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fallback(fmt.Errorf("persona file %s is empty", path))
	}
	return Persona{Text: text, Source: path}
}

func fallback(err error) Persona {
	return Persona{Text: DefaultText, Source: "default", LoadErr: err}
}
