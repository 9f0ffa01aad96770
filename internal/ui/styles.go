// Package ui renders routing decisions for terminals.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// ANSI256 color codes.
const (
	colorAdmit    = 71  // green
	colorReject   = 167 // red
	colorOverride = 179 // amber
	colorMuted    = 245 // medium gray
)

// Styler colors text when enabled. The zero value renders plain text.
type Styler struct {
	Color bool
}

func (s Styler) paint(code int, text string) string {
	if !s.Color {
		return text
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, text)
}

// Muted returns text in the muted (gray) color.
func (s Styler) Muted(text string) string {
	return s.paint(colorMuted, text)
}

// Decision returns text colored by the decision kind: admits green,
// overrides amber, rejects and scraps red.
func (s Styler) Decision(kind model.DecisionKind, text string) string {
	switch kind {
	case model.DecisionAdmit:
		return s.paint(colorAdmit, text)
	case model.DecisionOverrideAdmit:
		return s.paint(colorOverride, text)
	default:
		return s.paint(colorReject, text)
	}
}

// State returns text colored by the unit state.
func (s Styler) State(state model.UnitState) string {
	switch state {
	case model.StatePassed:
		return s.paint(colorAdmit, string(state))
	case model.StateFailed, model.StateScrapped:
		return s.paint(colorReject, string(state))
	default:
		return string(state)
	}
}
