package engine

import (
	"fmt"
	"strings"
)

// Mode is the transaction policy applied when the monitor detects a
// balance change on the live table.
type Mode uint8

const (
	// ModeHack blocks charges: the persisted balance is restored into
	// the live table in place and the UID is rotated so the reader
	// perceives the next tap as a different card.
	ModeHack Mode = iota
	// ModeLegit accepts all observed changes into the persisted layer.
	ModeLegit
	// ModeInterrogate changes nothing and only accumulates per-block
	// access statistics for a report.
	ModeInterrogate
)

// String returns the uppercase mode name used in the transaction
// ledger.
func (m Mode) String() string {
	switch m {
	case ModeHack:
		return "HACK"
	case ModeLegit:
		return "LEGIT"
	case ModeInterrogate:
		return "INTERROGATE"
	}
	return fmt.Sprintf("MODE(%d)", uint8(m))
}

// ParseMode maps a mode name to its Mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HACK":
		return ModeHack, nil
	case "LEGIT":
		return ModeLegit, nil
	case "INTERROGATE":
		return ModeInterrogate, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}
