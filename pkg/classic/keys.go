package classic

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Key is a 6-byte MIFARE Classic sector key.
type Key [6]byte

func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// DefaultKeys returns the curated candidate list in trial order. The
// order is a likelihood ranking built up from fielded laundry, vending,
// and catering systems; the trial engine walks it front to back and
// must not reorder it.
func DefaultKeys() []Key {
	return []Key{
		// Factory and standards keys
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, // Factory default
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, // Blank
		{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}, // MAD key A
		{0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5}, // MAD key B
		{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}, // NDEF common

		// CSC ServiceWorks
		{0xEE, 0xB7, 0x06, 0xFC, 0x71, 0x4F}, // CSC key A (read)
		{0xF4, 0xF7, 0xD6, 0x87, 0xDB, 0x0B}, // CSC key B (write)

		// Laundry operators
		{0x07, 0x34, 0xBF, 0xB9, 0x3D, 0xAB},
		{0x85, 0xA4, 0x38, 0xF7, 0x2A, 0x8A},
		{0x21, 0x22, 0x23, 0x24, 0x25, 0x55},
		{0x71, 0x72, 0x73, 0x74, 0x75, 0x55},
		{0x29, 0x1A, 0x65, 0xCB, 0xEA, 0x7B},
		{0x34, 0x4A, 0x35, 0x9B, 0xBA, 0xD9},
		{0x47, 0x65, 0x72, 0x72, 0x61, 0x72},
		{0x4D, 0x69, 0x63, 0x68, 0x65, 0x6C},
		{0x4F, 0x37, 0x48, 0xE6, 0xC8, 0x26},
		{0x69, 0xD4, 0x0A, 0xF8, 0xB3, 0x53},
		{0x72, 0xDE, 0xA1, 0x0F, 0x21, 0xDF},
		{0x74, 0x84, 0x5A, 0xA8, 0xE3, 0xF1},
		{0x8C, 0x3C, 0x43, 0xED, 0xCC, 0x55},
		{0xAC, 0xD3, 0x0D, 0xFF, 0xB4, 0x34},
		{0xD1, 0xA2, 0x7C, 0x8E, 0xC5, 0xDF},
		{0xF1, 0x4D, 0x32, 0x9C, 0xBD, 0xBE},

		// Catering and wellness systems
		{0x6A, 0x0D, 0x53, 0x1D, 0xA1, 0xA7},
		{0x4B, 0xB2, 0x94, 0x63, 0xDC, 0x29},
		{0x86, 0x27, 0xC1, 0x0A, 0x70, 0x14},
		{0x45, 0x38, 0x57, 0x39, 0x56, 0x35},

		// Clone-chip backdoor keys
		{0xA3, 0x96, 0xEF, 0xA4, 0xE2, 0x4F}, // Fudan static encrypted
		{0xA3, 0x16, 0x67, 0xA8, 0xCE, 0xC1}, // Fudan/Infineon/NXP
		{0x51, 0x8B, 0x33, 0x54, 0xE7, 0x60}, // Fudan

		// Vending
		{0xAA, 0xFB, 0x06, 0x04, 0x58, 0x77},
		{0xE0, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0xE7, 0xD6, 0x06, 0x4C, 0x58, 0x60},
		{0xB2, 0x7C, 0xCA, 0xB3, 0x0D, 0xBD},
	}
}

// BackdoorKeys returns the short list tried for direct trailer reads on
// clone chips, most likely first.
func BackdoorKeys() []Key {
	return []Key{
		{0xA3, 0x96, 0xEF, 0xA4, 0xE2, 0x4F},
		{0xA3, 0x16, 0x67, 0xA8, 0xCE, 0xC1},
		{0x51, 0x8B, 0x33, 0x54, 0xE7, 0x60},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0xEE, 0xB7, 0x06, 0xFC, 0x71, 0x4F},
	}
}

// ParseKey parses a 12-hex-character key, ignoring spaces and colons.
func ParseKey(s string) (Key, error) {
	var k Key
	clean := strings.Map(func(r rune) rune {
		if r == ' ' || r == ':' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if len(clean) != 12 {
		return k, fmt.Errorf("key must be 12 hex chars, got %d", len(clean))
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return k, fmt.Errorf("invalid hex key %q: %v", s, err)
	}
	copy(k[:], b)
	return k, nil
}

// LoadKeyFile loads keys from a dictionary file, one key per line.
// Blank lines and '#' comments are skipped. File keys extend the
// curated list; they never replace it.
func LoadKeyFile(path string) ([]Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []Key
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, err := ParseKey(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %v", path, line, err)
		}
		keys = append(keys, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// DedupeKeys returns the list with later duplicates removed, keeping
// first-occurrence order.
func DedupeKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
