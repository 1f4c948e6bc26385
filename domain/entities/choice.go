package entities

import (
	"fmt"
	"strings"
)

// Choice is the side of the coin a player bets on. The contract encodes it as
// a bool: heads is false, tails is true.
type Choice bool

const (
	Heads Choice = false
	Tails Choice = true
)

// String returns the display name of the face
func (c Choice) String() string {
	if c {
		return "Tails"
	}
	return "Heads"
}

// ParseChoice parses "heads"/"tails" (case-insensitive, single-letter forms allowed)
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heads", "head", "h":
		return Heads, nil
	case "tails", "tail", "t":
		return Tails, nil
	default:
		return Heads, fmt.Errorf("invalid choice %q: expected heads or tails", s)
	}
}
