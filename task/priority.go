package task

import (
	"fmt"
	"strings"
)

// Priority is the business priority of a task. Lower values are served first.
type Priority int

const (
	// PriorityCritical is reserved for order placement and cancellation.
	PriorityCritical Priority = iota
	// PriorityHigh is for account and position reads that gate trading decisions.
	PriorityHigh
	// PriorityMedium is the default for market data.
	PriorityMedium
	// PriorityLow is for background polling.
	PriorityLow
)

// NumLevels is the number of priority levels.
const NumLevels = 4

// Levels lists all priorities in dequeue order.
var Levels = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// Higher reports whether p is served before other.
func (p Priority) Higher(other Priority) bool {
	return p < other
}

// Promote returns the next higher level, or p itself when already CRITICAL.
func (p Priority) Promote() Priority {
	if p <= PriorityCritical {
		return PriorityCritical
	}
	return p - 1
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses a priority name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return PriorityCritical, nil
	case "HIGH":
		return PriorityHigh, nil
	case "MEDIUM", "":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}
