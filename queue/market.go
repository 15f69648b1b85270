package queue

import (
	"fmt"
	"strings"

	"github.com/kbukum/tradeguard/task"
)

// MarketCondition is an external signal that temporarily raises the
// priority of selected task types.
type MarketCondition int

const (
	// MarketNormal applies no boosts.
	MarketNormal MarketCondition = iota
	// MarketVolatile is signalled by latency spikes.
	MarketVolatile
	// MarketCritical is signalled by upstream throttling.
	MarketCritical
)

// String returns the condition name.
func (c MarketCondition) String() string {
	switch c {
	case MarketNormal:
		return "NORMAL"
	case MarketVolatile:
		return "VOLATILE"
	case MarketCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c MarketCondition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *MarketCondition) UnmarshalText(text []byte) error {
	parsed, err := ParseMarketCondition(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseMarketCondition parses a condition name, case-insensitively.
func ParseMarketCondition(s string) (MarketCondition, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NORMAL", "":
		return MarketNormal, nil
	case "VOLATILE":
		return MarketVolatile, nil
	case "CRITICAL":
		return MarketCritical, nil
	default:
		return MarketNormal, fmt.Errorf("unknown market condition %q", s)
	}
}

// MarketPolicy returns the priority a task should be boosted to under a
// market condition. The queue uses the higher of the task's base priority
// and the returned value, so a policy can only raise priorities.
type MarketPolicy func(cond MarketCondition, t *task.Task) task.Priority

// BoostTable maps condition → task type → boosted priority.
type BoostTable map[MarketCondition]map[string]task.Priority

// Policy returns a MarketPolicy backed by the table. Tasks whose type is
// not listed for the current condition are not boosted.
func (b BoostTable) Policy() MarketPolicy {
	return func(cond MarketCondition, t *task.Task) task.Priority {
		if boosts, ok := b[cond]; ok {
			if p, ok := boosts[strings.ToLower(t.Type)]; ok {
				return p
			}
		}
		return task.PriorityLow
	}
}

// DefaultMarketBoosts is the boost table used when none is configured.
// Order flow gets ahead during volatility; during throttling it takes
// CRITICAL and account/position reads follow at HIGH.
func DefaultMarketBoosts() map[string]map[string]string {
	return map[string]map[string]string{
		"VOLATILE": {
			"order":  "HIGH",
			"cancel": "HIGH",
		},
		"CRITICAL": {
			"order":    "CRITICAL",
			"cancel":   "CRITICAL",
			"account":  "HIGH",
			"position": "HIGH",
		},
	}
}

// ParseBoostTable converts the configuration form (names as strings) into
// a BoostTable.
func ParseBoostTable(raw map[string]map[string]string) (BoostTable, error) {
	table := make(BoostTable, len(raw))
	for condName, boosts := range raw {
		cond, err := ParseMarketCondition(condName)
		if err != nil {
			return nil, err
		}
		if cond == MarketNormal && len(boosts) > 0 {
			return nil, fmt.Errorf("market condition NORMAL cannot carry boosts")
		}
		row := make(map[string]task.Priority, len(boosts))
		for taskType, prioName := range boosts {
			p, err := task.ParsePriority(prioName)
			if err != nil {
				return nil, fmt.Errorf("boost %s/%s: %w", condName, taskType, err)
			}
			row[strings.ToLower(taskType)] = p
		}
		table[cond] = row
	}
	return table, nil
}

// effectivePriority is the higher of the base priority and the policy boost.
func effectivePriority(policy MarketPolicy, cond MarketCondition, t *task.Task) task.Priority {
	base := t.BasePriority()
	if policy == nil || cond == MarketNormal {
		return base
	}
	boost := policy(cond, t)
	if boost.Valid() && boost.Higher(base) {
		return boost
	}
	return base
}
