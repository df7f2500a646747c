package inventory

import (
	"context"
	"fmt"
	"strings"
)

// =============================================================================
// COSTING POLICY
// =============================================================================

// CostingPolicy selects how consumed stock is priced. It applies to the
// whole workshop, not per item, and is always passed in explicitly.
type CostingPolicy string

const (
	PolicyFIFO            CostingPolicy = "FIFO"
	PolicyWeightedAverage CostingPolicy = "WEIGHTED_AVERAGE"
)

func (p CostingPolicy) String() string { return string(p) }

func (p CostingPolicy) Valid() bool {
	return p == PolicyFIFO || p == PolicyWeightedAverage
}

// Label is the short human-readable name shown next to job cards.
func (p CostingPolicy) Label() string {
	switch p {
	case PolicyFIFO:
		return "FIFO"
	case PolicyWeightedAverage:
		return "Weighted Avg"
	default:
		return string(p)
	}
}

// ParseCostingPolicy accepts the canonical names plus the lowercase and
// hyphenated spellings found in older settings records.
func ParseCostingPolicy(s string) (CostingPolicy, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "FIFO":
		return PolicyFIFO, nil
	case "WEIGHTED_AVERAGE", "WEIGHTED", "AVERAGE", "AVG":
		return PolicyWeightedAverage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// =============================================================================
// POLICY SOURCE
// =============================================================================

// PolicySource exposes the currently configured costing policy. A change
// only affects operations started after it; settled job cards keep the
// policy they were settled with.
type PolicySource interface {
	CostingPolicy(ctx context.Context) (CostingPolicy, error)
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy CostingPolicy

func (p StaticPolicy) CostingPolicy(context.Context) (CostingPolicy, error) {
	policy := CostingPolicy(p)
	if !policy.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, string(p))
	}
	return policy, nil
}
