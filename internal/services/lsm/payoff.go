package lsm

import (
	"math"

	"SabrLSM/internal/domain/models"
)

// Payoff is the immediate exercise value at a given forward.
type Payoff interface {
	Value(spot float64) float64
}

// Call pays max(S-K, 0).
type Call struct{ Strike float64 }

func (c Call) Value(spot float64) float64 { return math.Max(spot-c.Strike, 0) }

// Put pays max(K-S, 0).
type Put struct{ Strike float64 }

func (p Put) Value(spot float64) float64 { return math.Max(p.Strike-spot, 0) }

// PayoffFor selects the payoff for an option type.
func PayoffFor(t models.OptionType, strike float64) (Payoff, error) {
	switch t {
	case models.Call:
		return Call{Strike: strike}, nil
	case models.Put:
		return Put{Strike: strike}, nil
	}
	return nil, ErrUnknownOptionType
}
