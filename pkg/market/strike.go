// Package market models Kalshi temperature contracts: bracket and
// threshold strikes, their win conditions, and model pricing.
package market

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/brendanplayford/weathertrader/pkg/rest"
)

// StrikeType distinguishes the three contract shapes.
type StrikeType string

const (
	// StrikeBracket pays YES when floor <= temp <= cap.
	StrikeBracket StrikeType = "bracket"

	// StrikeGreater pays YES when temp > floor.
	StrikeGreater StrikeType = "greater"

	// StrikeLess pays YES when temp < cap.
	StrikeLess StrikeType = "less"
)

// Strike is the settlement condition of a single market.
type Strike struct {
	Type  StrikeType
	Floor float64 // Inclusive lower bound for brackets, exclusive for greater
	Cap   float64 // Inclusive upper bound for brackets, exclusive for less
}

// MinPrice and MaxPrice clamp modeled probabilities so an order can
// always be expressed as a 1..99 cent contract price.
const (
	MinProbability = 0.01
	MaxProbability = 0.99
)

// FromMarket derives the strike from API strike fields, falling back to
// ticker parsing when the API omits them.
func FromMarket(m rest.Market) (Strike, error) {
	switch m.StrikeType {
	case "greater", "greater_or_equal":
		return Strike{Type: StrikeGreater, Floor: m.FloorStrike}, nil
	case "less", "less_or_equal":
		return Strike{Type: StrikeLess, Cap: m.CapStrike}, nil
	case "between":
		return Strike{Type: StrikeBracket, Floor: m.FloorStrike, Cap: m.CapStrike}, nil
	}

	if m.CapStrike != 0 || m.FloorStrike != 0 {
		if m.CapStrike != 0 && m.FloorStrike != 0 {
			return Strike{Type: StrikeBracket, Floor: m.FloorStrike, Cap: m.CapStrike}, nil
		}
		if m.FloorStrike != 0 {
			return Strike{Type: StrikeGreater, Floor: m.FloorStrike}, nil
		}
		return Strike{Type: StrikeLess, Cap: m.CapStrike}, nil
	}

	return ParseTicker(m.Ticker)
}

// ParseTicker recovers the strike from the trailing ticker segment.
//
//	KXHIGHNY-26FEB15-B36.5  bracket 36..37
//	KXHIGHNY-26FEB15-T29    threshold at 29, direction unknown: treated
//	                        as the 4-degree band the series uses
//	KXHIGHNY-26FEB15-40     plain value: 4-degree band starting at 40
func ParseTicker(ticker string) (Strike, error) {
	parts := strings.Split(ticker, "-")
	if len(parts) < 3 {
		return Strike{}, fmt.Errorf("parse ticker %q: too few segments", ticker)
	}
	spec := parts[len(parts)-1]

	switch {
	case strings.HasPrefix(spec, "B"):
		mid, err := strconv.ParseFloat(spec[1:], 64)
		if err != nil {
			return Strike{}, fmt.Errorf("parse bracket %q: %w", spec, err)
		}
		return Strike{Type: StrikeBracket, Floor: mid - 0.5, Cap: mid + 0.5}, nil

	case strings.HasPrefix(spec, "T"):
		v, err := strconv.ParseFloat(spec[1:], 64)
		if err != nil {
			return Strike{}, fmt.Errorf("parse threshold %q: %w", spec, err)
		}
		return Strike{Type: StrikeBracket, Floor: v, Cap: v + 4}, nil

	default:
		v, err := strconv.ParseFloat(spec, 64)
		if err != nil {
			return Strike{}, fmt.Errorf("parse strike %q: %w", spec, err)
		}
		return Strike{Type: StrikeBracket, Floor: v, Cap: v + 4}, nil
	}
}

// Probability returns the modeled YES probability under a Gaussian
// temperature estimate, clamped to [MinProbability, MaxProbability].
// Brackets cover whole degrees, so the upper edge integrates to cap+1.
func (s Strike) Probability(mu, sigma float64) float64 {
	dist := distuv.Normal{Mu: mu, Sigma: sigma}

	var p float64
	switch s.Type {
	case StrikeGreater:
		p = 1 - dist.CDF(s.Floor)
	case StrikeLess:
		p = dist.CDF(s.Cap)
	default:
		p = dist.CDF(s.Cap+1) - dist.CDF(s.Floor)
	}

	if p < MinProbability {
		return MinProbability
	}
	if p > MaxProbability {
		return MaxProbability
	}
	return p
}

// WouldWin reports whether a settled temperature pays YES.
func (s Strike) WouldWin(temp float64) bool {
	switch s.Type {
	case StrikeGreater:
		return temp > s.Floor
	case StrikeLess:
		return temp < s.Cap
	default:
		return temp >= s.Floor && temp <= s.Cap
	}
}

// NearestEdge returns the distance from an estimate to the closest
// settlement boundary. NO entries require this margin to be wide.
func (s Strike) NearestEdge(estimate float64) float64 {
	switch s.Type {
	case StrikeGreater:
		return abs(estimate - s.Floor)
	case StrikeLess:
		return abs(estimate - s.Cap)
	default:
		lo := abs(estimate - s.Floor)
		hi := abs(estimate - s.Cap)
		if lo < hi {
			return lo
		}
		return hi
	}
}

// Description renders the strike for logs.
func (s Strike) Description() string {
	switch s.Type {
	case StrikeGreater:
		return fmt.Sprintf(">%.0f°F", s.Floor)
	case StrikeLess:
		return fmt.Sprintf("<%.0f°F", s.Cap)
	default:
		return fmt.Sprintf("%.0f-%.0f°F", s.Floor, s.Cap)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
