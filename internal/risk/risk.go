// Package risk implements deterministic transaction risk scoring.
//
// A transaction is evaluated by a set of independent, pure scorers whose
// contributions are summed and clamped to [0, 100]. The score decides
// nothing by itself; the transaction service uses it for routing and it is
// recorded on the transaction for later review.
package risk

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// Amount band contributions. Bands are exclusive; the highest matching
// band wins, they do not accumulate.
const (
	bandHigh   = 40 // amount > 10000
	bandMedium = 20 // amount > 5000
	bandLow    = 10 // amount > 1000
)

// Off-hours contribution for transactions before 06:00 or after 22:00.
const offHoursWeight = 15

// Scorer contributes a bounded, side-effect-free portion of the risk score.
type Scorer interface {
	Score(amount float64, hour int) int
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(amount float64, hour int) int

// Score implements Scorer.
func (f ScorerFunc) Score(amount float64, hour int) int { return f(amount, hour) }

// AmountScorer scores by amount band.
func AmountScorer() Scorer {
	return ScorerFunc(func(amount float64, _ int) int {
		switch {
		case amount > 10000:
			return bandHigh
		case amount > 5000:
			return bandMedium
		case amount > 1000:
			return bandLow
		default:
			return 0
		}
	})
}

// HourScorer scores transactions at unusual hours.
func HourScorer() Scorer {
	return ScorerFunc(func(_ float64, hour int) int {
		if hour < 6 || hour > 22 {
			return offHoursWeight
		}
		return 0
	})
}

// Engine combines scorers into a single clamped score.
type Engine struct {
	scorers []Scorer
}

// NewEngine creates the default engine (amount bands + off-hours).
func NewEngine() *Engine {
	return &Engine{scorers: []Scorer{AmountScorer(), HourScorer()}}
}

// WithScorer appends an additional scorer (e.g. velocity, geolocation).
func (e *Engine) WithScorer(s Scorer) *Engine {
	e.scorers = append(e.scorers, s)
	return e
}

// Score sums all scorer contributions for the amount and hour-of-day,
// clamped to [MinScore, MaxScore]. Pure and deterministic.
func (e *Engine) Score(amount float64, hour int) int {
	total := 0
	for _, s := range e.scorers {
		total += s.Score(amount, hour)
	}
	if total > MaxScore {
		return MaxScore
	}
	if total < MinScore {
		return MinScore
	}
	return total
}
