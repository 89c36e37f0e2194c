// Package anomaly decides whether the most recent day of a daily cost series
// is abnormally high compared to its baseline window.
//
// The evaluator is a pure leaf: it consumes an ordered series of per-day
// amounts (most recent first, as produced by the cost source) and applies an
// absolute-plus-relative threshold policy. The absolute floor keeps
// noise-level movement on cheap categories from triggering; the relative
// floor keeps naturally volatile categories quiet.
package anomaly

import (
	"math/rand/v2"
	"time"
)

// DefaultRelativeChange is the relative threshold applied when the configured
// value is missing or non-positive (a 20% increase over the baseline average).
const DefaultRelativeChange = 0.2

// Point is one day of cost data. Ephemeral: produced by the cost source and
// consumed within a single evaluation.
type Point struct {
	Date   time.Time
	Amount float64
}

// Thresholds holds the trigger policy knobs.
type Thresholds struct {
	// MinIncrease is the minimum absolute increase (in currency units)
	// required to trigger. Negative values are clamped to 0.
	MinIncrease float64

	// RelativeChange is the minimum increase relative to the baseline
	// average required to trigger. Non-positive values are clamped to
	// DefaultRelativeChange.
	RelativeChange float64
}

// Result is the outcome of evaluating one series.
type Result struct {
	// Total is the sum of the baseline window (excludes the previous day).
	Total float64

	// Average is Total divided by the baseline point count. Zero when fewer
	// than two points were retained.
	Average float64

	// PreviousDay is the amount of the day under evaluation.
	PreviousDay float64

	// Increase is PreviousDay - Average when positive, otherwise 0.
	Increase float64

	// Triggered reports whether the increase met the anomaly policy.
	Triggered bool

	// PreviousDayDate is the date of the day under evaluation.
	PreviousDayDate time.Time
}

// Evaluator applies the trigger policy to daily cost series.
//
// Safe for concurrent use. Create one per processor with the settings in
// effect for the current item.
type Evaluator struct {
	weekdays   Weekdays
	thresholds Thresholds
	testMode   bool
	coin       func() float64
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithTestMode replaces the threshold comparison with a 50/50 coin flip per
// evaluation. Used only for notification-pipeline smoke testing; must never
// be enabled by default.
func WithTestMode() Option {
	return func(e *Evaluator) { e.testMode = true }
}

// WithCoin overrides the randomness source used in test mode.
func WithCoin(coin func() float64) Option {
	return func(e *Evaluator) { e.coin = coin }
}

// New creates an Evaluator restricted to the given weekdays, with clamped
// thresholds.
func New(weekdays Weekdays, t Thresholds, opts ...Option) *Evaluator {
	if t.MinIncrease < 0 {
		t.MinIncrease = 0
	}
	if t.RelativeChange <= 0 {
		t.RelativeChange = DefaultRelativeChange
	}
	e := &Evaluator{
		weekdays:   weekdays,
		thresholds: t,
		coin:       rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether the most recent retained day is anomalous.
//
// The series must be ordered most-recent-first. Points on inactive weekdays
// are skipped. The first retained point is the day under evaluation; all
// later retained points form the baseline window. With fewer than two
// retained points no baseline exists and the result is untriggered with a
// zero average.
func (e *Evaluator) Evaluate(series []Point) Result {
	var res Result
	retained := 0

	for _, p := range series {
		if !e.weekdays.Contains(p.Date) {
			continue
		}
		if retained == 0 {
			res.PreviousDay = p.Amount
			res.PreviousDayDate = p.Date
		} else {
			res.Total += p.Amount
		}
		retained++
	}

	if retained < 2 {
		return res
	}

	res.Average = res.Total / float64(retained-1)

	if res.PreviousDay <= res.Average {
		return res
	}

	res.Increase = res.PreviousDay - res.Average

	if e.testMode {
		res.Triggered = e.coin() > 0.5
		return res
	}

	res.Triggered = res.Increase > e.thresholds.MinIncrease &&
		res.Increase > e.thresholds.RelativeChange*res.Average
	return res
}
