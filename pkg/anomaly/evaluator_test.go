package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// day returns a date with the given weekday (Sunday=1..Saturday=7) offset
// back from a fixed Monday anchor.
func onWeekday(num int) time.Time {
	// 2024-01-07 is a Sunday (weekday number 1).
	anchor := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	return anchor.AddDate(0, 0, num-1)
}

func series(amounts ...float64) []Point {
	// Most recent first, one point per day.
	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	pts := make([]Point, 0, len(amounts))
	for i, a := range amounts {
		pts = append(pts, Point{Date: start.AddDate(0, 0, -i), Amount: a})
	}
	return pts
}

func TestEvaluateBaselineMath(t *testing.T) {
	e := New(AllWeekdays(), Thresholds{MinIncrease: 15, RelativeChange: 0.1})

	// Previous day 120, baseline 10 days averaging 100.
	res := e.Evaluate(series(120, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100))

	assert.InDelta(t, 1000, res.Total, 1e-9)
	assert.InDelta(t, 100, res.Average, 1e-9)
	assert.InDelta(t, 120, res.PreviousDay, 1e-9)
	assert.InDelta(t, 20, res.Increase, 1e-9)
	assert.True(t, res.Triggered, "20 > 15 and 20 > 0.1*100")
}

func TestEvaluateAverageExcludesPreviousDay(t *testing.T) {
	e := New(AllWeekdays(), Thresholds{})

	res := e.Evaluate(series(50, 10, 20, 30))

	assert.InDelta(t, 60, res.Total, 1e-9)
	assert.InDelta(t, 20, res.Average, 1e-9)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), res.PreviousDayDate)
}

func TestEvaluateAbsoluteFloor(t *testing.T) {
	e := New(AllWeekdays(), Thresholds{MinIncrease: 15, RelativeChange: 0.1})

	// Increase of 5 clears the relative floor (0.5) but not the absolute one.
	res := e.Evaluate(series(105, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100))

	assert.InDelta(t, 5, res.Increase, 1e-9)
	assert.False(t, res.Triggered)
}

func TestEvaluateRelativeFloor(t *testing.T) {
	e := New(AllWeekdays(), Thresholds{MinIncrease: 1, RelativeChange: 0.5})

	// Increase of 20 clears the absolute floor but not 0.5*100.
	res := e.Evaluate(series(120, 100, 100, 100))
	assert.False(t, res.Triggered)
}

func TestEvaluateShortSeries(t *testing.T) {
	e := New(AllWeekdays(), Thresholds{})

	for _, pts := range [][]Point{nil, series(42)} {
		res := e.Evaluate(pts)
		assert.False(t, res.Triggered)
		assert.Zero(t, res.Average)
		assert.Zero(t, res.Total)
	}
}

func TestEvaluateNoIncrease(t *testing.T) {
	e := New(AllWeekdays(), Thresholds{})

	res := e.Evaluate(series(90, 100, 110))
	assert.Zero(t, res.Increase)
	assert.False(t, res.Triggered)
}

func TestEvaluateWeekdayFilter(t *testing.T) {
	// 2024-03-15 is a Friday (weekday number 6); walking back one day at a
	// time hits Thu(5), Wed(4), Tue(3), Mon(2), Sun(1), Sat(7), Fri(6)...
	e := New(ParseWeekdays("6,5"), Thresholds{MinIncrease: 0.5, RelativeChange: 0.1})

	// Only Fridays and Thursdays retained: 100 (prev day), then 10, 10.
	res := e.Evaluate(series(100, 10, 999, 999, 999, 999, 999, 10, 10))

	require.InDelta(t, 100, res.PreviousDay, 1e-9)
	assert.InDelta(t, 30, res.Total, 1e-9)
	assert.InDelta(t, 10, res.Average, 1e-9)
	assert.True(t, res.Triggered)
}

func TestEvaluateClamps(t *testing.T) {
	e := New(AllWeekdays(), Thresholds{MinIncrease: -5, RelativeChange: -1})
	assert.Zero(t, e.thresholds.MinIncrease)
	assert.InDelta(t, DefaultRelativeChange, e.thresholds.RelativeChange, 1e-9)
}

func TestEvaluateTestMode(t *testing.T) {
	heads := New(AllWeekdays(), Thresholds{MinIncrease: 1e9}, WithTestMode(), WithCoin(func() float64 { return 0.9 }))
	tails := New(AllWeekdays(), Thresholds{}, WithTestMode(), WithCoin(func() float64 { return 0.1 }))

	// Thresholds are bypassed entirely in test mode.
	assert.True(t, heads.Evaluate(series(120, 100, 100)).Triggered)
	assert.False(t, tails.Evaluate(series(120, 100, 100)).Triggered)

	// But a series with no increase never flips the coin.
	assert.False(t, heads.Evaluate(series(90, 100, 100)).Triggered)
}

func TestParseWeekdays(t *testing.T) {
	tests := []struct {
		name  string
		input string
		count int
		all   bool
	}{
		{"Empty", "", 7, true},
		{"Weekdays", "2,3,4,5,6", 5, false},
		{"Garbage", "a,b,9,0", 7, true},
		{"Mixed", "1, 8, 7, x", 2, false},
		{"Full", "1,2,3,4,5,6,7", 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ParseWeekdays(tt.input)
			assert.Equal(t, tt.count, w.Count())
			if tt.all {
				for d := 1; d <= 7; d++ {
					assert.True(t, w.Contains(onWeekday(d)))
				}
			}
		})
	}
}

func TestWeekdaysContains(t *testing.T) {
	w := ParseWeekdays("1,7")
	assert.True(t, w.Contains(onWeekday(1)), "Sunday")
	assert.True(t, w.Contains(onWeekday(7)), "Saturday")
	assert.False(t, w.Contains(onWeekday(2)), "Monday")
}

func TestExtendedLookback(t *testing.T) {
	assert.Equal(t, 30, ExtendedLookback(30, AllWeekdays()))
	// 5 active days: 4 full weeks in 30 days, 2 extra days each.
	assert.Equal(t, 38, ExtendedLookback(30, ParseWeekdays("2,3,4,5,6")))
	assert.Equal(t, 13, ExtendedLookback(7, ParseWeekdays("1")))
}
