package finalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/costsentry/pkg/store"
)

const (
	reportHeader   = "Billing Anomaly Tracker"
	reportDateFmt  = "2 Jan 2006"
	secondsPerDay  = 24 * 60 * 60
	secondsPerHour = 60 * 60
)

// RenderReport produces the consolidated notification body: a header, one
// line per triggered usage type, and the wall-clock duration of the run.
func RenderReport(results []store.ItemResult, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString(reportHeader)
	b.WriteString("\n\n")
	for _, res := range results {
		b.WriteString(renderLine(res))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString("Time taken for processing: ")
	b.WriteString(formatElapsed(elapsed))
	return b.String()
}

func renderLine(res store.ItemResult) string {
	return fmt.Sprintf("%s - increase by %s - Cost for %s: %s - Average Daily Cost: %s",
		res.UsageType,
		formatPercent(res.IncreaseBy, res.AverageDaily),
		res.PreviousDayDate.Format(reportDateFmt),
		formatUSD(res.PreviousDay),
		formatUSD(res.AverageDaily))
}

// formatPercent expresses the increase relative to the daily average.
func formatPercent(increase, average float64) string {
	if average == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", increase/average*100)
}

// formatUSD renders a dollar amount with thousands separators, e.g.
// "$1,234.56".
func formatUSD(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := fmt.Sprintf("%.2f", amount)
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// formatElapsed renders a duration as "D.hh:mm:ss".
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	days := total / secondsPerDay
	total %= secondsPerDay
	hours := total / secondsPerHour
	total %= secondsPerHour
	return fmt.Sprintf("%d.%02d:%02d:%02d", days, hours, total/60, total%60)
}
