package costsource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/costsentry/pkg/anomaly"
)

const (
	// metricAmortized is the cost metric used for anomaly evaluation.
	metricAmortized = "AmortizedCost"

	// metricUsage is requested alongside for parity with the upstream
	// report defaults; only the amortized amount feeds the evaluator.
	metricUsage = "UsageQuantity"

	// dateLayout is the wire date format of the Cost Explorer API.
	dateLayout = "2006-01-02"
)

// CostExplorerAPI is the subset of the Cost Explorer client the Explorer
// uses. Satisfied by *costexplorer.Client; fakes implement it in tests.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
	GetDimensionValues(ctx context.Context, params *costexplorer.GetDimensionValuesInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetDimensionValuesOutput, error)
}

// Explorer implements Source against the AWS Cost Explorer API.
type Explorer struct {
	client CostExplorerAPI
	now    func() time.Time
}

var _ Source = (*Explorer)(nil)

// NewExplorer creates an Explorer on the given client.
func NewExplorer(client CostExplorerAPI) *Explorer {
	return &Explorer{client: client, now: time.Now}
}

// WithClock overrides the clock. Test hook.
func (e *Explorer) WithClock(now func() time.Time) *Explorer {
	e.now = now
	return e
}

// DailyCosts fetches the per-day amortized cost for one usage type, ordered
// most-recent-first.
func (e *Explorer) DailyCosts(ctx context.Context, q Query) ([]anomaly.Point, error) {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(q.Start.Format(dateLayout)),
			End:   aws.String(q.End.Format(dateLayout)),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{metricUsage, metricAmortized},
		Filter:      buildFilter(q.UsageType, q.LinkedAccounts),
	}

	var points []anomaly.Point
	for {
		out, err := e.client.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, wrapError("DailyCosts", q.UsageType, err)
		}
		for _, r := range out.ResultsByTime {
			p, err := resultPoint(r)
			if err != nil {
				return nil, &FetchError{Op: "DailyCosts", UsageType: q.UsageType, Err: err}
			}
			points = append(points, p)
		}
		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	// The API pages in ascending order; the evaluator wants the day under
	// evaluation first.
	sort.Slice(points, func(i, j int) bool { return points[i].Date.After(points[j].Date) })

	return points, nil
}

// UsageTypes enumerates USAGE_TYPE dimension values over the trailing year.
func (e *Explorer) UsageTypes(ctx context.Context) ([]string, error) {
	now := e.now()
	input := &costexplorer.GetDimensionValuesInput{
		Dimension: types.DimensionUsageType,
		TimePeriod: &types.DateInterval{
			Start: aws.String(now.AddDate(-1, 0, 0).Format(dateLayout)),
			End:   aws.String(now.Format(dateLayout)),
		},
	}

	var values []string
	for {
		out, err := e.client.GetDimensionValues(ctx, input)
		if err != nil {
			return nil, wrapError("UsageTypes", "", err)
		}
		for _, dv := range out.DimensionValues {
			if v := aws.ToString(dv.Value); v != "" {
				values = append(values, v)
			}
		}
		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	return values, nil
}

// resultPoint extracts the date and amortized amount from one daily bucket.
func resultPoint(r types.ResultByTime) (anomaly.Point, error) {
	if r.TimePeriod == nil {
		return anomaly.Point{}, fmt.Errorf("result bucket missing time period: %w", ErrNoData)
	}
	date, err := time.Parse(dateLayout, aws.ToString(r.TimePeriod.Start))
	if err != nil {
		return anomaly.Point{}, fmt.Errorf("parse bucket date %q: %w", aws.ToString(r.TimePeriod.Start), err)
	}
	mv, ok := r.Total[metricAmortized]
	if !ok {
		return anomaly.Point{}, fmt.Errorf("bucket %s missing %s metric: %w", aws.ToString(r.TimePeriod.Start), metricAmortized, ErrNoData)
	}
	amount, err := strconv.ParseFloat(aws.ToString(mv.Amount), 64)
	if err != nil {
		return anomaly.Point{}, fmt.Errorf("parse amount %q: %w", aws.ToString(mv.Amount), err)
	}
	return anomaly.Point{Date: date, Amount: amount}, nil
}

// buildFilter builds the Cost Explorer filter expression: the usage type
// dimension, ANDed with a linked-account restriction when one is configured.
func buildFilter(usageType string, linkedAccounts []string) *types.Expression {
	usage := types.Expression{
		Dimensions: &types.DimensionValues{
			Key:    types.DimensionUsageType,
			Values: []string{usageType},
		},
	}

	if len(linkedAccounts) == 0 {
		return &usage
	}

	accounts := types.Expression{
		Dimensions: &types.DimensionValues{
			Key:    types.DimensionLinkedAccount,
			Values: linkedAccounts,
		},
	}
	return &types.Expression{And: []types.Expression{usage, accounts}}
}

// wrapError converts Cost Explorer errors into FetchErrors, mapping
// throttling responses onto ErrRateLimited so the retrier can classify them.
func wrapError(op, usageType string, err error) error {
	wrapped := &FetchError{Op: op, UsageType: usageType, Err: err}

	var limitExceeded *types.LimitExceededException
	if errors.As(err, &limitExceeded) {
		wrapped.Err = fmt.Errorf("%w: %s", ErrRateLimited, aws.ToString(limitExceeded.Message))
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "LimitExceededException", "Throttling", "ThrottlingException",
			"TooManyRequestsException", "RequestLimitExceeded":
			wrapped.Err = fmt.Errorf("%w: %s", ErrRateLimited, apiErr.ErrorMessage())
		}
	}

	return wrapped
}
