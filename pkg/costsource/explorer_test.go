package costsource

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCostExplorer struct {
	costInput *costexplorer.GetCostAndUsageInput
	costPages []*costexplorer.GetCostAndUsageOutput
	costErr   error

	dimInput *costexplorer.GetDimensionValuesInput
	dimPages []*costexplorer.GetDimensionValuesOutput
}

func (f *fakeCostExplorer) GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	f.costInput = params
	if f.costErr != nil {
		return nil, f.costErr
	}
	page := f.costPages[0]
	f.costPages = f.costPages[1:]
	return page, nil
}

func (f *fakeCostExplorer) GetDimensionValues(ctx context.Context, params *costexplorer.GetDimensionValuesInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetDimensionValuesOutput, error) {
	f.dimInput = params
	page := f.dimPages[0]
	f.dimPages = f.dimPages[1:]
	return page, nil
}

func bucket(date string, amount string) types.ResultByTime {
	return types.ResultByTime{
		TimePeriod: &types.DateInterval{Start: aws.String(date), End: aws.String(date)},
		Total: map[string]types.MetricValue{
			metricAmortized: {Amount: aws.String(amount), Unit: aws.String("USD")},
		},
	}
}

func TestDailyCostsOrdersMostRecentFirst(t *testing.T) {
	fake := &fakeCostExplorer{
		costPages: []*costexplorer.GetCostAndUsageOutput{
			{
				ResultsByTime: []types.ResultByTime{bucket("2024-03-01", "1.5"), bucket("2024-03-02", "2.5")},
				NextPageToken: aws.String("more"),
			},
			{
				ResultsByTime: []types.ResultByTime{bucket("2024-03-03", "3.5")},
			},
		},
	}

	e := NewExplorer(fake)
	points, err := e.DailyCosts(context.Background(), Query{
		UsageType: "USW2-BoxUsage",
		Start:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, "2024-03-03", points[0].Date.Format(dateLayout))
	assert.InDelta(t, 3.5, points[0].Amount, 1e-9)
	assert.Equal(t, "2024-03-01", points[2].Date.Format(dateLayout))
}

func TestDailyCostsFilterExpression(t *testing.T) {
	fake := &fakeCostExplorer{costPages: []*costexplorer.GetCostAndUsageOutput{{}}}
	e := NewExplorer(fake)

	_, err := e.DailyCosts(context.Background(), Query{UsageType: "USW2-BoxUsage"})
	require.NoError(t, err)

	filter := fake.costInput.Filter
	require.NotNil(t, filter)
	require.NotNil(t, filter.Dimensions)
	assert.Equal(t, types.DimensionUsageType, filter.Dimensions.Key)
	assert.Equal(t, []string{"USW2-BoxUsage"}, filter.Dimensions.Values)
	assert.Empty(t, filter.And)
	assert.Equal(t, types.GranularityDaily, fake.costInput.Granularity)
}

func TestDailyCostsLinkedAccountFilter(t *testing.T) {
	fake := &fakeCostExplorer{costPages: []*costexplorer.GetCostAndUsageOutput{{}}}
	e := NewExplorer(fake)

	_, err := e.DailyCosts(context.Background(), Query{
		UsageType:      "USW2-BoxUsage",
		LinkedAccounts: []string{"111122223333", "444455556666"},
	})
	require.NoError(t, err)

	filter := fake.costInput.Filter
	require.NotNil(t, filter)
	require.Len(t, filter.And, 2)
	assert.Equal(t, types.DimensionUsageType, filter.And[0].Dimensions.Key)
	assert.Equal(t, types.DimensionLinkedAccount, filter.And[1].Dimensions.Key)
	assert.Equal(t, []string{"111122223333", "444455556666"}, filter.And[1].Dimensions.Values)
}

func TestDailyCostsClassifiesThrottling(t *testing.T) {
	fake := &fakeCostExplorer{costErr: &types.LimitExceededException{Message: aws.String("slow down")}}
	e := NewExplorer(fake)

	_, err := e.DailyCosts(context.Background(), Query{UsageType: "USW2-BoxUsage"})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "USW2-BoxUsage", fe.UsageType)
}

func TestDailyCostsBadAmount(t *testing.T) {
	fake := &fakeCostExplorer{
		costPages: []*costexplorer.GetCostAndUsageOutput{
			{ResultsByTime: []types.ResultByTime{bucket("2024-03-01", "not-a-number")}},
		},
	}
	e := NewExplorer(fake)

	_, err := e.DailyCosts(context.Background(), Query{UsageType: "USW2-BoxUsage"})
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
}

func TestUsageTypesDropsEmptyAndPages(t *testing.T) {
	fake := &fakeCostExplorer{
		dimPages: []*costexplorer.GetDimensionValuesOutput{
			{
				DimensionValues: []types.DimensionValuesWithAttributes{
					{Value: aws.String("USW2-BoxUsage")},
					{Value: aws.String("")},
				},
				NextPageToken: aws.String("more"),
			},
			{
				DimensionValues: []types.DimensionValuesWithAttributes{
					{Value: aws.String("APS2-DataTransfer-Out")},
				},
			},
		},
	}

	e := NewExplorer(fake).WithClock(func() time.Time {
		return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	})

	values, err := e.UsageTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"USW2-BoxUsage", "APS2-DataTransfer-Out"}, values)

	require.NotNil(t, fake.dimInput)
	assert.Equal(t, "2023-03-15", aws.ToString(fake.dimInput.TimePeriod.Start))
	assert.Equal(t, "2024-03-15", aws.ToString(fake.dimInput.TimePeriod.End))
	assert.Equal(t, types.DimensionUsageType, fake.dimInput.Dimension)
}
