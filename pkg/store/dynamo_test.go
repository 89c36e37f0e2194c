package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDynamo records calls and plays back scripted pages.
type fakeDynamo struct {
	putInputs    []*dynamodb.PutItemInput
	getOutput    *dynamodb.GetItemOutput
	getInput     *dynamodb.GetItemInput
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	scanPages    []*dynamodb.ScanOutput
	batchInputs  []*dynamodb.BatchWriteItemInput
	batchOutputs []*dynamodb.BatchWriteItemOutput
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, params)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInput = params
	if f.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOutput, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, params)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	page := f.scanPages[0]
	f.scanPages = f.scanPages[1:]
	return page, nil
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchInputs = append(f.batchInputs, params)
	out := &dynamodb.BatchWriteItemOutput{}
	if len(f.batchOutputs) > 0 {
		out = f.batchOutputs[0]
		f.batchOutputs = f.batchOutputs[1:]
	}
	return out, nil
}

func keyItem(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func TestJobTableCreateAndGet(t *testing.T) {
	started := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	fake := &fakeDynamo{}
	jt := NewJobTable(fake, "bat-control")

	err := jt.CreateJob(context.Background(), Job{ID: "job-1", TotalItems: 12, StartedAt: started})
	require.NoError(t, err)
	require.Len(t, fake.putInputs, 1)
	assert.Equal(t, "bat-control", aws.ToString(fake.putInputs[0].TableName))

	item := fake.putInputs[0].Item
	assert.Equal(t, "job-1", item["id"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "12", item["TotalToProcess"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "0", item["Processed"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, strconv.FormatInt(started.UnixMilli(), 10), item["StartTime"].(*types.AttributeValueMemberN).Value)

	fake.getOutput = &dynamodb.GetItemOutput{Item: item}
	job, err := jt.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 12, job.TotalItems)
	assert.Equal(t, 0, job.ProcessedCount)
	assert.True(t, job.StartedAt.Equal(started))
	assert.False(t, job.Finalized)
	assert.True(t, aws.ToBool(fake.getInput.ConsistentRead), "barrier check needs a consistent read")
}

func TestJobTableGetJobNotFound(t *testing.T) {
	jt := NewJobTable(&fakeDynamo{}, "bat-control")

	_, err := jt.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobTableIncrementProcessed(t *testing.T) {
	fake := &fakeDynamo{}
	jt := NewJobTable(fake, "bat-control")

	require.NoError(t, jt.IncrementProcessed(context.Background(), "job-1"))
	require.Len(t, fake.updateInputs, 1)

	in := fake.updateInputs[0]
	assert.Equal(t, "ADD #p :one", aws.ToString(in.UpdateExpression))
	assert.Equal(t, "Processed", in.ExpressionAttributeNames["#p"])
	assert.Equal(t, "1", in.ExpressionAttributeValues[":one"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "job-1", in.Key["id"].(*types.AttributeValueMemberS).Value)
}

func TestJobTableMarkFinalized(t *testing.T) {
	fake := &fakeDynamo{}
	jt := NewJobTable(fake, "bat-control")

	won, err := jt.MarkFinalized(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, won)

	in := fake.updateInputs[0]
	require.NotNil(t, in.ConditionExpression)
	assert.Contains(t, aws.ToString(in.ConditionExpression), "attribute_not_exists")

	// A lost conditional race is not an error: the other finalizer won.
	fake.updateErr = &types.ConditionalCheckFailedException{}
	won, err = jt.MarkFinalized(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestResultTablePlaceholder(t *testing.T) {
	fake := &fakeDynamo{}
	rt := NewResultTable(fake, "bat-results", zap.NewNop())

	require.NoError(t, rt.PutPlaceholder(context.Background(), "USW2-BoxUsage"))
	require.Len(t, fake.putInputs, 1)

	item := fake.putInputs[0].Item
	assert.Equal(t, "USW2-BoxUsage", item["id"].(*types.AttributeValueMemberS).Value)
	assert.False(t, item["Processed"].(*types.AttributeValueMemberBOOL).Value)
	assert.False(t, item["Triggered"].(*types.AttributeValueMemberBOOL).Value)
}

func TestResultTablePutResult(t *testing.T) {
	fake := &fakeDynamo{}
	rt := NewResultTable(fake, "bat-results", zap.NewNop())

	res := ItemResult{
		UsageType:       "USW2-BoxUsage",
		Total:           300,
		AverageDaily:    10,
		PreviousDay:     25,
		IncreaseBy:      15,
		PreviousDayDate: time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		Processed:       true,
		Triggered:       true,
	}
	require.NoError(t, rt.PutResult(context.Background(), res))

	item := fake.putInputs[0].Item
	assert.Equal(t, "2024-03-14", item["YesterdayDate"].(*types.AttributeValueMemberS).Value)
	assert.True(t, item["Processed"].(*types.AttributeValueMemberBOOL).Value)
	assert.True(t, item["Triggered"].(*types.AttributeValueMemberBOOL).Value)
}

func TestTriggeredResultsPagesAndConverts(t *testing.T) {
	row := map[string]types.AttributeValue{
		"id":            &types.AttributeValueMemberS{Value: "USW2-BoxUsage"},
		"Total":         &types.AttributeValueMemberN{Value: "300"},
		"AverageDaily":  &types.AttributeValueMemberN{Value: "10"},
		"PreviousDay":   &types.AttributeValueMemberN{Value: "25"},
		"IncreaseBy":    &types.AttributeValueMemberN{Value: "15"},
		"YesterdayDate": &types.AttributeValueMemberS{Value: "2024-03-14"},
		"Processed":     &types.AttributeValueMemberBOOL{Value: true},
		"Triggered":     &types.AttributeValueMemberBOOL{Value: true},
	}
	fake := &fakeDynamo{
		scanPages: []*dynamodb.ScanOutput{
			{Items: []map[string]types.AttributeValue{row}, LastEvaluatedKey: keyItem("USW2-BoxUsage")},
			{},
		},
	}
	rt := NewResultTable(fake, "bat-results", zap.NewNop())

	results, err := rt.TriggeredResults(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "USW2-BoxUsage", r.UsageType)
	assert.InDelta(t, 15, r.IncreaseBy, 1e-9)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), r.PreviousDayDate)
	assert.True(t, r.Triggered)
}

func TestClearDrivesUnprocessedDeletes(t *testing.T) {
	// 30 rows: two delete batches (24 + 6); the first batch leaves one
	// unprocessed delete that must be re-driven.
	var items []map[string]types.AttributeValue
	for i := 0; i < 30; i++ {
		items = append(items, keyItem("type-"+strconv.Itoa(i)))
	}
	leftover := map[string][]types.WriteRequest{
		"bat-results": {{DeleteRequest: &types.DeleteRequest{Key: keyItem("type-0")}}},
	}
	fake := &fakeDynamo{
		scanPages: []*dynamodb.ScanOutput{
			{Items: items[:20], LastEvaluatedKey: keyItem("type-19")},
			{Items: items[20:]},
		},
		batchOutputs: []*dynamodb.BatchWriteItemOutput{
			{UnprocessedItems: leftover},
			{}, // re-drive succeeds
			{}, // second chunk
		},
	}
	rt := NewResultTable(fake, "bat-results", zap.NewNop())

	require.NoError(t, rt.Clear(context.Background()))
	require.Len(t, fake.batchInputs, 3)

	assert.Len(t, fake.batchInputs[0].RequestItems["bat-results"], 24)
	assert.Len(t, fake.batchInputs[1].RequestItems["bat-results"], 1, "unprocessed deletes are re-driven")
	assert.Len(t, fake.batchInputs[2].RequestItems["bat-results"], 6)
}

func TestClearEmptyTable(t *testing.T) {
	fake := &fakeDynamo{scanPages: []*dynamodb.ScanOutput{{}}}
	rt := NewResultTable(fake, "bat-results", zap.NewNop())

	require.NoError(t, rt.Clear(context.Background()))
	assert.Empty(t, fake.batchInputs)
}
