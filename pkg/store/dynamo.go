package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	// keyAttr is the partition key of both tables.
	keyAttr = "id"

	// dateLayout is the stored YesterdayDate format.
	dateLayout = "2006-01-02"

	// startTimeLayout is the human-readable start time written next to the
	// epoch value for operator convenience.
	startTimeLayout = "2 Jan 2006 3:04:05 PM"

	// batchDeleteChunkSize is how many delete requests go into one batch
	// write. DynamoDB caps batches at 25.
	batchDeleteChunkSize = 24
)

// DynamoAPI is the subset of the DynamoDB client used by the stores.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// jobRecord is the control-table row shape.
type jobRecord struct {
	ID              string `dynamodbav:"id"`
	TotalToProcess  int    `dynamodbav:"TotalToProcess"`
	Processed       int    `dynamodbav:"Processed"`
	StartTime       int64  `dynamodbav:"StartTime"`
	StartTimeString string `dynamodbav:"StartTimeString"`
	Finalized       bool   `dynamodbav:"Finalized"`
}

// resultRecord is the result-table row shape.
type resultRecord struct {
	ID            string  `dynamodbav:"id"`
	Total         float64 `dynamodbav:"Total"`
	AverageDaily  float64 `dynamodbav:"AverageDaily"`
	PreviousDay   float64 `dynamodbav:"PreviousDay"`
	IncreaseBy    float64 `dynamodbav:"IncreaseBy"`
	YesterdayDate string  `dynamodbav:"YesterdayDate"`
	Processed     bool    `dynamodbav:"Processed"`
	Triggered     bool    `dynamodbav:"Triggered"`
}

// JobTable implements JobStore on a DynamoDB control table.
type JobTable struct {
	client DynamoAPI
	table  string
}

var _ JobStore = (*JobTable)(nil)

// NewJobTable creates a JobTable.
func NewJobTable(client DynamoAPI, table string) *JobTable {
	return &JobTable{client: client, table: table}
}

// CreateJob writes the job record with a zero processed count.
func (t *JobTable) CreateJob(ctx context.Context, job Job) error {
	rec := jobRecord{
		ID:              job.ID,
		TotalToProcess:  job.TotalItems,
		Processed:       0,
		StartTime:       job.StartedAt.UTC().UnixMilli(),
		StartTimeString: job.StartedAt.UTC().Format(startTimeLayout),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return &StoreError{Op: "CreateJob", Table: t.table, Key: job.ID, Err: err}
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.table),
		Item:      item,
	})
	if err != nil {
		return &StoreError{Op: "CreateJob", Table: t.table, Key: job.ID, Err: err}
	}
	return nil
}

// GetJob reads the job record with a consistent read.
func (t *JobTable) GetJob(ctx context.Context, jobID string) (*Job, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.table),
		Key:            stringKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, &StoreError{Op: "GetJob", Table: t.table, Key: jobID, Err: err}
	}
	if len(out.Item) == 0 {
		return nil, &StoreError{Op: "GetJob", Table: t.table, Key: jobID, Err: ErrJobNotFound}
	}

	var rec jobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, &StoreError{Op: "GetJob", Table: t.table, Key: jobID, Err: err}
	}
	return &Job{
		ID:             rec.ID,
		TotalItems:     rec.TotalToProcess,
		ProcessedCount: rec.Processed,
		StartedAt:      time.UnixMilli(rec.StartTime).UTC(),
		Finalized:      rec.Finalized,
	}, nil
}

// IncrementProcessed adds one to the processed counter.
//
// The ADD action is atomic at the store level; concurrent processors across
// categories need no further coordination.
func (t *JobTable) IncrementProcessed(ctx context.Context, jobID string) error {
	_, err := t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(t.table),
		Key:              stringKey(jobID),
		UpdateExpression: aws.String("ADD #p :one"),
		ExpressionAttributeNames: map[string]string{
			"#p": "Processed",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return &StoreError{Op: "IncrementProcessed", Table: t.table, Key: jobID, Err: err}
	}
	return nil
}

// MarkFinalized claims the finalize step. The conditional write makes sure
// exactly one of the completion signals that observe a full counter wins.
func (t *JobTable) MarkFinalized(ctx context.Context, jobID string) (bool, error) {
	_, err := t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(t.table),
		Key:                 stringKey(jobID),
		UpdateExpression:    aws.String("SET #f = :true"),
		ConditionExpression: aws.String("attribute_not_exists(#f) OR #f = :false"),
		ExpressionAttributeNames: map[string]string{
			"#f": "Finalized",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return false, nil
		}
		return false, &StoreError{Op: "MarkFinalized", Table: t.table, Key: jobID, Err: err}
	}
	return true, nil
}

// ResultTable implements ResultStore on a DynamoDB result table.
type ResultTable struct {
	client DynamoAPI
	table  string
	logger *zap.Logger
}

var _ ResultStore = (*ResultTable)(nil)

// NewResultTable creates a ResultTable.
func NewResultTable(client DynamoAPI, table string, logger *zap.Logger) *ResultTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultTable{client: client, table: table, logger: logger}
}

// PutPlaceholder seeds an unprocessed row.
func (t *ResultTable) PutPlaceholder(ctx context.Context, usageType string) error {
	return t.put(ctx, "PutPlaceholder", resultRecord{ID: usageType})
}

// PutResult overwrites the row for the result's usage type.
func (t *ResultTable) PutResult(ctx context.Context, res ItemResult) error {
	rec := resultRecord{
		ID:           res.UsageType,
		Total:        res.Total,
		AverageDaily: res.AverageDaily,
		PreviousDay:  res.PreviousDay,
		IncreaseBy:   res.IncreaseBy,
		Processed:    res.Processed,
		Triggered:    res.Triggered,
	}
	if !res.PreviousDayDate.IsZero() {
		rec.YesterdayDate = res.PreviousDayDate.Format(dateLayout)
	}
	return t.put(ctx, "PutResult", rec)
}

func (t *ResultTable) put(ctx context.Context, op string, rec resultRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return &StoreError{Op: op, Table: t.table, Key: rec.ID, Err: err}
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.table),
		Item:      item,
	})
	if err != nil {
		return &StoreError{Op: op, Table: t.table, Key: rec.ID, Err: err}
	}
	return nil
}

// TriggeredResults scans for rows with Processed and Triggered both set.
func (t *ResultTable) TriggeredResults(ctx context.Context) ([]ItemResult, error) {
	expr, err := expression.NewBuilder().
		WithFilter(expression.Name("Processed").Equal(expression.Value(true)).
			And(expression.Name("Triggered").Equal(expression.Value(true)))).
		Build()
	if err != nil {
		return nil, &StoreError{Op: "TriggeredResults", Table: t.table, Err: err}
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(t.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var results []ItemResult
	for {
		out, err := t.client.Scan(ctx, input)
		if err != nil {
			return nil, &StoreError{Op: "TriggeredResults", Table: t.table, Err: err}
		}

		var recs []resultRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
			return nil, &StoreError{Op: "TriggeredResults", Table: t.table, Err: err}
		}
		for _, rec := range recs {
			results = append(results, rec.toItemResult())
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	return results, nil
}

// Clear deletes every row in the result table.
//
// Batch writes against the store are not atomic: any unprocessed deletes
// returned by a partial batch failure are re-driven until none remain.
func (t *ResultTable) Clear(ctx context.Context) error {
	keys, err := t.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	t.logger.Info("Clearing result table",
		zap.String("table", t.table),
		zap.Int("rows", len(keys)))

	for start := 0; start < len(keys); start += batchDeleteChunkSize {
		end := start + batchDeleteChunkSize
		if end > len(keys) {
			end = len(keys)
		}

		writes := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: stringKey(key)},
			})
		}

		requestItems := map[string][]types.WriteRequest{t.table: writes}
		for len(requestItems) > 0 {
			out, err := t.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: requestItems,
			})
			if err != nil {
				return &StoreError{Op: "Clear", Table: t.table, Err: err}
			}
			requestItems = out.UnprocessedItems
			if len(requestItems) > 0 {
				t.logger.Warn("Re-driving unprocessed batch deletes",
					zap.Int("remaining", len(requestItems[t.table])))
			}
		}
	}

	return nil
}

// scanKeys pages through the table collecting partition keys.
func (t *ResultTable) scanKeys(ctx context.Context) ([]string, error) {
	expr, err := expression.NewBuilder().
		WithProjection(expression.NamesList(expression.Name(keyAttr))).
		Build()
	if err != nil {
		return nil, &StoreError{Op: "Clear", Table: t.table, Err: err}
	}

	input := &dynamodb.ScanInput{
		TableName:                aws.String(t.table),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	}

	var keys []string
	for {
		out, err := t.client.Scan(ctx, input)
		if err != nil {
			return nil, &StoreError{Op: "Clear", Table: t.table, Err: err}
		}
		for _, item := range out.Items {
			if v, ok := item[keyAttr].(*types.AttributeValueMemberS); ok {
				keys = append(keys, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	return keys, nil
}

// toItemResult converts a stored row back to the domain shape.
func (r resultRecord) toItemResult() ItemResult {
	res := ItemResult{
		UsageType:    r.ID,
		Total:        r.Total,
		AverageDaily: r.AverageDaily,
		PreviousDay:  r.PreviousDay,
		IncreaseBy:   r.IncreaseBy,
		Processed:    r.Processed,
		Triggered:    r.Triggered,
	}
	if r.YesterdayDate != "" {
		if d, err := time.Parse(dateLayout, r.YesterdayDate); err == nil {
			res.PreviousDayDate = d
		}
	}
	return res
}

// stringKey builds a partition-key map for the given id.
func stringKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: id},
	}
}
