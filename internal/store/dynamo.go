package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// ItemPutter is the subset of *dynamodb.Client the recorder needs.
type ItemPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Dynamo writes one item per scored attempt. Items are keyed by PK
// "RUN#<run id>" and SK "ITER#<iteration>".
type Dynamo struct {
	client ItemPutter
	table  string
}

// NewDynamo creates a DynamoDB recorder.
func NewDynamo(client ItemPutter, table string) (*Dynamo, error) {
	if client == nil || table == "" {
		return nil, optimization.ConfigurationError("store", "DynamoDB recorder requires a client and table name")
	}
	return &Dynamo{client: client, table: table}, nil
}

// Record implements optimization.Recorder.
func (d *Dynamo) Record(ctx context.Context, runID string, attempt optimization.Attempt) error {
	rec := NewRecord(runID, attempt)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: "RUN#" + runID}
	item["SK"] = &types.AttributeValueMemberS{Value: "ITER#" + iterationKey(attempt.Iteration)}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to DynamoDB: %w", rec.Key(), err)
	}
	return nil
}
