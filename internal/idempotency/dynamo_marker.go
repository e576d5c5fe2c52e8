package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-webhook-relay/internal/aws"
)

// DynamoDB only removes expired items eventually, so an expired item still present is
// overwritten rather than treated as a duplicate.
const markCondition = "attribute_not_exists(idempotency_key) OR expires_at < :now"

// DynamoMarker keeps idempotency keys in a DynamoDB table with a TTL attribute.
type DynamoMarker struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoMarker returns a marker writing to tableName.
func NewDynamoMarker(client aws.DynamoDBAPI, tableName string) *DynamoMarker {
	return &DynamoMarker{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (m *DynamoMarker) Name() string { return "dynamodb" }

// Mark creates the record unless a live one exists.
// Returns (true, nil) when created, (false, nil) when the key is already held.
func (m *DynamoMarker) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.nowFunc()
	rec := Record{
		IdempotencyKey: key,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &m.tableName,
		Item:                item,
		ConditionExpression: awsString(markCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}

	if _, err := m.client.PutItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

func (m *DynamoMarker) Release(ctx context.Context, key string) error {
	_, err := m.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &m.tableName,
		Key:       keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Helper
func awsString(s string) *string { return &s }
