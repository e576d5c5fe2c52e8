package idempotency

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a very small in-memory mock for PutItem/DeleteItem used in unit tests.
// It understands the marker's condition expression and nothing else.
type simpleMock struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	deleteCalls int
	failWith    error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	if params.Item == nil {
		return nil, errors.New("nil item")
	}
	keyAttr, ok := params.Item["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing key")
	}
	k := keyAttr.Value

	if params.ConditionExpression != nil && *params.ConditionExpression == markCondition {
		if existing, ok := m.table[k]; ok {
			now := numberAttr(params.ExpressionAttributeValues[":now"])
			if numberAttr(existing["expires_at"]) >= now {
				// simulate conditional failure
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	keyAttr, ok := params.Key["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing key")
	}
	delete(m.table, keyAttr.Value)
	return &dyn.DeleteItemOutput{}, nil
}

func numberAttr(v types.AttributeValue) int64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	out, _ := strconv.ParseInt(n.Value, 10, 64)
	return out
}
