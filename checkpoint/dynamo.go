package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/walbuf/buffer"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

const (
	attrLogID = "log_id"
	attrLSN   = "lsn"
)

// DynamoStore keeps checkpoints in a DynamoDB table, one item per log.
//
// DynamoDB provides the compare-and-swap that object storage lacks, so several
// processes may save checkpoints for the same log without moving it backwards.
//
// Table schema:
//   - Partition key: log_id (string)
//   - Attribute: lsn (number)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name walbuf-checkpoints \
//	  --attribute-definitions AttributeName=log_id,AttributeType=S \
//	  --key-schema AttributeName=log_id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoStore struct {
	client    DDBClient
	tableName string
	logID     string
}

// NewDynamoStore creates a checkpoint store for logID in tableName.
func NewDynamoStore(client DDBClient, tableName, logID string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, logID: logID}
}

// NewDynamoStoreFromConfig loads the default AWS configuration and creates a
// DynamoStore backed by a new DynamoDB client.
func NewDynamoStoreFromConfig(ctx context.Context, tableName, logID string, optFns ...func(*config.LoadOptions) error) (*DynamoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName, logID), nil
}

// Load implements Store. It uses a strongly consistent read.
func (s *DynamoStore) Load(ctx context.Context) (buffer.LSN, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrLogID: &types.AttributeValueMemberS{Value: s.logID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return buffer.InvalidLSN, fmt.Errorf("checkpoint: get item: %w", err)
	}
	if len(resp.Item) == 0 {
		return buffer.InvalidLSN, nil
	}

	attr, ok := resp.Item[attrLSN].(*types.AttributeValueMemberN)
	if !ok {
		return buffer.InvalidLSN, fmt.Errorf("%w: invalid lsn attribute", ErrCorrupt)
	}
	lsn, err := strconv.ParseUint(attr.Value, 10, 64)
	if err != nil {
		return buffer.InvalidLSN, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return buffer.LSN(lsn), nil
}

// Save implements Store with a conditional write that only succeeds when the
// stored LSN is missing or lower.
func (s *DynamoStore) Save(ctx context.Context, lsn buffer.LSN) error {
	value := strconv.FormatUint(uint64(lsn), 10)
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			attrLogID: &types.AttributeValueMemberS{Value: s.logID},
			attrLSN:   &types.AttributeValueMemberN{Value: value},
		},
		ConditionExpression: aws.String("attribute_not_exists(#lsn) OR #lsn < :lsn"),
		ExpressionAttributeNames: map[string]string{
			"#lsn": attrLSN,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lsn": &types.AttributeValueMemberN{Value: value},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil // a newer checkpoint is already stored
		}
		return fmt.Errorf("checkpoint: put item: %w", err)
	}
	return nil
}
