package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ruteri/tf-state-backend/interfaces"
)

// DDBClient is the subset of the DynamoDB API used by DynamoDBStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore keeps lock records and configuration in a single DynamoDB table.
// Lock exclusivity comes from a conditional put on the partition key.
//
// Table schema:
//   - Partition key: pk (string), "lock#{project}/{name}" or "config#{name}"
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name tfstate-metadata \
//	  --attribute-definitions AttributeName=pk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoDBStore struct {
	client    DDBClient
	tableName string
	log       *slog.Logger
}

const (
	ddbAttrKey    = "pk"
	ddbAttrLockID = "lock_id"
	ddbAttrInfo   = "info"
	ddbAttrValue  = "value"
)

// NewDynamoDBStore creates a store using an existing client.
func NewDynamoDBStore(client DDBClient, tableName string, log *slog.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		log:       log,
	}
}

// OpenDynamoDB loads the default AWS configuration and creates a store.
// endpoint overrides the service endpoint, e.g. for DynamoDB Local.
func OpenDynamoDB(ctx context.Context, tableName, region, endpoint string, log *slog.Logger) (*DynamoDBStore, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewDynamoDBStore(client, tableName, log), nil
}

func lockItemKey(key interfaces.LockKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		ddbAttrKey: &types.AttributeValueMemberS{Value: "lock#" + key.String()},
	}
}

func configItemKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		ddbAttrKey: &types.AttributeValueMemberS{Value: "config#" + name},
	}
}

func (s *DynamoDBStore) GetLock(ctx context.Context, key interfaces.LockKey) (*interfaces.LockInfo, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            lockItemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lock item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return decodeLockItem(out.Item)
}

func (s *DynamoDBStore) InsertLockIfAbsent(ctx context.Context, key interfaces.LockKey, info *interfaces.LockInfo) (*interfaces.LockInfo, error) {
	item := lockItemKey(key)
	item[ddbAttrLockID] = &types.AttributeValueMemberS{Value: info.ID}
	item[ddbAttrInfo] = &types.AttributeValueMemberS{Value: string(info.Marshal())}

	for attempt := 0; attempt < insertAttempts; attempt++ {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                           aws.String(s.tableName),
			Item:                                item,
			ConditionExpression:                 aws.String("attribute_not_exists(pk)"),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		if err == nil {
			s.log.Debug("Inserted lock record",
				slog.String("key", key.String()),
				slog.String("id", info.ID))
			return nil, nil
		}

		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return nil, fmt.Errorf("failed to put lock item: %w", err)
		}
		if len(condErr.Item) > 0 {
			return decodeLockItem(condErr.Item)
		}

		existing, err := s.GetLock(ctx, key)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return existing, nil
	}
	return nil, fmt.Errorf("failed to insert lock for %s: record kept changing", key)
}

func (s *DynamoDBStore) DeleteLock(ctx context.Context, key interfaces.LockKey, expectedID string) error {
	input := &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 lockItemKey(key),
		ConditionExpression: aws.String("attribute_exists(pk)"),
	}
	if expectedID != "" {
		input.ConditionExpression = aws.String("lock_id = :id")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: expectedID},
		}
	}

	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete lock item: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetMaxBackups(ctx context.Context) (int, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            configItemKey(configKeyMaxBackups),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get config item: %w", err)
	}
	if len(out.Item) == 0 {
		return interfaces.DefaultMaxBackups, nil
	}

	value, ok := out.Item[ddbAttrValue].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("invalid value attribute in config item")
	}
	return parseMaxBackups(value.Value)
}

func (s *DynamoDBStore) SetMaxBackups(ctx context.Context, n int) error {
	if err := validateMaxBackups(n); err != nil {
		return err
	}

	item := configItemKey(configKeyMaxBackups)
	item[ddbAttrValue] = &types.AttributeValueMemberN{Value: strconv.Itoa(n)}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put config item: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) Available(ctx context.Context) bool {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		s.log.Warn("DynamoDB table unavailable", slog.String("table", s.tableName), "err", err)
		return false
	}
	return true
}

func (s *DynamoDBStore) Name() string {
	return "dynamodb-" + s.tableName
}

func decodeLockItem(item map[string]types.AttributeValue) (*interfaces.LockInfo, error) {
	raw, ok := item[ddbAttrInfo].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("invalid info attribute in lock item")
	}
	return interfaces.UnmarshalLockInfo([]byte(raw.Value))
}
