package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the backend,
// extracted as an interface so tests can inject a fake client.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoDBBackend implements Backend using AWS DynamoDB. Items are keyed by
// (stateName, stateKey) so all cells of one state variable share a partition.
type dynamoDBBackend struct {
	client    DynamoDBAPI
	tableName string
	ttlDays   int
}

// NewDynamoDBBackend creates a new DynamoDB storage backend
func NewDynamoDBBackend(cfg *DynamoDBConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("DynamoDB configuration is required")
	}

	ctx := context.Background()

	awsCfg, err := loadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)

	ttlDays := 0
	if cfg.TTLEnabled {
		ttlDays = cfg.TTLDays
	}

	backend := &dynamoDBBackend{
		client:    client,
		tableName: cfg.TableName,
		ttlDays:   ttlDays,
	}

	// Verify table exists
	if err := backend.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("table health check failed: %w", err)
	}

	return backend, nil
}

// NewDynamoDBBackendWithClient creates a DynamoDB backend with an injected client (for testing)
func NewDynamoDBBackendWithClient(client DynamoDBAPI, tableName string, ttlDays int) Backend {
	return &dynamoDBBackend{
		client:    client,
		tableName: tableName,
		ttlDays:   ttlDays,
	}
}

func (d *dynamoDBBackend) Put(ctx context.Context, name, key string, entry Entry) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      entryToItem(name, key, entry, d.ttlDays),
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		return &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to put state entry", Err: err}
	}
	return nil
}

func (d *dynamoDBBackend) Get(ctx context.Context, name, key string) (Entry, bool, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(name, key),
	}

	result, err := d.client.GetItem(ctx, input)
	if err != nil {
		return Entry{}, false, &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to get state entry", Err: err}
	}
	if result.Item == nil {
		return Entry{}, false, nil
	}

	entry, err := itemToEntry(result.Item)
	if err != nil {
		return Entry{}, false, &StorageError{Code: "UNMARSHAL_ERROR", Message: "failed to unmarshal state entry", Err: err}
	}
	return entry, true, nil
}

func (d *dynamoDBBackend) Delete(ctx context.Context, name, key string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       itemKey(name, key),
	}

	if _, err := d.client.DeleteItem(ctx, input); err != nil {
		return &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to delete state entry", Err: err}
	}
	return nil
}

func (d *dynamoDBBackend) Exists(ctx context.Context, name, key string) (bool, error) {
	input := &dynamodb.GetItemInput{
		TableName:            aws.String(d.tableName),
		Key:                  itemKey(name, key),
		ProjectionExpression: aws.String("stateName"),
	}

	result, err := d.client.GetItem(ctx, input)
	if err != nil {
		return false, &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to check state entry", Err: err}
	}
	return result.Item != nil, nil
}

func (d *dynamoDBBackend) Close() error {
	// No cleanup needed for DynamoDB client
	return nil
}

func (d *dynamoDBBackend) HealthCheck(ctx context.Context) error {
	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	}

	if _, err := d.client.DescribeTable(ctx, input); err != nil {
		return &StorageError{Code: "TABLE_NOT_FOUND", Message: "DynamoDB table not accessible", Err: err}
	}
	return nil
}

// Helper functions

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	// Auto-detect region from EC2 metadata if not specified
	if region == "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err == nil {
			imdsClient := imds.NewFromConfig(cfg)
			regionResp, err := imdsClient.GetRegion(ctx, &imds.GetRegionInput{})
			if err == nil {
				region = regionResp.Region
			}
		}
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	return config.LoadDefaultConfig(ctx, opts...)
}

func itemKey(name, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"stateName": &types.AttributeValueMemberS{Value: name},
		"stateKey":  &types.AttributeValueMemberS{Value: key},
	}
}

func entryToItem(name, key string, entry Entry, ttlDays int) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"stateName": &types.AttributeValueMemberS{Value: name},
		"stateKey":  &types.AttributeValueMemberS{Value: key},
		"kind":      &types.AttributeValueMemberS{Value: string(entry.Kind)},
		"payload":   &types.AttributeValueMemberB{Value: entry.Payload},
	}

	// TTL attribute (Unix timestamp when the item should expire)
	if ttlDays > 0 {
		expiresAt := time.Now().Add(time.Duration(ttlDays) * 24 * time.Hour).Unix()
		item["expiresAt"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt)}
	}

	return item
}

func itemToEntry(item map[string]types.AttributeValue) (Entry, error) {
	entry := Entry{}

	kind, ok := item["kind"].(*types.AttributeValueMemberS)
	if !ok {
		return Entry{}, fmt.Errorf("item missing kind attribute")
	}
	entry.Kind = Kind(kind.Value)

	payload, ok := item["payload"].(*types.AttributeValueMemberB)
	if !ok {
		return Entry{}, fmt.Errorf("item missing payload attribute")
	}
	entry.Payload = payload.Value

	return entry, nil
}
