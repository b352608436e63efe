package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamoDB is a minimal in-memory DynamoDBAPI for backend tests
type fakeDynamoDB struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamoDB) itemID(item map[string]types.AttributeValue) string {
	name := item["stateName"].(*types.AttributeValueMemberS).Value
	key := item["stateKey"].(*types.AttributeValueMemberS).Value
	return name + "/" + key
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.items[f.itemID(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[f.itemID(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, f.itemID(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func TestDynamoDBBackend_RoundTrip(t *testing.T) {
	fake := newFakeDynamoDB()
	backend := NewDynamoDBBackendWithClient(fake, "statelet-state", 0)
	ctx := context.Background()

	entry := Entry{Kind: KindList, Payload: []byte(`["x","y"]`)}
	if err := backend.Put(ctx, "events", "key-a", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, found, err := backend.Get(ctx, "events", "key-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected entry to be found")
	}
	if got.Kind != KindList || string(got.Payload) != `["x","y"]` {
		t.Errorf("got entry %v / %s", got.Kind, got.Payload)
	}

	if found, _ := backend.Exists(ctx, "events", "key-a"); !found {
		t.Error("Exists = false for stored entry")
	}

	if err := backend.Delete(ctx, "events", "key-a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := backend.Get(ctx, "events", "key-a"); found {
		t.Error("entry still present after delete")
	}
}

func TestDynamoDBBackend_GetMissing(t *testing.T) {
	backend := NewDynamoDBBackendWithClient(newFakeDynamoDB(), "statelet-state", 0)

	_, found, err := backend.Get(context.Background(), "events", "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected absence for missing item")
	}
}

func TestDynamoDBBackend_ClientError(t *testing.T) {
	fake := newFakeDynamoDB()
	fake.err = fmt.Errorf("throttled")
	backend := NewDynamoDBBackendWithClient(fake, "statelet-state", 0)
	ctx := context.Background()

	if err := backend.Put(ctx, "events", "key-a", Entry{Kind: KindScalar, Payload: []byte(`1`)}); err == nil {
		t.Error("expected Put to surface client error")
	}
	if _, _, err := backend.Get(ctx, "events", "key-a"); err == nil {
		t.Error("expected Get to surface client error")
	}
	if err := backend.HealthCheck(ctx); err == nil {
		t.Error("expected HealthCheck to surface client error")
	}
}

func TestEntryToItem_TTL(t *testing.T) {
	entry := Entry{Kind: KindScalar, Payload: []byte(`1`)}

	item := entryToItem("count", "key-a", entry, 0)
	if _, ok := item["expiresAt"]; ok {
		t.Error("expiresAt set with TTL disabled")
	}

	item = entryToItem("count", "key-a", entry, 30)
	if _, ok := item["expiresAt"].(*types.AttributeValueMemberN); !ok {
		t.Error("expected expiresAt attribute with TTL enabled")
	}
}

func TestItemToEntry_Malformed(t *testing.T) {
	if _, err := itemToEntry(map[string]types.AttributeValue{}); err == nil {
		t.Error("expected error for item without kind")
	}

	item := map[string]types.AttributeValue{
		"kind": &types.AttributeValueMemberS{Value: "scalar"},
	}
	if _, err := itemToEntry(item); err == nil {
		t.Error("expected error for item without payload")
	}
}
