package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/fs"
)

// mockDDBClient is an in-memory DynamoDB mock that evaluates the checkpoint condition.
type mockDDBClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	puts  int
	err   error
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	m.puts++

	id := params.Item[attrLogID].(*types.AttributeValueMemberS).Value
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(#lsn) OR #lsn < :lsn" {
		if cur, ok := m.items[id]; ok {
			stored, _ := strconv.ParseUint(cur[attrLSN].(*types.AttributeValueMemberN).Value, 10, 64)
			next, _ := strconv.ParseUint(params.ExpressionAttributeValues[":lsn"].(*types.AttributeValueMemberN).Value, 10, 64)
			if stored >= next {
				return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
			}
		}
	}
	m.items[id] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	id := params.Key[attrLogID].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: m.items[id]}, nil
}

// testMonotonic checks the contract every Store shares.
func testMonotonic(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	lsn, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, buffer.InvalidLSN, lsn)

	require.NoError(t, s.Save(ctx, 10))
	require.NoError(t, s.Save(ctx, 7)) // lower: ignored
	require.NoError(t, s.Save(ctx, 10))

	lsn, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, buffer.LSN(10), lsn)

	require.NoError(t, s.Save(ctx, 11))
	lsn, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, buffer.LSN(11), lsn)
}

func TestMemoryStore(t *testing.T) {
	testMonotonic(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CHECKPOINT")
	testMonotonic(t, NewFileStore(nil, path))

	// A fresh store sees the persisted value.
	lsn, err := NewFileStore(nil, path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, buffer.LSN(11), lsn)
}

func TestFileStore_SaveWithoutLoadStaysMonotonic(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "CHECKPOINT")
	require.NoError(t, NewFileStore(nil, path).Save(ctx, 50))

	s := NewFileStore(nil, path)
	require.NoError(t, s.Save(ctx, 20))

	lsn, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, buffer.LSN(50), lsn)
}

func TestFileStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "CHECKPOINT")
	s := NewFileStore(nil, path)
	require.NoError(t, s.Save(ctx, 99))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = NewFileStore(nil, path).Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))
	_, err = NewFileStore(nil, path).Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStore_FailedSaveKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "CHECKPOINT")
	faulty := fs.NewFaultyFS(nil)
	s := NewFileStore(faulty, path)

	require.NoError(t, s.Save(ctx, 5))

	faulty.FailSyncs(true)
	require.ErrorIs(t, s.Save(ctx, 6), fs.ErrInjected)
	faulty.FailSyncs(false)

	lsn, err := NewFileStore(nil, path).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, buffer.LSN(5), lsn)

	// The failed value was not cached, so saving it again writes it.
	require.NoError(t, s.Save(ctx, 6))
	lsn, err = NewFileStore(nil, path).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, buffer.LSN(6), lsn)
}

func TestDynamoStore(t *testing.T) {
	ddb := newMockDDBClient()
	testMonotonic(t, NewDynamoStore(ddb, "walbuf-checkpoints", "node-1"))

	// Logs are isolated by id.
	lsn, err := NewDynamoStore(ddb, "walbuf-checkpoints", "node-2").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, buffer.InvalidLSN, lsn)
}

func TestDynamoStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	s := NewDynamoStore(ddb, "walbuf-checkpoints", "node-1")

	var g errgroup.Group
	for i := 1; i <= 50; i++ {
		lsn := buffer.LSN(i)
		g.Go(func() error { return s.Save(ctx, lsn) })
	}
	require.NoError(t, g.Wait())

	lsn, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, buffer.LSN(50), lsn)
	assert.Equal(t, 50, ddb.puts)
}

func TestDynamoStore_Errors(t *testing.T) {
	ctx := context.Background()
	errThrottled := errors.New("throttled")
	ddb := newMockDDBClient()
	ddb.err = errThrottled
	s := NewDynamoStore(ddb, "t", "node-1")

	require.ErrorIs(t, s.Save(ctx, 1), errThrottled)
	_, err := s.Load(ctx)
	require.ErrorIs(t, err, errThrottled)

	ddb.err = nil
	ddb.items["node-1"] = map[string]types.AttributeValue{
		attrLogID: &types.AttributeValueMemberS{Value: "node-1"},
		attrLSN:   &types.AttributeValueMemberS{Value: "not a number"},
	}
	_, err = s.Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)
}
