// Package dynamo provides a store.Backend on a single DynamoDB table.
//
// Each bucket occupies one partition. A head item records the current
// version, and every write adds an immutable version item holding the full
// entry map. Deleting a version marks its item with deleted_at; the stream
// package turns that mark into a TTL so DynamoDB removes the item after a
// retention period.
//
// Table schema: partition key "pk" (S), sort key "sk" (S). Enable TTL on the
// "ttl" attribute and a NEW_AND_OLD_IMAGES stream to use stream.Handler.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/xmlvault/internal/keyspace"
	"github.com/jacentio/xmlvault/store"
)

var _ store.Backend = (*Backend)(nil)

// API is the subset of the DynamoDB client used by Backend.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Config holds configuration for the Backend.
type Config struct {
	// Table is the DynamoDB table holding all buckets.
	// Default: "xmlvault_buckets"
	Table string
}

// DefaultConfig returns the default table name.
func DefaultConfig() Config {
	return Config{Table: "xmlvault_buckets"}
}

func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "xmlvault_buckets"
	}
}

// Backend stores versioned buckets in DynamoDB.
type Backend struct {
	client API
	config Config
	now    func() time.Time
}

// New creates a new Backend instance.
func New(client API, config Config) *Backend {
	config.validate()
	return &Backend{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// VersionInfo describes one stored version of a bucket.
type VersionInfo struct {
	Version   int
	CreatedAt string
	DeletedAt string
	Entries   int
}

// Read implements store.Backend.
func (b *Backend) Read(ctx context.Context, path, mount string) (*store.Snapshot, error) {
	pk := keyspace.BucketPK(mount, path)

	current, err := b.currentVersion(ctx, pk)
	if err != nil {
		return nil, err
	}
	if current == 0 {
		return nil, store.ErrNotFound
	}

	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.config.Table),
		Key:            itemKey(pk, keyspace.VersionSK(current)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get version %d: %w", current, err)
	}
	if result.Item == nil || IsDeleted(result.Item, b.now()) {
		return nil, store.ErrNotFound
	}

	data := map[string]any{}
	if m, ok := result.Item["data"].(*types.AttributeValueMemberM); ok {
		if err := attributevalue.UnmarshalMap(m.Value, &data); err != nil {
			return nil, fmt.Errorf("unmarshal version %d: %w", current, err)
		}
	}
	return &store.Snapshot{Version: current, Data: data}, nil
}

// Write implements store.Backend. Without an expected version the write is
// still conditioned on the version observed just before it, so a racing
// writer surfaces as store.ErrVersionConflict.
func (b *Backend) Write(ctx context.Context, path string, data map[string]any, expectedVersion *int, mount string) (int, error) {
	pk := keyspace.BucketPK(mount, path)

	var current int
	if expectedVersion != nil {
		current = *expectedVersion
	} else {
		v, err := b.currentVersion(ctx, pk)
		if err != nil {
			return 0, err
		}
		current = v
	}
	next := current + 1

	dataAttr, err := attributevalue.MarshalMap(data)
	if err != nil {
		return 0, fmt.Errorf("marshal data: %w", err)
	}

	nowISO := b.now().UTC().Format(time.RFC3339)

	headNames := map[string]string{
		"#current_version": "current_version",
		"#updated_at":      "updated_at",
		"#mount":           "mount",
		"#path":            "path",
	}
	headValues := map[string]types.AttributeValue{
		":next":       &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
		":updated_at": &types.AttributeValueMemberS{Value: nowISO},
		":mount":      &types.AttributeValueMemberS{Value: mount},
		":path":       &types.AttributeValueMemberS{Value: path},
	}
	headCond := "attribute_not_exists(#current_version)"
	if current > 0 {
		headCond = "#current_version = :current"
		headValues[":current"] = &types.AttributeValueMemberN{Value: strconv.Itoa(current)}
	}

	items := []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:                 aws.String(b.config.Table),
				Key:                       itemKey(pk, keyspace.HeadSK),
				UpdateExpression:          aws.String("SET #current_version = :next, #updated_at = :updated_at, #mount = :mount, #path = :path"),
				ConditionExpression:       aws.String(headCond),
				ExpressionAttributeNames:  headNames,
				ExpressionAttributeValues: headValues,
			},
		},
		{
			Put: &types.Put{
				TableName: aws.String(b.config.Table),
				Item: map[string]types.AttributeValue{
					"pk":         &types.AttributeValueMemberS{Value: pk},
					"sk":         &types.AttributeValueMemberS{Value: keyspace.VersionSK(next)},
					"version":    &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
					"data":       &types.AttributeValueMemberM{Value: dataAttr},
					"created_at": &types.AttributeValueMemberS{Value: nowISO},
					"mount":      &types.AttributeValueMemberS{Value: mount},
					"path":       &types.AttributeValueMemberS{Value: path},
				},
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		},
	}

	_, err = b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return 0, mapWriteError(err)
	}
	return next, nil
}

// maxTransactItems is the DynamoDB limit on actions per transaction.
const maxTransactItems = 100

// DeleteVersions implements store.Backend. Versions are marked in
// transactions of up to maxTransactItems, so each chunk is all or nothing.
// Versions that are already deleted keep their original deleted_at.
func (b *Backend) DeleteVersions(ctx context.Context, path string, versions []int, mount string) error {
	pk := keyspace.BucketPK(mount, path)
	nowISO := b.now().UTC().Format(time.RFC3339)

	versions = slices.Compact(slices.Sorted(slices.Values(versions)))
	for chunk := range slices.Chunk(versions, maxTransactItems) {
		if err := b.markDeleted(ctx, pk, chunk, nowISO); err != nil {
			return err
		}
	}
	return nil
}

// markDeleted soft-deletes one chunk of versions in a single transaction.
// Versions whose item no longer exists fail their condition; they are
// dropped and the rest of the chunk is retried.
func (b *Backend) markDeleted(ctx context.Context, pk string, versions []int, nowISO string) error {
	for len(versions) > 0 {
		items := make([]types.TransactWriteItem, 0, len(versions))
		for _, v := range versions {
			items = append(items, types.TransactWriteItem{
				Update: &types.Update{
					TableName:           aws.String(b.config.Table),
					Key:                 itemKey(pk, keyspace.VersionSK(v)),
					UpdateExpression:    aws.String("SET #deleted_at = if_not_exists(#deleted_at, :now)"),
					ConditionExpression: aws.String("attribute_exists(pk)"),
					ExpressionAttributeNames: map[string]string{
						"#deleted_at": "deleted_at",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":now": &types.AttributeValueMemberS{Value: nowISO},
					},
				},
			})
		}

		_, err := b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		if err == nil {
			return nil
		}

		missing := failedConditions(err)
		if len(missing) == 0 {
			return fmt.Errorf("delete versions %d-%d: %w", versions[0], versions[len(versions)-1], err)
		}
		kept := make([]int, 0, len(versions)-len(missing))
		for i, v := range versions {
			if !missing[i] {
				kept = append(kept, v)
			}
		}
		versions = kept
	}
	return nil
}

// UndeleteVersions implements store.Backend. It also clears any expiry the
// stream handler scheduled.
func (b *Backend) UndeleteVersions(ctx context.Context, path string, versions []int, mount string) error {
	pk := keyspace.BucketPK(mount, path)

	for _, v := range versions {
		_, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(b.config.Table),
			Key:                 itemKey(pk, keyspace.VersionSK(v)),
			UpdateExpression:    aws.String("REMOVE #deleted_at, #ttl"),
			ConditionExpression: aws.String("attribute_exists(#deleted_at)"),
			ExpressionAttributeNames: map[string]string{
				"#deleted_at": "deleted_at",
				"#ttl":        "ttl",
			},
		})
		if err := ignoreConditionFailure(err); err != nil {
			return fmt.Errorf("undelete version %d: %w", v, err)
		}
	}
	return nil
}

// History lists every stored version of a bucket, oldest first.
func (b *Backend) History(ctx context.Context, path, mount string) ([]VersionInfo, error) {
	pk := keyspace.BucketPK(mount, path)

	paginator := dynamodb.NewQueryPaginator(b.client, &dynamodb.QueryInput{
		TableName:              aws.String(b.config.Table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: "v#"},
		},
		ConsistentRead: aws.Bool(true),
	})

	var history []VersionInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			history = append(history, unmarshalVersionInfo(item))
		}
	}
	return history, nil
}

// currentVersion returns the bucket's current version, or 0 if it has none.
func (b *Backend) currentVersion(ctx context.Context, pk string) (int, error) {
	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.config.Table),
		Key:            itemKey(pk, keyspace.HeadSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get head: %w", err)
	}
	if result.Item == nil {
		return 0, nil
	}
	return int(numberAttr(result.Item, "current_version")), nil
}

// mapWriteError maps transaction cancellation on a failed condition to
// store.ErrVersionConflict.
func mapWriteError(err error) error {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return store.ErrVersionConflict
			}
		}
	}
	return err
}

// failedConditions returns the positions of transaction items cancelled
// by their condition, or nil if err is not such a cancellation.
func failedConditions(err error) map[int]bool {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return nil
	}
	var failed map[int]bool
	for i, reason := range txErr.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			if failed == nil {
				failed = make(map[int]bool)
			}
			failed[i] = true
		}
	}
	return failed
}

// ignoreConditionFailure treats a failed condition as already applied.
func ignoreConditionFailure(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

func unmarshalVersionInfo(item map[string]types.AttributeValue) VersionInfo {
	info := VersionInfo{
		Version:   int(numberAttr(item, "version")),
		CreatedAt: stringAttr(item, "created_at"),
		DeletedAt: stringAttr(item, "deleted_at"),
	}
	if info.Version == 0 {
		// No version attribute; fall back to the sort key
		info.Version, _ = keyspace.ParseVersionSK(stringAttr(item, "sk"))
	}
	if m, ok := item["data"].(*types.AttributeValueMemberM); ok {
		info.Entries = len(m.Value)
	}
	return info
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]types.AttributeValue, key string) int64 {
	if v, ok := item[key].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

// ScheduleExpiry sets the TTL of a deleted version item identified by its
// raw key. Items that were undeleted meanwhile, or already carry a TTL, are
// left alone.
func (b *Backend) ScheduleExpiry(ctx context.Context, key map[string]types.AttributeValue, ttl int64) error {
	_, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(b.config.Table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(#deleted_at) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":        "ttl",
			"#deleted_at": "deleted_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(ttl, 10),
			},
		},
	})

	// Ignore condition failure - undeleted or already scheduled
	return ignoreConditionFailure(err)
}
