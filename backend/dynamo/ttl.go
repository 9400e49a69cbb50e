package dynamo

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted reports whether a version item is deleted: either marked with
// deleted_at or carrying a TTL that has passed but not yet been swept.
func IsDeleted(item map[string]types.AttributeValue, now time.Time) bool {
	if _, ok := item["deleted_at"]; ok {
		return true
	}
	ttl := numberAttr(item, "ttl")
	if ttl == 0 {
		return false // No TTL = live
	}
	return ttl <= now.Unix()
}

// ExpiryFor returns the TTL, in epoch seconds, for a version deleted at
// deletedAt and kept for retention.
func ExpiryFor(deletedAt time.Time, retention time.Duration) int64 {
	return deletedAt.Add(retention).Unix()
}
