// Package keyspace derives DynamoDB keys for versioned buckets.
package keyspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// HeadSK is the sort key of the item holding a bucket's current version.
const HeadSK = "HEAD"

const versionPrefix = "v#"

// BucketPK computes a hash-distributed partition key for the bucket at
// mount and path. All items of one bucket share it.
func BucketPK(mount, path string) string {
	data := fmt.Sprintf("%s\x00%s", mount, path)
	h := sha256.Sum256([]byte(data))
	return "bucket#" + hex.EncodeToString(h[:16]) // 128-bit hash as hex
}

// VersionSK returns the sort key of one bucket version. Keys sort in
// version order.
func VersionSK(version int) string {
	return fmt.Sprintf("%s%010d", versionPrefix, version)
}

// ParseVersionSK extracts the version from a sort key built by VersionSK.
func ParseVersionSK(sk string) (int, bool) {
	rest, ok := strings.CutPrefix(sk, versionPrefix)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
