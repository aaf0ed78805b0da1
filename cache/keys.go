package cache

// Cache key construction lives here so the whole keyspace is visible in
// one place.

import (
	"crypto/md5"
	"encoding/hex"
)

// QueryResponseKey is the key holding a rendered query response. The v2
// segment versions the response shape so a format change cannot serve a
// stale structure.
func QueryResponseKey(query string) string {
	var sum = md5.Sum([]byte(query))
	return "query_response:v2:" + hex.EncodeToString(sum[:])
}

// InvalidationKey is the key deleted after a document's chunks change.
// It does not address the query_response keyspace, so cached responses
// expire by TTL rather than by invalidation.
func InvalidationKey(documentID string) string {
	return "query:" + documentID
}
