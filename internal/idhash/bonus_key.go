// Package idhash derives deterministic identifiers so that reprocessing the
// same input always lands on the same unique key.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DirectBonusKey computes the idempotency key of an order's DIRECT bonus.
// Formula: SHA256(DIRECT|order_id)
// Returns hex-encoded hash (64 characters).
func DirectBonusKey(orderID int64) string {
	return sum(fmt.Sprintf("DIRECT|%d", orderID))
}

// PairReleaseKey computes the idempotency key of the pairNumber-th pair
// released for userID. pairNumber is the released_pairs value after the release.
// Formula: SHA256(HIERARCHY|user_id|pair_number)
func PairReleaseKey(userID, pairNumber int64) string {
	return sum(fmt.Sprintf("HIERARCHY|%d|%d", userID, pairNumber))
}

// WalkToken computes the ancestor walk token stored on an order's
// processing marker.
// Formula: SHA256(WALK|order_id)
func WalkToken(orderID int64) string {
	return sum(fmt.Sprintf("WALK|%d", orderID))
}

func sum(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
