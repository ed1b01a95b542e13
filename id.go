package bolt

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562). Used
// for session ids; row ids, including context-handoff ids, are assigned by
// the store.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns the current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// EstimateTokens applies the spec's fixed token-estimation rule:
// max(1, ceil(len(content)/4)).
func EstimateTokens(content string) int {
	n := (len(content) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}
