package models

import (
	"sync"
	"time"
)

// TimeKeyLayout is a fixed-width RFC3339 variant so lexical RowKey order
// equals chronological order. time.RFC3339Nano trims trailing zeros, which
// would break string comparison.
const TimeKeyLayout = "2006-01-02T15:04:05.000000000Z"

var (
	timeKeyMu   sync.Mutex
	lastTimeKey time.Time
)

// NewTimeKey returns a UTC timestamp RowKey, strictly increasing within the
// process so two rapid writes never collide.
func NewTimeKey() string {
	timeKeyMu.Lock()
	defer timeKeyMu.Unlock()

	now := time.Now().UTC()
	if !now.After(lastTimeKey) {
		now = lastTimeKey.Add(time.Nanosecond)
	}
	lastTimeKey = now
	return now.Format(TimeKeyLayout)
}
