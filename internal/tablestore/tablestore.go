package tablestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var (
	ErrNotFound           = errors.New("entity not found")
	ErrEntityExists       = errors.New("entity already exists")
	ErrPreconditionFailed = errors.New("etag precondition failed")
)

// Entity is a partition/row-key addressed record. Props holds the remaining
// attributes; values survive a JSON round trip, so numbers come back as
// float64.
type Entity struct {
	PartitionKey string         `json:"PartitionKey"`
	RowKey       string         `json:"RowKey"`
	ETag         string         `json:"etag,omitempty"`
	Props        map[string]any `json:"props,omitempty"`
}

// InsertMode selects the write semantics of Store.Insert.
type InsertMode int

const (
	// ModeCreate fails with ErrEntityExists when the key pair is taken.
	ModeCreate InsertMode = iota
	// ModeUpdate merges Props into an existing entity and fails with
	// ErrNotFound when absent. When the entity carries a non-empty ETag the
	// write is conditional and fails with ErrPreconditionFailed on mismatch.
	ModeUpdate
	// ModeUpsert creates or merges, unconditionally.
	ModeUpsert
)

// Store is the table store contract. Every implementation returns the stored
// entity with a fresh ETag from Insert, and sorts Query results ascending by
// RowKey within a partition.
type Store interface {
	Insert(ctx context.Context, table string, entity Entity, mode InsertMode) (Entity, error)
	Delete(ctx context.Context, table, partitionKey, rowKey string) error
	Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error)
	Query(ctx context.Context, table, filter string) ([]Entity, error)
}

// String returns the named prop as a string, or "" when absent or non-string.
func (e Entity) String(key string) string {
	v, _ := e.Props[key].(string)
	return v
}

// Float returns the named prop as a float64, or 0 when absent.
func (e Entity) Float(key string) float64 {
	switch v := e.Props[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the named prop as a bool, or false when absent.
func (e Entity) Bool(key string) bool {
	v, _ := e.Props[key].(bool)
	return v
}

func newETag() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "etag-unavailable"
	}
	return hex.EncodeToString(buf)
}

func mergeProps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
