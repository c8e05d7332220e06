package tablestore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is an embedded single-node Store. Keys are
// table \x00 partition \x00 row; values hold the props and etag as JSON.
// A process mutex serializes read-modify-write cycles, which is the whole
// concurrency story for an embedded backend.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

type pebbleValue struct {
	Props map[string]any `json:"props"`
	ETag  string         `json:"etag"`
}

func pebbleKey(table, pk, rk string) []byte {
	key := make([]byte, 0, len(table)+len(pk)+len(rk)+2)
	key = append(key, table...)
	key = append(key, 0)
	key = append(key, pk...)
	key = append(key, 0)
	key = append(key, rk...)
	return key
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) Insert(ctx context.Context, table string, entity Entity, mode InsertMode) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pebbleKey(table, entity.PartitionKey, entity.RowKey)
	existing, exists, err := s.load(key)
	if err != nil {
		return Entity{}, err
	}

	switch mode {
	case ModeCreate:
		if exists {
			return Entity{}, ErrEntityExists
		}
	case ModeUpdate:
		if !exists {
			return Entity{}, ErrNotFound
		}
		if entity.ETag != "" && entity.ETag != existing.ETag {
			return Entity{}, ErrPreconditionFailed
		}
	}

	val := pebbleValue{ETag: newETag()}
	if exists && mode != ModeCreate {
		val.Props = mergeProps(existing.Props, entity.Props)
	} else {
		val.Props = copyProps(entity.Props)
	}

	data, err := json.Marshal(val)
	if err != nil {
		return Entity{}, err
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return Entity{}, err
	}
	return Entity{
		PartitionKey: entity.PartitionKey,
		RowKey:       entity.RowKey,
		ETag:         val.ETag,
		Props:        copyProps(val.Props),
	}, nil
}

func (s *PebbleStore) load(key []byte) (pebbleValue, bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return pebbleValue{}, false, nil
	}
	if err != nil {
		return pebbleValue{}, false, err
	}
	defer closer.Close()

	var val pebbleValue
	if err := json.Unmarshal(data, &val); err != nil {
		return pebbleValue{}, false, err
	}
	return val, true, nil
}

func (s *PebbleStore) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pebbleKey(table, partitionKey, rowKey)
	if _, exists, err := s.load(key); err != nil {
		return err
	} else if !exists {
		return ErrNotFound
	}
	return s.db.Delete(key, pebble.Sync)
}

func (s *PebbleStore) Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error) {
	key := pebbleKey(table, partitionKey, rowKey)
	val, exists, err := s.load(key)
	if err != nil {
		return Entity{}, err
	}
	if !exists {
		return Entity{}, ErrNotFound
	}
	return Entity{PartitionKey: partitionKey, RowKey: rowKey, ETag: val.ETag, Props: val.Props}, nil
}

func (s *PebbleStore) Query(ctx context.Context, table, filter string) ([]Entity, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	// Narrow the scan to the partition when the filter pins one.
	prefix := append([]byte(table), 0)
	if pk, ok := f.PartitionEq(); ok {
		prefix = append(prefix, pk...)
		prefix = append(prefix, 0)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entity
	for iter.First(); iter.Valid(); iter.Next() {
		pk, rk, ok := splitPebbleKey(iter.Key(), table)
		if !ok {
			continue
		}
		var val pebbleValue
		if err := json.Unmarshal(iter.Value(), &val); err != nil {
			return nil, err
		}
		e := Entity{PartitionKey: pk, RowKey: rk, ETag: val.ETag, Props: val.Props}
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartitionKey != out[j].PartitionKey {
			return out[i].PartitionKey < out[j].PartitionKey
		}
		return out[i].RowKey < out[j].RowKey
	})
	return out, nil
}

func splitPebbleKey(key []byte, table string) (string, string, bool) {
	if len(key) <= len(table)+1 {
		return "", "", false
	}
	rest := key[len(table)+1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == 0 {
			return string(rest[:i]), string(rest[i+1:]), true
		}
	}
	return "", "", false
}

var _ Store = (*PebbleStore)(nil)
