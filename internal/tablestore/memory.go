package tablestore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store used by tests and the dev backend.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Entity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]Entity)}
}

func memKey(pk, rk string) string { return pk + "\x00" + rk }

func (s *MemoryStore) Insert(ctx context.Context, table string, entity Entity, mode InsertMode) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	if rows == nil {
		rows = make(map[string]Entity)
		s.tables[table] = rows
	}

	key := memKey(entity.PartitionKey, entity.RowKey)
	existing, exists := rows[key]

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

	stored := Entity{
		PartitionKey: entity.PartitionKey,
		RowKey:       entity.RowKey,
		ETag:         newETag(),
	}
	if exists && mode != ModeCreate {
		stored.Props = mergeProps(copyProps(existing.Props), entity.Props)
	} else {
		stored.Props = copyProps(entity.Props)
	}
	rows[key] = stored
	return cloneEntity(stored), nil
}

func (s *MemoryStore) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	key := memKey(partitionKey, rowKey)
	if _, ok := rows[key]; !ok {
		return ErrNotFound
	}
	delete(rows, key)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tables[table][memKey(partitionKey, rowKey)]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return cloneEntity(e), nil
}

func (s *MemoryStore) Query(ctx context.Context, table, filter string) ([]Entity, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entity
	for _, e := range s.tables[table] {
		if f.Matches(e) {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartitionKey != out[j].PartitionKey {
			return out[i].PartitionKey < out[j].PartitionKey
		}
		return out[i].RowKey < out[j].RowKey
	})
	return out, nil
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func cloneEntity(e Entity) Entity {
	e.Props = copyProps(e.Props)
	return e
}
