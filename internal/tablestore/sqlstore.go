package tablestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// SQLStore is the Postgres-backed Store. All logical tables share one
// entities relation keyed by (table_name, partition_key, row_key); attributes
// live in a JSONB column, ETags in a text column rewritten on every mutation.
type SQLStore struct {
	db *sqlx.DB
}

// ConnectSQL opens the database and runs migrations.
func ConnectSQL(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS entities (
            table_name TEXT NOT NULL,
            partition_key TEXT NOT NULL,
            row_key TEXT NOT NULL,
            props JSONB NOT NULL DEFAULT '{}'::jsonb,
            etag TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY (table_name, partition_key, row_key)
        );`,
		`CREATE INDEX IF NOT EXISTS entities_partition_idx
            ON entities (table_name, partition_key, row_key);`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}

func (s *SQLStore) Insert(ctx context.Context, table string, entity Entity, mode InsertMode) (Entity, error) {
	props, err := json.Marshal(entity.Props)
	if err != nil {
		return Entity{}, err
	}
	etag := newETag()

	switch mode {
	case ModeCreate:
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO entities (table_name, partition_key, row_key, props, etag)
             VALUES ($1, $2, $3, $4, $5)
             ON CONFLICT (table_name, partition_key, row_key) DO NOTHING`,
			table, entity.PartitionKey, entity.RowKey, props, etag)
		if err != nil {
			return Entity{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Entity{}, ErrEntityExists
		}

	case ModeUpdate:
		query := `UPDATE entities SET props = props || $4, etag = $5
            WHERE table_name=$1 AND partition_key=$2 AND row_key=$3`
		args := []any{table, entity.PartitionKey, entity.RowKey, props, etag}
		if entity.ETag != "" {
			query += ` AND etag = $6`
			args = append(args, entity.ETag)
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return Entity{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if entity.ETag == "" {
				return Entity{}, ErrNotFound
			}
			var exists bool
			if err := s.db.GetContext(ctx, &exists,
				`SELECT EXISTS(SELECT 1 FROM entities WHERE table_name=$1 AND partition_key=$2 AND row_key=$3)`,
				table, entity.PartitionKey, entity.RowKey); err != nil {
				return Entity{}, err
			}
			if exists {
				return Entity{}, ErrPreconditionFailed
			}
			return Entity{}, ErrNotFound
		}

	case ModeUpsert:
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO entities (table_name, partition_key, row_key, props, etag)
             VALUES ($1, $2, $3, $4, $5)
             ON CONFLICT (table_name, partition_key, row_key)
             DO UPDATE SET props = entities.props || EXCLUDED.props, etag = EXCLUDED.etag`,
			table, entity.PartitionKey, entity.RowKey, props, etag); err != nil {
			return Entity{}, err
		}
	}

	return s.Get(ctx, table, entity.PartitionKey, entity.RowKey)
}

func (s *SQLStore) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE table_name=$1 AND partition_key=$2 AND row_key=$3`,
		table, partitionKey, rowKey)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type entityRow struct {
	PartitionKey string `db:"partition_key"`
	RowKey       string `db:"row_key"`
	Props        []byte `db:"props"`
	ETag         string `db:"etag"`
}

func (r entityRow) entity() (Entity, error) {
	e := Entity{PartitionKey: r.PartitionKey, RowKey: r.RowKey, ETag: r.ETag}
	if len(r.Props) > 0 {
		if err := json.Unmarshal(r.Props, &e.Props); err != nil {
			return Entity{}, err
		}
	}
	return e, nil
}

func (s *SQLStore) Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row,
		`SELECT partition_key, row_key, props, etag FROM entities
         WHERE table_name=$1 AND partition_key=$2 AND row_key=$3`,
		table, partitionKey, rowKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	return row.entity()
}

func (s *SQLStore) Query(ctx context.Context, table, filter string) ([]Entity, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	var conds []string
	args := []any{table}
	for _, c := range f.clauses {
		var col string
		switch c.field {
		case "PartitionKey":
			col = "partition_key"
		case "RowKey":
			col = "row_key"
		default:
			col = fmt.Sprintf("props->>'%s'", strings.ReplaceAll(c.field, "'", "''"))
		}
		op := map[string]string{"eq": "=", "ge": ">=", "lt": "<"}[c.op]
		args = append(args, c.value)
		conds = append(conds, fmt.Sprintf("%s %s $%d", col, op, len(args)))
	}

	query := `SELECT partition_key, row_key, props, etag FROM entities WHERE table_name=$1`
	if len(conds) > 0 {
		query += " AND " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY partition_key ASC, row_key ASC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var row entityRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		e, err := row.entity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)
