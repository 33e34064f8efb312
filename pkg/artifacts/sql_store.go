package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore implements Store on database/sql. It supports both Postgres and
// SQLite through their standard drivers.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLStore wraps db. dialect is "postgres" or "sqlite".
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) Close() error { return s.db.Close() }

const objectsSchema = `
CREATE TABLE IF NOT EXISTS objects (
	namespace TEXT NOT NULL,
	object_key TEXT NOT NULL,
	content_type TEXT NOT NULL,
	metadata TEXT,
	data %s,
	updated_at TIMESTAMP,
	PRIMARY KEY (namespace, object_key)
);
`

// Init creates the objects table when missing.
func (s *SQLStore) Init(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == "postgres" {
		blob = "BYTEA"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(objectsSchema, blob))
	return err
}

func splitPath(ns Namespace, key string) (string, string, error) {
	p, err := objectPath(ns, key)
	if err != nil {
		return "", "", err
	}
	return string(ns), strings.TrimPrefix(p, string(ns)+"/"), nil
}

func (s *SQLStore) Get(ctx context.Context, ns Namespace, key string) (*Object, error) {
	n, k, err := splitPath(ns, key)
	if err != nil {
		return nil, err
	}
	query := `SELECT content_type, metadata, data FROM objects WHERE namespace = $1 AND object_key = $2`
	var (
		obj  Object
		meta sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, n, k).Scan(&obj.ContentType, &meta, &obj.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, n, k)
		}
		return nil, fmt.Errorf("sql get %s/%s: %w", n, k, err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &obj.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s/%s: %w", n, k, err)
		}
	}
	return &obj, nil
}

func (s *SQLStore) Set(ctx context.Context, ns Namespace, key string, obj Object) error {
	n, k, err := splitPath(ns, key)
	if err != nil {
		return err
	}
	var meta sql.NullString
	if len(obj.Metadata) > 0 {
		b, err := json.Marshal(obj.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	query := `
		INSERT INTO objects (namespace, object_key, content_type, metadata, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, object_key) DO UPDATE SET
			content_type = excluded.content_type,
			metadata = excluded.metadata,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, n, k, ct, meta, obj.Data, s.now().UTC()); err != nil {
		return fmt.Errorf("sql set %s/%s: %w", n, k, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLStore) List(ctx context.Context, ns Namespace, prefix string) ([]string, error) {
	if !namespacePattern.MatchString(string(ns)) {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidKey, ns)
	}
	query := `SELECT object_key FROM objects WHERE namespace = $1 AND object_key LIKE $2 ESCAPE '\' ORDER BY object_key`
	rows, err := s.db.QueryContext(ctx, query, string(ns), likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("sql list %s: %w", ns, err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *SQLStore) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	n, k, err := splitPath(ns, key)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE namespace = $1 AND object_key = $2`, n, k).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sql exists %s/%s: %w", n, k, err)
	}
	return true, nil
}

func (s *SQLStore) Delete(ctx context.Context, ns Namespace, key string) error {
	n, k, err := splitPath(ns, key)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE namespace = $1 AND object_key = $2`, n, k); err != nil {
		return fmt.Errorf("sql delete %s/%s: %w", n, k, err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
