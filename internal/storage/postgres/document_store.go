package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/cimillas/orderhook/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentStore models databases as schemas, collections as tables holding a
// jsonb body, and string attributes as varchar columns. Names are kept in
// the docstore_* catalog tables created by the migrations.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

var (
	resourceIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,35}$`)
	attributeKeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,35}$`)
)

func validateID(kind, id string) error {
	if !resourceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid %s id %q", domain.ErrValidationFailed, kind, id)
	}
	return nil
}

func validateKey(key string) error {
	if !attributeKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: invalid attribute key %q", domain.ErrValidationFailed, key)
	}
	return nil
}

func (s *DocumentStore) GetDatabase(ctx context.Context, dbID string) (string, error) {
	if err := validateID("database", dbID); err != nil {
		return "", err
	}
	const query = `
SELECT d.name
FROM docstore_databases d
JOIN pg_namespace n ON n.nspname = d.id
WHERE d.id = $1`

	var name string
	if err := s.pool.QueryRow(ctx, query, dbID).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("database %s: %w", dbID, domain.ErrNotFound)
		}
		return "", classify("get database", err)
	}
	return name, nil
}

func (s *DocumentStore) GetCollection(ctx context.Context, dbID, collectionID string) (string, error) {
	if err := validateID("database", dbID); err != nil {
		return "", err
	}
	if err := validateID("collection", collectionID); err != nil {
		return "", err
	}
	const query = `
SELECT c.name
FROM docstore_collections c
JOIN pg_tables t ON t.schemaname = c.database_id AND t.tablename = c.id
WHERE c.database_id = $1 AND c.id = $2`

	var name string
	if err := s.pool.QueryRow(ctx, query, dbID, collectionID).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("collection %s/%s: %w", dbID, collectionID, domain.ErrNotFound)
		}
		return "", classify("get collection", err)
	}
	return name, nil
}

func (s *DocumentStore) CreateDatabase(ctx context.Context, dbID, name string) (domain.Outcome, error) {
	if err := validateID("database", dbID); err != nil {
		return 0, err
	}

	outcome := domain.OutcomeCreated
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{dbID}.Sanitize()); err != nil {
		if !isConflict(err) {
			return 0, classify("create database", err)
		}
		outcome = domain.OutcomeAlreadyExists
	}

	const stmt = `
INSERT INTO docstore_databases (id, name)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, stmt, dbID, name); err != nil {
		return 0, classify("record database", err)
	}
	return outcome, nil
}

func (s *DocumentStore) CreateCollection(ctx context.Context, dbID, collectionID, name string, documentSecurity bool) (domain.Outcome, error) {
	if err := validateID("database", dbID); err != nil {
		return 0, err
	}
	if err := validateID("collection", collectionID); err != nil {
		return 0, err
	}

	table := pgx.Identifier{dbID, collectionID}.Sanitize()
	ddl := `
CREATE TABLE ` + table + ` (
	_id TEXT PRIMARY KEY,
	_data JSONB NOT NULL,
	_created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	const record = `
INSERT INTO docstore_collections (database_id, id, name, document_security)
VALUES ($1, $2, $3, $4)
ON CONFLICT (database_id, id) DO NOTHING`

	err := withTx(ctx, s.pool, func(txCtx context.Context) error {
		if _, err := s.exec(txCtx, ddl); err != nil {
			return err
		}
		_, err := s.exec(txCtx, record, dbID, collectionID, name, documentSecurity)
		return err
	})
	if err == nil {
		return domain.OutcomeCreated, nil
	}
	if !isConflict(err) {
		return 0, classify("create collection", err)
	}

	// The table is already there; make sure the catalog knows about it.
	if _, err := s.pool.Exec(ctx, record, dbID, collectionID, name, documentSecurity); err != nil {
		return 0, classify("record collection", err)
	}
	return domain.OutcomeAlreadyExists, nil
}

func (s *DocumentStore) CreateStringAttribute(ctx context.Context, dbID, collectionID string, attr domain.StringAttribute) (domain.Outcome, error) {
	if err := validateID("database", dbID); err != nil {
		return 0, err
	}
	if err := validateID("collection", collectionID); err != nil {
		return 0, err
	}
	if err := validateKey(attr.Key); err != nil {
		return 0, err
	}
	if attr.Size < 1 {
		return 0, fmt.Errorf("%w: attribute %s size must be positive", domain.ErrValidationFailed, attr.Key)
	}

	ddl := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s VARCHAR(%d)`,
		pgx.Identifier{dbID, collectionID}.Sanitize(), pgx.Identifier{attr.Key}.Sanitize(), attr.Size)
	if attr.Required {
		ddl += " NOT NULL"
	}

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		if pgCode(err) == codeNotNullViolation {
			// Existing documents have no value for the new required column.
			return 0, fmt.Errorf("create attribute %s: %w: %w", attr.Key, domain.ErrSchemaConflict, err)
		}
		if !isConflict(err) {
			return 0, classify("create attribute "+attr.Key, err)
		}
		existing, err := s.GetAttribute(ctx, dbID, collectionID, attr.Key)
		if err != nil {
			return 0, err
		}
		if existing != attr {
			return 0, fmt.Errorf("attribute %s exists as size=%d required=%t: %w",
				attr.Key, existing.Size, existing.Required, domain.ErrSchemaConflict)
		}
		return domain.OutcomeAlreadyExists, nil
	}
	return domain.OutcomeCreated, nil
}

// GetAttribute reads the declared column for key. A column that is not a
// bounded varchar is a schema conflict.
func (s *DocumentStore) GetAttribute(ctx context.Context, dbID, collectionID, key string) (domain.StringAttribute, error) {
	if err := validateID("database", dbID); err != nil {
		return domain.StringAttribute{}, err
	}
	if err := validateID("collection", collectionID); err != nil {
		return domain.StringAttribute{}, err
	}
	if err := validateKey(key); err != nil {
		return domain.StringAttribute{}, err
	}
	const query = `
SELECT data_type, COALESCE(character_maximum_length, 0), is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND column_name = $3`

	var (
		dataType string
		size     int
		nullable string
	)
	if err := s.pool.QueryRow(ctx, query, dbID, collectionID, key).Scan(&dataType, &size, &nullable); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StringAttribute{}, fmt.Errorf("attribute %s: %w", key, domain.ErrNotFound)
		}
		return domain.StringAttribute{}, classify("get attribute "+key, err)
	}
	if dataType != "character varying" {
		return domain.StringAttribute{}, fmt.Errorf("attribute %s is %s: %w", key, dataType, domain.ErrSchemaConflict)
	}
	return domain.StringAttribute{Key: key, Size: size, Required: nullable == "NO"}, nil
}

// GetIndex reads the index declared under key on the collection table.
func (s *DocumentStore) GetIndex(ctx context.Context, dbID, collectionID, key string) (domain.Index, error) {
	if err := validateID("database", dbID); err != nil {
		return domain.Index{}, err
	}
	if err := validateID("collection", collectionID); err != nil {
		return domain.Index{}, err
	}
	if err := validateKey(key); err != nil {
		return domain.Index{}, err
	}
	const query = `
SELECT i.indisunique, array_agg(a.attname::text ORDER BY k.ord)
FROM pg_index i
JOIN pg_class ic ON ic.oid = i.indexrelid
JOIN pg_class tc ON tc.oid = i.indrelid
JOIN pg_namespace n ON n.oid = ic.relnamespace
CROSS JOIN LATERAL unnest(i.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
WHERE n.nspname = $1 AND tc.relname = $2 AND ic.relname = $3
GROUP BY i.indisunique`

	idx := domain.Index{Key: key}
	err := s.pool.QueryRow(ctx, query, dbID, collectionID, indexName(collectionID, key)).Scan(&idx.Unique, &idx.Attributes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Index{}, fmt.Errorf("index %s: %w", key, domain.ErrNotFound)
		}
		return domain.Index{}, classify("get index "+key, err)
	}
	return idx, nil
}

func (s *DocumentStore) CreateIndex(ctx context.Context, dbID, collectionID string, idx domain.Index) (domain.Outcome, error) {
	if err := validateID("database", dbID); err != nil {
		return 0, err
	}
	if err := validateID("collection", collectionID); err != nil {
		return 0, err
	}
	if err := validateKey(idx.Key); err != nil {
		return 0, err
	}
	if len(idx.Attributes) == 0 {
		return 0, fmt.Errorf("%w: index %s has no attributes", domain.ErrValidationFailed, idx.Key)
	}

	columns := make([]string, 0, len(idx.Attributes))
	for _, a := range idx.Attributes {
		if err := validateKey(a); err != nil {
			return 0, err
		}
		columns = append(columns, pgx.Identifier{a}.Sanitize())
	}

	name := indexName(collectionID, idx.Key)
	ddl := "CREATE INDEX "
	if idx.Unique {
		ddl = "CREATE UNIQUE INDEX "
	}
	ddl += pgx.Identifier{name}.Sanitize() + " ON " + pgx.Identifier{dbID, collectionID}.Sanitize() +
		" (" + strings.Join(columns, ", ") + ")"

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		if !isConflict(err) {
			return 0, classify("create index "+idx.Key, err)
		}
		// A unique violation here can also mean existing rows break the
		// constraint; only a matching index counts as success.
		existing, lookupErr := s.GetIndex(ctx, dbID, collectionID, idx.Key)
		if errors.Is(lookupErr, domain.ErrNotFound) {
			return 0, fmt.Errorf("create index %s: %w: %w", idx.Key, domain.ErrSchemaConflict, err)
		}
		if lookupErr != nil {
			return 0, lookupErr
		}
		if existing.Unique != idx.Unique || !slices.Equal(existing.Attributes, idx.Attributes) {
			return 0, fmt.Errorf("index %s exists as unique=%t on %v: %w",
				idx.Key, existing.Unique, existing.Attributes, domain.ErrSchemaConflict)
		}
		return domain.OutcomeAlreadyExists, nil
	}
	return domain.OutcomeCreated, nil
}

// CreateDocument inserts doc. A unique-constraint hit reports
// OutcomeAlreadyExists so callers can resolve the existing document.
func (s *DocumentStore) CreateDocument(ctx context.Context, dbID, collectionID string, doc domain.Document) (domain.Outcome, error) {
	if err := validateID("database", dbID); err != nil {
		return 0, err
	}
	if err := validateID("collection", collectionID); err != nil {
		return 0, err
	}
	if doc.ID == "" {
		return 0, fmt.Errorf("%w: document id is required", domain.ErrValidationFailed)
	}

	keys := make([]string, 0, len(doc.Attributes))
	for k := range doc.Attributes {
		if err := validateKey(k); err != nil {
			return 0, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := []string{"_id", "_data"}
	args := []any{doc.ID, doc.Data}
	for _, k := range keys {
		columns = append(columns, pgx.Identifier{k}.Sanitize())
		args = append(args, doc.Attributes[k])
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	stmt := "INSERT INTO " + pgx.Identifier{dbID, collectionID}.Sanitize() +
		" (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"

	if _, err := s.exec(ctx, stmt, args...); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return domain.OutcomeAlreadyExists, nil
		}
		return 0, classify("create document", err)
	}
	return domain.OutcomeCreated, nil
}

func (s *DocumentStore) FindDocumentID(ctx context.Context, dbID, collectionID, attrKey, value string) (string, error) {
	if err := validateID("database", dbID); err != nil {
		return "", err
	}
	if err := validateID("collection", collectionID); err != nil {
		return "", err
	}
	if err := validateKey(attrKey); err != nil {
		return "", err
	}

	query := "SELECT _id FROM " + pgx.Identifier{dbID, collectionID}.Sanitize() +
		" WHERE " + pgx.Identifier{attrKey}.Sanitize() + " = $1 ORDER BY _created_at ASC LIMIT 1"

	var id string
	if err := s.queryRow(ctx, query, value).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("document %s=%s: %w", attrKey, value, domain.ErrNotFound)
		}
		return "", classify("find document", err)
	}
	return id, nil
}

func indexName(collectionID, key string) string {
	return collectionID + "_" + key
}

func (s *DocumentStore) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *DocumentStore) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}
