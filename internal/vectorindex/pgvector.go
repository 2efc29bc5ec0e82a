package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres error codes raised when two sessions create the same relation at once.
const (
	pgDuplicateTable  = "42P07"
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
)

// PgVector stores each collection in its own table with a vector(D) column and an HNSW
// cosine index. Dimensions are recorded in the vector_collections registry table.
type PgVector struct {
	db *pgxpool.Pool

	mu   sync.RWMutex
	dims map[string]int
}

// NewPgVector creates a pgvector-backed index. The schema (extension and registry) must exist.
func NewPgVector(db *pgxpool.Pool) *PgVector {
	return &PgVector{db: db, dims: make(map[string]int)}
}

func table(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (p *PgVector) EnsureCollection(ctx context.Context, name string, dimension int) (string, error) {
	if err := validateEnsure(name, dimension); err != nil {
		return "", err
	}

	existing, err := p.dimension(ctx, name)
	if err == nil {
		if existing != dimension {
			return "", dimensionMismatch(name, existing, dimension)
		}

		return name, nil
	}

	if !errors.Is(err, errNoCollection) {
		return "", err
	}

	err = p.createCollection(ctx, name, dimension)

	// IF NOT EXISTS still races in the catalog; the loser sees one of these codes.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgDuplicateTable || pgErr.Code == pgUniqueViolation) {
		err = nil
	}

	if err != nil {
		return "", fmt.Errorf("create collection %s: %w", name, err)
	}

	existing, err = p.dimension(ctx, name)
	if err != nil {
		return "", err
	}

	if existing != dimension {
		return "", dimensionMismatch(name, existing, dimension)
	}

	return name, nil
}

func (p *PgVector) createCollection(ctx context.Context, name string, dimension int) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('vector_collection:' || $1, 0))`, name); err != nil {
		return fmt.Errorf("lock collection: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO vector_collections (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, dimension,
	); err != nil {
		return fmt.Errorf("register collection: %w", err)
	}

	// dimension comes from an int, name from ValidateCollectionName; both are safe to format.
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			owner_id   TEXT NOT NULL,
			chunk_id   INTEGER NOT NULL CHECK (chunk_id >= 0),
			chunk_text TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table(name), dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (owner_id, chunk_id)`,
			pgx.Identifier{name + "_owner_idx"}.Sanitize(), table(name)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{name + "_embedding_idx"}.Sanitize(), table(name)),
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

var errNoCollection = errors.New("collection not registered")

// dimension returns the registered dimension of name, cached after the first lookup.
func (p *PgVector) dimension(ctx context.Context, name string) (int, error) {
	p.mu.RLock()
	d, ok := p.dims[name]
	p.mu.RUnlock()

	if ok {
		return d, nil
	}

	err := p.db.QueryRow(ctx, `SELECT dimension FROM vector_collections WHERE name = $1`, name).Scan(&d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errNoCollection
		}

		return 0, fmt.Errorf("lookup collection %s: %w", name, err)
	}

	p.mu.Lock()
	p.dims[name] = d
	p.mu.Unlock()

	return d, nil
}

// requireCollection maps an unregistered collection to a ConfigurationError.
func (p *PgVector) requireCollection(ctx context.Context, name string) (int, error) {
	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	d, err := p.dimension(ctx, name)
	if errors.Is(err, errNoCollection) {
		return 0, missingCollection(name)
	}

	return d, err
}

func (p *PgVector) HasCollection(ctx context.Context, name string) (bool, error) {
	_, err := p.dimension(ctx, name)
	if errors.Is(err, errNoCollection) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func insertRecords(ctx context.Context, q querier, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (owner_id, chunk_id, chunk_text, embedding) VALUES ($1, $2, $3, $4)`, table(collection))

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(stmt, r.OwnerID, r.ChunkID, r.ChunkText, pgvector.NewVector(r.Vector))
	}

	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return mapTableError(collection, fmt.Errorf("insert into %s: %w", collection, err))
	}

	return nil
}

func (p *PgVector) Insert(ctx context.Context, collection string, records []Record) error {
	d, err := p.requireCollection(ctx, collection)
	if err != nil {
		return err
	}

	if err := checkRecords(collection, d, records); err != nil {
		return err
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertRecords(ctx, tx, collection, records); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}

	return nil
}

// whereClause renders filter as SQL starting at placeholder $first.
func whereClause(filter Filter, first int) (string, []any) {
	clause := "TRUE"
	args := []any{}

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		clause += fmt.Sprintf(" AND owner_id = $%d", first+len(args)-1)
	}

	if filter.MinChunkID != nil {
		args = append(args, *filter.MinChunkID)
		clause += fmt.Sprintf(" AND chunk_id >= $%d", first+len(args)-1)
	}

	return clause, args
}

func deleteRecords(ctx context.Context, q querier, collection string, filter Filter) (int64, error) {
	where, args := whereClause(filter, 1)

	tag, err := q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, table(collection), where), args...)
	if err != nil {
		return 0, mapTableError(collection, fmt.Errorf("delete from %s: %w", collection, err))
	}

	return tag.RowsAffected(), nil
}

func (p *PgVector) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	if _, err := p.requireCollection(ctx, collection); err != nil {
		return 0, err
	}

	return deleteRecords(ctx, p.db, collection, filter)
}

// Replace deletes and inserts in one transaction, so readers see either the old or the new set.
func (p *PgVector) Replace(ctx context.Context, collection, ownerID string, records []Record) error {
	if err := checkReplaceOwner(ownerID, records); err != nil {
		return err
	}

	d, err := p.requireCollection(ctx, collection)
	if err != nil {
		return err
	}

	if err := checkRecords(collection, d, records); err != nil {
		return err
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := deleteRecords(ctx, tx, collection, OwnerFilter(ownerID)); err != nil {
		return err
	}

	if err := insertRecords(ctx, tx, collection, records); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}

	return nil
}

// Search ranks by cosine similarity (1 - cosine distance). Owner-filtered queries rank the
// owner's rows exactly; an HNSW scan filters after the candidate limit and could drop matches.
func (p *PgVector) Search(
	ctx context.Context, collection string, query []float32, filter Filter, topK int,
) ([]SearchResult, error) {
	d, err := p.requireCollection(ctx, collection)
	if err != nil {
		return nil, err
	}

	if len(query) != d {
		return nil, dimensionMismatch(collection, d, len(query))
	}

	results := []SearchResult{}
	if topK <= 0 {
		return results, nil
	}

	where, args := whereClause(filter, 3)
	args = append([]any{pgvector.NewVector(query), topK}, args...)

	order := "embedding <=> $1"
	if filter.OwnerID != "" {
		order = "score DESC"
	}

	rows, err := p.db.Query(ctx, fmt.Sprintf(`
		SELECT chunk_text, chunk_id, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE %s
		ORDER BY %s, chunk_id
		LIMIT $2`, table(collection), where, order), args...)
	if err != nil {
		return nil, mapTableError(collection, fmt.Errorf("search %s: %w", collection, err))
	}

	defer rows.Close()

	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkText, &r.ChunkID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	return results, nil
}

func (p *PgVector) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	if _, err := p.requireCollection(ctx, collection); err != nil {
		return 0, err
	}

	where, args := whereClause(filter, 1)

	var n int64
	if err := p.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, table(collection), where), args...).Scan(&n); err != nil {
		return 0, mapTableError(collection, fmt.Errorf("count %s: %w", collection, err))
	}

	return n, nil
}

// mapTableError turns a dropped table (registry out of sync) into a ConfigurationError.
func mapTableError(collection string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return missingCollection(collection)
	}

	return err
}

var _ Index = (*PgVector)(nil)
