package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkantrust/geocrud-api/models"
)

// recordColumns is the column list shared by every SELECT on the geo table.
const recordColumns = `id, timestamp, latitude, longitude, colour`

// DBTX is implemented by both *pgxpool.Pool and pgx.Tx, so the query helpers
// run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps records in the geo table. The UNIQUE constraint on
// (timestamp, latitude, longitude) backs ErrConflict.
//
// Coordinates are sent as decimal strings and compared as NUMERIC, so the
// database applies the same exact equality as Filter.Match.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store on top of an open pool. Close closes the pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection to PostgreSQL.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get returns a record by id or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.Record, error) {
	return getRecord(ctx, s.pool, id, "")
}

// List returns every record ordered by id.
func (s *PostgresStore) List(ctx context.Context) ([]models.Record, error) {
	return s.Find(ctx, Filter{})
}

// Find returns the records matching f ordered by id.
func (s *PostgresStore) Find(ctx context.Context, f Filter) ([]models.Record, error) {
	where, args := buildWhere(f, 1)
	query := fmt.Sprintf(`SELECT %s FROM geo %s ORDER BY id`, recordColumns, where)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	items := []models.Record{}
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Latitude, &r.Longitude, &r.Colour); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return items, nil
}

// Insert adds a record and returns it with the id assigned by the sequence.
// A unique violation on the key triple is reported as ErrConflict.
func (s *PostgresStore) Insert(ctx context.Context, r *models.Record) (*models.Record, error) {
	query := `
		INSERT INTO geo (timestamp, latitude, longitude, colour)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	result := *r
	err := s.pool.QueryRow(ctx, query, r.Timestamp, r.Latitude.String(), r.Longitude.String(), r.Colour).Scan(&result.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: timestamp %s at (%s, %s)", ErrConflict, r.Timestamp, r.Latitude, r.Longitude)
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}

	r.ID = result.ID
	return &result, nil
}

// Replace overwrites a record inside a transaction that locks the row, so the
// no-change comparison and the update see the same data.
func (s *PostgresStore) Replace(ctx context.Context, id int64, incoming *models.Record) (*models.Record, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	existing, err := getRecord(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return nil, false, err
	}
	if existing.SameContent(incoming) {
		return existing, false, nil
	}

	query := `
		UPDATE geo
		SET timestamp = $2, latitude = $3, longitude = $4, colour = $5
		WHERE id = $1`

	if _, err := tx.Exec(ctx, query, id, incoming.Timestamp, incoming.Latitude.String(), incoming.Longitude.String(), incoming.Colour); err != nil {
		if isUniqueViolation(err) {
			return nil, false, fmt.Errorf("%w: timestamp %s at (%s, %s)", ErrConflict, incoming.Timestamp, incoming.Latitude, incoming.Longitude)
		}
		return nil, false, fmt.Errorf("update record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	result := *incoming
	result.ID = id
	return &result, true, nil
}

// Delete removes a record by id or returns ErrNotFound.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM geo WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func getRecord(ctx context.Context, db DBTX, id int64, lock string) (*models.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM geo WHERE id = $1 %s`, recordColumns, lock)

	r := &models.Record{}
	err := db.QueryRow(ctx, query, id).Scan(&r.ID, &r.Timestamp, &r.Latitude, &r.Longitude, &r.Colour)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// buildWhere builds the WHERE clause and arguments for f. startArg is the
// number of the first $ placeholder.
func buildWhere(f Filter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if f.Colour != nil {
		conditions = append(conditions, fmt.Sprintf("colour = $%d", argNum))
		args = append(args, *f.Colour)
		argNum++
	}

	if f.Timestamp != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp = $%d", argNum))
		args = append(args, *f.Timestamp)
		argNum++
	}

	if f.Latitude != nil {
		conditions = append(conditions, fmt.Sprintf("latitude = $%d", argNum))
		args = append(args, f.Latitude.String())
		argNum++
	}

	if f.Longitude != nil {
		conditions = append(conditions, fmt.Sprintf("longitude = $%d", argNum))
		args = append(args, f.Longitude.String())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
